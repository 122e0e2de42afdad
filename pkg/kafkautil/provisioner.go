package kafkautil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/segmentio/kafka-go"
)

// EnsureTopics creates any of the wanted topics missing from the broker,
// with one partition and replication factor one. Concurrent callers can
// race on creation; "already exists" from the broker is not an error.
// Runs once at service start, before any consumer subscribes.
func EnsureTopics(ctx context.Context, log *slog.Logger, broker string, topics []string) error {
	conn, err := kafka.DialContext(ctx, "tcp", broker)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return fmt.Errorf("read partitions: %w", err)
	}
	existing := make(map[string]struct{}, len(partitions))
	for _, p := range partitions {
		existing[p.Topic] = struct{}{}
	}

	missing := MissingTopics(topics, existing)
	if len(missing) == 0 {
		return nil
	}

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("resolve controller: %w", err)
	}
	cc, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("dial controller: %w", err)
	}
	defer cc.Close()

	configs := make([]kafka.TopicConfig, 0, len(missing))
	for _, t := range missing {
		configs = append(configs, kafka.TopicConfig{
			Topic:             t,
			NumPartitions:     1,
			ReplicationFactor: 1,
		})
	}
	if err := cc.CreateTopics(configs...); err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("create topics: %w", err)
	}

	log.Info("topics provisioned", "created", missing)
	return nil
}

// MissingTopics returns the wanted topics absent from existing, in the
// wanted order.
func MissingTopics(wanted []string, existing map[string]struct{}) []string {
	var missing []string
	for _, t := range wanted {
		if _, ok := existing[t]; !ok {
			missing = append(missing, t)
		}
	}
	return missing
}

package outbox

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Dispatcher publishes locked outbox events, keyed by aggregate id so
// every event for one order lands on the same partition.
type Dispatcher struct {
	log          *slog.Logger
	producer     Producer
	defaultTopic string
}

func NewDispatcher(log *slog.Logger, producer Producer, defaultTopic string) *Dispatcher {
	return &Dispatcher{log: log, producer: producer, defaultTopic: defaultTopic}
}

func (d *Dispatcher) Dispatch(ctx context.Context, event Event) error {
	topic := event.Topic
	if topic == "" {
		topic = d.defaultTopic
	}

	headers := make([]kafka.Header, 0, len(event.Headers)+2)
	for k, v := range event.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	headers = append(headers, kafka.Header{Key: "event_type", Value: []byte(event.Type)})
	if event.Traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(event.Traceparent)})
	}

	msg := kafka.Message{
		Topic:   topic,
		Key:     []byte(event.AggregateID),
		Value:   event.Payload,
		Headers: headers,
	}
	if err := d.producer.WriteMessages(ctx, msg); err != nil {
		d.log.Error("outbox dispatch failed", "event_id", event.ID, "topic", topic, "err", err)
		return err
	}
	d.log.Info("outbox dispatched", "event_id", event.ID, "topic", topic, "type", event.Type)
	return nil
}

// Package kafkautil wraps the kafka-go client pieces shared by both
// services: writer/reader construction, JSON publishing, and idempotent
// topic provisioning at startup.
package kafkautil

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/orderflow/fulfillment/pkg/tracing"
)

// NewWriter returns a writer without a fixed topic; messages carry their
// own. Acks from all replicas, so a successful write is durable.
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}
}

// NewReader returns a consumer-group reader with a bounded poll wait so
// loops can observe shutdown promptly.
func NewReader(brokers []string, group, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     group,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
		StartOffset: kafka.FirstOffset,
	})
}

// Publisher is the writer slice WriteJSON needs, so callers can hand in
// a fake.
type Publisher interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// WriteJSON marshals payload and publishes it to topic, propagating the
// current trace context in the headers.
func WriteJSON(ctx context.Context, w Publisher, topic, key string, payload any, headers ...kafka.Header) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return w.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   data,
		Time:    time.Now().UTC(),
		Headers: tracing.InjectKafkaHeaders(ctx, headers),
	})
}

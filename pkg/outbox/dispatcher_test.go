package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow/fulfillment/pkg/tracing"
)

type captureProducer struct {
	msgs []kafka.Message
	err  error
}

func (p *captureProducer) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatchUsesEventTopic(t *testing.T) {
	producer := &captureProducer{}
	d := NewDispatcher(discardLogger(), producer, "fallback.topic")

	err := d.Dispatch(context.Background(), Event{
		ID:          1,
		AggregateID: "42",
		Type:        "OrderCreated",
		Topic:       "order.created",
		Payload:     []byte(`{"order_id":42}`),
		Headers:     map[string]string{"source": "order-service"},
		Traceparent: "00-abc-def-01",
	})
	require.NoError(t, err)

	require.Len(t, producer.msgs, 1)
	msg := producer.msgs[0]
	assert.Equal(t, "order.created", msg.Topic)
	assert.Equal(t, []byte("42"), msg.Key)
	assert.Equal(t, "OrderCreated", tracing.HeaderValue(msg.Headers, "event_type"))
	assert.Equal(t, "order-service", tracing.HeaderValue(msg.Headers, "source"))
	assert.Equal(t, "00-abc-def-01", tracing.HeaderValue(msg.Headers, "traceparent"))
}

func TestDispatchFallsBackToDefaultTopic(t *testing.T) {
	producer := &captureProducer{}
	d := NewDispatcher(discardLogger(), producer, "fallback.topic")

	err := d.Dispatch(context.Background(), Event{ID: 2, AggregateID: "7", Type: "X", Payload: []byte(`{}`)})
	require.NoError(t, err)

	require.Len(t, producer.msgs, 1)
	assert.Equal(t, "fallback.topic", producer.msgs[0].Topic)
}

func TestDispatchPropagatesProducerError(t *testing.T) {
	wantErr := errors.New("broker down")
	d := NewDispatcher(discardLogger(), &captureProducer{err: wantErr}, "t")

	err := d.Dispatch(context.Background(), Event{ID: 3, AggregateID: "1", Type: "X"})
	assert.ErrorIs(t, err, wantErr)
}

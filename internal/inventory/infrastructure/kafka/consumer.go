package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/orderflow/fulfillment/internal/contracts"
	"github.com/orderflow/fulfillment/internal/inventory/application"
	"github.com/orderflow/fulfillment/pkg/tracing"
)

// Reader is the slice of kafka.Reader the consumer loops need.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Deduper is the idempotency fast path the loops consult. Seen must be
// read-only; the loop marks a request only after its apply succeeds, so a
// crash mid-apply leaves the redelivered message eligible for the
// authoritative database guard.
type Deduper interface {
	Key(consumer, requestID string) string
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string)
}

// Consumer runs the stock reservation and compensation loops. Each loop
// owns its reader; offsets are committed only after the apply-and-record
// transaction succeeds, so redelivery is possible and handled by the
// processed-request markers.
type Consumer struct {
	log    *slog.Logger
	svc    *application.Service
	idem   Deduper
	tracer trace.Tracer
}

func NewConsumer(log *slog.Logger, svc *application.Service, idem Deduper) *Consumer {
	return &Consumer{
		log:    log,
		svc:    svc,
		idem:   idem,
		tracer: otel.Tracer("inventory-consumer"),
	}
}

// RunReservations consumes order-creation events and attempts the
// all-or-nothing stock decrement.
func (c *Consumer) RunReservations(ctx context.Context, reader Reader) error {
	return c.consume(ctx, reader, "stock-reservation", "ConsumeOrderCreated", c.svc.ReserveStock)
}

// RunCancellations consumes cancellation requests and restores the
// previously reserved quantities.
func (c *Consumer) RunCancellations(ctx context.Context, reader Reader) error {
	return c.consume(ctx, reader, "stock-compensation", "ConsumeCancellationRequest", c.svc.RestoreStock)
}

func (c *Consumer) consume(ctx context.Context, reader Reader, name, spanName string, handle func(context.Context, contracts.OrderCreationEvent) error) error {
	defer reader.Close()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			return err
		}

		var ev contracts.OrderCreationEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			// Poison message: skip it rather than retry forever.
			c.log.Error("malformed event, skipping", "consumer", name, "offset", msg.Offset, "err", err)
			_ = reader.CommitMessages(ctx, msg)
			continue
		}

		msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
		msgCtx, span := c.tracer.Start(msgCtx, spanName)

		key := ""
		if c.idem != nil {
			key = c.idem.Key(name, ev.RequestID)
			seen, err := c.idem.Seen(msgCtx, key)
			if err != nil {
				c.log.Error("idempotency check failed", "consumer", name, "err", err)
			} else if seen {
				c.log.Info("duplicate event skipped", "consumer", name, "request_id", ev.RequestID)
				span.End()
				_ = reader.CommitMessages(ctx, msg)
				continue
			}
		}

		if err := handle(msgCtx, ev); err != nil {
			c.log.Error("apply failed, withholding commit", "consumer", name, "request_id", ev.RequestID, "order_id", ev.OrderID, "err", err)
			span.End()
			continue
		}
		if c.idem != nil && key != "" {
			c.idem.Mark(msgCtx, key)
		}
		span.End()
		_ = reader.CommitMessages(ctx, msg)
	}
}

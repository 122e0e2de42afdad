package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/orderflow/fulfillment/internal/contracts"
	"github.com/orderflow/fulfillment/internal/order/application"
	"github.com/orderflow/fulfillment/internal/order/domain"
	"github.com/orderflow/fulfillment/pkg/tracing"
)

// Reader is the slice of kafka.Reader the reconciler loops need.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Deduper is the idempotency fast path. Seen is read-only; the loop
// marks a request only after the apply succeeds, so a crash mid-apply
// cannot cause the redelivered result to be skipped.
type Deduper interface {
	Key(consumer, requestID string) string
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string)
}

// Reconciler translates reservation and compensation outcomes into order
// status changes and client notifications. Results are applied
// unconditionally to the order they name; the status store's transition
// guard keeps replays and out-of-order arrivals harmless.
type Reconciler struct {
	log         *slog.Logger
	status      application.StatusStore
	notifier    application.Notifier
	idem        Deduper
	settleDelay time.Duration
	tracer      trace.Tracer
}

func NewReconciler(log *slog.Logger, status application.StatusStore, notifier application.Notifier, idem Deduper, settleDelay time.Duration) *Reconciler {
	return &Reconciler{
		log:         log,
		status:      status,
		notifier:    notifier,
		idem:        idem,
		settleDelay: settleDelay,
		tracer:      otel.Tracer("order-reconciler"),
	}
}

// RunReservationResults consumes the reservation result topic.
func (r *Reconciler) RunReservationResults(ctx context.Context, reader Reader) error {
	return r.consume(ctx, reader, "order-reconciler-reservation", "ApplyReservationResult", r.applyReservation)
}

// RunCancellationResults consumes the compensation result topic.
func (r *Reconciler) RunCancellationResults(ctx context.Context, reader Reader) error {
	return r.consume(ctx, reader, "order-reconciler-compensation", "ApplyCompensationResult", r.applyCompensation)
}

func (r *Reconciler) consume(ctx context.Context, reader Reader, name, spanName string, apply func(context.Context, contracts.StockReservationResult) error) error {
	defer reader.Close()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			return err
		}

		var res contracts.StockReservationResult
		if err := json.Unmarshal(msg.Value, &res); err != nil {
			r.log.Error("malformed result, skipping", "consumer", name, "offset", msg.Offset, "err", err)
			_ = reader.CommitMessages(ctx, msg)
			continue
		}

		msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
		msgCtx, span := r.tracer.Start(msgCtx, spanName)

		key := ""
		if r.idem != nil {
			key = r.idem.Key(name, res.RequestID)
			seen, err := r.idem.Seen(msgCtx, key)
			if err != nil {
				r.log.Error("idempotency check failed", "consumer", name, "err", err)
			} else if seen {
				span.End()
				_ = reader.CommitMessages(ctx, msg)
				continue
			}
		}

		if r.settleDelay > 0 {
			select {
			case <-time.After(r.settleDelay):
			case <-ctx.Done():
				span.End()
				return ctx.Err()
			}
		}

		if err := apply(msgCtx, res); err != nil {
			// Withhold the commit so the result is redelivered; the
			// status update is idempotent.
			r.log.Error("apply failed, withholding commit", "consumer", name, "order_id", res.OrderID, "err", err)
			span.End()
			continue
		}
		if r.idem != nil && key != "" {
			r.idem.Mark(msgCtx, key)
		}
		span.End()
		_ = reader.CommitMessages(ctx, msg)
	}
}

func (r *Reconciler) applyReservation(ctx context.Context, res contracts.StockReservationResult) error {
	status := domain.StatusConfirmed
	message := "stock reserved"
	if !res.Success {
		status = domain.StatusCancelled
		message = "reservation failed: " + res.ErrorMessage
	}

	if err := r.status.UpdateStatusByName(ctx, res.OrderID, string(status)); err != nil {
		return err
	}
	r.notifier.BroadcastOrderStatusChanged(ctx, res.OrderID, string(status), message)
	return nil
}

func (r *Reconciler) applyCompensation(ctx context.Context, res contracts.CompensationResult) error {
	if !res.Success {
		// Status stays as it is; a human sorts this one out.
		r.log.Error("compensation failed, manual review required", "order_id", res.OrderID, "reason", res.ErrorMessage)
		return r.status.FlagForReview(ctx, res.OrderID, res.ErrorMessage)
	}

	if err := r.status.UpdateStatusByName(ctx, res.OrderID, string(domain.StatusCancelled)); err != nil {
		return err
	}
	r.notifier.BroadcastOrderStatusChanged(ctx, res.OrderID, string(domain.StatusCancelled), "order cancelled, stock restored")
	return nil
}

package kafka

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/orderflow/fulfillment/internal/contracts"
	"github.com/orderflow/fulfillment/pkg/kafkautil"
)

type Publisher interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// StatusNotifier broadcasts status changes on the fan-out topic. Publish
// failures are logged and swallowed so the reconciliation loop never
// blocks on a notification.
type StatusNotifier struct {
	log    *slog.Logger
	writer Publisher
}

func NewStatusNotifier(log *slog.Logger, writer Publisher) *StatusNotifier {
	return &StatusNotifier{log: log, writer: writer}
}

func (n *StatusNotifier) BroadcastOrderStatusChanged(ctx context.Context, orderID int, status, message string) {
	ev := contracts.OrderStatusChangedEvent{
		EventID:   uuid.NewString(),
		OrderID:   orderID,
		Status:    status,
		Message:   message,
		ChangedAt: time.Now().UTC(),
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := kafkautil.WriteJSON(pubCtx, n.writer, contracts.TopicOrderStatusChanged, strconv.Itoa(orderID), ev); err != nil {
		n.log.Error("status notification failed", "order_id", orderID, "status", status, "err", err)
		return
	}
	n.log.Info("status notification sent", "order_id", orderID, "status", status)
}

package application

import (
	"context"
	"errors"

	"github.com/orderflow/fulfillment/internal/contracts"
	"github.com/orderflow/fulfillment/internal/order/domain"
)

var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrSellerNotFound = errors.New("seller not found")
)

type OrderRepository interface {
	NextID(ctx context.Context) (int, error)
	// SaveWithOutbox persists the order and the serialized event in one
	// transaction.
	SaveWithOutbox(ctx context.Context, o domain.Order, eventType, topic string, payload []byte, headers map[string]string, traceparent string) error
	// EnqueueEvent appends an outbox row without touching order state.
	EnqueueEvent(ctx context.Context, orderID int, eventType, topic string, payload []byte, headers map[string]string, traceparent string) error
	Get(ctx context.Context, id int) (domain.Order, error)
}

// StatusStore is the order-status collaborator. UpdateStatusByName is
// idempotent for repeated calls with the same status.
type StatusStore interface {
	UpdateStatusByName(ctx context.Context, orderID int, status string) error
	FlagForReview(ctx context.Context, orderID int, reason string) error
}

// Notifier broadcasts a status change to interested clients. Fire and
// forget: failures must never block the reconciliation loop.
type Notifier interface {
	BroadcastOrderStatusChanged(ctx context.Context, orderID int, status, message string)
}

// SellerGateway fetches a seller profile through the broker-backed RPC
// bridge.
type SellerGateway interface {
	GetSellerProfile(ctx context.Context, userID int) (contracts.SellerProfile, error)
}

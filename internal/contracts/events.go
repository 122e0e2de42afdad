// Package contracts holds the message shapes shared by the order and
// inventory services. Both sides marshal these as UTF-8 JSON; the Kafka
// key is the decimal order id for saga topics and the correlation id for
// RPC topics.
package contracts

import (
	"strconv"
	"time"
)

type OrderItem struct {
	ProductID      int   `json:"product_id"`
	Quantity       int   `json:"quantity"`
	UnitPriceCents int64 `json:"unit_price_cents"`
}

// OrderCreationEvent is produced once per placed order. RequestID is the
// correlation key for the whole reservation attempt.
type OrderCreationEvent struct {
	RequestID string      `json:"request_id"`
	OrderID   int         `json:"order_id"`
	UserID    int         `json:"user_id"`
	Items     []OrderItem `json:"items"`
	CreatedAt time.Time   `json:"created_at"`
}

// CancellationRequestEvent reuses the creation shape to identify which
// order and line items to restore.
type CancellationRequestEvent = OrderCreationEvent

func (e OrderCreationEvent) Key() string {
	return strconv.Itoa(e.OrderID)
}

type ItemStockUpdate struct {
	ProductID           int `json:"product_id"`
	UpdatedQuantitySold int `json:"updated_quantity_sold"`
	RemainingStock      int `json:"remaining_stock"`
}

// StockReservationResult is produced exactly once per consumed
// OrderCreationEvent. Success=false is a business failure (insufficient
// stock), not a transport error.
type StockReservationResult struct {
	RequestID    string            `json:"request_id"`
	OrderID      int               `json:"order_id"`
	Success      bool              `json:"success"`
	ErrorMessage string            `json:"error_message,omitempty"`
	UpdatedItems []ItemStockUpdate `json:"updated_items"`
}

// CompensationResult mirrors StockReservationResult with inverted
// semantics: Success=true means stock was restored (or there was nothing
// to restore).
type CompensationResult = StockReservationResult

func (r StockReservationResult) Key() string {
	return strconv.Itoa(r.OrderID)
}

// OrderStatusChangedEvent is the fan-out notification emitted after the
// reconciler applies a result. Browser push and other subscribers consume
// it downstream.
type OrderStatusChangedEvent struct {
	EventID   string    `json:"event_id"`
	OrderID   int       `json:"order_id"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	ChangedAt time.Time `json:"changed_at"`
}

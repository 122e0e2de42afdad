package domain

import "time"

type Status string

// Status transitions are monotonic: Pending moves to exactly one of
// Confirmed or Cancelled via a reservation result, and a Cancelled order
// never becomes Confirmed again.
const (
	StatusPending   Status = "Pending"
	StatusConfirmed Status = "Confirmed"
	StatusCancelled Status = "Cancelled"
)

type Order struct {
	ID         int
	UserID     int
	Items      []Item
	TotalCents int64
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Item struct {
	ProductID      int
	Quantity       int
	UnitPriceCents int64
}

func New(id, userID int, items []Item) Order {
	var total int64
	for _, item := range items {
		total += int64(item.Quantity) * item.UnitPriceCents
	}
	now := time.Now().UTC()
	return Order{
		ID:         id,
		UserID:     userID,
		Items:      items,
		TotalCents: total,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

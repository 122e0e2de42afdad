package application

import (
	"context"
	"errors"

	"github.com/orderflow/fulfillment/internal/contracts"
)

var ErrSellerNotFound = errors.New("seller not found")

// StockRepository applies a reservation or restore as a single atomic
// unit and records the result event in the same transaction. The bool
// return reports that the request id was already applied and the call was
// a no-op.
type StockRepository interface {
	Reserve(ctx context.Context, ev contracts.OrderCreationEvent) (contracts.StockReservationResult, bool, error)
	Restore(ctx context.Context, ev contracts.CancellationRequestEvent) (contracts.CompensationResult, bool, error)
}

type SellerDirectory interface {
	SellerByUserID(ctx context.Context, userID int) (contracts.SellerProfile, error)
}

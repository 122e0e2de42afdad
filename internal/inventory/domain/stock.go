package domain

import (
	"fmt"

	"github.com/orderflow/fulfillment/internal/contracts"
)

// Product is one stock row loaded under a row lock for the duration of a
// reservation or restore.
type Product struct {
	ID           int
	Stock        int
	QuantitySold int
}

// InsufficientStockError names the first line item that could not be
// reserved.
type InsufficientStockError struct {
	ProductID int
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

// ReserveItems applies an all-or-nothing decrement across the line items.
// Every item is validated before anything is mutated, so a failure leaves
// the products untouched.
func ReserveItems(products map[int]*Product, items []contracts.OrderItem) ([]contracts.ItemStockUpdate, error) {
	for _, item := range items {
		p, ok := products[item.ProductID]
		if !ok {
			return nil, &InsufficientStockError{ProductID: item.ProductID, Requested: item.Quantity}
		}
		if p.Stock < item.Quantity {
			return nil, &InsufficientStockError{ProductID: item.ProductID, Requested: item.Quantity, Available: p.Stock}
		}
	}

	updates := make([]contracts.ItemStockUpdate, 0, len(items))
	for _, item := range items {
		p := products[item.ProductID]
		p.Stock -= item.Quantity
		p.QuantitySold += item.Quantity
		updates = append(updates, contracts.ItemStockUpdate{
			ProductID:           p.ID,
			UpdatedQuantitySold: p.QuantitySold,
			RemainingStock:      p.Stock,
		})
	}
	return updates, nil
}

// RestoreItems adds back previously reserved quantities. Unknown products
// are skipped and quantity sold never goes negative, so restoring more
// than was reserved is safe.
func RestoreItems(products map[int]*Product, items []contracts.OrderItem) []contracts.ItemStockUpdate {
	updates := make([]contracts.ItemStockUpdate, 0, len(items))
	for _, item := range items {
		p, ok := products[item.ProductID]
		if !ok {
			continue
		}
		p.Stock += item.Quantity
		p.QuantitySold -= item.Quantity
		if p.QuantitySold < 0 {
			p.QuantitySold = 0
		}
		updates = append(updates, contracts.ItemStockUpdate{
			ProductID:           p.ID,
			UpdatedQuantitySold: p.QuantitySold,
			RemainingStock:      p.Stock,
		})
	}
	return updates
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orderflow/fulfillment/internal/contracts"
	"github.com/orderflow/fulfillment/internal/inventory/domain"
)

// Repository applies stock mutations, processed-request markers, and the
// result outbox row in a single transaction, so a crash can never leave a
// decrement without its result or apply the same request twice.
type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS products (
		id INT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		stock INT NOT NULL CHECK (stock >= 0),
		quantity_sold INT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE TABLE IF NOT EXISTS reservations (
		order_id INT PRIMARY KEY,
		request_id TEXT NOT NULL,
		active BOOLEAN NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE TABLE IF NOT EXISTS processed_requests (
		consumer TEXT NOT NULL,
		request_id TEXT NOT NULL,
		processed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (consumer, request_id)
	);
	CREATE TABLE IF NOT EXISTS sellers (
		id INT PRIMARY KEY,
		user_id INT NOT NULL UNIQUE,
		store_name TEXT NOT NULL,
		email TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	return err
}

// Reserve attempts the all-or-nothing decrement for one order event.
// Insufficient stock yields a success=false result; both outcomes leave a
// reservation row, a processed marker, and an outbox row behind.
func (r *Repository) Reserve(ctx context.Context, ev contracts.OrderCreationEvent) (contracts.StockReservationResult, bool, error) {
	res := contracts.StockReservationResult{RequestID: ev.RequestID, OrderID: ev.OrderID}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return res, false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	fresh, err := markProcessed(ctx, tx, "stock-reservation", ev.RequestID)
	if err != nil {
		return res, false, err
	}
	if !fresh {
		return res, true, tx.Commit(ctx)
	}

	products, err := lockProducts(ctx, tx, ev.Items)
	if err != nil {
		return res, false, err
	}

	updates, err := domain.ReserveItems(products, ev.Items)
	var insufficient *domain.InsufficientStockError
	if errors.As(err, &insufficient) {
		// Nothing was written yet besides the marker; keep it and record
		// the rejection in the same transaction.
		res.ErrorMessage = insufficient.Error()
		if err := r.finishReservation(ctx, tx, ev, res, false); err != nil {
			return res, false, err
		}
		return res, false, tx.Commit(ctx)
	}
	if err != nil {
		return res, false, err
	}

	for _, u := range updates {
		if _, err := tx.Exec(ctx, `UPDATE products SET stock=$2, quantity_sold=$3, updated_at=now() WHERE id=$1`,
			u.ProductID, u.RemainingStock, u.UpdatedQuantitySold); err != nil {
			return res, false, err
		}
	}

	res.Success = true
	res.UpdatedItems = updates
	if err := r.finishReservation(ctx, tx, ev, res, true); err != nil {
		return res, false, err
	}
	return res, false, tx.Commit(ctx)
}

// Restore adds back the quantities of a previous reservation. An order
// that was never reserved, or whose reservation was already released,
// restores as a successful no-op.
func (r *Repository) Restore(ctx context.Context, ev contracts.CancellationRequestEvent) (contracts.CompensationResult, bool, error) {
	res := contracts.CompensationResult{RequestID: ev.RequestID, OrderID: ev.OrderID}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return res, false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	fresh, err := markProcessed(ctx, tx, "stock-compensation", ev.RequestID)
	if err != nil {
		return res, false, err
	}
	if !fresh {
		return res, true, tx.Commit(ctx)
	}

	var active bool
	err = tx.QueryRow(ctx, `SELECT active FROM reservations WHERE order_id=$1 FOR UPDATE`, ev.OrderID).Scan(&active)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return res, false, err
	}

	if errors.Is(err, pgx.ErrNoRows) || !active {
		res.Success = true
		if err := appendOutbox(ctx, tx, ev.OrderID, "StockRestored", contracts.TopicCancellationResult, res); err != nil {
			return res, false, err
		}
		return res, false, tx.Commit(ctx)
	}

	products, err := lockProducts(ctx, tx, ev.Items)
	if err != nil {
		return res, false, err
	}
	updates := domain.RestoreItems(products, ev.Items)
	for _, u := range updates {
		if _, err := tx.Exec(ctx, `UPDATE products SET stock=$2, quantity_sold=$3, updated_at=now() WHERE id=$1`,
			u.ProductID, u.RemainingStock, u.UpdatedQuantitySold); err != nil {
			return res, false, err
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE reservations SET active=false, updated_at=now() WHERE order_id=$1`, ev.OrderID); err != nil {
		return res, false, err
	}

	res.Success = true
	res.UpdatedItems = updates
	if err := appendOutbox(ctx, tx, ev.OrderID, "StockRestored", contracts.TopicCancellationResult, res); err != nil {
		return res, false, err
	}
	return res, false, tx.Commit(ctx)
}

func (r *Repository) finishReservation(ctx context.Context, tx pgx.Tx, ev contracts.OrderCreationEvent, res contracts.StockReservationResult, active bool) error {
	_, err := tx.Exec(ctx, `INSERT INTO reservations (order_id, request_id, active) VALUES ($1,$2,$3)
		ON CONFLICT (order_id) DO UPDATE SET request_id=$2, active=$3, updated_at=now()`,
		ev.OrderID, ev.RequestID, active)
	if err != nil {
		return err
	}
	eventType := "StockReserved"
	if !res.Success {
		eventType = "StockReservationFailed"
	}
	return appendOutbox(ctx, tx, ev.OrderID, eventType, contracts.TopicReservationResult, res)
}

// markProcessed reports whether this request id is new for the consumer.
// The unique insert is the authoritative redelivery guard.
func markProcessed(ctx context.Context, tx pgx.Tx, consumer, requestID string) (bool, error) {
	ct, err := tx.Exec(ctx, `INSERT INTO processed_requests (consumer, request_id) VALUES ($1,$2) ON CONFLICT DO NOTHING`, consumer, requestID)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func lockProducts(ctx context.Context, tx pgx.Tx, items []contracts.OrderItem) (map[int]*domain.Product, error) {
	ids := make([]int, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}

	rows, err := tx.Query(ctx, `SELECT id, stock, quantity_sold FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make(map[int]*domain.Product, len(ids))
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Stock, &p.QuantitySold); err != nil {
			return nil, err
		}
		products[p.ID] = &p
	}
	return products, rows.Err()
}

func appendOutbox(ctx context.Context, tx pgx.Tx, orderID int, eventType, topic string, result contracts.StockReservationResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	headers := map[string]string{"source": "inventory-service"}
	_, err = tx.Exec(ctx, `INSERT INTO outbox (aggregate_type, aggregate_id, type, topic, payload, headers, traceparent, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,'pending')`,
		"inventory", result.Key(), eventType, topic, payload, headers, "")
	return err
}

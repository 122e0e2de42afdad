package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orderflow/fulfillment/internal/order/application"
	"github.com/orderflow/fulfillment/internal/order/domain"
)

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS orders (
		id INT PRIMARY KEY,
		user_id INT NOT NULL,
		total_cents BIGINT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE SEQUENCE IF NOT EXISTS orders_id_seq OWNED BY orders.id;
	CREATE TABLE IF NOT EXISTS order_items (
		order_id INT NOT NULL REFERENCES orders(id),
		product_id INT NOT NULL,
		quantity INT NOT NULL,
		unit_price_cents BIGINT NOT NULL,
		PRIMARY KEY (order_id, product_id)
	);
	CREATE TABLE IF NOT EXISTS order_reviews (
		id BIGSERIAL PRIMARY KEY,
		order_id INT NOT NULL,
		reason TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	return err
}

func (r *Repository) NextID(ctx context.Context) (int, error) {
	var id int
	err := r.pool.QueryRow(ctx, `SELECT nextval('orders_id_seq')`).Scan(&id)
	return id, err
}

func (r *Repository) SaveWithOutbox(ctx context.Context, o domain.Order, eventType, topic string, payload []byte, headers map[string]string, traceparent string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `INSERT INTO orders (id, user_id, total_cents, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET user_id=$2, total_cents=$3, status=$4, updated_at=$6`,
		o.ID, o.UserID, o.TotalCents, o.Status, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, item := range o.Items {
		batch.Queue(`INSERT INTO order_items (order_id, product_id, quantity, unit_price_cents)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (order_id, product_id) DO UPDATE SET quantity=$3, unit_price_cents=$4`,
			o.ID, item.ProductID, item.Quantity, item.UnitPriceCents)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}

	if err := appendOutbox(ctx, tx, o.ID, eventType, topic, payload, headers, traceparent); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) EnqueueEvent(ctx context.Context, orderID int, eventType, topic string, payload []byte, headers map[string]string, traceparent string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := appendOutbox(ctx, tx, orderID, eventType, topic, payload, headers, traceparent); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) Get(ctx context.Context, id int) (domain.Order, error) {
	var o domain.Order
	err := r.pool.QueryRow(ctx, `SELECT id, user_id, total_cents, status, created_at, updated_at FROM orders WHERE id=$1`, id).
		Scan(&o.ID, &o.UserID, &o.TotalCents, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, fmt.Errorf("%w: %d", application.ErrOrderNotFound, id)
	}
	if err != nil {
		return domain.Order{}, err
	}

	rows, err := r.pool.Query(ctx, `SELECT product_id, quantity, unit_price_cents FROM order_items WHERE order_id=$1`, id)
	if err != nil {
		return domain.Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var item domain.Item
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.UnitPriceCents); err != nil {
			return domain.Order{}, err
		}
		o.Items = append(o.Items, item)
	}
	return o, rows.Err()
}

// UpdateStatusByName applies a result-driven status change. The guard in
// the WHERE clause keeps a Cancelled order from ever flipping back to
// Confirmed; a guarded-away transition is a silent no-op, which makes
// redelivered results safe to reapply.
func (r *Repository) UpdateStatusByName(ctx context.Context, orderID int, status string) error {
	ct, err := r.pool.Exec(ctx, `UPDATE orders SET status=$2, updated_at=now()
		WHERE id=$1 AND NOT (status='Cancelled' AND $2='Confirmed')`, orderID, status)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id=$1)`, orderID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %d", application.ErrOrderNotFound, orderID)
		}
	}
	return nil
}

func (r *Repository) FlagForReview(ctx context.Context, orderID int, reason string) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO order_reviews (order_id, reason) VALUES ($1,$2)`, orderID, reason)
	return err
}

func appendOutbox(ctx context.Context, tx pgx.Tx, orderID int, eventType, topic string, payload []byte, headers map[string]string, traceparent string) error {
	_, err := tx.Exec(ctx, `INSERT INTO outbox (aggregate_type, aggregate_id, type, topic, payload, headers, traceparent, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,'pending')`,
		"order", fmt.Sprint(orderID), eventType, topic, payload, headers, traceparent)
	return err
}

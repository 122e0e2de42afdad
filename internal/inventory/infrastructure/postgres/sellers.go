package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orderflow/fulfillment/internal/contracts"
	"github.com/orderflow/fulfillment/internal/inventory/application"
)

type SellerRepository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewSellerRepository(log *slog.Logger, pool *pgxpool.Pool) *SellerRepository {
	return &SellerRepository{log: log, pool: pool}
}

func (r *SellerRepository) SellerByUserID(ctx context.Context, userID int) (contracts.SellerProfile, error) {
	var s contracts.SellerProfile
	err := r.pool.QueryRow(ctx, `SELECT id, user_id, store_name, email FROM sellers WHERE user_id=$1`, userID).
		Scan(&s.SellerID, &s.UserID, &s.StoreName, &s.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return contracts.SellerProfile{}, fmt.Errorf("%w: user %d", application.ErrSellerNotFound, userID)
	}
	if err != nil {
		return contracts.SellerProfile{}, err
	}
	return s, nil
}

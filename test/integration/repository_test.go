package integration

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow/fulfillment/internal/contracts"
	invpg "github.com/orderflow/fulfillment/internal/inventory/infrastructure/postgres"
	"github.com/orderflow/fulfillment/internal/order/domain"
	orderpg "github.com/orderflow/fulfillment/internal/order/infrastructure/postgres"
	"github.com/orderflow/fulfillment/pkg/outbox"
)

func TestRepositoriesAgainstPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}

	ctx := context.Background()
	env, err := SetupPostgres(ctx)
	require.NoError(t, err)
	defer env.Teardown(ctx)

	pool, err := pgxpool.New(ctx, env.PGURL)
	require.NoError(t, err)
	defer pool.Close()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, outbox.NewPGStore(log, pool).Migrate(ctx))

	invRepo := invpg.NewRepository(log, pool)
	require.NoError(t, invRepo.Migrate(ctx))
	orderRepo := orderpg.NewRepository(log, pool)
	require.NoError(t, orderRepo.Migrate(ctx))

	_, err = pool.Exec(ctx, `INSERT INTO products (id, name, stock) VALUES (7, 'gadget', 5)`)
	require.NoError(t, err)

	ev := contracts.OrderCreationEvent{
		RequestID: "req-1",
		OrderID:   42,
		UserID:    1,
		Items:     []contracts.OrderItem{{ProductID: 7, Quantity: 3, UnitPriceCents: 1000}},
		CreatedAt: time.Now().UTC(),
	}

	t.Run("redelivered reservation applies once", func(t *testing.T) {
		res, applied, err := invRepo.Reserve(ctx, ev)
		require.NoError(t, err)
		assert.False(t, applied)
		require.True(t, res.Success, "error: %s", res.ErrorMessage)
		require.Len(t, res.UpdatedItems, 1)
		assert.Equal(t, 2, res.UpdatedItems[0].RemainingStock)

		// Same request id again, as after a crash between apply and
		// offset commit.
		_, applied, err = invRepo.Reserve(ctx, ev)
		require.NoError(t, err)
		assert.True(t, applied, "redelivery must be detected by the processed-request marker")

		var stock int
		require.NoError(t, pool.QueryRow(ctx, `SELECT stock FROM products WHERE id=7`).Scan(&stock))
		assert.Equal(t, 2, stock, "stock must be decremented exactly once")

		var results int
		require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM outbox WHERE aggregate_type='inventory' AND aggregate_id='42'`).Scan(&results))
		assert.Equal(t, 1, results, "exactly one result row for the request")
	})

	t.Run("restore of never-reserved order is a no-op", func(t *testing.T) {
		res, applied, err := invRepo.Restore(ctx, contracts.CancellationRequestEvent{
			RequestID: "req-2",
			OrderID:   99,
			Items:     []contracts.OrderItem{{ProductID: 7, Quantity: 4}},
		})
		require.NoError(t, err)
		assert.False(t, applied)
		assert.True(t, res.Success)
		assert.Empty(t, res.UpdatedItems)

		var stock int
		require.NoError(t, pool.QueryRow(ctx, `SELECT stock FROM products WHERE id=7`).Scan(&stock))
		assert.Equal(t, 2, stock)
	})

	t.Run("cancelled order never flips back to confirmed", func(t *testing.T) {
		o := domain.New(42, 1, []domain.Item{{ProductID: 7, Quantity: 3, UnitPriceCents: 1000}})
		require.NoError(t, orderRepo.SaveWithOutbox(ctx, o, "OrderCreated", contracts.TopicOrderCreated, []byte(`{}`), nil, ""))

		require.NoError(t, orderRepo.UpdateStatusByName(ctx, 42, "Cancelled"))
		require.NoError(t, orderRepo.UpdateStatusByName(ctx, 42, "Confirmed"))

		got, err := orderRepo.Get(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCancelled, got.Status)
	})

	t.Run("restore releases an active reservation once", func(t *testing.T) {
		cancelEv := contracts.CancellationRequestEvent{
			RequestID: "req-3",
			OrderID:   42,
			Items:     ev.Items,
		}
		res, applied, err := invRepo.Restore(ctx, cancelEv)
		require.NoError(t, err)
		assert.False(t, applied)
		require.True(t, res.Success)

		var stock int
		require.NoError(t, pool.QueryRow(ctx, `SELECT stock FROM products WHERE id=7`).Scan(&stock))
		assert.Equal(t, 5, stock)

		// Redelivered compensation is a marker hit, not a second restore.
		_, applied, err = invRepo.Restore(ctx, cancelEv)
		require.NoError(t, err)
		assert.True(t, applied)
		require.NoError(t, pool.QueryRow(ctx, `SELECT stock FROM products WHERE id=7`).Scan(&stock))
		assert.Equal(t, 5, stock)
	})
}

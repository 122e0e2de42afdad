package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/orderflow/fulfillment/internal/contracts"
	"github.com/orderflow/fulfillment/internal/inventory/application"
	invkafka "github.com/orderflow/fulfillment/internal/inventory/infrastructure/kafka"
	invpg "github.com/orderflow/fulfillment/internal/inventory/infrastructure/postgres"
	"github.com/orderflow/fulfillment/internal/rpc"
	"github.com/orderflow/fulfillment/pkg/config"
	"github.com/orderflow/fulfillment/pkg/idempotency"
	"github.com/orderflow/fulfillment/pkg/kafkautil"
	"github.com/orderflow/fulfillment/pkg/logging"
	"github.com/orderflow/fulfillment/pkg/outbox"
	"github.com/orderflow/fulfillment/pkg/shutdown"
	"github.com/orderflow/fulfillment/pkg/tracing"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables")
	}

	cfg, err := config.LoadInventory()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, "inventory-service", cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	pool, err := pgxpool.New(ctx, cfg.PGURL)
	if err != nil {
		logger.Error("pg connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	idem := idempotency.NewStore(rdb, 10*time.Minute)

	if err := kafkautil.EnsureTopics(ctx, logger, cfg.Brokers()[0], contracts.SagaTopics()); err != nil {
		logger.Error("topic provisioning failed", "err", err)
		os.Exit(1)
	}

	repo := invpg.NewRepository(logger, pool)
	store := outbox.NewPGStore(logger, pool)
	if err := store.Migrate(ctx); err != nil {
		logger.Error("outbox migration failed", "err", err)
		os.Exit(1)
	}
	if err := repo.Migrate(ctx); err != nil {
		logger.Error("inventory migration failed", "err", err)
		os.Exit(1)
	}

	writer := kafkautil.NewWriter(cfg.Brokers())
	defer writer.Close()

	dispatch := outbox.NewDispatcher(logger, writer, contracts.TopicReservationResult)
	relay := outbox.NewRelay(logger, store, dispatch, "inventory-service-relay")
	go func() {
		if err := relay.Run(ctx); err != nil {
			logger.Error("relay stopped with error", "err", err)
		}
	}()

	svc := application.NewService(logger, repo)
	consumer := invkafka.NewConsumer(logger, svc, idem)

	go func() {
		reader := kafkautil.NewReader(cfg.Brokers(), cfg.GroupID, contracts.TopicOrderCreated)
		if err := consumer.RunReservations(ctx, reader); err != nil && ctx.Err() == nil {
			logger.Error("reservation consumer stopped", "err", err)
			cancel()
		}
	}()
	go func() {
		reader := kafkautil.NewReader(cfg.Brokers(), cfg.GroupID, contracts.TopicOrderCancellation)
		if err := consumer.RunCancellations(ctx, reader); err != nil && ctx.Err() == nil {
			logger.Error("cancellation consumer stopped", "err", err)
			cancel()
		}
	}()

	// Seller-profile RPC responder.
	sellerRepo := invpg.NewSellerRepository(logger, pool)
	responder := rpc.NewResponder(logger, writer)
	responder.Handle(contracts.ActionGetSellerProfile, application.SellerProfileHandler(logger, sellerRepo))
	go func() {
		reader := kafkautil.NewReader(cfg.Brokers(), cfg.GroupID+"-rpc", contracts.TopicRPCRequest)
		if err := responder.Run(ctx, reader); err != nil && ctx.Err() == nil {
			logger.Error("rpc responder stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("inventory-service shutdown complete")
}

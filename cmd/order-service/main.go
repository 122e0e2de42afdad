package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/orderflow/fulfillment/internal/contracts"
	"github.com/orderflow/fulfillment/internal/order/application"
	orderhttp "github.com/orderflow/fulfillment/internal/order/infrastructure/http"
	orderkafka "github.com/orderflow/fulfillment/internal/order/infrastructure/kafka"
	orderpg "github.com/orderflow/fulfillment/internal/order/infrastructure/postgres"
	"github.com/orderflow/fulfillment/internal/order/infrastructure/rpcgw"
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

	cfg, err := config.LoadOrder()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, "order-service", cfg.OTLPEndpoint, logger)
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

	// All consumers depend on the topics existing before they subscribe.
	if err := kafkautil.EnsureTopics(ctx, logger, cfg.Brokers()[0], contracts.SagaTopics()); err != nil {
		logger.Error("topic provisioning failed", "err", err)
		os.Exit(1)
	}

	repo := orderpg.NewRepository(logger, pool)
	store := outbox.NewPGStore(logger, pool)
	if err := store.Migrate(ctx); err != nil {
		logger.Error("outbox migration failed", "err", err)
		os.Exit(1)
	}
	if err := repo.Migrate(ctx); err != nil {
		logger.Error("order migration failed", "err", err)
		os.Exit(1)
	}

	writer := kafkautil.NewWriter(cfg.Brokers())
	defer writer.Close()

	dispatch := outbox.NewDispatcher(logger, writer, contracts.TopicOrderCreated)
	relay := outbox.NewRelay(logger, store, dispatch, "order-service-relay")
	go func() {
		if err := relay.Run(ctx); err != nil {
			logger.Error("relay stopped with error", "err", err)
		}
	}()

	// RPC bridge to the inventory-owned seller directory.
	rpcClient := rpc.NewClient(logger, writer)
	go func() {
		err := rpcClient.Listen(ctx, func() (rpc.Reader, error) {
			// Probe the broker first so subscribe retries engage while
			// Kafka is still coming up.
			if err := kafkautil.EnsureTopics(ctx, logger, cfg.Brokers()[0], []string{contracts.TopicRPCResponse}); err != nil {
				return nil, err
			}
			return kafkautil.NewReader(cfg.Brokers(), cfg.GroupID+"-rpc", contracts.TopicRPCResponse), nil
		})
		if err != nil && ctx.Err() == nil {
			logger.Error("rpc listener stopped", "err", err)
		}
	}()

	sellers := rpcgw.NewSellerClient(logger, rpcClient, cfg.RPCTimeout)
	svc := application.NewService(logger, repo, sellers)

	notifier := orderkafka.NewStatusNotifier(logger, writer)
	reconciler := orderkafka.NewReconciler(logger, repo, notifier, idem, cfg.SettleDelay)

	go func() {
		reader := kafkautil.NewReader(cfg.Brokers(), cfg.GroupID, contracts.TopicReservationResult)
		if err := reconciler.RunReservationResults(ctx, reader); err != nil && ctx.Err() == nil {
			logger.Error("reservation reconciler stopped", "err", err)
			cancel()
		}
	}()
	go func() {
		reader := kafkautil.NewReader(cfg.Brokers(), cfg.GroupID, contracts.TopicCancellationResult)
		if err := reconciler.RunCancellationResults(ctx, reader); err != nil && ctx.Err() == nil {
			logger.Error("cancellation reconciler stopped", "err", err)
			cancel()
		}
	}()

	handler := orderhttp.NewHandler(logger, svc, rpcClient.Ready)
	r := chi.NewRouter()
	r.Mount("/", handler.Routes())
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	logger.Info("order-service shutdown complete")
}

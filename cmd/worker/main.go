package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/andresmv/credithub/internal/config"
	"github.com/andresmv/credithub/internal/db"
	"github.com/andresmv/credithub/internal/domain/application"
	"github.com/andresmv/credithub/internal/locks"
	"github.com/andresmv/credithub/internal/maintenance"
	"github.com/andresmv/credithub/internal/observability"
	"github.com/andresmv/credithub/internal/processing"
	"github.com/andresmv/credithub/internal/providers"
	"github.com/andresmv/credithub/internal/pubsub"
	"github.com/andresmv/credithub/internal/queue"
	"github.com/andresmv/credithub/internal/queue/bridge"
	"github.com/andresmv/credithub/internal/queue/redisclient"
	"github.com/andresmv/credithub/internal/queue/worker"
	"github.com/andresmv/credithub/internal/repo/postgres"
	"github.com/andresmv/credithub/internal/resilience"
	"github.com/andresmv/credithub/internal/security"
	"github.com/andresmv/credithub/internal/strategies"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// lockerAdapter narrows *locks.Locker to the interface the processor
// consumes.
type lockerAdapter struct {
	locker *locks.Locker
}

func (a lockerAdapter) Acquire(ctx context.Context, key string, ttl time.Duration) (processing.Lease, error) {
	lease, err := a.locker.Acquire(ctx, key, ttl)
	if err != nil {
		return nil, err
	}
	return lease, nil
}

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config invalid: %v", err)
	}

	logger := observability.NewLogger(cfg.Env)
	logger = slog.New(observability.NewTraceHandler(logger.Handler()))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, "credithub-worker", cfg.OTLPEndpoint)
	if err != nil {
		logger.Warn("tracer init failed, continuing without export", "error", err)
	} else {
		defer func() {
			shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracer(shCtx)
		}()
	}

	pool, err := db.NewPool(cfg.DBURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	redisClient := redisclient.New(redisclient.Config{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	rdb := redisClient.Raw()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	prom := observability.NewProm(promReg)

	cipher, err := security.NewCipher(cfg.EncryptionKey)
	if err != nil {
		log.Fatalf("cipher init failed: %v", err)
	}

	appsRepo := postgres.NewApplicationsRepo(pool, cipher, prom)
	pendingRepo := postgres.NewPendingJobsRepo(pool, prom)
	failedRepo := postgres.NewFailedJobsRepo(pool, prom)
	webhookEventsRepo := postgres.NewWebhookEventsRepo(pool, prom)
	partitionsRepo := postgres.NewPartitionsRepo(pool, prom)

	producer := queue.NewProducer(rdb)
	consumer := queue.NewConsumer(rdb)

	guard := resilience.NewProviderGuard(resilience.BreakerConfig{
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		HalfOpenMaxCalls: 1,
	}, prom, logger)

	registry := strategies.NewRegistry()
	bankByCtry := make(map[application.Country]providers.BankingProvider)
	for _, country := range registry.Countries() {
		bankByCtry[country] = providers.NewMockProvider("bank-api-" + string(country))
	}

	publisher := pubsub.NewPublisher(rdb, logger, prom)

	processor := processing.NewProcessor(
		processing.Config{LockTTL: cfg.LockTTL},
		appsRepo,
		lockerAdapter{locker: locks.NewLocker(rdb)},
		registry,
		guard,
		bankByCtry,
		publisher,
		logger,
	)

	b := bridge.New(bridge.Config{
		Interval:  cfg.BridgeInterval,
		BatchSize: cfg.BridgeBatchSize,
	}, pendingRepo, producer, logger)
	go b.Run(ctx)

	mnt := maintenance.New(maintenance.Config{
		WebhookRetentionDays: cfg.WebhookRetentionDays,
		PartitionThreshold:   cfg.PartitionThreshold,
		StalePendingTTL:      cfg.StalePendingTTL,
	}, partitionsRepo, webhookEventsRepo, failedRepo, pendingRepo, appsRepo, logger)
	go maintenance.NewRunner(logger, mnt.Jobs()...).Start(ctx)

	host, _ := os.Hostname()
	workerID := host + "-" + strconv.Itoa(os.Getpid())

	w := worker.New(worker.Config{
		WorkerID:      workerID,
		Concurrency:   cfg.WorkerConcurrency,
		MaxRetries:    3,
		TaskTimeout:   cfg.TaskTimeout,
		ShutdownGrace: cfg.ShutdownGrace,
		HealthAddr:    healthAddr(),
	}, consumer, processor.Process, pendingRepo, failedRepo, prom, logger)
	w.PromRegistry = promReg
	w.Guard = guard

	if err := w.Run(ctx); err != nil {
		logger.Error("worker stopped with error", "error", err)
	}
	logger.Info("worker shutdown complete")
}

func healthAddr() string {
	if addr := os.Getenv("WORKER_HEALTH_ADDR"); addr != "" {
		return addr
	}
	return ":9090"
}

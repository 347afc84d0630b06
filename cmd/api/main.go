package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andresmv/credithub/internal/auth"
	"github.com/andresmv/credithub/internal/config"
	"github.com/andresmv/credithub/internal/db"
	httpx "github.com/andresmv/credithub/internal/http"
	"github.com/andresmv/credithub/internal/observability"
	"github.com/andresmv/credithub/internal/pubsub"
	"github.com/andresmv/credithub/internal/queue/redisclient"
	"github.com/andresmv/credithub/internal/security"
	"github.com/andresmv/credithub/internal/ws"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const accessTokenTTL = 15 * time.Minute

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

	shutdownTracer, err := observability.InitTracer(ctx, "credithub-api", cfg.OTLPEndpoint)
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

	migrateCtx, cancelMigrate := config.WithTimeout(2 * time.Minute)
	if err := db.Migrate(migrateCtx, pool); err != nil {
		cancelMigrate()
		log.Fatalf("migrate failed: %v", err)
	}
	if err := db.EnsureAdminUser(migrateCtx, pool, cfg); err != nil {
		cancelMigrate()
		log.Fatalf("admin seed failed: %v", err)
	}
	cancelMigrate()

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

	hub := ws.NewHub(logger, prom)

	// Worker processes publish status changes on redis; this subscriber
	// fans them out to the sessions connected to this instance.
	subscriber := pubsub.NewSubscriber(rdb, logger, prom)
	go subscriber.Run(ctx, hub.Broadcast)

	router := httpx.NewRouter(httpx.Deps{
		Cfg:          cfg,
		Log:          logger,
		Pool:         pool,
		Redis:        rdb,
		Cipher:       cipher,
		Prom:         prom,
		PromRegistry: promReg,
		JWT:          auth.NewManager(cfg.JWTSecret, accessTokenTTL),
		Hub:          hub,
		Broadcast:    pubsub.NewPublisher(rdb, logger, prom),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// WebSocket sessions outlive any sane write deadline; the hub
		// manages their lifecycle instead.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port, "env", cfg.Env)
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("server shutting down")

	shutdownCh := make(chan struct{})
	go func() {
		defer close(shutdownCh)

		shCtx, cancel := config.WithTimeout(10 * time.Second)
		defer cancel()

		if err := srv.Shutdown(shCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
		}
	}()

	select {
	case <-shutdownCh:
		logger.Info("shutdown complete")
	case <-time.After(12 * time.Second):
		logger.Error("shutdown timed out")
	}
}

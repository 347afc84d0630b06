package http

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/andresmv/credithub/internal/auth"
	"github.com/andresmv/credithub/internal/config"
	"github.com/andresmv/credithub/internal/http/handlers"
	"github.com/andresmv/credithub/internal/http/middlewares"
	"github.com/andresmv/credithub/internal/observability"
	"github.com/andresmv/credithub/internal/pubsub"
	"github.com/andresmv/credithub/internal/repo/postgres"
	"github.com/andresmv/credithub/internal/security"
	"github.com/andresmv/credithub/internal/ws"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const maxRequestBody = 1 << 20 // 1 MiB, also the webhook payload cap

type Deps struct {
	Cfg          config.Config
	Log          *slog.Logger
	Pool         *pgxpool.Pool
	Redis        *redis.Client
	Cipher       *security.Cipher
	Prom         *observability.Prom
	PromRegistry *prometheus.Registry
	JWT          *auth.Manager
	Hub          *ws.Hub
	Broadcast    *pubsub.Publisher
}

func NewRouter(d Deps) *gin.Engine {
	if d.Cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// middleware

	r.Use(gin.Recovery())
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger())
	r.Use(middlewares.SecurityHeaders())
	if origins := corsOrigins(); len(origins) > 0 {
		r.Use(middlewares.CORSMiddleware(origins))
	}
	r.Use(otelgin.Middleware("credithub-api"))
	r.Use(d.Prom.GinHandleMiddleware())
	r.Use(middlewares.MaxBodyBytes(maxRequestBody))

	// health
	pingDB := func() error {
		if d.Pool == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		return d.Pool.Ping(ctx)
	}
	pingRedis := func() error {
		if d.Redis == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		return d.Redis.Ping(ctx).Err()
	}

	h := handlers.NewHealthHandler(map[string]func() error{
		"postgres": pingDB,
		"redis":    pingRedis,
	})
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	if d.PromRegistry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.PromRegistry, promhttp.HandlerOpts{})))
	}

	// wire up repositories
	appsRepo := postgres.NewApplicationsRepo(d.Pool, d.Cipher, d.Prom)
	auditRepo := postgres.NewAuditLogsRepo(d.Pool, d.Prom)
	webhookEventsRepo := postgres.NewWebhookEventsRepo(d.Pool, d.Prom)
	failedJobsRepo := postgres.NewFailedJobsRepo(d.Pool, d.Prom)
	pendingJobsRepo := postgres.NewPendingJobsRepo(d.Pool, d.Prom)
	usersRepo := postgres.NewUsersRepo(d.Pool)

	// wire up handlers
	applicationsHandler := handlers.NewApplicationsHandler(appsRepo, auditRepo, d.Broadcast, d.Log)
	webhooksHandler := handlers.NewWebhooksHandler(d.Cfg.WebhookSecret, appsRepo, webhookEventsRepo, d.Broadcast, d.Log)
	authHandler := handlers.NewAuthHandler(usersRepo, d.JWT, 15*time.Minute)
	adminHandler := handlers.NewAdminHandler(failedJobsRepo, pendingJobsRepo, d.Log)
	wsHandler := handlers.NewWSHandler(d.Hub, d.Log)

	authMW := middlewares.NewAuthMiddleware(d.JWT)
	loginLimiter := middlewares.NewRateLimiter(10, time.Minute)
	createLimiter := middlewares.NewRateLimiter(60, time.Minute)

	requireJSON := middlewares.RequireJSON()

	r.POST("/auth/login", requireJSON,
		loginLimiter.RateLimiterMiddleware(middlewares.KeyByIP), authHandler.Login)

	r.POST("/applications", requireJSON, authMW.RequireAuth(),
		createLimiter.RateLimiterMiddleware(middlewares.KeyByIP), applicationsHandler.Create)
	r.GET("/applications/:id", applicationsHandler.Get)
	r.GET("/applications/:id/audit", applicationsHandler.AuditTrail)
	r.POST("/applications/:id/cancel", authMW.RequireAuth(), applicationsHandler.Cancel)

	// Signature is the authentication here; the body must reach the
	// handler raw, so no JSON middleware on this route.
	r.POST("/webhooks/bank-confirmation", webhooksHandler.Receive)

	r.GET("/ws", wsHandler.Serve)

	r.GET("/swagger", handlers.SwaggerUI)
	r.StaticFile("/docs/openapi.yaml", "./docs/openapi.yaml")

	admin := r.Group("/admin", authMW.RequireAuth(), authMW.RequireRole("admin"))
	{
		admin.GET("/failed-jobs", adminHandler.ListFailedJobs)
		admin.POST("/failed-jobs/:id/retry", adminHandler.RetryFailedJob)
		admin.POST("/failed-jobs/:id/review", adminHandler.ReviewFailedJob)
	}

	return r
}

func corsOrigins() []string {
	raw := os.Getenv("CORS_ALLOWED_ORIGINS")
	if raw == "" {
		return nil
	}

	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

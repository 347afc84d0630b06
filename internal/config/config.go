package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"
)

const minSecretLen = 32

type Config struct {
	Env  string
	Port int

	DBURL     string
	RedisAddr string

	// Secrets. Validate() refuses to run without them.
	EncryptionKey []byte
	WebhookSecret []byte
	JWTSecret     string

	AdminEmail    string
	AdminPassword string

	// Worker / bridge
	WorkerConcurrency int
	BridgeInterval    time.Duration
	BridgeBatchSize   int
	TaskTimeout       time.Duration
	LockTTL           time.Duration
	ShutdownGrace     time.Duration

	// Maintenance
	WebhookRetentionDays int
	PartitionThreshold   int64
	StalePendingTTL      time.Duration // zero disables auto-cancel

	OTLPEndpoint string
}

func Load() Config {
	return Config{
		Env:  getEnv("APP_ENV", "dev"),
		Port: getEnvInt("PORT", 8080),

		DBURL:     buildDBURL(),
		RedisAddr: getEnv("REDIS_ADDR", "127.0.0.1:6379"),

		EncryptionKey: []byte(os.Getenv("ENCRYPTION_KEY")),
		WebhookSecret: []byte(os.Getenv("WEBHOOK_SECRET")),
		JWTSecret:     getEnv("JWT_SECRET", ""),

		AdminEmail:    getEnv("ADMIN_EMAIL", "admin@credithub.local"),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),

		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 10),
		BridgeInterval:    getEnvDur("BRIDGE_INTERVAL", time.Minute),
		BridgeBatchSize:   getEnvInt("BRIDGE_BATCH_SIZE", 100),
		TaskTimeout:       getEnvDur("TASK_TIMEOUT", 5*time.Minute),
		LockTTL:           getEnvDur("LOCK_TTL", 5*time.Minute),
		ShutdownGrace:     getEnvDur("SHUTDOWN_GRACE", 30*time.Second),

		WebhookRetentionDays: getEnvInt("WEBHOOK_RETENTION_DAYS", 30),
		PartitionThreshold:   int64(getEnvInt("PARTITION_ROW_THRESHOLD", 1_000_000)),
		StalePendingTTL:      getEnvDur("STALE_PENDING_TTL", 0),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
}

// Validate enforces the fail-closed secret policy: the process must not
// come up able to store plaintext PII or accept unsigned webhooks.
func (c Config) Validate() error {
	if len(c.EncryptionKey) < minSecretLen {
		return fmt.Errorf("ENCRYPTION_KEY must be at least %d bytes, got %d", minSecretLen, len(c.EncryptionKey))
	}
	if len(c.WebhookSecret) < minSecretLen {
		return fmt.Errorf("WEBHOOK_SECRET must be at least %d bytes, got %d", minSecretLen, len(c.WebhookSecret))
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	return nil
}

func buildDBURL() string {
	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "credithub")
	pass := getEnv("DB_PASSWORD", "credithub")
	name := getEnv("DB_NAME", "credithub")
	ssl := getEnv("DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)

		if err != nil {
			fmt.Println(err)
		}

		return num
	}
	return fallback
}

func getEnvDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)

		if err != nil {
			fmt.Println(err)
			return fallback
		}

		return d
	}
	return fallback
}

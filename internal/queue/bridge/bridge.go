package bridge

import (
	"context"
	"log/slog"
	"time"

	"github.com/andresmv/credithub/internal/domain/pendingjob"
	"github.com/andresmv/credithub/internal/queue"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Rows is the slice of the pending_jobs repo the bridge needs.
type Rows interface {
	BridgeBatch(ctx context.Context, limit int, enqueue func(ctx context.Context, j pendingjob.PendingJob) (string, error)) (claimed int, pushed int, err error)
}

type Config struct {
	Interval  time.Duration
	BatchSize int
}

// Bridge drains committed pending_jobs rows into the redis queue. SKIP
// LOCKED claiming lets several bridge instances run without double
// delivery; a crash mid-batch only re-delivers, never loses.
type Bridge struct {
	cfg      Config
	rows     Rows
	producer *queue.Producer
	logger   *slog.Logger
	tracer   trace.Tracer
}

func New(cfg Config, rows Rows, producer *queue.Producer, logger *slog.Logger) *Bridge {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}

	return &Bridge{
		cfg:      cfg,
		rows:     rows,
		producer: producer,
		logger:   logger,
		tracer:   otel.Tracer("credithub/bridge"),
	}
}

// Run ticks until ctx is done. The first tick fires immediately so a
// restart does not add a full interval of latency.
func (b *Bridge) Run(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	b.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.tick(ctx)
		}
	}
}

func (b *Bridge) tick(ctx context.Context) {
	ctx, span := b.tracer.Start(ctx, "bridge.tick")
	defer span.End()

	claimed, pushed, err := b.rows.BridgeBatch(ctx, b.cfg.BatchSize, b.enqueue)
	if err != nil {
		b.logger.ErrorContext(ctx, "bridge.tick_failed", "error", err)
		return
	}

	span.SetAttributes(
		attribute.Int("bridge.claimed", claimed),
		attribute.Int("bridge.pushed", pushed),
	)
	if claimed > 0 {
		b.logger.InfoContext(ctx, "bridge.tick", "claimed", claimed, "pushed", pushed)
	}
}

func (b *Bridge) enqueue(ctx context.Context, j pendingjob.PendingJob) (string, error) {
	args, err := j.DecodeArgs()
	if err != nil {
		return "", err
	}

	env := queue.NewEnvelope(j, args)
	queue.InjectTrace(ctx, &env)

	return b.producer.Enqueue(ctx, env)
}

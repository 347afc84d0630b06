package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/andresmv/credithub/internal/domain/failedjob"
	"github.com/andresmv/credithub/internal/observability"
	"github.com/andresmv/credithub/internal/processing"
	"github.com/andresmv/credithub/internal/queue"
	"github.com/andresmv/credithub/internal/resilience"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type PendingJobs interface {
	MarkProcessing(ctx context.Context, id int64) error
	MarkCompleted(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
	IncrementRetry(ctx context.Context, id int64, errMsg string) error
	RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

type FailedJobs interface {
	Insert(ctx context.Context, f failedjob.FailedJob) error
}

// Source yields task envelopes; in production it is the redis consumer.
type Source interface {
	Next(ctx context.Context, timeout time.Duration) (queue.Envelope, error)
}

// TaskFunc is the task body the pool executes.
type TaskFunc func(ctx context.Context, env queue.Envelope) error

type Config struct {
	WorkerID      string
	Concurrency   int
	MaxRetries    int
	TaskTimeout   time.Duration
	ShutdownGrace time.Duration
	HealthAddr    string
}

// Worker consumes envelopes from the queue and fans them out to a fixed
// pool of goroutines. Transient failures are retried in place with
// backoff; permanent or exhausted failures are dead-lettered.
type Worker struct {
	cfg     Config
	source  Source
	task    TaskFunc
	pending PendingJobs
	failed  FailedJobs
	metrics *observability.TaskMetrics
	prom    *observability.Prom
	logger  *slog.Logger

	readyMu sync.RWMutex
	ready   bool

	// Optional extras surfaced on the health server.
	PromRegistry *prometheus.Registry
	Guard        *resilience.ProviderGuard
}

func New(cfg Config, source Source, task TaskFunc, pending PendingJobs, failed FailedJobs, prom *observability.Prom, logger *slog.Logger) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 5 * time.Minute
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}

	return &Worker{
		cfg:     cfg,
		source:  source,
		task:    task,
		pending: pending,
		failed:  failed,
		metrics: observability.NewTaskMetrics(),
		prom:    prom,
		logger:  logger,
		ready:   true,
	}
}

var tracer = otel.Tracer("credithub-worker")

func (w *Worker) logMetricsLoop(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-t.C:
			s := w.metrics.Snapshot()
			w.logger.Info("worker.metrics",
				"claimed", s.Claimed, "done", s.Done, "failed", s.Failed,
				"retried", s.Retried, "dead_lettered", s.DeadLettered,
				"duration_avg", s.AverageDuration.String(), "duration_max", s.MaxDuration.String(),
			)
		}
	}
}

// requeueLoop reclaims rows stuck in enqueued/processing, covering worker
// crashes and queue entries lost between push and pop.
func (w *Worker) requeueLoop(ctx context.Context) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-t.C:
			hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			n, err := w.pending.RequeueStale(hctx, 2*w.cfg.TaskTimeout)
			cancel()

			if err != nil {
				w.logger.Error("worker.requeue_stale_failed", "error", err)
				continue
			}
			if n > 0 {
				w.logger.Info("worker.requeue_stale", "count", n)
			}
		}
	}
}

func (w *Worker) Run(ctx context.Context) error {
	srv := &http.Server{Addr: w.cfg.HealthAddr, Handler: w.HealthHandler()}

	healthDone := make(chan struct{})

	go func() {
		w.logger.Info("worker.boot",
			"pid", os.Getpid(), "worker_id", w.cfg.WorkerID, "health_addr", w.cfg.HealthAddr)

		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.logger.Error("worker.health_server_error", "error", err)
		}
		close(healthDone)
	}()

	// On shutdown: flip readiness, keep the server up briefly so probes
	// see the 503, then shut it down.
	go func() {
		<-ctx.Done()

		w.readyMu.Lock()
		w.ready = false
		w.readyMu.Unlock()

		time.Sleep(5 * time.Second)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	tasksCh := make(chan queue.Envelope)

	go w.logMetricsLoop(ctx, 30*time.Second)
	go w.requeueLoop(ctx)

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(workerNum int) {
			defer wg.Done()
			w.runWorker(ctx, workerNum, tasksCh)
		}(i + 1)
	}

producerLoop:
	for {
		if ctx.Err() != nil {
			break producerLoop
		}

		env, err := w.source.Next(ctx, 2*time.Second)
		if err != nil {
			if errors.Is(err, queue.ErrNoTask) || errors.Is(err, context.Canceled) {
				continue
			}
			w.logger.Error("worker.consume_error", "error", err)
			// brief pause so a dead redis does not spin the loop
			select {
			case <-ctx.Done():
				break producerLoop
			case <-time.After(time.Second):
			}
			continue
		}

		select {
		case tasksCh <- env:
			w.metrics.IncClaimed()
		case <-ctx.Done():
			break producerLoop
		}
	}

	w.logger.Info("worker.shutdown", "reason", "signal received; draining")
	close(tasksCh)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("worker.drained")
	case <-time.After(w.cfg.ShutdownGrace):
		w.logger.Warn("worker.shutdown_grace_exceeded", "grace", w.cfg.ShutdownGrace.String())
	}

	select {
	case <-healthDone:
	case <-time.After(7 * time.Second):
	}

	return nil
}

func (w *Worker) runWorker(ctx context.Context, workerNum int, tasksCh <-chan queue.Envelope) {
	for env := range tasksCh {
		start := time.Now()

		execCtx := queue.ExtractTrace(ctx, env)
		execCtx, span := tracer.Start(execCtx, "task.run",
			trace.WithAttributes(
				attribute.String("task.id", env.ID),
				attribute.String("task.name", env.TaskName),
				attribute.Int64("task.pending_job_id", env.PendingJobID),
				attribute.String("worker.id", w.cfg.WorkerID),
				attribute.Int("worker.num", workerNum),
			),
		)

		func() {
			defer span.End()

			if w.prom != nil {
				w.prom.TasksInFlight.Inc()
				defer w.prom.TasksInFlight.Dec()
			}

			w.logger.InfoContext(execCtx, "task.start",
				"worker_num", workerNum,
				"task_id", env.ID,
				"task_name", env.TaskName,
				"pending_job_id", env.PendingJobID,
			)

			result := w.execute(execCtx, env)

			d := time.Since(start)
			w.metrics.ObserveDuration(d)
			if w.prom != nil {
				w.prom.TaskDuration.WithLabelValues(env.TaskName, result).Observe(d.Seconds())
				w.prom.TaskResults.WithLabelValues(env.TaskName, result).Inc()
			}

			span.SetAttributes(
				attribute.Int64("task.duration_ms", d.Milliseconds()),
				attribute.String("task.result", result),
			)
			if result == "done" {
				span.SetStatus(codes.Ok, "done")
				w.metrics.IncDone()
			} else {
				span.SetStatus(codes.Error, result)
			}

			w.logger.InfoContext(execCtx, "task.finish",
				"worker_num", workerNum,
				"task_id", env.ID,
				"pending_job_id", env.PendingJobID,
				"result", result,
				"duration_ms", d.Milliseconds(),
			)
		}()
	}
}

// execute runs the task with the retry policy and reports the final
// result label: done, failed or dead_lettered.
func (w *Worker) execute(ctx context.Context, env queue.Envelope) string {
	if err := w.pending.MarkProcessing(ctx, env.PendingJobID); err != nil {
		w.logger.WarnContext(ctx, "task.mark_processing_failed",
			"pending_job_id", env.PendingJobID, "error", err)
	}

	var lastErr error
	var lastKind processing.Kind
	attempts := 0

	// MaxRetries counts retries after the initial attempt, so the task runs
	// at most MaxRetries+1 times.
	maxAttempts := w.cfg.MaxRetries + 1

	for attempt := 0; attempt < maxAttempts; attempt++ {
		attempts = attempt + 1
		taskCtx, cancel := context.WithTimeout(ctx, w.cfg.TaskTimeout)
		err := w.task(taskCtx, env)
		cancel()

		if err == nil {
			if markErr := w.pending.MarkCompleted(ctx, env.PendingJobID); markErr != nil {
				w.logger.WarnContext(ctx, "task.mark_completed_failed",
					"pending_job_id", env.PendingJobID, "error", markErr)
			}
			return "done"
		}

		lastErr = err
		lastKind = processing.Classify(err)

		if !lastKind.IsRetryable() {
			break
		}
		if attempt == maxAttempts-1 {
			break
		}

		w.metrics.IncRetried()
		if incErr := w.pending.IncrementRetry(ctx, env.PendingJobID, err.Error()); incErr != nil {
			w.logger.WarnContext(ctx, "task.increment_retry_failed",
				"pending_job_id", env.PendingJobID, "error", incErr)
		}

		delay := ExponentialBackoff(attempt)
		w.logger.WarnContext(ctx, "task.retry",
			"pending_job_id", env.PendingJobID,
			"attempt", attempt+1,
			"max_retries", w.cfg.MaxRetries,
			"kind", string(lastKind),
			"delay", delay.String(),
			"error", err,
		)

		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			lastKind = processing.Classify(lastErr)
			attempt = maxAttempts // force exit
		case <-time.After(delay):
		}
	}

	w.deadLetter(ctx, env, lastErr, lastKind, attempts)
	return "dead_lettered"
}

func (w *Worker) deadLetter(ctx context.Context, env queue.Envelope, execErr error, kind processing.Kind, attempts int) {
	errMsg := execErr.Error()

	if err := w.pending.MarkFailed(ctx, env.PendingJobID, errMsg); err != nil {
		w.logger.ErrorContext(ctx, "task.mark_failed_error",
			"pending_job_id", env.PendingJobID, "error", err)
	}

	args, _ := json.Marshal(map[string]any{
		"application_id": env.Args[0],
	})
	kwargs, _ := json.Marshal(env.Kwargs)
	traceback := string(debug.Stack())

	f := failedjob.FailedJob{
		PendingJobID:   env.PendingJobID,
		TaskName:       env.TaskName,
		JobArgs:        args,
		JobKwargs:      kwargs,
		ErrorKind:      string(kind),
		ErrorMessage:   errMsg,
		ErrorTraceback: &traceback,
		RetryCount:     attempts - 1,
		MaxRetries:     w.cfg.MaxRetries,
		IsRetryable:    kind.IsRetryable(),
	}
	if err := w.failed.Insert(ctx, f); err != nil {
		w.logger.ErrorContext(ctx, "task.dead_letter_failed",
			"pending_job_id", env.PendingJobID, "error", err)
		return
	}

	w.metrics.IncFailed()
	w.metrics.IncDeadLettered()

	w.logger.ErrorContext(ctx, "task.dead_lettered",
		"pending_job_id", env.PendingJobID,
		"kind", string(kind),
		"retryable", kind.IsRetryable(),
		"error", errMsg,
	)
}

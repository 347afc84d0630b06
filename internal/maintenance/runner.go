package maintenance

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job is a named housekeeping task run on a fixed interval.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Runner drives each job on its own ticker. Jobs run once at start so a
// freshly deployed process does not wait a full day for the first sweep.
type Runner struct {
	jobs   []Job
	logger *slog.Logger
}

func NewRunner(logger *slog.Logger, jobs ...Job) *Runner {
	return &Runner{jobs: jobs, logger: logger}
}

func (r *Runner) Start(ctx context.Context) {
	var wg sync.WaitGroup

	for _, j := range r.jobs {
		wg.Add(1)
		go func(j Job) {
			defer wg.Done()
			r.loop(ctx, j)
		}(j)
	}

	wg.Wait()
}

func (r *Runner) loop(ctx context.Context, j Job) {
	r.run(ctx, j)

	t := time.NewTicker(j.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.run(ctx, j)
		}
	}
}

func (r *Runner) run(ctx context.Context, j Job) {
	start := time.Now()

	if err := j.Run(ctx); err != nil {
		r.logger.ErrorContext(ctx, "maintenance.job_failed",
			"job", j.Name, "error", err, "duration_ms", time.Since(start).Milliseconds())
		return
	}
	r.logger.InfoContext(ctx, "maintenance.job_done",
		"job", j.Name, "duration_ms", time.Since(start).Milliseconds())
}

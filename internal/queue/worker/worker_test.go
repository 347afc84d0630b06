package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/andresmv/credithub/internal/domain/failedjob"
	"github.com/andresmv/credithub/internal/processing"
	"github.com/andresmv/credithub/internal/queue"
)

type fakePending struct {
	processing []int64
	completed  []int64
	failed     []int64
	retries    []int64
}

func (f *fakePending) MarkProcessing(ctx context.Context, id int64) error {
	f.processing = append(f.processing, id)
	return nil
}

func (f *fakePending) MarkCompleted(ctx context.Context, id int64) error {
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakePending) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakePending) IncrementRetry(ctx context.Context, id int64, errMsg string) error {
	f.retries = append(f.retries, id)
	return nil
}

func (f *fakePending) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}

type fakeFailed struct {
	inserted []failedjob.FailedJob
}

func (f *fakeFailed) Insert(ctx context.Context, job failedjob.FailedJob) error {
	f.inserted = append(f.inserted, job)
	return nil
}

type stubSource struct{}

func (stubSource) Next(ctx context.Context, timeout time.Duration) (queue.Envelope, error) {
	return queue.Envelope{}, queue.ErrNoTask
}

func testEnvelope() queue.Envelope {
	return queue.Envelope{
		ID:           "env-1",
		TaskName:     "process_credit_application",
		Args:         []string{"6f1e1c9e-8f2a-4b77-9a93-0a6a0c5a1234"},
		PendingJobID: 7,
	}
}

func newTestWorker(task TaskFunc, pending *fakePending, failed *fakeFailed, maxRetries int) *Worker {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(Config{
		WorkerID:    "test-1",
		Concurrency: 1,
		MaxRetries:  maxRetries,
		TaskTimeout: time.Second,
	}, stubSource{}, task, pending, failed, nil, logger)
}

func TestExecuteSuccess(t *testing.T) {
	pending := &fakePending{}
	failed := &fakeFailed{}

	w := newTestWorker(func(ctx context.Context, env queue.Envelope) error {
		return nil
	}, pending, failed, 3)

	result := w.execute(context.Background(), testEnvelope())
	if result != "done" {
		t.Fatalf("result = %q, want done", result)
	}
	if len(pending.processing) != 1 || pending.processing[0] != 7 {
		t.Fatalf("MarkProcessing calls = %v", pending.processing)
	}
	if len(pending.completed) != 1 || pending.completed[0] != 7 {
		t.Fatalf("MarkCompleted calls = %v", pending.completed)
	}
	if len(failed.inserted) != 0 {
		t.Fatalf("unexpected dead letters: %v", failed.inserted)
	}
}

func TestExecuteTransientErrorRetriesThenDeadLetters(t *testing.T) {
	pending := &fakePending{}
	failed := &fakeFailed{}

	calls := 0
	w := newTestWorker(func(ctx context.Context, env queue.Envelope) error {
		calls++
		return fmt.Errorf("fetch: %w", errors.New("connection refused"))
	}, pending, failed, 2)

	// MaxRetries=2 means one initial attempt plus two retries.
	result := w.execute(context.Background(), testEnvelope())
	if result != "dead_lettered" {
		t.Fatalf("result = %q, want dead_lettered", result)
	}
	if calls != 3 {
		t.Fatalf("task ran %d times, want 3", calls)
	}
	if len(pending.retries) != 2 {
		t.Fatalf("IncrementRetry calls = %d, want 2", len(pending.retries))
	}
	if len(pending.failed) != 1 {
		t.Fatalf("MarkFailed calls = %d, want 1", len(pending.failed))
	}

	if len(failed.inserted) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(failed.inserted))
	}
	dl := failed.inserted[0]
	if dl.PendingJobID != 7 {
		t.Errorf("dead letter pending_job_id = %d", dl.PendingJobID)
	}
	if dl.ErrorKind != string(processing.KindConnection) {
		t.Errorf("dead letter kind = %s, want %s", dl.ErrorKind, processing.KindConnection)
	}
	if !dl.IsRetryable {
		t.Error("connection errors should be recorded as retryable")
	}
	if dl.RetryCount != 2 {
		t.Errorf("dead letter retry count = %d, want 2 retries after the first attempt", dl.RetryCount)
	}
	if dl.MaxRetries != 2 {
		t.Errorf("dead letter max_retries = %d, want 2", dl.MaxRetries)
	}
	if dl.ErrorTraceback == nil || *dl.ErrorTraceback == "" {
		t.Error("dead letter must carry a stack trace")
	}
}

func TestExecutePermanentErrorSkipsRetries(t *testing.T) {
	pending := &fakePending{}
	failed := &fakeFailed{}

	calls := 0
	w := newTestWorker(func(ctx context.Context, env queue.Envelope) error {
		calls++
		return fmt.Errorf("strategy: %w", processing.ErrDocumentValidation)
	}, pending, failed, 3)

	result := w.execute(context.Background(), testEnvelope())
	if result != "dead_lettered" {
		t.Fatalf("result = %q, want dead_lettered", result)
	}
	if calls != 1 {
		t.Fatalf("permanent failure ran %d times, want 1", calls)
	}
	if len(pending.retries) != 0 {
		t.Fatalf("IncrementRetry calls = %d, want 0", len(pending.retries))
	}

	if len(failed.inserted) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(failed.inserted))
	}
	dl := failed.inserted[0]
	if dl.ErrorKind != string(processing.KindValidation) {
		t.Errorf("dead letter kind = %s", dl.ErrorKind)
	}
	if dl.IsRetryable {
		t.Error("validation failures are permanent")
	}
	if dl.RetryCount != 0 {
		t.Errorf("dead letter retry count = %d, want 0 for a first-attempt permanent failure", dl.RetryCount)
	}
}

func TestExponentialBackoff(t *testing.T) {
	for attempt, base := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		d := ExponentialBackoff(attempt)
		if d < base || d >= base+250*time.Millisecond {
			t.Errorf("attempt %d: delay = %s, want %s plus up to 250ms jitter", attempt, d, base)
		}
	}

	if d := ExponentialBackoff(20); d > time.Minute+250*time.Millisecond {
		t.Errorf("delay = %s, want capped near one minute", d)
	}
}

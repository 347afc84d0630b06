package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/andresmv/credithub/internal/domain/failedjob"
)

type fakePartitions struct {
	rows    int64
	ensured []time.Time
}

func (f *fakePartitions) CountRows(ctx context.Context, table string) (int64, error) {
	return f.rows, nil
}

func (f *fakePartitions) EnsureMonthly(ctx context.Context, t time.Time) (string, error) {
	f.ensured = append(f.ensured, t)
	return "audit_logs_" + t.Format("2006_01"), nil
}

type fakeWebhookCleanup struct {
	deleted int64
	cutoffs []time.Time
}

func (f *fakeWebhookCleanup) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.deleted, nil
}

type fakeDLQ struct {
	batch   []failedjob.FailedJob
	retried []int64
	markErr error
}

func (f *fakeDLQ) ListPendingRetryable(ctx context.Context, limit int) ([]failedjob.FailedJob, error) {
	if limit < len(f.batch) {
		return f.batch[:limit], nil
	}
	return f.batch, nil
}

func (f *fakeDLQ) MarkRetried(ctx context.Context, id int64) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.retried = append(f.retried, id)
	return nil
}

type fakeRedrive struct {
	inserted []string
	kwargs   []json.RawMessage
	err      error
}

func (f *fakeRedrive) InsertRedrive(ctx context.Context, taskName string, args, kwargs json.RawMessage) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.inserted = append(f.inserted, taskName)
	f.kwargs = append(f.kwargs, kwargs)
	return int64(len(f.inserted)), nil
}

type fakeStaleApps struct {
	cancelled int64
	ttls      []time.Duration
}

func (f *fakeStaleApps) CancelStalePending(ctx context.Context, ttl time.Duration) (int64, error) {
	f.ttls = append(f.ttls, ttl)
	return f.cancelled, nil
}

func newMaintenance(cfg Config, p *fakePartitions, w *fakeWebhookCleanup, d *fakeDLQ, r *fakeRedrive, a *fakeStaleApps) *Maintenance {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, p, w, d, r, a, logger)
}

func TestEnsurePartitionsRunsRegardlessOfRowCount(t *testing.T) {
	// An empty table still needs its month partitions: once the default
	// partition collects current-month rows, carving the range out gets
	// harder, so assurance never waits on table growth.
	p := &fakePartitions{rows: 0}
	m := newMaintenance(Config{PartitionThreshold: 1000, PartitionMonthsAhead: 3}, p, &fakeWebhookCleanup{}, &fakeDLQ{}, &fakeRedrive{}, &fakeStaleApps{})

	if err := m.EnsurePartitions(context.Background()); err != nil {
		t.Fatalf("EnsurePartitions: %v", err)
	}
	// current month plus three ahead
	if len(p.ensured) != 4 {
		t.Fatalf("partitions ensured = %d, want 4", len(p.ensured))
	}
}

func TestEnsurePartitionsCreatesMonthsAhead(t *testing.T) {
	p := &fakePartitions{rows: 5000}
	m := newMaintenance(Config{PartitionThreshold: 1000, PartitionMonthsAhead: 3}, p, &fakeWebhookCleanup{}, &fakeDLQ{}, &fakeRedrive{}, &fakeStaleApps{})

	if err := m.EnsurePartitions(context.Background()); err != nil {
		t.Fatalf("EnsurePartitions: %v", err)
	}
	// current month plus three ahead
	if len(p.ensured) != 4 {
		t.Fatalf("partitions ensured = %d, want 4", len(p.ensured))
	}
}

func TestCleanupWebhookEventsUsesRetention(t *testing.T) {
	w := &fakeWebhookCleanup{deleted: 12}
	m := newMaintenance(Config{WebhookRetentionDays: 30}, &fakePartitions{}, w, &fakeDLQ{}, &fakeRedrive{}, &fakeStaleApps{})

	if err := m.CleanupWebhookEvents(context.Background()); err != nil {
		t.Fatalf("CleanupWebhookEvents: %v", err)
	}
	if len(w.cutoffs) != 1 {
		t.Fatalf("DeleteOlderThan calls = %d, want 1", len(w.cutoffs))
	}

	wantCutoff := time.Now().UTC().AddDate(0, 0, -30)
	if diff := wantCutoff.Sub(w.cutoffs[0]); diff < -time.Minute || diff > time.Minute {
		t.Fatalf("cutoff = %v, want about %v", w.cutoffs[0], wantCutoff)
	}
}

func TestRetryDeadLettersRedrivesAndMarks(t *testing.T) {
	args := json.RawMessage(`{"application_id":"app-1"}`)
	kwargs := json.RawMessage(`{"priority":"high"}`)
	d := &fakeDLQ{batch: []failedjob.FailedJob{
		{ID: 1, TaskName: "process_credit_application", JobArgs: args, JobKwargs: kwargs},
		{ID: 2, TaskName: "process_credit_application", JobArgs: args},
	}}
	r := &fakeRedrive{}
	m := newMaintenance(Config{}, &fakePartitions{}, &fakeWebhookCleanup{}, d, r, &fakeStaleApps{})

	if err := m.RetryDeadLetters(context.Background()); err != nil {
		t.Fatalf("RetryDeadLetters: %v", err)
	}
	if len(r.inserted) != 2 {
		t.Fatalf("redrives = %d, want 2", len(r.inserted))
	}
	if len(d.retried) != 2 || d.retried[0] != 1 || d.retried[1] != 2 {
		t.Fatalf("marked retried = %v", d.retried)
	}
	if string(r.kwargs[0]) != string(kwargs) {
		t.Fatalf("redrive kwargs = %s, want the dead letter's kwargs", r.kwargs[0])
	}
}

func TestRetryDeadLettersSkipsFailedRedrive(t *testing.T) {
	d := &fakeDLQ{batch: []failedjob.FailedJob{{ID: 1, TaskName: "process_credit_application"}}}
	r := &fakeRedrive{err: errors.New("insert failed")}
	m := newMaintenance(Config{}, &fakePartitions{}, &fakeWebhookCleanup{}, d, r, &fakeStaleApps{})

	if err := m.RetryDeadLetters(context.Background()); err != nil {
		t.Fatalf("RetryDeadLetters: %v", err)
	}
	if len(d.retried) != 0 {
		t.Fatal("a failed redrive must leave the dead letter pending")
	}
}

func TestStalePendingJobOnlyWhenConfigured(t *testing.T) {
	m := newMaintenance(Config{}, &fakePartitions{}, &fakeWebhookCleanup{}, &fakeDLQ{}, &fakeRedrive{}, &fakeStaleApps{})
	for _, j := range m.Jobs() {
		if j.Name == "stale_pending_cancel" {
			t.Fatal("stale pending job scheduled without a TTL")
		}
	}

	m = newMaintenance(Config{StalePendingTTL: 24 * time.Hour}, &fakePartitions{}, &fakeWebhookCleanup{}, &fakeDLQ{}, &fakeRedrive{}, &fakeStaleApps{})
	found := false
	for _, j := range m.Jobs() {
		if j.Name == "stale_pending_cancel" {
			found = true
		}
	}
	if !found {
		t.Fatal("stale pending job missing despite a configured TTL")
	}
}

func TestCancelStalePendingPassesTTL(t *testing.T) {
	a := &fakeStaleApps{cancelled: 3}
	m := newMaintenance(Config{StalePendingTTL: 48 * time.Hour}, &fakePartitions{}, &fakeWebhookCleanup{}, &fakeDLQ{}, &fakeRedrive{}, a)

	if err := m.CancelStalePending(context.Background()); err != nil {
		t.Fatalf("CancelStalePending: %v", err)
	}
	if len(a.ttls) != 1 || a.ttls[0] != 48*time.Hour {
		t.Fatalf("ttls = %v", a.ttls)
	}
}

package maintenance

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/andresmv/credithub/internal/domain/failedjob"
)

type Partitions interface {
	CountRows(ctx context.Context, table string) (int64, error)
	EnsureMonthly(ctx context.Context, t time.Time) (string, error)
}

type WebhookEvents interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type FailedJobs interface {
	ListPendingRetryable(ctx context.Context, limit int) ([]failedjob.FailedJob, error)
	MarkRetried(ctx context.Context, id int64) error
}

type PendingJobs interface {
	InsertRedrive(ctx context.Context, taskName string, args, kwargs json.RawMessage) (int64, error)
}

type Applications interface {
	CancelStalePending(ctx context.Context, ttl time.Duration) (int64, error)
}

type Config struct {
	WebhookRetentionDays int
	PartitionThreshold   int64
	PartitionMonthsAhead int
	StalePendingTTL      time.Duration
	DLQBatchSize         int
}

type Maintenance struct {
	cfg        Config
	partitions Partitions
	webhooks   WebhookEvents
	failed     FailedJobs
	pending    PendingJobs
	apps       Applications
	logger     *slog.Logger
}

func New(cfg Config, partitions Partitions, webhooks WebhookEvents, failed FailedJobs, pending PendingJobs, apps Applications, logger *slog.Logger) *Maintenance {
	if cfg.WebhookRetentionDays <= 0 {
		cfg.WebhookRetentionDays = 30
	}
	if cfg.PartitionThreshold <= 0 {
		cfg.PartitionThreshold = 1_000_000
	}
	if cfg.PartitionMonthsAhead <= 0 {
		cfg.PartitionMonthsAhead = 3
	}
	if cfg.DLQBatchSize <= 0 {
		cfg.DLQBatchSize = 100
	}

	return &Maintenance{
		cfg:        cfg,
		partitions: partitions,
		webhooks:   webhooks,
		failed:     failed,
		pending:    pending,
		apps:       apps,
		logger:     logger,
	}
}

// Jobs wires the schedule: partitions and webhook cleanup daily, dead
// letter re-drive hourly, stale-PENDING cancellation only when configured.
func (m *Maintenance) Jobs() []Job {
	jobs := []Job{
		{Name: "partition_assurance", Interval: 24 * time.Hour, Run: m.EnsurePartitions},
		{Name: "webhook_cleanup", Interval: 24 * time.Hour, Run: m.CleanupWebhookEvents},
		{Name: "dlq_retry", Interval: time.Hour, Run: m.RetryDeadLetters},
	}
	if m.cfg.StalePendingTTL > 0 {
		jobs = append(jobs, Job{Name: "stale_pending_cancel", Interval: time.Hour, Run: m.CancelStalePending})
	}
	return jobs
}

// EnsurePartitions pre-creates the next months of audit partitions. This
// runs unconditionally: waiting until audit_logs is big would leave the
// current month's rows stuck in the default partition, and the range
// creation would then collide with them. The row-count threshold only
// flags applications growth for an operator to act on.
func (m *Maintenance) EnsurePartitions(ctx context.Context) error {
	now := time.Now().UTC()
	for i := 0; i <= m.cfg.PartitionMonthsAhead; i++ {
		name, err := m.partitions.EnsureMonthly(ctx, now.AddDate(0, i, 0))
		if err != nil {
			return err
		}
		m.logger.InfoContext(ctx, "maintenance.partition_ensured", "partition", name)
	}

	n, err := m.partitions.CountRows(ctx, "applications")
	if err != nil {
		return err
	}
	if n >= m.cfg.PartitionThreshold {
		m.logger.WarnContext(ctx, "maintenance.applications_table_large",
			"rows", n, "threshold", m.cfg.PartitionThreshold)
	}
	return nil
}

func (m *Maintenance) CleanupWebhookEvents(ctx context.Context) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -m.cfg.WebhookRetentionDays)

	n, err := m.webhooks.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		m.logger.InfoContext(ctx, "maintenance.webhook_events_deleted", "count", n, "cutoff", cutoff)
	}
	return nil
}

// RetryDeadLetters re-drives retryable dead letters by inserting a fresh
// pending_jobs row; the original failed_jobs row is marked retried so one
// dead letter produces at most one re-drive.
func (m *Maintenance) RetryDeadLetters(ctx context.Context) error {
	batch, err := m.failed.ListPendingRetryable(ctx, m.cfg.DLQBatchSize)
	if err != nil {
		return err
	}

	for _, f := range batch {
		if _, err := m.pending.InsertRedrive(ctx, f.TaskName, f.JobArgs, f.JobKwargs); err != nil {
			m.logger.ErrorContext(ctx, "maintenance.dlq_redrive_failed",
				"failed_job_id", f.ID, "error", err)
			continue
		}
		if err := m.failed.MarkRetried(ctx, f.ID); err != nil {
			m.logger.ErrorContext(ctx, "maintenance.dlq_mark_retried_failed",
				"failed_job_id", f.ID, "error", err)
		}
	}

	if len(batch) > 0 {
		m.logger.InfoContext(ctx, "maintenance.dlq_retried", "count", len(batch))
	}
	return nil
}

func (m *Maintenance) CancelStalePending(ctx context.Context) error {
	n, err := m.apps.CancelStalePending(ctx, m.cfg.StalePendingTTL)
	if err != nil {
		return err
	}
	if n > 0 {
		m.logger.InfoContext(ctx, "maintenance.stale_pending_cancelled", "count", n)
	}
	return nil
}

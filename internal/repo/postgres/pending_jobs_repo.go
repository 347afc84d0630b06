package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/andresmv/credithub/internal/domain/pendingjob"
	"github.com/andresmv/credithub/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PendingJobsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewPendingJobsRepo(pool *pgxpool.Pool, prom *observability.Prom) *PendingJobsRepo {
	return &PendingJobsRepo{pool: pool, prom: prom}
}

func (r *PendingJobsRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

const pendingJobColumns = `
	id, task_name, job_args, job_kwargs, status, retry_count, max_retries,
	error_message, queue_handle, created_at, updated_at, enqueued_at, processed_at`

func scanPendingJob(row pgx.Row) (pendingjob.PendingJob, error) {
	var j pendingjob.PendingJob
	var status string

	err := row.Scan(
		&j.ID, &j.TaskName, &j.JobArgs, &j.JobKwargs, &status, &j.RetryCount, &j.MaxRetries,
		&j.ErrorMessage, &j.QueueHandle, &j.CreatedAt, &j.UpdatedAt, &j.EnqueuedAt, &j.ProcessedAt,
	)
	if err != nil {
		return pendingjob.PendingJob{}, err
	}
	j.Status = pendingjob.Status(status)
	return j, nil
}

// BridgeBatch claims up to limit pending rows with SKIP LOCKED, hands each
// to enqueue, and marks the enqueued ones, all in one transaction. Rows
// whose enqueue fails stay pending and are retried next tick; a crash
// between push and commit re-delivers, which the worker tolerates.
func (r *PendingJobsRepo) BridgeBatch(
	ctx context.Context,
	limit int,
	enqueue func(ctx context.Context, j pendingjob.PendingJob) (handle string, err error),
) (claimed int, pushed int, err error) {
	op := "pending_jobs.bridge_batch"

	err = r.observe(op, func() error {
		return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
			rows, qerr := tx.Query(ctx, `
				SELECT `+pendingJobColumns+`
				FROM pending_jobs
				WHERE status = 'pending'
				ORDER BY created_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $1
			`, limit)
			if qerr != nil {
				return qerr
			}

			var batch []pendingjob.PendingJob
			for rows.Next() {
				j, scanErr := scanPendingJob(rows)
				if scanErr != nil {
					rows.Close()
					return scanErr
				}
				batch = append(batch, j)
			}
			rows.Close()
			if rows.Err() != nil {
				return rows.Err()
			}

			claimed = len(batch)

			for _, j := range batch {
				handle, pushErr := enqueue(ctx, j)
				if pushErr != nil {
					// Leave the row pending; the next tick retries it.
					continue
				}
				if _, execErr := tx.Exec(ctx, `
					UPDATE pending_jobs
					SET status = 'enqueued', queue_handle = $2, enqueued_at = NOW()
					WHERE id = $1
				`, j.ID, handle); execErr != nil {
					return execErr
				}
				pushed++
			}
			return nil
		})
	})

	return claimed, pushed, err
}

func (r *PendingJobsRepo) GetByID(ctx context.Context, id int64) (pendingjob.PendingJob, error) {
	var j pendingjob.PendingJob
	var err error

	op := "pending_jobs.get_by_id"

	err = r.observe(op, func() error {
		var scanErr error
		j, scanErr = scanPendingJob(r.pool.QueryRow(ctx,
			`SELECT `+pendingJobColumns+` FROM pending_jobs WHERE id = $1`, id))
		return scanErr
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pendingjob.PendingJob{}, pendingjob.ErrNotFound
		}
		return pendingjob.PendingJob{}, err
	}
	return j, nil
}

func (r *PendingJobsRepo) MarkProcessing(ctx context.Context, id int64) error {
	return r.mark(ctx, "pending_jobs.mark_processing", `
		UPDATE pending_jobs
		SET status = 'processing'
		WHERE id = $1
	`, id)
}

func (r *PendingJobsRepo) MarkCompleted(ctx context.Context, id int64) error {
	return r.mark(ctx, "pending_jobs.mark_completed", `
		UPDATE pending_jobs
		SET status = 'completed', processed_at = NOW(), error_message = NULL
		WHERE id = $1
	`, id)
}

func (r *PendingJobsRepo) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	return r.mark(ctx, "pending_jobs.mark_failed", `
		UPDATE pending_jobs
		SET status = 'failed', processed_at = NOW(), error_message = $2
		WHERE id = $1
	`, id, errMsg)
}

func (r *PendingJobsRepo) IncrementRetry(ctx context.Context, id int64, errMsg string) error {
	return r.mark(ctx, "pending_jobs.increment_retry", `
		UPDATE pending_jobs
		SET retry_count = retry_count + 1, error_message = $2
		WHERE id = $1
	`, id, errMsg)
}

func (r *PendingJobsRepo) mark(ctx context.Context, op, sql string, args ...any) error {
	return r.observe(op, func() error {
		tag, err := r.pool.Exec(ctx, sql, args...)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pendingjob.ErrNotFound
		}
		return nil
	})
}

// RequeueStale flips enqueued/processing rows older than olderThan back to
// pending so a crashed worker or a lost queue entry cannot strand work.
func (r *PendingJobsRepo) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	secs := int64(olderThan.Seconds())
	if secs <= 0 {
		secs = 30
	}
	var rows int64

	op := "pending_jobs.requeue_stale"
	err := r.observe(op, func() error {
		tag, err := r.pool.Exec(ctx, `
			UPDATE pending_jobs
			SET status = 'pending', queue_handle = NULL, enqueued_at = NULL
			WHERE status IN ('enqueued','processing')
			  AND COALESCE(enqueued_at, created_at) < NOW() - ($1 * INTERVAL '1 second')
		`, secs)

		if err != nil {
			return err
		}
		rows = tag.RowsAffected()
		return nil
	})

	return rows, err
}

// InsertRedrive creates a fresh pending row for a dead-lettered task.
func (r *PendingJobsRepo) InsertRedrive(ctx context.Context, taskName string, args, kwargs json.RawMessage) (int64, error) {
	var id int64

	if len(kwargs) == 0 {
		kwargs = json.RawMessage(`{}`)
	}

	op := "pending_jobs.insert_redrive"
	err := r.observe(op, func() error {
		return r.pool.QueryRow(ctx, `
			INSERT INTO pending_jobs (task_name, job_args, job_kwargs)
			VALUES ($1, $2, $3)
			RETURNING id
		`, taskName, args, kwargs).Scan(&id)
	})

	return id, err
}

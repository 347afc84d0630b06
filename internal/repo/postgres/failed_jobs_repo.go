package postgres

import (
	"context"
	"errors"

	"github.com/andresmv/credithub/internal/domain/failedjob"
	"github.com/andresmv/credithub/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrJobNotRetryable = errors.New("failed job is not retryable")

type FailedJobsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewFailedJobsRepo(pool *pgxpool.Pool, prom *observability.Prom) *FailedJobsRepo {
	return &FailedJobsRepo{pool: pool, prom: prom}
}

func (r *FailedJobsRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

const failedJobColumns = `
	id, pending_job_id, task_name, job_args, job_kwargs, error_kind, error_message,
	error_traceback, retry_count, max_retries, is_retryable, status,
	failed_at, retried_at, updated_at`

func scanFailedJob(row pgx.Row) (failedjob.FailedJob, error) {
	var f failedjob.FailedJob
	var status string

	err := row.Scan(
		&f.ID, &f.PendingJobID, &f.TaskName, &f.JobArgs, &f.JobKwargs, &f.ErrorKind, &f.ErrorMessage,
		&f.ErrorTraceback, &f.RetryCount, &f.MaxRetries, &f.IsRetryable, &status,
		&f.FailedAt, &f.RetriedAt, &f.UpdatedAt,
	)
	if err != nil {
		return failedjob.FailedJob{}, err
	}
	f.Status = failedjob.Status(status)
	return f, nil
}

// Insert dead-letters a task. The pending_job_id unique constraint makes a
// double dead-letter of the same row a no-op.
func (r *FailedJobsRepo) Insert(ctx context.Context, f failedjob.FailedJob) error {
	op := "failed_jobs.insert"

	kwargs := f.JobKwargs
	if len(kwargs) == 0 {
		kwargs = []byte(`{}`)
	}

	err := r.observe(op, func() error {
		_, execErr := r.pool.Exec(ctx, `
			INSERT INTO failed_jobs (pending_job_id, task_name, job_args, job_kwargs,
				error_kind, error_message, error_traceback, retry_count, max_retries, is_retryable)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, f.PendingJobID, f.TaskName, f.JobArgs, kwargs,
			f.ErrorKind, f.ErrorMessage, f.ErrorTraceback, f.RetryCount, f.MaxRetries, f.IsRetryable)
		return execErr
	})

	if err != nil && IsUniqueViolation(err) {
		return nil
	}
	return err
}

func (r *FailedJobsRepo) GetByID(ctx context.Context, id int64) (failedjob.FailedJob, error) {
	var f failedjob.FailedJob
	var err error

	op := "failed_jobs.get_by_id"
	err = r.observe(op, func() error {
		var scanErr error
		f, scanErr = scanFailedJob(r.pool.QueryRow(ctx,
			`SELECT `+failedJobColumns+` FROM failed_jobs WHERE id = $1`, id))
		return scanErr
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return failedjob.FailedJob{}, failedjob.ErrNotFound
		}
		return failedjob.FailedJob{}, err
	}
	return f, nil
}

func (r *FailedJobsRepo) List(ctx context.Context, limit int) ([]failedjob.FailedJob, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var out []failedjob.FailedJob

	op := "failed_jobs.list"
	err := r.observe(op, func() error {
		rows, qerr := r.pool.Query(ctx, `
			SELECT `+failedJobColumns+`
			FROM failed_jobs
			ORDER BY failed_at DESC
			LIMIT $1
		`, limit)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()

		for rows.Next() {
			f, scanErr := scanFailedJob(rows)
			if scanErr != nil {
				return scanErr
			}
			out = append(out, f)
		}
		return rows.Err()
	})

	return out, err
}

// ListPendingRetryable feeds the hourly re-driver.
func (r *FailedJobsRepo) ListPendingRetryable(ctx context.Context, limit int) ([]failedjob.FailedJob, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var out []failedjob.FailedJob

	op := "failed_jobs.list_pending_retryable"
	err := r.observe(op, func() error {
		rows, qerr := r.pool.Query(ctx, `
			SELECT `+failedJobColumns+`
			FROM failed_jobs
			WHERE status = 'pending' AND is_retryable
			ORDER BY failed_at ASC
			LIMIT $1
		`, limit)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()

		for rows.Next() {
			f, scanErr := scanFailedJob(rows)
			if scanErr != nil {
				return scanErr
			}
			out = append(out, f)
		}
		return rows.Err()
	})

	return out, err
}

func (r *FailedJobsRepo) MarkRetried(ctx context.Context, id int64) error {
	return r.mark(ctx, "failed_jobs.mark_retried", `
		UPDATE failed_jobs
		SET status = 'retried', retried_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id)
}

func (r *FailedJobsRepo) MarkReviewed(ctx context.Context, id int64) error {
	return r.mark(ctx, "failed_jobs.mark_reviewed", `
		UPDATE failed_jobs
		SET status = 'reviewed'
		WHERE id = $1 AND status = 'pending'
	`, id)
}

func (r *FailedJobsRepo) mark(ctx context.Context, op, sql string, args ...any) error {
	return r.observe(op, func() error {
		tag, err := r.pool.Exec(ctx, sql, args...)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return failedjob.ErrNotFound
		}
		return nil
	})
}

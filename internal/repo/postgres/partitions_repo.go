package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/andresmv/credithub/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PartitionsRepo manages the monthly range partitions of audit_logs.
// Rows that predate their partition land in audit_logs_default.
type PartitionsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewPartitionsRepo(pool *pgxpool.Pool, prom *observability.Prom) *PartitionsRepo {
	return &PartitionsRepo{pool: pool, prom: prom}
}

func (r *PartitionsRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func (r *PartitionsRepo) CountRows(ctx context.Context, table string) (int64, error) {
	switch table {
	case "applications", "audit_logs", "webhook_events":
	default:
		return 0, fmt.Errorf("unknown table %q", table)
	}

	var n int64
	err := r.observe("partitions.count_rows", func() error {
		return r.pool.QueryRow(ctx, `SELECT count(*) FROM `+table).Scan(&n)
	})
	return n, err
}

// EnsureMonthly creates the audit_logs partition covering the month of t.
// Rows for that month may already sit in audit_logs_default, and creating a
// range that overlaps default-partition rows fails outright. So the default
// is detached, the month carved out, its rows moved over, and the default
// re-attached, all in one transaction.
func (r *PartitionsRepo) EnsureMonthly(ctx context.Context, t time.Time) (string, error) {
	from := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	name := fmt.Sprintf("audit_logs_y%04dm%02d", from.Year(), int(from.Month()))

	err := r.observe("partitions.ensure_monthly", func() error {
		return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
			var exists bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM pg_class WHERE relname = $1)`, name).Scan(&exists); err != nil {
				return err
			}
			if exists {
				return nil
			}

			if _, err := tx.Exec(ctx,
				`ALTER TABLE audit_logs DETACH PARTITION audit_logs_default`); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, fmt.Sprintf(
				`CREATE TABLE %s PARTITION OF audit_logs FOR VALUES FROM ('%s') TO ('%s')`,
				name, from.Format("2006-01-02"), to.Format("2006-01-02"))); err != nil {
				return err
			}
			// The id column is an identity column, hence OVERRIDING SYSTEM
			// VALUE when copying rows across.
			if _, err := tx.Exec(ctx, fmt.Sprintf(
				`INSERT INTO %s OVERRIDING SYSTEM VALUE
				 SELECT * FROM audit_logs_default WHERE created_at >= $1 AND created_at < $2`, name),
				from, to); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx,
				`DELETE FROM audit_logs_default WHERE created_at >= $1 AND created_at < $2`,
				from, to); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx,
				`ALTER TABLE audit_logs ATTACH PARTITION audit_logs_default DEFAULT`); err != nil {
				return err
			}
			return nil
		})
	})
	if err != nil {
		return "", err
	}
	return name, nil
}

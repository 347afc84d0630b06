package postgres

import (
	"context"

	"github.com/andresmv/credithub/internal/domain/audit"
	"github.com/andresmv/credithub/internal/observability"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AuditLogsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewAuditLogsRepo(pool *pgxpool.Pool, prom *observability.Prom) *AuditLogsRepo {
	return &AuditLogsRepo{pool: pool, prom: prom}
}

func (r *AuditLogsRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func (r *AuditLogsRepo) ListByApplication(ctx context.Context, applicationID string) ([]audit.Log, error) {
	var out []audit.Log

	op := "audit_logs.list_by_application"
	err := r.observe(op, func() error {
		rows, qerr := r.pool.Query(ctx, `
			SELECT id, application_id, previous_status, new_status,
			       changed_by, change_reason, metadata, created_at
			FROM audit_logs
			WHERE application_id = $1
			ORDER BY created_at ASC, id ASC
		`, applicationID)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()

		for rows.Next() {
			var l audit.Log
			if scanErr := rows.Scan(
				&l.ID, &l.ApplicationID, &l.PreviousStatus, &l.NewStatus,
				&l.ChangedBy, &l.ChangeReason, &l.Metadata, &l.CreatedAt,
			); scanErr != nil {
				return scanErr
			}
			out = append(out, l)
		}
		return rows.Err()
	})

	return out, err
}

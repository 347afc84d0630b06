package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andresmv/credithub/internal/domain/application"
	"github.com/andresmv/credithub/internal/observability"
	"github.com/andresmv/credithub/internal/security"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type ApplicationsRepo struct {
	pool   *pgxpool.Pool
	cipher *security.Cipher
	prom   *observability.Prom
}

func NewApplicationsRepo(pool *pgxpool.Pool, cipher *security.Cipher, prom *observability.Prom) *ApplicationsRepo {
	return &ApplicationsRepo{pool: pool, cipher: cipher, prom: prom}
}

func (r *ApplicationsRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError

	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return false
}

// Create inserts the application; the enqueue trigger writes the
// pending_jobs row inside the same transaction, so a committed application
// always has its work intent on disk.
func (r *ApplicationsRepo) Create(ctx context.Context, app application.Application, idempotencyKey *string) error {
	nameEnc, err := r.cipher.Encrypt(app.FullName)
	if err != nil {
		return fmt.Errorf("encrypt full_name: %w", err)
	}
	docEnc, err := r.cipher.Encrypt(app.IdentityDocument)
	if err != nil {
		return fmt.Errorf("encrypt identity_document: %w", err)
	}
	fingerprint := r.cipher.Fingerprint(string(app.Country) + ":" + app.IdentityDocument)

	op := "applications.create"

	err = r.observe(op, func() error {
		_, execErr := r.pool.Exec(ctx, `INSERT INTO applications(
			id, country, full_name_enc, identity_document_enc, document_fingerprint,
			email, requested_amount, currency, monthly_income,
			status, country_specific_data, idempotency_key, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
			app.ID, string(app.Country), nameEnc, docEnc, fingerprint,
			app.Email, app.RequestedAmount, app.Currency, app.MonthlyIncome,
			string(app.Status), app.CountrySpecificData, idempotencyKey, app.CreatedAt, app.UpdatedAt,
		)
		return execErr
	})

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			switch pgErr.ConstraintName {
			case "uq_applications_idempotency_key":
				return application.ErrIdempotencyConflict
			case "uq_applications_active_document":
				return application.ErrDuplicateActive
			}
			return application.ErrDuplicateActive
		}
		return err
	}
	return nil
}

const applicationColumns = `
	id, country, full_name_enc, identity_document_enc, email,
	requested_amount, currency, monthly_income, status,
	risk_score, country_specific_data, banking_data, validation_errors,
	idempotency_key, created_at, updated_at, deleted_at`

func (r *ApplicationsRepo) scanOne(row pgx.Row) (application.Application, error) {
	var (
		app      application.Application
		country  string
		status   string
		nameEnc  []byte
		docEnc   []byte
	)

	err := row.Scan(
		&app.ID, &country, &nameEnc, &docEnc, &app.Email,
		&app.RequestedAmount, &app.Currency, &app.MonthlyIncome, &status,
		&app.RiskScore, &app.CountrySpecificData, &app.BankingData, &app.ValidationErrors,
		&app.IdempotencyKey, &app.CreatedAt, &app.UpdatedAt, &app.DeletedAt,
	)
	if err != nil {
		return application.Application{}, err
	}

	app.Country = application.Country(country)
	app.Status = application.Status(status)
	app.Currency = strings.TrimSpace(app.Currency)

	if app.FullName, err = r.cipher.Decrypt(nameEnc); err != nil {
		return application.Application{}, fmt.Errorf("decrypt full_name: %w", err)
	}
	if app.IdentityDocument, err = r.cipher.Decrypt(docEnc); err != nil {
		return application.Application{}, fmt.Errorf("decrypt identity_document: %w", err)
	}
	return app, nil
}

func (r *ApplicationsRepo) GetByID(ctx context.Context, id string) (application.Application, error) {
	var app application.Application
	var err error

	op := "applications.get_by_id"

	err = r.observe(op, func() error {
		var scanErr error
		app, scanErr = r.scanOne(r.pool.QueryRow(ctx,
			`SELECT `+applicationColumns+` FROM applications WHERE id = $1 AND deleted_at IS NULL`, id))
		return scanErr
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return application.Application{}, application.ErrNotFound
		}
		return application.Application{}, err
	}
	return app, nil
}

func (r *ApplicationsRepo) GetByIdempotencyKey(ctx context.Context, key string) (application.Application, error) {
	var app application.Application
	var err error

	op := "applications.get_by_idempotency_key"

	err = r.observe(op, func() error {
		var scanErr error
		app, scanErr = r.scanOne(r.pool.QueryRow(ctx,
			`SELECT `+applicationColumns+` FROM applications WHERE idempotency_key = $1 AND deleted_at IS NULL`, key))
		return scanErr
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return application.Application{}, application.ErrNotFound
		}
		return application.Application{}, err
	}
	return app, nil
}

// setAttribution makes changed_by/change_reason visible to the audit
// trigger for the remainder of the transaction.
func setAttribution(ctx context.Context, tx pgx.Tx, changedBy, reason string) error {
	_, err := tx.Exec(ctx,
		`SELECT set_config('app.changed_by', $1, true), set_config('app.change_reason', $2, true)`,
		changedBy, reason)
	return err
}

// UpdateStatus moves an application from one exact status to another. The
// expected-status guard makes concurrent movers lose cleanly instead of
// double-transitioning; callers see ErrStaleStatus and re-read.
func (r *ApplicationsRepo) UpdateStatus(ctx context.Context, id string, change application.StatusChange) error {
	if err := application.ValidateTransition(change.From, change.To); err != nil {
		return err
	}

	op := "applications.update_status"

	return r.observe(op, func() error {
		return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
			if err := setAttribution(ctx, tx, change.ChangedBy, change.Reason); err != nil {
				return err
			}

			tag, err := tx.Exec(ctx, `
				UPDATE applications
				SET status = $3
				WHERE id = $1 AND status = $2
			`, id, string(change.From), string(change.To))
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return application.ErrStaleStatus
			}
			return nil
		})
	})
}

// ConfirmStatus applies a provider-confirmed transition. A confirmation
// that carries a fresh banking snapshot replaces the stored one; a nil
// snapshot leaves it untouched.
func (r *ApplicationsRepo) ConfirmStatus(ctx context.Context, id string, change application.StatusChange, bankingData json.RawMessage) error {
	if err := application.ValidateTransition(change.From, change.To); err != nil {
		return err
	}

	op := "applications.confirm_status"

	return r.observe(op, func() error {
		return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
			if err := setAttribution(ctx, tx, change.ChangedBy, change.Reason); err != nil {
				return err
			}

			tag, err := tx.Exec(ctx, `
				UPDATE applications
				SET status = $3,
				    banking_data = COALESCE($4, banking_data)
				WHERE id = $1 AND status = $2
			`, id, string(change.From), string(change.To), bankingData)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return application.ErrStaleStatus
			}
			return nil
		})
	})
}

// UpdateDecision finalizes an evaluation: status, risk score and the
// provider snapshot land in one guarded update.
func (r *ApplicationsRepo) UpdateDecision(
	ctx context.Context,
	id string,
	from application.Status,
	decision application.Decision,
	bankingData json.RawMessage,
	changedBy, reason string,
) error {
	if err := application.ValidateTransition(from, decision.Status); err != nil {
		return err
	}

	op := "applications.update_decision"

	return r.observe(op, func() error {
		return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
			if err := setAttribution(ctx, tx, changedBy, reason); err != nil {
				return err
			}

			tag, err := tx.Exec(ctx, `
				UPDATE applications
				SET status = $3,
				    risk_score = $4,
				    banking_data = $5
				WHERE id = $1 AND status = $2
			`, id, string(from), string(decision.Status), decision.RiskScore, bankingData)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return application.ErrStaleStatus
			}
			return nil
		})
	})
}

// MarkRejectedInvalid records document validation failure together with the
// reasons, so the applicant-facing API can surface them.
func (r *ApplicationsRepo) MarkRejectedInvalid(
	ctx context.Context,
	id string,
	from application.Status,
	validationErrors json.RawMessage,
	changedBy, reason string,
) error {
	if err := application.ValidateTransition(from, application.StatusRejected); err != nil {
		return err
	}

	op := "applications.mark_rejected_invalid"

	return r.observe(op, func() error {
		return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
			if err := setAttribution(ctx, tx, changedBy, reason); err != nil {
				return err
			}

			tag, err := tx.Exec(ctx, `
				UPDATE applications
				SET status = 'REJECTED',
				    validation_errors = $3
				WHERE id = $1 AND status = $2
			`, id, string(from), validationErrors)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return application.ErrStaleStatus
			}
			return nil
		})
	})
}

// CancelStalePending cancels PENDING applications untouched for longer than
// ttl. Returns how many were cancelled.
func (r *ApplicationsRepo) CancelStalePending(ctx context.Context, ttl time.Duration) (int64, error) {
	var rows int64

	op := "applications.cancel_stale_pending"

	err := r.observe(op, func() error {
		return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
			if err := setAttribution(ctx, tx, "system", "Cancelled: stale PENDING application"); err != nil {
				return err
			}
			tag, err := tx.Exec(ctx, `
				UPDATE applications
				SET status = 'CANCELLED'
				WHERE status = 'PENDING'
				  AND updated_at < NOW() - ($1 * INTERVAL '1 second')
			`, int64(ttl.Seconds()))
			if err != nil {
				return err
			}
			rows = tag.RowsAffected()
			return nil
		})
	})

	return rows, err
}

func (r *ApplicationsRepo) CountRows(ctx context.Context) (int64, error) {
	var n int64
	err := r.observe("applications.count", func() error {
		return r.pool.QueryRow(ctx, `SELECT count(*) FROM applications`).Scan(&n)
	})
	return n, err
}

// RiskScoreValue normalizes a nullable score for broadcast payloads.
func RiskScoreValue(score *decimal.Decimal) any {
	if score == nil {
		return nil
	}
	return score.StringFixed(2)
}

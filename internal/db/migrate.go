package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate applies the schema. Every statement is idempotent so each process
// can run it at boot; first one in wins, the rest no-op.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	return nil
}

var schemaStatements = []string{
	`DO $$ BEGIN
		CREATE TYPE application_status AS ENUM
			('PENDING','VALIDATING','APPROVED','REJECTED','UNDER_REVIEW','CANCELLED','COMPLETED');
	EXCEPTION WHEN duplicate_object THEN NULL; END $$`,

	`DO $$ BEGIN
		CREATE TYPE country_code AS ENUM ('ES','MX','CO','BR','PT','IT');
	EXCEPTION WHEN duplicate_object THEN NULL; END $$`,

	`CREATE TABLE IF NOT EXISTS applications (
		id UUID PRIMARY KEY,
		country country_code NOT NULL,
		full_name_enc BYTEA NOT NULL,
		identity_document_enc BYTEA NOT NULL,
		document_fingerprint BYTEA NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		requested_amount NUMERIC(12,2) NOT NULL CHECK (requested_amount > 0),
		currency CHAR(3) NOT NULL,
		monthly_income NUMERIC(12,2) NOT NULL CHECK (monthly_income >= 0),
		status application_status NOT NULL DEFAULT 'PENDING',
		risk_score NUMERIC(5,2),
		country_specific_data JSONB,
		banking_data JSONB,
		validation_errors JSONB,
		idempotency_key TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		deleted_at TIMESTAMPTZ
	)`,

	// One active application per document and country. Active means any
	// status outside the terminal CANCELLED/REJECTED/COMPLETED set, so an
	// APPROVED loan still blocks a second application for the same document.
	// The fingerprint is a keyed digest so the index works without
	// plaintext at rest.
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_applications_active_document
		ON applications (country, document_fingerprint)
		WHERE status NOT IN ('CANCELLED','REJECTED','COMPLETED') AND deleted_at IS NULL`,

	`CREATE UNIQUE INDEX IF NOT EXISTS uq_applications_idempotency_key
		ON applications (idempotency_key)
		WHERE idempotency_key IS NOT NULL`,

	`CREATE INDEX IF NOT EXISTS idx_applications_status_created
		ON applications (status, created_at)`,

	`CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGINT GENERATED ALWAYS AS IDENTITY,
		application_id UUID NOT NULL,
		previous_status TEXT,
		new_status TEXT NOT NULL,
		changed_by TEXT NOT NULL,
		change_reason TEXT NOT NULL,
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (id, created_at)
	) PARTITION BY RANGE (created_at)`,

	`CREATE TABLE IF NOT EXISTS audit_logs_default PARTITION OF audit_logs DEFAULT`,

	// Pre-create month partitions from the first boot so rows land in their
	// month instead of accumulating in the default partition, which would
	// block later CREATE PARTITION statements for overlapping ranges.
	`DO $$
	DECLARE
		m DATE;
	BEGIN
		FOR i IN 0..3 LOOP
			m := (date_trunc('month', now() AT TIME ZONE 'UTC') + (i || ' month')::interval)::date;
			EXECUTE format(
				'CREATE TABLE IF NOT EXISTS audit_logs_y%sm%s PARTITION OF audit_logs FOR VALUES FROM (%L) TO (%L)',
				to_char(m, 'YYYY'), to_char(m, 'MM'), m, (m + interval '1 month')::date
			);
		END LOOP;
	END $$`,

	`CREATE INDEX IF NOT EXISTS idx_audit_logs_application
		ON audit_logs (application_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS pending_jobs (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		task_name TEXT NOT NULL,
		job_args JSONB NOT NULL,
		job_kwargs JSONB NOT NULL DEFAULT '{}'::jsonb,
		status TEXT NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending','enqueued','processing','completed','failed')),
		retry_count INT NOT NULL DEFAULT 0,
		max_retries INT NOT NULL DEFAULT 3,
		error_message TEXT,
		queue_handle TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		enqueued_at TIMESTAMPTZ,
		processed_at TIMESTAMPTZ
	)`,

	`CREATE INDEX IF NOT EXISTS idx_pending_jobs_claim
		ON pending_jobs (created_at) WHERE status = 'pending'`,

	`CREATE TABLE IF NOT EXISTS webhook_events (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		provider TEXT NOT NULL,
		event_type TEXT NOT NULL,
		provider_reference TEXT NOT NULL,
		application_id UUID NOT NULL,
		payload JSONB NOT NULL,
		status TEXT NOT NULL DEFAULT 'processing'
			CHECK (status IN ('processing','processed','failed')),
		error_message TEXT,
		received_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		processed_at TIMESTAMPTZ
	)`,

	// provider_reference is the delivery idempotency key: retries of the
	// same confirmation insert-conflict here and are acknowledged as dupes.
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_webhook_events_reference
		ON webhook_events (provider_reference)`,

	`CREATE INDEX IF NOT EXISTS idx_webhook_events_received
		ON webhook_events (received_at)`,

	`CREATE TABLE IF NOT EXISTS failed_jobs (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		pending_job_id BIGINT NOT NULL UNIQUE,
		task_name TEXT NOT NULL,
		job_args JSONB NOT NULL,
		job_kwargs JSONB NOT NULL DEFAULT '{}'::jsonb,
		error_kind TEXT NOT NULL,
		error_message TEXT NOT NULL,
		error_traceback TEXT,
		retry_count INT NOT NULL,
		max_retries INT NOT NULL DEFAULT 3,
		is_retryable BOOLEAN NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending','retried','reviewed','reprocessed','ignored')),
		failed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		retried_at TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'admin',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE OR REPLACE FUNCTION fn_touch_updated_at() RETURNS trigger AS $$
	BEGIN
		NEW.updated_at = now();
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,

	`DROP TRIGGER IF EXISTS update_applications_updated_at ON applications`,
	`CREATE TRIGGER update_applications_updated_at
		BEFORE UPDATE ON applications
		FOR EACH ROW EXECUTE FUNCTION fn_touch_updated_at()`,

	`DROP TRIGGER IF EXISTS update_users_updated_at ON users`,
	`CREATE TRIGGER update_users_updated_at
		BEFORE UPDATE ON users
		FOR EACH ROW EXECUTE FUNCTION fn_touch_updated_at()`,

	`DROP TRIGGER IF EXISTS update_pending_jobs_updated_at ON pending_jobs`,
	`CREATE TRIGGER update_pending_jobs_updated_at
		BEFORE UPDATE ON pending_jobs
		FOR EACH ROW EXECUTE FUNCTION fn_touch_updated_at()`,

	`DROP TRIGGER IF EXISTS update_failed_jobs_updated_at ON failed_jobs`,
	`CREATE TRIGGER update_failed_jobs_updated_at
		BEFORE UPDATE ON failed_jobs
		FOR EACH ROW EXECUTE FUNCTION fn_touch_updated_at()`,

	// Ingestion commits the application and its work intent atomically: the
	// pending_jobs row rides the same transaction as the INSERT.
	`CREATE OR REPLACE FUNCTION fn_enqueue_application_processing() RETURNS trigger AS $$
	BEGIN
		IF NEW.status = 'PENDING' THEN
			INSERT INTO pending_jobs (task_name, job_args)
			VALUES (
				'process_credit_application',
				jsonb_build_object(
					'application_id', NEW.id,
					'country', NEW.country,
					'triggered_by', 'database_trigger',
					'triggered_at', to_char(now() AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS.US"Z"')
				)
			);
		END IF;
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,

	`DROP TRIGGER IF EXISTS trigger_enqueue_application_processing ON applications`,
	`CREATE TRIGGER trigger_enqueue_application_processing
		AFTER INSERT ON applications
		FOR EACH ROW EXECUTE FUNCTION fn_enqueue_application_processing()`,

	// Status changes are audited in the database itself so no code path can
	// skip the trail. Attribution rides transaction-local session settings.
	`CREATE OR REPLACE FUNCTION fn_audit_status_change() RETURNS trigger AS $$
	DECLARE
		actor TEXT;
		reason TEXT;
	BEGIN
		actor := COALESCE(NULLIF(current_setting('app.changed_by', true), ''), 'system');
		reason := COALESCE(NULLIF(current_setting('app.change_reason', true), ''), 'Status changed automatically');
		INSERT INTO audit_logs (application_id, previous_status, new_status, changed_by, change_reason, metadata)
		VALUES (
			NEW.id,
			OLD.status::TEXT,
			NEW.status::TEXT,
			actor,
			reason,
			jsonb_build_object(
				'previous_risk_score', OLD.risk_score,
				'new_risk_score', NEW.risk_score,
				'manual_change', actor NOT IN ('system', 'worker')
			)
		);
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,

	`DROP TRIGGER IF EXISTS audit_status_change ON applications`,
	`CREATE TRIGGER audit_status_change
		AFTER UPDATE ON applications
		FOR EACH ROW
		WHEN (OLD.status IS DISTINCT FROM NEW.status)
		EXECUTE FUNCTION fn_audit_status_change()`,
}

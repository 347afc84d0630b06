package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/andresmv/credithub/internal/domain/webhookevent"
	"github.com/andresmv/credithub/internal/observability"
	"github.com/jackc/pgx/v5/pgxpool"
)

type WebhookEventsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewWebhookEventsRepo(pool *pgxpool.Pool, prom *observability.Prom) *WebhookEventsRepo {
	return &WebhookEventsRepo{pool: pool, prom: prom}
}

func (r *WebhookEventsRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

// Insert records a delivery in 'processing' state. A duplicate
// provider_reference maps to ErrDuplicate, which the handler acknowledges
// without re-applying the event.
func (r *WebhookEventsRepo) Insert(
	ctx context.Context,
	provider, eventType, reference, applicationID string,
	payload json.RawMessage,
) (int64, error) {
	var id int64

	op := "webhook_events.insert"
	err := r.observe(op, func() error {
		return r.pool.QueryRow(ctx, `
			INSERT INTO webhook_events (provider, event_type, provider_reference, application_id, payload)
			VALUES ($1,$2,$3,$4,$5)
			RETURNING id
		`, provider, eventType, reference, applicationID, payload).Scan(&id)
	})

	if err != nil {
		if IsUniqueViolation(err) {
			return 0, webhookevent.ErrDuplicate
		}
		return 0, err
	}
	return id, nil
}

func (r *WebhookEventsRepo) MarkProcessed(ctx context.Context, id int64) error {
	return r.observe("webhook_events.mark_processed", func() error {
		tag, err := r.pool.Exec(ctx, `
			UPDATE webhook_events
			SET status = 'processed', processed_at = NOW()
			WHERE id = $1
		`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return webhookevent.ErrNotFound
		}
		return nil
	})
}

func (r *WebhookEventsRepo) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	return r.observe("webhook_events.mark_failed", func() error {
		tag, err := r.pool.Exec(ctx, `
			UPDATE webhook_events
			SET status = 'failed', processed_at = NOW(), error_message = $2
			WHERE id = $1
		`, id, errMsg)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return webhookevent.ErrNotFound
		}
		return nil
	})
}

// DeleteOlderThan trims processed history past the retention window.
func (r *WebhookEventsRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var rows int64

	op := "webhook_events.delete_older_than"
	err := r.observe(op, func() error {
		tag, err := r.pool.Exec(ctx, `
			DELETE FROM webhook_events
			WHERE received_at < $1
		`, cutoff)
		if err != nil {
			return err
		}
		rows = tag.RowsAffected()
		return nil
	})

	return rows, err
}

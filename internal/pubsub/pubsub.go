package pubsub

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/andresmv/credithub/internal/domain/application"
	"github.com/andresmv/credithub/internal/observability"
	"github.com/redis/go-redis/v9"
)

// Channel carries application status updates from workers and the API to
// every websocket-serving process.
const Channel = "credithub:ws:broadcast"

const TypeApplicationUpdate = "application_update"

type Update struct {
	Type string     `json:"type"`
	Data UpdateData `json:"data"`
}

type UpdateData struct {
	ID        string  `json:"id"`
	Status    string  `json:"status"`
	RiskScore *string `json:"risk_score"`
	UpdatedAt string  `json:"updated_at"`
}

func NewUpdate(app application.Application) Update {
	var score *string
	if app.RiskScore != nil {
		s := app.RiskScore.StringFixed(2)
		score = &s
	}
	return Update{
		Type: TypeApplicationUpdate,
		Data: UpdateData{
			ID:        app.ID,
			Status:    string(app.Status),
			RiskScore: score,
			UpdatedAt: app.UpdatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
}

// Publisher fans updates out best-effort: a redis hiccup is logged and
// dropped, it never fails the state change that triggered it.
type Publisher struct {
	rdb    *redis.Client
	logger *slog.Logger
	prom   *observability.Prom
}

func NewPublisher(rdb *redis.Client, logger *slog.Logger, prom *observability.Prom) *Publisher {
	return &Publisher{rdb: rdb, logger: logger, prom: prom}
}

func (p *Publisher) Publish(ctx context.Context, update Update) {
	b, err := json.Marshal(update)
	if err != nil {
		p.logger.ErrorContext(ctx, "pubsub.marshal_failed", "error", err)
		return
	}

	if err := p.rdb.Publish(ctx, Channel, b).Err(); err != nil {
		p.count("publish", "error")
		p.logger.WarnContext(ctx, "pubsub.publish_failed",
			"application_id", update.Data.ID, "error", err)
		return
	}
	p.count("publish", "ok")
}

func (p *Publisher) count(direction, status string) {
	if p.prom != nil {
		p.prom.PubSubMessages.WithLabelValues(direction, status).Inc()
	}
}

// Subscriber forwards channel messages to a handler, reconnecting with
// capped backoff when the subscription drops.
type Subscriber struct {
	rdb    *redis.Client
	logger *slog.Logger
	prom   *observability.Prom
}

func NewSubscriber(rdb *redis.Client, logger *slog.Logger, prom *observability.Prom) *Subscriber {
	return &Subscriber{rdb: rdb, logger: logger, prom: prom}
}

func (s *Subscriber) Run(ctx context.Context, handle func(Update)) {
	backoff := time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		err := s.consume(ctx, handle)
		if ctx.Err() != nil {
			return
		}

		s.logger.WarnContext(ctx, "pubsub.subscription_lost", "error", err, "retry_in", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}

func (s *Subscriber) consume(ctx context.Context, handle func(Update)) error {
	sub := s.rdb.Subscribe(ctx, Channel)
	defer sub.Close()

	ch := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return redis.ErrClosed
			}

			var update Update
			if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
				s.count("receive", "error")
				s.logger.WarnContext(ctx, "pubsub.bad_payload", "error", err)
				continue
			}
			s.count("receive", "ok")
			handle(update)
		}
	}
}

func (s *Subscriber) count(direction, status string) {
	if s.prom != nil {
		s.prom.PubSubMessages.WithLabelValues(direction, status).Inc()
	}
}

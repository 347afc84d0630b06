package processing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/andresmv/credithub/internal/domain/application"
	"github.com/andresmv/credithub/internal/locks"
	"github.com/andresmv/credithub/internal/providers"
	"github.com/andresmv/credithub/internal/pubsub"
	"github.com/andresmv/credithub/internal/queue"
	"github.com/andresmv/credithub/internal/resilience"
	"github.com/andresmv/credithub/internal/strategies"
	"github.com/google/uuid"
)

// changedByWorker attributes pipeline transitions in the audit trail.
const changedByWorker = "worker"

const lockAcquireBudget = 2 * time.Second

type ApplicationStore interface {
	GetByID(ctx context.Context, id string) (application.Application, error)
	UpdateStatus(ctx context.Context, id string, change application.StatusChange) error
	UpdateDecision(ctx context.Context, id string, from application.Status, decision application.Decision, bankingData json.RawMessage, changedBy, reason string) error
	MarkRejectedInvalid(ctx context.Context, id string, from application.Status, validationErrors json.RawMessage, changedBy, reason string) error
}

type Lease interface {
	Release(ctx context.Context) error
}

type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

type Broadcaster interface {
	Publish(ctx context.Context, update pubsub.Update)
}

type Config struct {
	LockTTL time.Duration
}

// Processor runs the credit pipeline for one application: claim the
// per-application lock, validate the document, fetch banking data behind
// the breaker, evaluate, persist, broadcast.
type Processor struct {
	cfg        Config
	apps       ApplicationStore
	locker     Locker
	registry   *strategies.Registry
	guard      *resilience.ProviderGuard
	bankByCtry map[application.Country]providers.BankingProvider
	broadcast  Broadcaster
	logger     *slog.Logger
}

func NewProcessor(
	cfg Config,
	apps ApplicationStore,
	locker Locker,
	registry *strategies.Registry,
	guard *resilience.ProviderGuard,
	bankByCtry map[application.Country]providers.BankingProvider,
	broadcast Broadcaster,
	logger *slog.Logger,
) *Processor {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	return &Processor{
		cfg:        cfg,
		apps:       apps,
		locker:     locker,
		registry:   registry,
		guard:      guard,
		bankByCtry: bankByCtry,
		broadcast:  broadcast,
		logger:     logger,
	}
}

// Process executes one task envelope. A nil return means the pending job
// is finished, including the business-rejection and already-done paths;
// only infrastructure trouble comes back as an error.
func (p *Processor) Process(ctx context.Context, env queue.Envelope) error {
	applicationID := env.Args[0]
	if err := uuid.Validate(applicationID); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidApplicationID, applicationID)
	}

	lockCtx, cancel := context.WithTimeout(ctx, lockAcquireBudget)
	lease, err := p.locker.Acquire(lockCtx, locks.ProcessingKey(applicationID), p.cfg.LockTTL)
	cancel()
	if err != nil {
		if errors.Is(err, locks.ErrNotAcquired) {
			p.logger.InfoContext(ctx, "task.skipped",
				"application_id", applicationID, "reason", "already processing")
			return nil
		}
		return fmt.Errorf("acquire processing lock: %w", err)
	}
	defer func() {
		releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer releaseCancel()
		if releaseErr := lease.Release(releaseCtx); releaseErr != nil {
			p.logger.WarnContext(ctx, "task.lock_release_failed",
				"application_id", applicationID, "error", releaseErr)
		}
	}()

	app, err := p.apps.GetByID(ctx, applicationID)
	if err != nil {
		return err
	}

	// Re-delivery of an application that already moved past validation is
	// a no-op. A VALIDATING row is a crashed run; pick it up where the
	// previous worker died instead of leaving it stuck.
	switch app.Status {
	case application.StatusPending, application.StatusValidating:
	default:
		p.logger.InfoContext(ctx, "task.skipped",
			"application_id", applicationID, "status", string(app.Status),
			"reason", "already beyond validation")
		return nil
	}

	strategy, err := p.registry.ForCountry(app.Country)
	if err != nil {
		return err
	}
	provider, ok := p.bankByCtry[app.Country]
	if !ok {
		return fmt.Errorf("%w: no banking provider for %s", application.ErrUnsupportedCountry, app.Country)
	}

	if app.Status == application.StatusPending {
		if err := p.apps.UpdateStatus(ctx, app.ID, application.StatusChange{
			From:      application.StatusPending,
			To:        application.StatusValidating,
			ChangedBy: changedByWorker,
			Reason:    "Processing started",
		}); err != nil {
			if errors.Is(err, application.ErrStaleStatus) {
				// concurrent mover won the PENDING row; nothing left to do
				return nil
			}
			return err
		}
		app.Status = application.StatusValidating
		p.publish(ctx, app)
	} else {
		p.logger.InfoContext(ctx, "task.resumed",
			"application_id", app.ID, "status", string(app.Status))
	}

	if result := strategy.ValidateDocument(app.IdentityDocument); !result.Valid {
		verrs, merr := json.Marshal(result.Errors)
		if merr != nil {
			return merr
		}
		if err := p.apps.MarkRejectedInvalid(ctx, app.ID, application.StatusValidating,
			verrs, changedByWorker, "Document validation failed"); err != nil {
			return err
		}
		app.Status = application.StatusRejected
		p.publish(ctx, app)
		p.logger.InfoContext(ctx, "task.rejected",
			"application_id", app.ID, "reasons", result.Errors)
		return nil
	}

	banking, err := p.guard.Fetch(ctx, string(app.Country), provider, app.IdentityDocument, app.FullName)
	if err != nil {
		return fmt.Errorf("fetch banking data: %w", err)
	}
	bankingJSON, err := json.Marshal(banking)
	if err != nil {
		return err
	}

	decision := strategy.Evaluate(app, banking)

	reason := "Automatic evaluation"
	if len(decision.Reasons) > 0 {
		reason = "Automatic evaluation: " + strings.Join(decision.Reasons, "; ")
	}

	if err := p.apps.UpdateDecision(ctx, app.ID, application.StatusValidating,
		decision, bankingJSON, changedByWorker, reason); err != nil {
		return err
	}

	app.Status = decision.Status
	app.RiskScore = &decision.RiskScore
	p.publish(ctx, app)

	p.logger.InfoContext(ctx, "task.decided",
		"application_id", app.ID,
		"status", string(decision.Status),
		"risk_score", decision.RiskScore.StringFixed(2),
		"fallback", banking.IsFallback(),
	)
	return nil
}

func (p *Processor) publish(ctx context.Context, app application.Application) {
	app.UpdatedAt = time.Now().UTC()
	p.broadcast.Publish(ctx, pubsub.NewUpdate(app))
}

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/andresmv/credithub/internal/domain/application"
	"github.com/andresmv/credithub/internal/domain/audit"
	"github.com/andresmv/credithub/internal/http/middlewares"
	"github.com/andresmv/credithub/internal/pubsub"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const idempotencyKeyHeader = "Idempotency-Key"
const maxIdempotencyKeyLen = 100

// Keep these interfaces small so tests can fake them easily.
type ApplicationStore interface {
	Create(ctx context.Context, app application.Application, idempotencyKey *string) error
	GetByID(ctx context.Context, id string) (application.Application, error)
	GetByIdempotencyKey(ctx context.Context, key string) (application.Application, error)
	UpdateStatus(ctx context.Context, id string, change application.StatusChange) error
}

type AuditStore interface {
	ListByApplication(ctx context.Context, applicationID string) ([]audit.Log, error)
}

type UpdateBroadcaster interface {
	Publish(ctx context.Context, update pubsub.Update)
}

type ApplicationsHandler struct {
	apps      ApplicationStore
	auditLogs AuditStore
	broadcast UpdateBroadcaster
	logger    *slog.Logger
}

func NewApplicationsHandler(apps ApplicationStore, auditLogs AuditStore, broadcast UpdateBroadcaster, logger *slog.Logger) *ApplicationsHandler {
	return &ApplicationsHandler{
		apps:      apps,
		auditLogs: auditLogs,
		broadcast: broadcast,
		logger:    logger,
	}
}

// Create accepts a credit application and returns it in PENDING state;
// the database trigger enqueues processing, nothing here blocks on it.
// A repeated Idempotency-Key returns the original application with 200.
func (h *ApplicationsHandler) Create(ctx *gin.Context) {
	var req application.CreateRequest
	if !BindJSON(ctx, &req) {
		return
	}

	app, err := application.New(req)
	if err != nil {
		switch {
		case errors.Is(err, application.ErrUnsupportedCountry):
			RespondBadRequest(ctx, "Unsupported country", gin.H{"country": req.Country})
		case errors.Is(err, application.ErrCurrencyMismatch):
			RespondBadRequest(ctx, "Currency does not match country", gin.H{"currency": req.Currency})
		case errors.Is(err, application.ErrAmountOutOfRange):
			RespondBadRequest(ctx, "Amount out of range", nil)
		case errors.Is(err, application.ErrTooManyDecimals):
			RespondBadRequest(ctx, "Amounts allow at most two decimal places", nil)
		default:
			RespondBadRequest(ctx, err.Error(), nil)
		}
		return
	}

	idemKey := idempotencyKeyFrom(ctx, req.IdempotencyKey)
	if idemKey != nil && len(*idemKey) > maxIdempotencyKeyLen {
		RespondBadRequest(ctx, "Idempotency key too long", gin.H{"max_length": maxIdempotencyKeyLen})
		return
	}

	err = h.apps.Create(ctx.Request.Context(), app, idemKey)
	if err != nil {
		switch {
		case errors.Is(err, application.ErrIdempotencyConflict):
			existing, getErr := h.apps.GetByIdempotencyKey(ctx.Request.Context(), *idemKey)
			if getErr != nil {
				h.logger.ErrorContext(ctx.Request.Context(), "applications.idempotent_lookup_failed",
					"error", getErr)
				RespondInternal(ctx, "Could not load existing application")
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"application": existing, "deduplicated": true})
		case errors.Is(err, application.ErrDuplicateActive):
			RespondConflict(ctx, "duplicate_active_application",
				"An active application already exists for this document")
		default:
			h.logger.ErrorContext(ctx.Request.Context(), "applications.create_failed", "error", err)
			RespondInternal(ctx, "Could not create application")
		}
		return
	}

	created, err := h.apps.GetByID(ctx.Request.Context(), app.ID)
	if err != nil {
		// The row exists; fall back to what we built locally.
		created = app
	}

	if h.broadcast != nil {
		h.broadcast.Publish(ctx.Request.Context(), pubsub.NewUpdate(created))
	}

	ctx.Set(middlewares.CtxApplicationID, created.ID)
	h.logger.InfoContext(ctx.Request.Context(), "applications.created",
		"application_id", created.ID, "country", string(created.Country))
	ctx.JSON(http.StatusCreated, gin.H{"application": created})
}

func (h *ApplicationsHandler) Get(ctx *gin.Context) {
	id := ctx.Param("id")
	if err := uuid.Validate(id); err != nil {
		RespondBadRequest(ctx, "Invalid application id", nil)
		return
	}

	app, err := h.apps.GetByID(ctx.Request.Context(), id)
	if err != nil {
		if errors.Is(err, application.ErrNotFound) {
			RespondNotFound(ctx, "Application not found")
			return
		}
		h.logger.ErrorContext(ctx.Request.Context(), "applications.get_failed",
			"application_id", id, "error", err)
		RespondInternal(ctx, "Could not load application")
		return
	}

	ctx.Set(middlewares.CtxApplicationID, app.ID)
	RespondJSONWithETag(ctx, http.StatusOK, gin.H{"application": app})
}

// AuditTrail returns the status history the audit trigger recorded.
func (h *ApplicationsHandler) AuditTrail(ctx *gin.Context) {
	id := ctx.Param("id")
	if err := uuid.Validate(id); err != nil {
		RespondBadRequest(ctx, "Invalid application id", nil)
		return
	}

	if _, err := h.apps.GetByID(ctx.Request.Context(), id); err != nil {
		if errors.Is(err, application.ErrNotFound) {
			RespondNotFound(ctx, "Application not found")
			return
		}
		RespondInternal(ctx, "Could not load application")
		return
	}

	logs, err := h.auditLogs.ListByApplication(ctx.Request.Context(), id)
	if err != nil {
		h.logger.ErrorContext(ctx.Request.Context(), "applications.audit_failed",
			"application_id", id, "error", err)
		RespondInternal(ctx, "Could not load audit trail")
		return
	}

	ctx.Set(middlewares.CtxApplicationID, id)
	RespondJSONWithETag(ctx, http.StatusOK, gin.H{"items": logs, "count": len(logs)})
}

type cancelRequest struct {
	Reason string `json:"reason" binding:"omitempty,max=500"`
}

// Cancel moves a PENDING application to CANCELLED. Anything already picked
// up by a worker is past PENDING and comes back as a conflict.
func (h *ApplicationsHandler) Cancel(ctx *gin.Context) {
	id := ctx.Param("id")
	if err := uuid.Validate(id); err != nil {
		RespondBadRequest(ctx, "Invalid application id", nil)
		return
	}

	var req cancelRequest
	if ctx.Request.ContentLength > 0 {
		if !BindJSON(ctx, &req) {
			return
		}
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "Cancelled by user"
	}

	actor := "system"
	if email, ok := middlewares.EmailFromContext(ctx); ok && email != "" {
		actor = email
	}

	app, err := h.apps.GetByID(ctx.Request.Context(), id)
	if err != nil {
		if errors.Is(err, application.ErrNotFound) {
			RespondNotFound(ctx, "Application not found")
			return
		}
		RespondInternal(ctx, "Could not load application")
		return
	}

	err = h.apps.UpdateStatus(ctx.Request.Context(), id, application.StatusChange{
		From:      app.Status,
		To:        application.StatusCancelled,
		ChangedBy: actor,
		Reason:    reason,
	})
	if err != nil {
		switch {
		case errors.Is(err, application.ErrInvalidTransition):
			RespondConflict(ctx, "invalid_state",
				"Application can no longer be cancelled in status "+string(app.Status))
		case errors.Is(err, application.ErrStaleStatus):
			RespondConflict(ctx, "state_changed", "Application status changed, retry")
		default:
			h.logger.ErrorContext(ctx.Request.Context(), "applications.cancel_failed",
				"application_id", id, "error", err)
			RespondInternal(ctx, "Could not cancel application")
		}
		return
	}

	app.Status = application.StatusCancelled
	if h.broadcast != nil {
		h.broadcast.Publish(ctx.Request.Context(), pubsub.NewUpdate(app))
	}

	ctx.Set(middlewares.CtxApplicationID, id)
	h.logger.InfoContext(ctx.Request.Context(), "applications.cancelled",
		"application_id", id, "changed_by", actor)
	ctx.JSON(http.StatusOK, gin.H{"application": app})
}

// idempotencyKeyFrom prefers the request body field and falls back to the
// Idempotency-Key header for clients that send it there.
func idempotencyKeyFrom(ctx *gin.Context, bodyKey string) *string {
	key := strings.TrimSpace(bodyKey)
	if key == "" {
		key = strings.TrimSpace(ctx.GetHeader(idempotencyKeyHeader))
	}
	if key == "" {
		return nil
	}
	return &key
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/andresmv/credithub/internal/domain/application"
	"github.com/andresmv/credithub/internal/domain/webhookevent"
	"github.com/andresmv/credithub/internal/pubsub"
	"github.com/andresmv/credithub/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const signatureHeader = "X-Webhook-Signature"

type WebhookApplicationStore interface {
	GetByID(ctx context.Context, id string) (application.Application, error)
	ConfirmStatus(ctx context.Context, id string, change application.StatusChange, bankingData json.RawMessage) error
}

type WebhookEventStore interface {
	Insert(ctx context.Context, provider, eventType, reference, applicationID string, payload json.RawMessage) (int64, error)
	MarkProcessed(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
}

type WebhooksHandler struct {
	secret    []byte
	apps      WebhookApplicationStore
	events    WebhookEventStore
	broadcast UpdateBroadcaster
	logger    *slog.Logger
}

func NewWebhooksHandler(secret []byte, apps WebhookApplicationStore, events WebhookEventStore, broadcast UpdateBroadcaster, logger *slog.Logger) *WebhooksHandler {
	return &WebhooksHandler{
		secret:    secret,
		apps:      apps,
		events:    events,
		broadcast: broadcast,
		logger:    logger,
	}
}

type webhookPayload struct {
	Provider          string          `json:"provider"`
	EventType         string          `json:"event_type"`
	ProviderReference string          `json:"provider_reference"`
	ApplicationID     string          `json:"application_id"`
	Outcome           string          `json:"outcome"`
	BankingData       json.RawMessage `json:"banking_data,omitempty"`
}

func (p webhookPayload) validate() []string {
	var problems []string
	if strings.TrimSpace(p.Provider) == "" {
		problems = append(problems, "provider is required")
	}
	if strings.TrimSpace(p.ProviderReference) == "" {
		problems = append(problems, "provider_reference is required")
	}
	if uuid.Validate(p.ApplicationID) != nil {
		problems = append(problems, "application_id must be a valid uuid")
	}
	if !application.Status(p.Outcome).IsValid() {
		problems = append(problems, "outcome is not a known application status")
	}
	return problems
}

// Receive processes a bank confirmation delivery. The signature covers the
// raw body, so it must be read before any JSON decoding; duplicates by
// provider_reference are acknowledged without reprocessing.
func (h *WebhooksHandler) Receive(ctx *gin.Context) {
	raw, err := ctx.GetRawData()
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			RespondError(ctx, http.StatusRequestEntityTooLarge, "payload_too_large",
				"Payload exceeds the size limit", gin.H{"limit_bytes": maxErr.Limit})
			return
		}
		RespondBadRequest(ctx, "Could not read request body", nil)
		return
	}

	if !security.VerifyWebhook(h.secret, raw, ctx.GetHeader(signatureHeader)) {
		h.logger.WarnContext(ctx.Request.Context(), "webhook.bad_signature",
			"remote_addr", ctx.ClientIP())
		RespondUnAuthorized(ctx, "invalid_signature", "Invalid webhook signature")
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		RespondBadRequest(ctx, "Invalid JSON payload", nil)
		return
	}
	if problems := payload.validate(); len(problems) > 0 {
		RespondBadRequest(ctx, "Invalid webhook payload", gin.H{"problems": problems})
		return
	}

	reqCtx := ctx.Request.Context()

	eventID, err := h.events.Insert(reqCtx,
		payload.Provider, payload.EventType, payload.ProviderReference, payload.ApplicationID, raw)
	if err != nil {
		if errors.Is(err, webhookevent.ErrDuplicate) {
			ctx.JSON(http.StatusOK, gin.H{"status": "already_processed"})
			return
		}
		h.logger.ErrorContext(reqCtx, "webhook.record_failed",
			"provider_reference", payload.ProviderReference, "error", err)
		RespondInternal(ctx, "Could not record webhook event")
		return
	}

	app, err := h.apps.GetByID(reqCtx, payload.ApplicationID)
	if err != nil {
		if errors.Is(err, application.ErrNotFound) {
			h.failEvent(reqCtx, eventID, "application not found")
			RespondNotFound(ctx, "Application not found")
			return
		}
		h.failEvent(reqCtx, eventID, "load application: "+err.Error())
		RespondInternal(ctx, "Could not load application")
		return
	}

	target := application.Status(payload.Outcome)
	change := application.StatusChange{
		From:      app.Status,
		To:        target,
		ChangedBy: "webhook:" + payload.Provider,
		Reason:    confirmationReason(payload.EventType),
	}

	if err := h.apps.ConfirmStatus(reqCtx, app.ID, change, payload.BankingData); err != nil {
		switch {
		case errors.Is(err, application.ErrInvalidTransition), errors.Is(err, application.ErrStaleStatus):
			h.failEvent(reqCtx, eventID, "invalid transition "+string(app.Status)+" -> "+string(target))
			RespondUnprocessable(ctx, "invalid_transition",
				"Cannot move application from "+string(app.Status)+" to "+string(target))
		default:
			h.failEvent(reqCtx, eventID, "apply transition: "+err.Error())
			h.logger.ErrorContext(reqCtx, "webhook.transition_failed",
				"application_id", app.ID, "error", err)
			RespondInternal(ctx, "Could not apply confirmation")
		}
		return
	}

	if err := h.events.MarkProcessed(reqCtx, eventID); err != nil {
		h.logger.WarnContext(reqCtx, "webhook.mark_processed_failed",
			"event_id", eventID, "error", err)
	}

	app.Status = target
	if payload.BankingData != nil {
		app.BankingData = payload.BankingData
	}
	if h.broadcast != nil {
		h.broadcast.Publish(reqCtx, pubsub.NewUpdate(app))
	}

	h.logger.InfoContext(reqCtx, "webhook.processed",
		"application_id", app.ID,
		"provider", payload.Provider,
		"status", string(target),
	)
	ctx.JSON(http.StatusOK, gin.H{"status": "processed", "application_id": app.ID})
}

func (h *WebhooksHandler) failEvent(ctx context.Context, eventID int64, reason string) {
	if err := h.events.MarkFailed(ctx, eventID, reason); err != nil {
		h.logger.WarnContext(ctx, "webhook.mark_failed_error", "event_id", eventID, "error", err)
	}
}

func confirmationReason(eventType string) string {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return "Bank confirmation"
	}
	return "Bank confirmation: " + eventType
}

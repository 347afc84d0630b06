package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andresmv/credithub/internal/domain/application"
	"github.com/andresmv/credithub/internal/domain/webhookevent"
	"github.com/andresmv/credithub/internal/http/handlers"
	"github.com/andresmv/credithub/internal/pubsub"
	"github.com/andresmv/credithub/internal/security"
	"github.com/gin-gonic/gin"
)

var webhookSecret = []byte("test-webhook-secret")

const appID = "6f1e1c9e-8f2a-4b77-9a93-0a6a0c5a1234"

type fakeWebhookApps struct {
	apps       map[string]application.Application
	confirmErr error
	confirmed  []application.StatusChange
}

func (f *fakeWebhookApps) GetByID(ctx context.Context, id string) (application.Application, error) {
	app, ok := f.apps[id]
	if !ok {
		return application.Application{}, application.ErrNotFound
	}
	return app, nil
}

func (f *fakeWebhookApps) ConfirmStatus(ctx context.Context, id string, change application.StatusChange, bankingData json.RawMessage) error {
	if f.confirmErr != nil {
		return f.confirmErr
	}
	f.confirmed = append(f.confirmed, change)
	return nil
}

type fakeWebhookEvents struct {
	insertErr error
	processed []int64
	failed    []int64
	failMsgs  []string
}

func (f *fakeWebhookEvents) Insert(ctx context.Context, provider, eventType, reference, applicationID string, payload json.RawMessage) (int64, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	return 101, nil
}

func (f *fakeWebhookEvents) MarkProcessed(ctx context.Context, id int64) error {
	f.processed = append(f.processed, id)
	return nil
}

func (f *fakeWebhookEvents) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	f.failed = append(f.failed, id)
	f.failMsgs = append(f.failMsgs, errMsg)
	return nil
}

type fakeBroadcaster struct {
	updates []pubsub.Update
}

func (f *fakeBroadcaster) Publish(ctx context.Context, update pubsub.Update) {
	f.updates = append(f.updates, update)
}

func webhookRouter(apps *fakeWebhookApps, events *fakeWebhookEvents, broadcast *fakeBroadcaster) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := handlers.NewWebhooksHandler(webhookSecret, apps, events, broadcast, logger)

	r := gin.New()
	r.POST("/webhooks/bank-confirmation", h.Receive)
	return r
}

func signedWebhookRequest(t *testing.T, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/bank-confirmation", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", security.SignWebhook(webhookSecret, body))
	return req
}

func confirmationBody(outcome string) []byte {
	body, _ := json.Marshal(map[string]any{
		"provider":           "bank-api-ES",
		"event_type":         "review.completed",
		"provider_reference": "ref-001",
		"application_id":     appID,
		"outcome":            outcome,
	})
	return body
}

func underReviewApp() map[string]application.Application {
	return map[string]application.Application{
		appID: {ID: appID, Country: application.CountryES, Status: application.StatusUnderReview},
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	apps := &fakeWebhookApps{apps: underReviewApp()}
	events := &fakeWebhookEvents{}
	r := webhookRouter(apps, events, &fakeBroadcaster{})

	body := confirmationBody("APPROVED")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/bank-confirmation", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", "deadbeef")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401, body=%s", w.Code, w.Body.String())
	}
	if len(apps.confirmed) != 0 {
		t.Fatal("unsigned delivery must not touch the application")
	}
}

func TestWebhookProcessesConfirmation(t *testing.T) {
	apps := &fakeWebhookApps{apps: underReviewApp()}
	events := &fakeWebhookEvents{}
	broadcast := &fakeBroadcaster{}
	r := webhookRouter(apps, events, broadcast)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedWebhookRequest(t, confirmationBody("APPROVED")))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["status"] != "processed" {
		t.Fatalf("response status = %v", resp["status"])
	}

	if len(apps.confirmed) != 1 {
		t.Fatalf("ConfirmStatus calls = %d, want 1", len(apps.confirmed))
	}
	change := apps.confirmed[0]
	if change.From != application.StatusUnderReview || change.To != application.StatusApproved {
		t.Errorf("change = %+v", change)
	}
	if change.ChangedBy != "webhook:bank-api-ES" {
		t.Errorf("changed_by = %q", change.ChangedBy)
	}
	if change.Reason != "Bank confirmation: review.completed" {
		t.Errorf("reason = %q", change.Reason)
	}

	if len(events.processed) != 1 || events.processed[0] != 101 {
		t.Errorf("MarkProcessed calls = %v", events.processed)
	}
	if len(broadcast.updates) != 1 || broadcast.updates[0].Data.Status != "APPROVED" {
		t.Errorf("broadcast updates = %+v", broadcast.updates)
	}
}

func TestWebhookDuplicateReferenceAcknowledged(t *testing.T) {
	apps := &fakeWebhookApps{apps: underReviewApp()}
	events := &fakeWebhookEvents{insertErr: webhookevent.ErrDuplicate}
	r := webhookRouter(apps, events, &fakeBroadcaster{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedWebhookRequest(t, confirmationBody("APPROVED")))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["status"] != "already_processed" {
		t.Fatalf("response = %v", resp)
	}
	if len(apps.confirmed) != 0 {
		t.Fatal("duplicate delivery must not reprocess the application")
	}
}

func TestWebhookInvalidTransition(t *testing.T) {
	apps := &fakeWebhookApps{
		apps:       underReviewApp(),
		confirmErr: application.ErrInvalidTransition,
	}
	events := &fakeWebhookEvents{}
	r := webhookRouter(apps, events, &fakeBroadcaster{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedWebhookRequest(t, confirmationBody("CANCELLED")))

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422, body=%s", w.Code, w.Body.String())
	}
	if len(events.failed) != 1 {
		t.Fatalf("MarkFailed calls = %v", events.failed)
	}
}

func TestWebhookUnknownApplication(t *testing.T) {
	apps := &fakeWebhookApps{apps: map[string]application.Application{}}
	events := &fakeWebhookEvents{}
	r := webhookRouter(apps, events, &fakeBroadcaster{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedWebhookRequest(t, confirmationBody("APPROVED")))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if len(events.failed) != 1 {
		t.Fatal("orphan delivery should mark the event failed")
	}
}

func TestWebhookRejectsMalformedPayload(t *testing.T) {
	apps := &fakeWebhookApps{apps: underReviewApp()}
	r := webhookRouter(apps, &fakeWebhookEvents{}, &fakeBroadcaster{})

	body := []byte(`{"provider":"","provider_reference":"","application_id":"nope","outcome":"MAYBE"}`)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedWebhookRequest(t, body))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body=%s", w.Code, w.Body.String())
	}
}

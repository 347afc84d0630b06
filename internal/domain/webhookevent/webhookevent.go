package webhookevent

import (
	"encoding/json"
	"errors"
	"time"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusFailed     Status = "failed"
)

var (
	ErrNotFound = errors.New("webhook event not found")
	// ErrDuplicate means this provider_reference was already recorded; the
	// original delivery wins and the retry is acknowledged without effect.
	ErrDuplicate = errors.New("webhook event already recorded")
)

type WebhookEvent struct {
	ID            int64           `json:"id"`
	Provider      string          `json:"provider"`
	EventType     string          `json:"event_type"`
	Reference     string          `json:"provider_reference"`
	ApplicationID string          `json:"application_id"`
	Payload       json.RawMessage `json:"payload"`
	Status        Status          `json:"status"`
	ErrorMessage  *string         `json:"error_message,omitempty"`
	ReceivedAt    time.Time       `json:"received_at"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
}

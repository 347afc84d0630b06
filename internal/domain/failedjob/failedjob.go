package failedjob

import (
	"encoding/json"
	"errors"
	"time"
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusRetried     Status = "retried"
	StatusReviewed    Status = "reviewed"
	StatusReprocessed Status = "reprocessed"
	StatusIgnored     Status = "ignored"
)

var ErrNotFound = errors.New("failed job not found")

// FailedJob is a dead-letter row: a task that exhausted its retries or hit
// a permanent error, preserved with enough context to re-drive it by hand
// or via the hourly re-driver.
type FailedJob struct {
	ID             int64           `json:"id"`
	PendingJobID   int64           `json:"pending_job_id"`
	TaskName       string          `json:"task_name"`
	JobArgs        json.RawMessage `json:"job_args"`
	JobKwargs      json.RawMessage `json:"job_kwargs,omitempty"`
	ErrorKind      string          `json:"error_kind"`
	ErrorMessage   string          `json:"error_message"`
	ErrorTraceback *string         `json:"error_traceback,omitempty"`
	RetryCount     int             `json:"retry_count"`
	MaxRetries     int             `json:"max_retries"`
	IsRetryable    bool            `json:"is_retryable"`
	Status         Status          `json:"status"`
	FailedAt       time.Time       `json:"failed_at"`
	RetriedAt      *time.Time      `json:"retried_at,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

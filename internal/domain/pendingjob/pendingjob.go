package pendingjob

import (
	"encoding/json"
	"errors"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusEnqueued   Status = "enqueued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusEnqueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

var ErrNotFound = errors.New("pending job not found")

// TaskProcessApplication is the task name the enqueue trigger writes; the
// worker dispatches on it.
const TaskProcessApplication = "process_credit_application"

const DefaultMaxRetries = 3

// PendingJob is the durable intent row bridged to the redis queue. Rows are
// created by the enqueue trigger (or the DLQ re-driver), never by API code.
type PendingJob struct {
	ID           int64           `json:"id"`
	TaskName     string          `json:"task_name"`
	JobArgs      json.RawMessage `json:"job_args"`
	JobKwargs    json.RawMessage `json:"job_kwargs,omitempty"`
	Status       Status          `json:"status"`
	RetryCount   int             `json:"retry_count"`
	MaxRetries   int             `json:"max_retries"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	QueueHandle  *string         `json:"queue_handle,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	EnqueuedAt   *time.Time      `json:"enqueued_at,omitempty"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty"`
}

// Args is the payload shape the enqueue trigger writes into job_args.
type Args struct {
	ApplicationID string `json:"application_id"`
	Country       string `json:"country"`
	TriggeredBy   string `json:"triggered_by"`
	TriggeredAt   string `json:"triggered_at"`
}

func (j PendingJob) DecodeArgs() (Args, error) {
	var a Args
	if err := json.Unmarshal(j.JobArgs, &a); err != nil {
		return Args{}, err
	}
	return a, nil
}

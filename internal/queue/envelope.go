package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/andresmv/credithub/internal/domain/pendingjob"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

var (
	ErrInvalidEnvelope = errors.New("invalid task envelope")
	ErrUnknownTask     = errors.New("unknown task name")
)

// Envelope is the wire format on the redis work queue. Its ID doubles as
// the queue handle recorded on the pending_jobs row.
type Envelope struct {
	ID           string            `json:"id"`
	TaskName     string            `json:"task_name"`
	Args         []string          `json:"args"`
	Kwargs       map[string]any    `json:"kwargs"`
	PendingJobID int64             `json:"pending_job_id"`
	EnqueuedAt   time.Time         `json:"enqueued_at"`
	TraceContext map[string]string `json:"trace_context,omitempty"`
}

func NewEnvelope(j pendingjob.PendingJob, args pendingjob.Args) Envelope {
	kwargs := map[string]any{}
	if len(j.JobKwargs) > 0 {
		_ = json.Unmarshal(j.JobKwargs, &kwargs)
	}
	return Envelope{
		ID:           uuid.NewString(),
		TaskName:     j.TaskName,
		Args:         []string{args.ApplicationID},
		Kwargs:       kwargs,
		PendingJobID: j.ID,
		EnqueuedAt:   time.Now().UTC(),
	}
}

func Encode(env Envelope) ([]byte, error) {
	if env.TaskName == "" || len(env.Args) == 0 {
		return nil, ErrInvalidEnvelope
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return b, nil
}

func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if env.TaskName == "" || len(env.Args) == 0 {
		return Envelope{}, ErrInvalidEnvelope
	}
	if env.TaskName != pendingjob.TaskProcessApplication {
		return Envelope{}, fmt.Errorf("%w: %s", ErrUnknownTask, env.TaskName)
	}
	return env, nil
}

// InjectTrace copies the active span context into the envelope so worker
// spans parent onto the producing side.
func InjectTrace(ctx context.Context, env *Envelope) {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) > 0 {
		env.TraceContext = carrier
	}
}

// ExtractTrace resumes the producer's trace context, if the envelope has one.
func ExtractTrace(ctx context.Context, env Envelope) context.Context {
	if len(env.TraceContext) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(env.TraceContext))
}

package processing

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/andresmv/credithub/internal/domain/application"
	"github.com/andresmv/credithub/internal/providers"
	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinels the task body produces on top of the domain ones.
var (
	ErrInvalidApplicationID = errors.New("invalid application id")
	ErrDocumentValidation   = errors.New("document validation failed")
)

// Kind classifies a task failure for the retry policy. Permanent kinds go
// straight to the dead letter table; transient kinds get backed-off
// retries first.
type Kind string

const (
	KindInvalidApplicationID Kind = "invalid_application_id"
	KindApplicationNotFound  Kind = "application_not_found"
	KindValidation           Kind = "validation_error"
	KindStateTransition      Kind = "state_transition_error"
	KindUnsupportedCountry   Kind = "unsupported_country"

	KindDatabaseUnavailable Kind = "database_unavailable"
	KindProviderUnavailable Kind = "provider_unavailable"
	KindNetworkTimeout      Kind = "network_timeout"
	KindConnection          Kind = "connection_error"
	KindRecoverable         Kind = "recoverable_error"
)

func (k Kind) IsRetryable() bool {
	switch k {
	case KindDatabaseUnavailable, KindProviderUnavailable, KindNetworkTimeout,
		KindConnection, KindRecoverable:
		return true
	}
	return false
}

// Classify is total: every error maps to exactly one kind. Unknown errors
// are treated as recoverable so an unanticipated blip gets its retries
// before dead-lettering.
func Classify(err error) Kind {
	switch {
	case errors.Is(err, ErrInvalidApplicationID):
		return KindInvalidApplicationID
	case errors.Is(err, application.ErrNotFound):
		return KindApplicationNotFound
	case errors.Is(err, ErrDocumentValidation):
		return KindValidation
	case errors.Is(err, application.ErrInvalidTransition):
		return KindStateTransition
	case errors.Is(err, application.ErrUnsupportedCountry):
		return KindUnsupportedCountry
	case errors.Is(err, providers.ErrProviderUnavailable):
		return KindProviderUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return KindNetworkTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindNetworkTimeout
		}
		return KindConnection
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// class 08 = connection exception, 57 = operator intervention
		if strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57") {
			return KindDatabaseUnavailable
		}
		return KindRecoverable
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "connection reset"):
		return KindConnection
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return KindNetworkTimeout
	}
	return KindRecoverable
}

package application

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending     Status = "PENDING"
	StatusValidating  Status = "VALIDATING"
	StatusApproved    Status = "APPROVED"
	StatusRejected    Status = "REJECTED"
	StatusUnderReview Status = "UNDER_REVIEW"
	StatusCancelled   Status = "CANCELLED"
	StatusCompleted   Status = "COMPLETED"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusValidating, StatusApproved, StatusRejected,
		StatusUnderReview, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

func (s Status) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

type Country string

const (
	CountryES Country = "ES"
	CountryMX Country = "MX"
	CountryCO Country = "CO"
	CountryBR Country = "BR"
	CountryPT Country = "PT"
	CountryIT Country = "IT"
)

func (c Country) IsValid() bool {
	switch c {
	case CountryES, CountryMX, CountryCO, CountryBR, CountryPT, CountryIT:
		return true
	}
	return false
}

// Currency returns the only currency accepted for applications of this country.
func (c Country) Currency() string {
	switch c {
	case CountryES, CountryPT, CountryIT:
		return "EUR"
	case CountryMX:
		return "MXN"
	case CountryCO:
		return "COP"
	case CountryBR:
		return "BRL"
	}
	return ""
}

var (
	ErrNotFound            = errors.New("application not found")
	ErrDuplicateActive     = errors.New("active application already exists for this document")
	ErrIdempotencyConflict = errors.New("idempotency key already used")
	ErrStaleStatus         = errors.New("application status changed concurrently")
	ErrUnsupportedCountry  = errors.New("unsupported country")
)

// ErrInvalidTransition is permanent: retrying a forbidden status change
// can never make it legal.
var ErrInvalidTransition = errors.New("invalid status transition")

// allowedTransitions is the full lifecycle. Terminal states have no entry.
var allowedTransitions = map[Status][]Status{
	StatusPending:     {StatusValidating, StatusCancelled},
	StatusValidating:  {StatusApproved, StatusRejected, StatusUnderReview},
	StatusUnderReview: {StatusApproved, StatusRejected},
}

func ValidateTransition(from, to Status) error {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// MaxAmount is the largest representable requested amount, NUMERIC(12,2).
var MaxAmount = decimal.RequireFromString("9999999999.99")

type Application struct {
	ID                  string           `json:"id"`
	Country             Country          `json:"country"`
	FullName            string           `json:"full_name"`
	IdentityDocument    string           `json:"identity_document"`
	Email               string           `json:"email,omitempty"`
	RequestedAmount     decimal.Decimal  `json:"requested_amount"`
	Currency            string           `json:"currency"`
	MonthlyIncome       decimal.Decimal  `json:"monthly_income"`
	Status              Status           `json:"status"`
	RiskScore           *decimal.Decimal `json:"risk_score,omitempty"`
	CountrySpecificData json.RawMessage  `json:"country_specific_data,omitempty"`
	BankingData         json.RawMessage  `json:"banking_data,omitempty"`
	ValidationErrors    json.RawMessage  `json:"validation_errors,omitempty"`
	IdempotencyKey      *string          `json:"idempotency_key,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
	DeletedAt           *time.Time       `json:"deleted_at,omitempty"`
}

type CreateRequest struct {
	Country             string          `json:"country" binding:"required,len=2"`
	FullName            string          `json:"full_name" binding:"required,min=2,max=200"`
	IdentityDocument    string          `json:"identity_document" binding:"required,min=4,max=40"`
	Email               string          `json:"email" binding:"omitempty,email"`
	RequestedAmount     string          `json:"requested_amount" binding:"required"`
	Currency            string          `json:"currency" binding:"required,len=3"`
	MonthlyIncome       string          `json:"monthly_income" binding:"required"`
	IdempotencyKey      string          `json:"idempotency_key" binding:"omitempty,max=100"`
	CountrySpecificData json.RawMessage `json:"country_specific_data"`
}

// Decision is the outcome a country strategy produces for an application.
type Decision struct {
	Status    Status
	RiskScore decimal.Decimal
	Reasons   []string
}

// StatusChange carries audit attribution through a status update. The
// database trigger reads these via session settings and writes the
// audit_logs row.
type StatusChange struct {
	From      Status
	To        Status
	ChangedBy string
	Reason    string
}

package application

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrAmountOutOfRange = errors.New("requested amount out of range")
	ErrCurrencyMismatch = errors.New("currency does not match country")
	ErrTooManyDecimals  = errors.New("more than two decimal places")
)

// New builds a PENDING application from a create request. Amount and income
// are kept as exact decimals; binary floats never touch money.
func New(req CreateRequest) (Application, error) {
	country := Country(strings.ToUpper(req.Country))

	if !country.IsValid() {
		return Application{}, fmt.Errorf("%w: %s", ErrUnsupportedCountry, req.Country)
	}

	amount, err := decimal.NewFromString(req.RequestedAmount)
	if err != nil {
		return Application{}, fmt.Errorf("parse requested_amount: %w", err)
	}
	income, err := decimal.NewFromString(req.MonthlyIncome)
	if err != nil {
		return Application{}, fmt.Errorf("parse monthly_income: %w", err)
	}

	// Money is stored as NUMERIC(12,2). Rounding over-precise input would
	// silently change the amount the applicant asked for, so reject it.
	if !amount.Equal(amount.Truncate(2)) {
		return Application{}, fmt.Errorf("%w: requested_amount %s", ErrTooManyDecimals, amount)
	}
	if !income.Equal(income.Truncate(2)) {
		return Application{}, fmt.Errorf("%w: monthly_income %s", ErrTooManyDecimals, income)
	}

	if amount.IsNegative() || amount.IsZero() || amount.GreaterThan(MaxAmount) {
		return Application{}, fmt.Errorf("%w: %s", ErrAmountOutOfRange, amount)
	}
	if income.IsNegative() {
		return Application{}, fmt.Errorf("monthly_income must not be negative")
	}

	if currency := strings.ToUpper(req.Currency); currency != country.Currency() {
		return Application{}, fmt.Errorf("%w: %s expects %s, got %s",
			ErrCurrencyMismatch, country, country.Currency(), currency)
	}

	now := time.Now().UTC()

	return Application{
		ID:                  uuid.NewString(),
		Country:             country,
		FullName:            strings.TrimSpace(req.FullName),
		IdentityDocument:    strings.ToUpper(strings.TrimSpace(req.IdentityDocument)),
		Email:               strings.ToLower(strings.TrimSpace(req.Email)),
		RequestedAmount:     amount,
		Currency:            country.Currency(),
		MonthlyIncome:       income,
		Status:              StatusPending,
		CountrySpecificData: req.CountrySpecificData,
		CreatedAt:           now,
		UpdatedAt:           now,
	}, nil
}

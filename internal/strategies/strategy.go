package strategies

import (
	"fmt"

	"github.com/andresmv/credithub/internal/domain/application"
	"github.com/andresmv/credithub/internal/providers"
	"github.com/shopspring/decimal"
)

type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Limits are the per-country lending bounds. An application outside them is
// rejected before scoring.
type Limits struct {
	MaxAmount decimal.Decimal
	MinIncome decimal.Decimal
}

type Strategy interface {
	Country() application.Country
	// ValidateDocument checks the national identity document format and
	// check digits. Pure; no I/O.
	ValidateDocument(document string) ValidationResult
	// Evaluate turns banking data into a decision. Pure; same inputs,
	// same decision.
	Evaluate(app application.Application, banking providers.BankingData) application.Decision
}

// loanTermMonths is the assumed amortization horizon for the
// payment-to-income ratio.
const loanTermMonths = 36

type baseStrategy struct {
	country application.Country
	limits  Limits
}

func (s baseStrategy) Country() application.Country { return s.country }

// Evaluate scores risk on a 0-100 scale, higher meaning riskier.
// Hard limit breaches reject regardless of score; fallback banking data
// always routes to manual review because the real bureau was unreachable.
func (s baseStrategy) Evaluate(app application.Application, banking providers.BankingData) application.Decision {
	var reasons []string

	if app.RequestedAmount.GreaterThan(s.limits.MaxAmount) {
		return application.Decision{
			Status:    application.StatusRejected,
			RiskScore: decimal.NewFromInt(100),
			Reasons:   []string{fmt.Sprintf("requested amount exceeds %s limit of %s", s.country, s.limits.MaxAmount)},
		}
	}
	if app.MonthlyIncome.LessThan(s.limits.MinIncome) {
		return application.Decision{
			Status:    application.StatusRejected,
			RiskScore: decimal.NewFromInt(100),
			Reasons:   []string{fmt.Sprintf("monthly income below %s minimum of %s", s.country, s.limits.MinIncome)},
		}
	}

	score := decimal.NewFromInt(50)

	switch {
	case banking.CreditScore >= 700:
		score = score.Sub(decimal.NewFromInt(20))
	case banking.CreditScore >= 600:
		score = score.Sub(decimal.NewFromInt(10))
	case banking.CreditScore >= 500:
		score = score.Add(decimal.NewFromInt(10))
		reasons = append(reasons, "weak credit score")
	default:
		score = score.Add(decimal.NewFromInt(25))
		reasons = append(reasons, "poor credit score")
	}

	if banking.HasDefaults {
		score = score.Add(decimal.NewFromInt(30))
		reasons = append(reasons, "prior defaults on record")
	}

	if app.MonthlyIncome.IsPositive() {
		annualIncome := app.MonthlyIncome.Mul(decimal.NewFromInt(12))
		debtRatio := banking.TotalDebt.Div(annualIncome)
		switch {
		case debtRatio.GreaterThan(decimal.NewFromInt(1)):
			score = score.Add(decimal.NewFromInt(15))
			reasons = append(reasons, "existing debt exceeds annual income")
		case debtRatio.GreaterThan(decimal.NewFromFloat(0.5)):
			score = score.Add(decimal.NewFromInt(8))
			reasons = append(reasons, "high existing debt")
		}

		installment := app.RequestedAmount.Div(decimal.NewFromInt(loanTermMonths))
		paymentRatio := installment.Add(banking.MonthlyObligations).Div(app.MonthlyIncome)
		switch {
		case paymentRatio.GreaterThan(decimal.NewFromFloat(0.5)):
			score = score.Add(decimal.NewFromInt(20))
			reasons = append(reasons, "projected payments above half of income")
		case paymentRatio.GreaterThan(decimal.NewFromFloat(0.36)):
			score = score.Add(decimal.NewFromInt(10))
			reasons = append(reasons, "elevated payment-to-income ratio")
		}
	}

	if score.IsNegative() {
		score = decimal.Zero
	}
	if score.GreaterThan(decimal.NewFromInt(100)) {
		score = decimal.NewFromInt(100)
	}
	score = score.Round(2)

	if banking.IsFallback() {
		return application.Decision{
			Status:    application.StatusUnderReview,
			RiskScore: score,
			Reasons:   append(reasons, "banking data unavailable, fallback profile used"),
		}
	}

	var status application.Status
	switch {
	case score.LessThanOrEqual(decimal.NewFromInt(35)):
		status = application.StatusApproved
	case score.GreaterThanOrEqual(decimal.NewFromInt(65)):
		status = application.StatusRejected
	default:
		status = application.StatusUnderReview
	}

	return application.Decision{Status: status, RiskScore: score, Reasons: reasons}
}

func invalid(errs ...string) ValidationResult {
	return ValidationResult{Valid: false, Errors: errs}
}

func valid() ValidationResult {
	return ValidationResult{Valid: true}
}

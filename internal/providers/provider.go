package providers

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var ErrProviderUnavailable = errors.New("banking provider unavailable")

// BankingData is the snapshot a country's banking provider returns for an
// applicant. It is persisted verbatim on the application for auditability.
type BankingData struct {
	ProviderName       string          `json:"provider_name"`
	CreditScore        int             `json:"credit_score"`
	TotalDebt          decimal.Decimal `json:"total_debt"`
	MonthlyObligations decimal.Decimal `json:"monthly_obligations"`
	HasDefaults        bool            `json:"has_defaults"`
	AdditionalData     map[string]any  `json:"additional_data,omitempty"`
}

// IsFallback reports whether this snapshot was synthesized because the
// provider's circuit was open.
func (b BankingData) IsFallback() bool {
	v, ok := b.AdditionalData["fallback"]
	if !ok {
		return false
	}
	flag, _ := v.(bool)
	return flag
}

type BankingProvider interface {
	Name() string
	FetchBankingData(ctx context.Context, document, fullName string) (BankingData, error)
}

package providers

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// creditProfile is one curated applicant shape. Profiles span the whole
// decision range so any document set exercises approval, rejection and
// manual review.
type creditProfile struct {
	score       int
	debt        int64
	obligations int64
	defaults    bool
}

var creditProfiles = []creditProfile{
	{score: 720, debt: 8200, obligations: 150, defaults: false},
	{score: 580, debt: 21400, obligations: 760, defaults: false},
	{score: 640, debt: 12900, obligations: 420, defaults: false},
	{score: 810, debt: 3100, obligations: 90, defaults: false},
	{score: 495, debt: 27600, obligations: 1130, defaults: true},
}

// MockProvider returns deterministic banking data derived from the document
// number, so the same applicant always gets the same profile. Failure
// injection is opt-in via MOCK_PROVIDER_FAIL_EVERY for resilience drills.
type MockProvider struct {
	name      string
	latency   time.Duration
	failEvery uint64
	calls     atomic.Uint64
}

func NewMockProvider(name string) *MockProvider {
	p := &MockProvider{name: name}

	if v := os.Getenv("MOCK_PROVIDER_LATENCY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			p.latency = d
		}
	}
	if v := os.Getenv("MOCK_PROVIDER_FAIL_EVERY"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			p.failEvery = n
		}
	}
	return p
}

func (p *MockProvider) Name() string { return p.name }

// documentSeed folds the document into a small deterministic number.
// Separators are ignored so "529.982.247-25" and "52998224725" map to the
// same profile.
func documentSeed(document string) uint64 {
	clean := strings.NewReplacer(" ", "", "-", "", ".", "").Replace(document)
	var sum uint64
	for _, c := range clean {
		sum += uint64(c)
	}
	return sum
}

func (p *MockProvider) FetchBankingData(ctx context.Context, document, fullName string) (BankingData, error) {
	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return BankingData{}, ctx.Err()
		}
	}

	calls := p.calls.Add(1)
	if p.failEvery > 0 && calls%p.failEvery == 0 {
		return BankingData{}, ErrProviderUnavailable
	}

	profile := creditProfiles[documentSeed(document)%uint64(len(creditProfiles))]

	return BankingData{
		ProviderName:       p.name,
		CreditScore:        profile.score,
		TotalDebt:          decimal.NewFromInt(profile.debt).Round(2),
		MonthlyObligations: decimal.NewFromInt(profile.obligations).Round(2),
		HasDefaults:        profile.defaults,
		AdditionalData: map[string]any{
			"source": "mock",
		},
	}, nil
}

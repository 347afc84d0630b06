package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/andresmv/credithub/internal/observability"
	"github.com/andresmv/credithub/internal/providers"
	"github.com/shopspring/decimal"
)

const fallbackSuffix = " (FALLBACK — Circuit Open)"

// ProviderGuard wraps every banking provider call in a per
// (country, provider) breaker and substitutes a conservative fallback
// profile when the circuit rejects the call. The fallback routes the
// application to manual review instead of failing the task.
type ProviderGuard struct {
	cfg    BreakerConfig
	prom   *observability.Prom
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

func NewProviderGuard(cfg BreakerConfig, prom *observability.Prom, logger *slog.Logger) *ProviderGuard {
	return &ProviderGuard{
		cfg:      cfg,
		prom:     prom,
		logger:   logger,
		breakers: make(map[string]*Breaker),
	}
}

func (g *ProviderGuard) breaker(key string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.breakers[key]
	if !ok {
		b = NewBreaker(g.cfg)
		g.breakers[key] = b
	}
	return b
}

func breakerKey(country, provider string) string {
	return country + "/" + provider
}

// Fetch calls the provider under its breaker. It only errors when the
// provider failed while the circuit was still closed; an open circuit
// yields the fallback profile and a nil error.
func (g *ProviderGuard) Fetch(
	ctx context.Context,
	country string,
	provider providers.BankingProvider,
	document, fullName string,
) (providers.BankingData, error) {
	b := g.breaker(breakerKey(country, provider.Name()))
	before := b.Snapshot().State

	var data providers.BankingData
	err := b.Do(ctx, func(ctx context.Context) error {
		var fetchErr error
		data, fetchErr = provider.FetchBankingData(ctx, document, fullName)
		return fetchErr
	})

	after := b.Snapshot().State
	g.observe(country, provider.Name(), before, after)

	switch {
	case err == nil:
		g.count(country, provider.Name(), "ok")
		return data, nil
	case errors.Is(err, ErrCircuitOpen):
		g.count(country, provider.Name(), "fallback")
		g.logger.WarnContext(ctx, "provider.circuit_open",
			"country", country, "provider", provider.Name())
		return FallbackBankingData(provider.Name()), nil
	default:
		g.count(country, provider.Name(), "error")
		return providers.BankingData{}, err
	}
}

func (g *ProviderGuard) observe(country, provider string, before, after State) {
	if g.prom == nil {
		return
	}
	g.prom.CircuitState.WithLabelValues(country, provider).Set(after.Gauge())
	if before != StateOpen && after == StateOpen {
		g.prom.CircuitOpenTotal.WithLabelValues(country, provider).Inc()
	}
}

func (g *ProviderGuard) count(country, provider, outcome string) {
	if g.prom == nil {
		return
	}
	g.prom.ProviderRequests.WithLabelValues(country, provider, outcome).Inc()
}

func (g *ProviderGuard) ForceOpen(country, provider string) {
	b := g.breaker(breakerKey(country, provider))
	before := b.Snapshot().State
	b.ForceOpen()
	g.observe(country, provider, before, StateOpen)
}

func (g *ProviderGuard) ForceClose(country, provider string) {
	b := g.breaker(breakerKey(country, provider))
	b.ForceClose()
	g.observe(country, provider, StateOpen, StateClosed)
}

// Snapshots returns the current state of every breaker, keyed
// country/provider.
func (g *ProviderGuard) Snapshots() map[string]Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[string]Snapshot, len(g.breakers))
	for key, b := range g.breakers {
		out[key] = b.Snapshot()
	}
	return out
}

// FallbackBankingData is the synthetic profile used when a provider's
// circuit is open. Scoring treats it as inconclusive and routes the
// application to manual review.
func FallbackBankingData(providerName string) providers.BankingData {
	return providers.BankingData{
		ProviderName:       providerName + fallbackSuffix,
		CreditScore:        500,
		TotalDebt:          decimal.RequireFromString("50000.00"),
		MonthlyObligations: decimal.RequireFromString("2000.00"),
		HasDefaults:        false,
		AdditionalData: map[string]any{
			"fallback": true,
		},
	}
}

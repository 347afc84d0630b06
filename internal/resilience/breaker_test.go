package resilience

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/andresmv/credithub/internal/providers"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var errDown = errors.New("provider down")

func failing(ctx context.Context) error { return errDown }
func succeeding(ctx context.Context) error { return nil }

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Timeout:          time.Second,
		FailureThreshold: 3,
		RecoveryTimeout:  time.Minute,
	})

	for i := 0; i < 3; i++ {
		if err := b.Do(context.Background(), failing); !errors.Is(err, errDown) {
			t.Fatalf("call %d: err = %v, want errDown", i, err)
		}
	}

	if got := b.Snapshot().State; got != StateOpen {
		t.Fatalf("state after threshold failures = %s, want open", got)
	}

	// Open circuit rejects without invoking the function.
	invoked := false
	err := b.Do(context.Background(), func(ctx context.Context) error {
		invoked = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if invoked {
		t.Fatal("protected function ran while the circuit was open")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Minute})

	_ = b.Do(context.Background(), failing)
	_ = b.Do(context.Background(), failing)
	_ = b.Do(context.Background(), succeeding)
	_ = b.Do(context.Background(), failing)
	_ = b.Do(context.Background(), failing)

	if got := b.Snapshot().State; got != StateClosed {
		t.Fatalf("state = %s, want closed (success should reset the streak)", got)
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  10 * time.Millisecond,
		HalfOpenMaxCalls: 1,
	})

	_ = b.Do(context.Background(), failing)
	if got := b.Snapshot().State; got != StateOpen {
		t.Fatalf("state = %s, want open", got)
	}

	time.Sleep(20 * time.Millisecond)

	// Failed probe reopens immediately.
	if err := b.Do(context.Background(), failing); !errors.Is(err, errDown) {
		t.Fatalf("probe err = %v, want errDown", err)
	}
	if got := b.Snapshot().State; got != StateOpen {
		t.Fatalf("state after failed probe = %s, want open", got)
	}

	time.Sleep(20 * time.Millisecond)

	// Successful probe closes.
	if err := b.Do(context.Background(), succeeding); err != nil {
		t.Fatalf("probe err = %v", err)
	}
	if got := b.Snapshot().State; got != StateClosed {
		t.Fatalf("state after successful probe = %s, want closed", got)
	}
}

func TestBreakerForceOpenPins(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 5, RecoveryTimeout: time.Millisecond})

	b.ForceOpen()
	time.Sleep(5 * time.Millisecond)

	// Forced breakers never go half-open on their own.
	if err := b.Do(context.Background(), succeeding); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen while forced", err)
	}

	snap := b.Snapshot()
	if !snap.Forced || snap.State != StateOpen {
		t.Fatalf("snapshot = %+v, want forced open", snap)
	}

	b.ForceClose()
	if err := b.Do(context.Background(), succeeding); err != nil {
		t.Fatalf("err after ForceClose = %v", err)
	}
	if got := b.Snapshot().State; got != StateClosed {
		t.Fatalf("state = %s, want closed", got)
	}
}

type scriptedProvider struct {
	name string
	errs []error
	call int
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) FetchBankingData(ctx context.Context, document, fullName string) (providers.BankingData, error) {
	var err error
	if p.call < len(p.errs) {
		err = p.errs[p.call]
	}
	p.call++
	if err != nil {
		return providers.BankingData{}, err
	}
	return providers.BankingData{ProviderName: p.name, CreditScore: 720}, nil
}

func TestGuardSubstitutesFallbackWhenOpen(t *testing.T) {
	g := NewProviderGuard(BreakerConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
	}, nil, discardLogger())

	p := &scriptedProvider{name: "bank-api-ES", errs: []error{errDown, errDown}}

	for i := 0; i < 2; i++ {
		if _, err := g.Fetch(context.Background(), "ES", p, "12345678Z", "María García"); !errors.Is(err, errDown) {
			t.Fatalf("call %d: err = %v, want errDown", i, err)
		}
	}

	data, err := g.Fetch(context.Background(), "ES", p, "12345678Z", "María García")
	if err != nil {
		t.Fatalf("open circuit should yield fallback, got err %v", err)
	}
	if !data.IsFallback() {
		t.Fatalf("data = %+v, want fallback profile", data)
	}
	if !strings.HasPrefix(data.ProviderName, p.name) || data.ProviderName == p.name {
		t.Fatalf("fallback provider name = %q, want %q plus a marker", data.ProviderName, p.name)
	}
	if p.call != 2 {
		t.Fatalf("provider called %d times, want 2 (open circuit must not call through)", p.call)
	}

	snaps := g.Snapshots()
	snap, ok := snaps["ES/bank-api-ES"]
	if !ok {
		t.Fatalf("missing snapshot, got %v", snaps)
	}
	if snap.State != StateOpen {
		t.Fatalf("snapshot state = %s, want open", snap.State)
	}
}

func TestGuardForceOpenAndClose(t *testing.T) {
	g := NewProviderGuard(BreakerConfig{FailureThreshold: 5, RecoveryTimeout: time.Minute}, nil, discardLogger())
	p := &scriptedProvider{name: "bank-api-MX"}

	g.ForceOpen("MX", "bank-api-MX")

	data, err := g.Fetch(context.Background(), "MX", p, "GARC850101HDFLNS09", "Juan García")
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if !data.IsFallback() {
		t.Fatal("forced-open breaker should serve the fallback profile")
	}
	if p.call != 0 {
		t.Fatal("provider must not be called while forced open")
	}

	g.ForceClose("MX", "bank-api-MX")

	data, err = g.Fetch(context.Background(), "MX", p, "GARC850101HDFLNS09", "Juan García")
	if err != nil {
		t.Fatalf("err after ForceClose = %v", err)
	}
	if data.IsFallback() {
		t.Fatal("closed breaker should call through to the provider")
	}
}

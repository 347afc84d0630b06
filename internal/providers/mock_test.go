package providers

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestMockProviderIsDeterministic(t *testing.T) {
	p := NewMockProvider("bank-api-ES")

	first, err := p.FetchBankingData(context.Background(), "12345678Z", "Juan García López")
	if err != nil {
		t.Fatalf("FetchBankingData: %v", err)
	}
	second, err := p.FetchBankingData(context.Background(), "12345678Z", "Juan García López")
	if err != nil {
		t.Fatalf("FetchBankingData: %v", err)
	}

	if first.CreditScore != second.CreditScore || !first.TotalDebt.Equal(second.TotalDebt) {
		t.Fatalf("same document produced different profiles: %+v vs %+v", first, second)
	}
}

func TestMockProviderGivesCleanApplicantsAnApprovableProfile(t *testing.T) {
	p := NewMockProvider("bank-api-ES")

	data, err := p.FetchBankingData(context.Background(), "12345678Z", "Juan García López")
	if err != nil {
		t.Fatalf("FetchBankingData: %v", err)
	}

	if data.CreditScore < 700 {
		t.Errorf("credit score = %d, want at least 700", data.CreditScore)
	}
	if data.HasDefaults {
		t.Error("profile must not carry defaults")
	}
	if data.TotalDebt.IntPart() > 10000 {
		t.Errorf("total debt = %s, want a low-debt profile", data.TotalDebt)
	}
}

func TestMockProviderIgnoresDocumentSeparators(t *testing.T) {
	p := NewMockProvider("bank-api-BR")

	dotted, err := p.FetchBankingData(context.Background(), "529.982.247-25", "Ana Souza")
	if err != nil {
		t.Fatalf("FetchBankingData: %v", err)
	}
	plain, err := p.FetchBankingData(context.Background(), "52998224725", "Ana Souza")
	if err != nil {
		t.Fatalf("FetchBankingData: %v", err)
	}

	if dotted.CreditScore != plain.CreditScore {
		t.Fatalf("separator-only variants diverged: %d vs %d", dotted.CreditScore, plain.CreditScore)
	}
}

func TestMockProviderFailureInjection(t *testing.T) {
	t.Setenv("MOCK_PROVIDER_FAIL_EVERY", "3")
	p := NewMockProvider("bank-api-ES")

	var failures int
	for i := 0; i < 9; i++ {
		if _, err := p.FetchBankingData(context.Background(), "12345678Z", "Juan García López"); err != nil {
			if !errors.Is(err, ErrProviderUnavailable) {
				t.Fatalf("unexpected error: %v", err)
			}
			failures++
		}
	}
	if failures != 3 {
		t.Fatalf("failures = %d, want every third call to fail", failures)
	}
}

func TestMockProviderConcurrentCalls(t *testing.T) {
	p := NewMockProvider("bank-api-ES")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.FetchBankingData(context.Background(), "12345678Z", "Juan García López"); err != nil {
				t.Errorf("FetchBankingData: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := p.calls.Load(); got != 50 {
		t.Fatalf("calls = %d, want 50", got)
	}
}

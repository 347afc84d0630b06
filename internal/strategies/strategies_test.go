package strategies

import (
	"context"
	"testing"

	"github.com/andresmv/credithub/internal/domain/application"
	"github.com/andresmv/credithub/internal/providers"
	"github.com/shopspring/decimal"
)

func TestRegistryCoversAllCountries(t *testing.T) {
	r := NewRegistry()

	for _, c := range []application.Country{
		application.CountryES, application.CountryMX, application.CountryCO,
		application.CountryBR, application.CountryPT, application.CountryIT,
	} {
		s, err := r.ForCountry(c)
		if err != nil {
			t.Fatalf("ForCountry(%s): %v", c, err)
		}
		if s.Country() != c {
			t.Errorf("strategy for %s reports country %s", c, s.Country())
		}
	}

	if _, err := r.ForCountry(application.Country("FR")); err == nil {
		t.Error("expected error for unsupported country")
	}
}

func TestDocumentValidators(t *testing.T) {
	r := NewRegistry()

	cases := []struct {
		country  application.Country
		document string
		valid    bool
	}{
		// Spain: DNI control letter is mod 23 over the digits.
		{application.CountryES, "12345678Z", true},
		{application.CountryES, "12345678A", false},
		{application.CountryES, "X1234567L", true},
		{application.CountryES, "X1234567T", false},
		{application.CountryES, "1234567", false},

		// Portugal: NIF mod-11 check digit.
		{application.CountryPT, "123456789", true},
		{application.CountryPT, "123456788", false},
		{application.CountryPT, "12345678", false},

		// Italy: codice fiscale checksum character.
		{application.CountryIT, "RSSMRA85T10A562S", true},
		{application.CountryIT, "RSSMRA85T10A562T", false},
		{application.CountryIT, "RSSMRA85T10A562", false},

		// Mexico: CURP layout with a plausible birth date.
		{application.CountryMX, "GARC850101HDFLNS09", true},
		{application.CountryMX, "GARC851345HDFLNS09", false},
		{application.CountryMX, "GARC85HDFLNS09", false},

		// Colombia: cédula is 6-10 digits.
		{application.CountryCO, "1234567", true},
		{application.CountryCO, "12345", false},
		{application.CountryCO, "0000000", false},

		// Brazil: CPF double check digit, punctuation tolerated.
		{application.CountryBR, "529.982.247-25", true},
		{application.CountryBR, "52998224725", true},
		{application.CountryBR, "52998224724", false},
		{application.CountryBR, "11111111111", false},
	}

	for _, tc := range cases {
		s, err := r.ForCountry(tc.country)
		if err != nil {
			t.Fatalf("ForCountry(%s): %v", tc.country, err)
		}

		got := s.ValidateDocument(tc.document)
		if got.Valid != tc.valid {
			t.Errorf("%s ValidateDocument(%q) valid = %v, want %v (errors: %v)",
				tc.country, tc.document, got.Valid, tc.valid, got.Errors)
		}
		if !got.Valid && len(got.Errors) == 0 {
			t.Errorf("%s ValidateDocument(%q): invalid result must carry reasons", tc.country, tc.document)
		}
	}
}

func testApplication(amount, income string) application.Application {
	return application.Application{
		Country:         application.CountryES,
		RequestedAmount: decimal.RequireFromString(amount),
		MonthlyIncome:   decimal.RequireFromString(income),
		Status:          application.StatusValidating,
	}
}

func goodBanking() providers.BankingData {
	return providers.BankingData{
		ProviderName:       "bank-api-ES",
		CreditScore:        780,
		TotalDebt:          decimal.RequireFromString("1000.00"),
		MonthlyObligations: decimal.RequireFromString("100.00"),
		HasDefaults:        false,
	}
}

func TestEvaluateApprovesLowRisk(t *testing.T) {
	s := NewSpainStrategy()

	d := s.Evaluate(testApplication("6000.00", "3000.00"), goodBanking())
	if d.Status != application.StatusApproved {
		t.Fatalf("status = %s, want APPROVED (score %s, reasons %v)", d.Status, d.RiskScore, d.Reasons)
	}
	if d.RiskScore.GreaterThan(decimal.NewFromInt(35)) {
		t.Errorf("approved application has score %s above the approval band", d.RiskScore)
	}
}

func TestEvaluateRejectsHighRisk(t *testing.T) {
	s := NewSpainStrategy()

	banking := providers.BankingData{
		ProviderName:       "bank-api-ES",
		CreditScore:        420,
		TotalDebt:          decimal.RequireFromString("60000.00"),
		MonthlyObligations: decimal.RequireFromString("900.00"),
		HasDefaults:        true,
	}

	d := s.Evaluate(testApplication("40000.00", "1600.00"), banking)
	if d.Status != application.StatusRejected {
		t.Fatalf("status = %s, want REJECTED (score %s)", d.Status, d.RiskScore)
	}
	if len(d.Reasons) == 0 {
		t.Error("rejection must carry reasons")
	}
}

func TestEvaluateMiddleBandGoesToReview(t *testing.T) {
	s := NewSpainStrategy()

	banking := providers.BankingData{
		ProviderName:       "bank-api-ES",
		CreditScore:        560,
		TotalDebt:          decimal.RequireFromString("500.00"),
		MonthlyObligations: decimal.RequireFromString("50.00"),
		HasDefaults:        false,
	}

	// Base 50 + 10 weak credit = 60: between the approve and reject cuts.
	d := s.Evaluate(testApplication("3000.00", "2000.00"), banking)
	if d.Status != application.StatusUnderReview {
		t.Fatalf("status = %s, want UNDER_REVIEW (score %s, reasons %v)", d.Status, d.RiskScore, d.Reasons)
	}
}

func TestEvaluateHardLimitsRejectOutright(t *testing.T) {
	s := NewSpainStrategy()

	d := s.Evaluate(testApplication("50000.01", "3000.00"), goodBanking())
	if d.Status != application.StatusRejected {
		t.Fatalf("amount over limit: status = %s, want REJECTED", d.Status)
	}
	if !d.RiskScore.Equal(decimal.NewFromInt(100)) {
		t.Errorf("limit breach score = %s, want 100", d.RiskScore)
	}

	d = s.Evaluate(testApplication("1000.00", "1499.99"), goodBanking())
	if d.Status != application.StatusRejected {
		t.Fatalf("income under minimum: status = %s, want REJECTED", d.Status)
	}
}

func TestEvaluateFallbackForcesReview(t *testing.T) {
	s := NewSpainStrategy()

	banking := goodBanking()
	banking.AdditionalData = map[string]any{"fallback": true}

	d := s.Evaluate(testApplication("6000.00", "3000.00"), banking)
	if d.Status != application.StatusUnderReview {
		t.Fatalf("fallback data must go to review, got %s", d.Status)
	}
}

// A clean Spanish applicant evaluated against the mock provider's data must
// come out approved end to end, not just with hand-built banking fixtures.
func TestEvaluateApprovesCleanSpanishApplicantFromMockProvider(t *testing.T) {
	s := NewSpainStrategy()
	p := providers.NewMockProvider("bank-api-ES")

	banking, err := p.FetchBankingData(context.Background(), "12345678Z", "Juan García López")
	if err != nil {
		t.Fatalf("FetchBankingData: %v", err)
	}

	app := testApplication("15000.00", "3500.00")
	app.IdentityDocument = "12345678Z"

	d := s.Evaluate(app, banking)
	if d.Status != application.StatusApproved {
		t.Fatalf("status = %s, want APPROVED (score %s, reasons %v)", d.Status, d.RiskScore, d.Reasons)
	}
}

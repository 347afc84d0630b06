package strategies

import (
	"regexp"
	"strings"

	"github.com/andresmv/credithub/internal/domain/application"
	"github.com/shopspring/decimal"
)

var nifPattern = regexp.MustCompile(`^\d{9}$`)

type PortugalStrategy struct {
	baseStrategy
}

func NewPortugalStrategy() *PortugalStrategy {
	return &PortugalStrategy{baseStrategy{
		country: application.CountryPT,
		limits: Limits{
			MaxAmount: decimal.RequireFromString("30000.00"),
			MinIncome: decimal.RequireFromString("800.00"),
		},
	}}
}

func (s *PortugalStrategy) ValidateDocument(document string) ValidationResult {
	doc := strings.TrimSpace(document)

	if !nifPattern.MatchString(doc) {
		return invalid("NIF must be exactly 9 digits")
	}

	// Mod-11 over the first eight digits, weights 9..2.
	sum := 0
	for i := 0; i < 8; i++ {
		sum += int(doc[i]-'0') * (9 - i)
	}
	check := 11 - sum%11
	if check >= 10 {
		check = 0
	}

	if int(doc[8]-'0') != check {
		return invalid("NIF check digit does not match")
	}
	return valid()
}

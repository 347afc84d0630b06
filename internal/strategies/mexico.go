package strategies

import (
	"regexp"
	"strings"

	"github.com/andresmv/credithub/internal/domain/application"
	"github.com/shopspring/decimal"
)

var curpPattern = regexp.MustCompile(`^[A-Z]{4}\d{6}[HM][A-Z]{5}\d{2}$`)

type MexicoStrategy struct {
	baseStrategy
}

func NewMexicoStrategy() *MexicoStrategy {
	return &MexicoStrategy{baseStrategy{
		country: application.CountryMX,
		limits: Limits{
			MaxAmount: decimal.RequireFromString("200000.00"),
			MinIncome: decimal.RequireFromString("5000.00"),
		},
	}}
}

func (s *MexicoStrategy) ValidateDocument(document string) ValidationResult {
	doc := strings.ToUpper(strings.TrimSpace(document))

	if len(doc) != 18 {
		return invalid("CURP must be exactly 18 characters")
	}
	if !curpPattern.MatchString(doc) {
		return invalid("CURP does not match the expected layout")
	}

	// Embedded birth date must be a plausible calendar date.
	month := (int(doc[6]-'0') * 10) + int(doc[7]-'0')
	day := (int(doc[8]-'0') * 10) + int(doc[9]-'0')
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return invalid("CURP birth date is not valid")
	}
	return valid()
}

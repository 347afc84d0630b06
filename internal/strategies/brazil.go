package strategies

import (
	"regexp"
	"strings"

	"github.com/andresmv/credithub/internal/domain/application"
	"github.com/shopspring/decimal"
)

var cpfDigitsPattern = regexp.MustCompile(`^\d{11}$`)

type BrazilStrategy struct {
	baseStrategy
}

func NewBrazilStrategy() *BrazilStrategy {
	return &BrazilStrategy{baseStrategy{
		country: application.CountryBR,
		limits: Limits{
			MaxAmount: decimal.RequireFromString("100000.00"),
			MinIncome: decimal.RequireFromString("2000.00"),
		},
	}}
}

func (s *BrazilStrategy) ValidateDocument(document string) ValidationResult {
	// Accept punctuated form 000.000.000-00 as well as bare digits.
	doc := strings.NewReplacer(".", "", "-", "").Replace(strings.TrimSpace(document))

	if !cpfDigitsPattern.MatchString(doc) {
		return invalid("CPF must contain exactly 11 digits")
	}
	if strings.Count(doc, string(doc[0])) == 11 {
		return invalid("CPF with all identical digits is not valid")
	}

	if cpfCheckDigit(doc, 9) != int(doc[9]-'0') || cpfCheckDigit(doc, 10) != int(doc[10]-'0') {
		return invalid("CPF check digits do not match")
	}
	return valid()
}

// cpfCheckDigit computes the mod-11 verifier over the first n digits with
// descending weights starting at n+1.
func cpfCheckDigit(doc string, n int) int {
	sum := 0
	for i := 0; i < n; i++ {
		sum += int(doc[i]-'0') * (n + 1 - i)
	}
	rest := (sum * 10) % 11
	if rest == 10 {
		rest = 0
	}
	return rest
}

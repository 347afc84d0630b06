package strategies

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/andresmv/credithub/internal/domain/application"
	"github.com/shopspring/decimal"
)

// dniLetters maps number mod 23 to the DNI/NIE control letter.
const dniLetters = "TRWAGMYFPDXBNJZSQVHLCKE"

var (
	dniPattern = regexp.MustCompile(`^\d{8}[A-Z]$`)
	niePattern = regexp.MustCompile(`^[XYZ]\d{7}[A-Z]$`)
)

type SpainStrategy struct {
	baseStrategy
}

func NewSpainStrategy() *SpainStrategy {
	return &SpainStrategy{baseStrategy{
		country: application.CountryES,
		limits: Limits{
			MaxAmount: decimal.RequireFromString("50000.00"),
			MinIncome: decimal.RequireFromString("1500.00"),
		},
	}}
}

func (s *SpainStrategy) ValidateDocument(document string) ValidationResult {
	doc := strings.ToUpper(strings.TrimSpace(document))

	var digits string
	switch {
	case dniPattern.MatchString(doc):
		digits = doc[:8]
	case niePattern.MatchString(doc):
		// NIE prefix letters stand in for a leading digit.
		prefix := map[byte]string{'X': "0", 'Y': "1", 'Z': "2"}[doc[0]]
		digits = prefix + doc[1:8]
	default:
		return invalid("document must be a DNI (8 digits + letter) or NIE (X/Y/Z + 7 digits + letter)")
	}

	n, err := strconv.Atoi(digits)
	if err != nil {
		return invalid("document digits are not numeric")
	}

	if doc[len(doc)-1] != dniLetters[n%23] {
		return invalid("document control letter does not match")
	}
	return valid()
}

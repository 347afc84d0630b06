package strategies

import (
	"regexp"
	"strings"

	"github.com/andresmv/credithub/internal/domain/application"
	"github.com/shopspring/decimal"
)

var codiceFiscalePattern = regexp.MustCompile(`^[A-Z]{6}\d{2}[A-Z]\d{2}[A-Z]\d{3}[A-Z]$`)

// cfOddValues is the official odd-position table of the codice fiscale
// checksum; even positions use the plain 0-9 / A-Z ordinal.
var cfOddValues = map[byte]int{
	'0': 1, '1': 0, '2': 5, '3': 7, '4': 9, '5': 13, '6': 15, '7': 17, '8': 19, '9': 21,
	'A': 1, 'B': 0, 'C': 5, 'D': 7, 'E': 9, 'F': 13, 'G': 15, 'H': 17, 'I': 19, 'J': 21,
	'K': 2, 'L': 4, 'M': 18, 'N': 20, 'O': 11, 'P': 3, 'Q': 6, 'R': 8, 'S': 12, 'T': 14,
	'U': 16, 'V': 10, 'W': 22, 'X': 25, 'Y': 24, 'Z': 23,
}

type ItalyStrategy struct {
	baseStrategy
}

func NewItalyStrategy() *ItalyStrategy {
	return &ItalyStrategy{baseStrategy{
		country: application.CountryIT,
		limits: Limits{
			MaxAmount: decimal.RequireFromString("40000.00"),
			MinIncome: decimal.RequireFromString("1200.00"),
		},
	}}
}

func (s *ItalyStrategy) ValidateDocument(document string) ValidationResult {
	doc := strings.ToUpper(strings.TrimSpace(document))

	if !codiceFiscalePattern.MatchString(doc) {
		return invalid("codice fiscale must be 16 characters in the standard layout")
	}

	sum := 0
	for i := 0; i < 15; i++ {
		c := doc[i]
		if (i+1)%2 == 1 { // odd position, 1-indexed
			sum += cfOddValues[c]
		} else if c >= '0' && c <= '9' {
			sum += int(c - '0')
		} else {
			sum += int(c - 'A')
		}
	}

	if doc[15] != byte('A'+sum%26) {
		return invalid("codice fiscale check character does not match")
	}
	return valid()
}

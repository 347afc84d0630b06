package strategies

import (
	"regexp"
	"strings"

	"github.com/andresmv/credithub/internal/domain/application"
	"github.com/shopspring/decimal"
)

var cedulaPattern = regexp.MustCompile(`^\d{6,10}$`)

type ColombiaStrategy struct {
	baseStrategy
}

func NewColombiaStrategy() *ColombiaStrategy {
	return &ColombiaStrategy{baseStrategy{
		country: application.CountryCO,
		limits: Limits{
			MaxAmount: decimal.RequireFromString("50000000.00"),
			MinIncome: decimal.RequireFromString("1500000.00"),
		},
	}}
}

func (s *ColombiaStrategy) ValidateDocument(document string) ValidationResult {
	doc := strings.TrimSpace(document)

	if !cedulaPattern.MatchString(doc) {
		return invalid("cédula must be 6 to 10 digits")
	}
	if strings.Trim(doc, "0") == "" {
		return invalid("cédula must not be all zeros")
	}
	return valid()
}

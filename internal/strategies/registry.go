package strategies

import (
	"fmt"

	"github.com/andresmv/credithub/internal/domain/application"
)

// Registry resolves the strategy for a country. Built once at startup and
// read-only afterwards, so it is safe for concurrent workers.
type Registry struct {
	byCountry map[application.Country]Strategy
}

func NewRegistry() *Registry {
	r := &Registry{byCountry: make(map[application.Country]Strategy)}

	for _, s := range []Strategy{
		NewSpainStrategy(),
		NewMexicoStrategy(),
		NewColombiaStrategy(),
		NewBrazilStrategy(),
		NewPortugalStrategy(),
		NewItalyStrategy(),
	} {
		r.byCountry[s.Country()] = s
	}
	return r
}

func (r *Registry) ForCountry(c application.Country) (Strategy, error) {
	s, ok := r.byCountry[c]
	if !ok {
		return nil, fmt.Errorf("%w: %s", application.ErrUnsupportedCountry, c)
	}
	return s, nil
}

func (r *Registry) Countries() []application.Country {
	out := make([]application.Country, 0, len(r.byCountry))
	for c := range r.byCountry {
		out = append(out, c)
	}
	return out
}

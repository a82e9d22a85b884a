package registry

import (
	"fmt"

	"currency-ledger/config"
	"currency-ledger/internal/core/domain"
	"currency-ledger/pkg/apperror"
)

// Registry implements ports.CurrencyRegistry. It is built once at startup
// from configuration and never mutated afterwards, so lookups need no locking.
type Registry struct {
	byName map[string]domain.Currency
	order  []string
}

// New builds a registry from the configured currency definitions.
func New(defs []config.CurrencyConfig) (*Registry, error) {
	r := &Registry{byName: make(map[string]domain.Currency, len(defs))}
	for _, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("currency definition without a name")
		}
		if _, dup := r.byName[def.Name]; dup {
			return nil, fmt.Errorf("duplicate currency %q", def.Name)
		}
		r.byName[def.Name] = domain.Currency{
			Name:            def.Name,
			Plural:          def.Plural,
			Symbol:          def.Symbol,
			Format:          def.Format,
			AllowsNegatives: def.AllowsNegatives,
			AllowsPay:       def.AllowsPay,
			DefaultBalance:  def.DefaultBalance,
		}
		r.order = append(r.order, def.Name)
	}
	return r, nil
}

// Lookup resolves a currency by name.
func (r *Registry) Lookup(name string) (domain.Currency, error) {
	c, ok := r.byName[name]
	if !ok {
		return domain.Currency{}, apperror.ErrCurrencyNotFound(name)
	}
	return c, nil
}

// All returns every registered currency in configuration order.
func (r *Registry) All() []domain.Currency {
	out := make([]domain.Currency, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

package domain

import (
	"fmt"
	"strconv"
)

// Currency is the immutable configuration of a named currency.
// Instances are built once at startup from configuration and are
// safe for concurrent reads.
type Currency struct {
	Name            string  `json:"name"`
	Plural          string  `json:"plural"`
	Symbol          string  `json:"symbol"`
	Format          string  `json:"format"` // fmt.Sprintf template taking the amount
	AllowsNegatives bool    `json:"allows_negatives"`
	AllowsPay       bool    `json:"allows_pay"`
	DefaultBalance  float64 `json:"default_balance"`
}

// FormatAmount renders an amount using the currency's display format.
// Falls back to "<symbol><amount>" when no format is configured.
func (c Currency) FormatAmount(amount float64) string {
	if c.Format == "" {
		return c.Symbol + strconv.FormatFloat(amount, 'f', -1, 64)
	}
	return fmt.Sprintf(c.Format, amount)
}

// DisplayName returns the singular or plural name depending on the amount.
func (c Currency) DisplayName(amount float64) string {
	if amount == 1 {
		return c.Name
	}
	if c.Plural != "" {
		return c.Plural
	}
	return c.Name
}

// Package pricing holds the per-model rate table and turns token counts into
// an exact monetary amount.
package pricing

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Rate is the price of one model, in currency units per 1,000,000 tokens.
// CachedInput and Reasoning are optional; when not valid those token kinds
// are not billed.
type Rate struct {
	Input       decimal.Decimal
	Output      decimal.Decimal
	CachedInput decimal.NullDecimal
	Reasoning   decimal.NullDecimal
}

// NewRate parses input and output rates. It panics on malformed literals and
// is meant for static tables.
func NewRate(input, output string) Rate {
	return Rate{
		Input:  decimal.RequireFromString(input),
		Output: decimal.RequireFromString(output),
	}
}

// WithCachedInput returns a copy of r with a cached-input rate.
func (r Rate) WithCachedInput(v string) Rate {
	r.CachedInput = decimal.NewNullDecimal(decimal.RequireFromString(v))
	return r
}

// WithReasoning returns a copy of r with a reasoning-token rate.
func (r Rate) WithReasoning(v string) Rate {
	r.Reasoning = decimal.NewNullDecimal(decimal.RequireFromString(v))
	return r
}

// Table maps model identifiers to rates. It is immutable after construction
// and safe for concurrent use.
type Table struct {
	rates  map[string]Rate
	models []string
}

// NewTable builds a table from rates. The map is copied.
func NewTable(rates map[string]Rate) *Table {
	t := &Table{
		rates:  make(map[string]Rate, len(rates)),
		models: make([]string, 0, len(rates)),
	}
	for model, rate := range rates {
		t.rates[model] = rate
		t.models = append(t.models, model)
	}
	sort.Strings(t.models)
	return t
}

// Lookup returns the rate for model.
func (t *Table) Lookup(model string) (Rate, bool) {
	r, ok := t.rates[model]
	return r, ok
}

// Models returns every supported model identifier in sorted order.
func (t *Table) Models() []string {
	out := make([]string, len(t.models))
	copy(out, t.models)
	return out
}

// Merge returns a new table with overrides applied on top of t.
func (t *Table) Merge(overrides map[string]Rate) *Table {
	merged := make(map[string]Rate, len(t.rates)+len(overrides))
	for model, rate := range t.rates {
		merged[model] = rate
	}
	for model, rate := range overrides {
		merged[model] = rate
	}
	return NewTable(merged)
}

package pricing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrNegativeTokens is returned when any token count is below zero.
var ErrNegativeTokens = errors.New("token counts must be non-negative")

// Tokens is the token usage of one model call.
type Tokens struct {
	Input       int64
	Output      int64
	CachedInput int64
	Reasoning   int64
}

// UnsupportedModelError is returned for a model missing from the table. The
// message lists every supported model so callers can correct the request.
type UnsupportedModelError struct {
	Model     string
	Supported []string
}

func (e *UnsupportedModelError) Error() string {
	return fmt.Sprintf("Unsupported model: %s. Supported models are: %s", e.Model, strings.Join(e.Supported, ", "))
}

// ComputeCost returns the exact cost of tokens on model. Cached input and
// reasoning tokens are billed only when the model defines a rate for them.
func (t *Table) ComputeCost(model string, tokens Tokens) (decimal.Decimal, error) {
	rate, ok := t.rates[model]
	if !ok {
		return decimal.Zero, &UnsupportedModelError{Model: model, Supported: t.Models()}
	}
	if tokens.Input < 0 || tokens.Output < 0 || tokens.CachedInput < 0 || tokens.Reasoning < 0 {
		return decimal.Zero, ErrNegativeTokens
	}

	total := perMillion(tokens.Input, rate.Input).
		Add(perMillion(tokens.Output, rate.Output))
	if rate.CachedInput.Valid {
		total = total.Add(perMillion(tokens.CachedInput, rate.CachedInput.Decimal))
	}
	if rate.Reasoning.Valid {
		total = total.Add(perMillion(tokens.Reasoning, rate.Reasoning.Decimal))
	}
	return total, nil
}

func perMillion(tokens int64, rate decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(tokens).Mul(rate).Shift(-6)
}

package pricing

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeCost_GPT4Example(t *testing.T) {
	cost, err := Default().ComputeCost("gpt-4", Tokens{Input: 100, Output: 50})
	require.NoError(t, err)

	assert.True(t, cost.Equal(decimal.RequireFromString("0.006")), "got %s", cost)
}

func TestComputeCost_OptionalRates(t *testing.T) {
	table := Default()

	tests := []struct {
		name   string
		model  string
		tokens Tokens
		want   string
	}{
		{
			name:   "cached input billed when defined",
			model:  "gpt-4o-2024-08-06",
			tokens: Tokens{Input: 1000, Output: 1000, CachedInput: 1000},
			want:   "0.01375", // 0.0025 + 0.01 + 0.00125
		},
		{
			name:   "cached input ignored when undefined",
			model:  "claude-3-haiku-20240307",
			tokens: Tokens{Input: 1000, Output: 1000, CachedInput: 5000},
			want:   "0.0015",
		},
		{
			name:   "reasoning billed when defined",
			model:  "mistral-large",
			tokens: Tokens{Input: 0, Output: 0, Reasoning: 1_000_000},
			want:   "2.7",
		},
		{
			name:   "reasoning ignored when undefined",
			model:  "gpt-4",
			tokens: Tokens{Reasoning: 1_000_000},
			want:   "0",
		},
		{
			name:   "zero tokens",
			model:  "llama-3-70b",
			tokens: Tokens{},
			want:   "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := table.ComputeCost(tt.model, tt.tokens)
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestComputeCost_LinearAndMonotonic(t *testing.T) {
	table := Default()

	for _, model := range table.Models() {
		base := Tokens{Input: 1234, Output: 567, CachedInput: 89, Reasoning: 10}
		c1, err := table.ComputeCost(model, base)
		require.NoError(t, err)

		doubled := Tokens{Input: 2 * base.Input, Output: 2 * base.Output, CachedInput: 2 * base.CachedInput, Reasoning: 2 * base.Reasoning}
		c2, err := table.ComputeCost(model, doubled)
		require.NoError(t, err)
		assert.True(t, c2.Equal(c1.Mul(decimal.NewFromInt(2))), "%s: cost not linear", model)

		bumps := []Tokens{
			{Input: base.Input + 1, Output: base.Output, CachedInput: base.CachedInput, Reasoning: base.Reasoning},
			{Input: base.Input, Output: base.Output + 1, CachedInput: base.CachedInput, Reasoning: base.Reasoning},
			{Input: base.Input, Output: base.Output, CachedInput: base.CachedInput + 1, Reasoning: base.Reasoning},
			{Input: base.Input, Output: base.Output, CachedInput: base.CachedInput, Reasoning: base.Reasoning + 1},
		}
		for _, b := range bumps {
			cb, err := table.ComputeCost(model, b)
			require.NoError(t, err)
			assert.True(t, cb.GreaterThanOrEqual(c1), "%s: cost decreased for %+v", model, b)
		}
	}
}

func TestComputeCost_NoFloatDrift(t *testing.T) {
	table := Default()
	one, err := table.ComputeCost("gpt-4o-mini", Tokens{Input: 1, Output: 1})
	require.NoError(t, err)

	sum := decimal.Zero
	for i := 0; i < 1_000_000; i++ {
		sum = sum.Add(one)
	}
	assert.True(t, sum.Equal(decimal.RequireFromString("0.75")), "got %s", sum)
}

func TestComputeCost_UnsupportedModelListsAll(t *testing.T) {
	table := Default()

	_, err := table.ComputeCost("gpt-9000", Tokens{Input: 1})
	require.Error(t, err)

	var unsupported *UnsupportedModelError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, "gpt-9000", unsupported.Model)
	assert.Contains(t, err.Error(), "Unsupported model: gpt-9000")
	for _, model := range table.Models() {
		assert.Contains(t, err.Error(), model)
	}
}

func TestComputeCost_NegativeTokens(t *testing.T) {
	_, err := Default().ComputeCost("gpt-4", Tokens{Input: -1})
	assert.ErrorIs(t, err, ErrNegativeTokens)
}

func TestModelsSortedAndCopied(t *testing.T) {
	table := NewTable(map[string]Rate{
		"b": NewRate("1", "1"),
		"a": NewRate("1", "1"),
	})
	models := table.Models()
	assert.Equal(t, []string{"a", "b"}, models)

	models[0] = "mutated"
	assert.Equal(t, []string{"a", "b"}, table.Models())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	content := `
models:
  gpt-4:
    input: 20
    output: 40
  house-model:
    input: "0.1"
    output: 0.3
    reasoning: 0.05
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	table, err := LoadFile(Default(), path)
	require.NoError(t, err)

	cost, err := table.ComputeCost("gpt-4", Tokens{Input: 1_000_000})
	require.NoError(t, err)
	assert.True(t, cost.Equal(decimal.NewFromInt(20)))

	cost, err = table.ComputeCost("house-model", Tokens{Output: 1_000_000, Reasoning: 1_000_000})
	require.NoError(t, err)
	assert.True(t, cost.Equal(decimal.RequireFromString("0.35")), "got %s", cost)

	_, ok := table.Lookup("claude-2.1")
	assert.True(t, ok, "defaults should survive the merge")

	// the base table is untouched
	cost, err = Default().ComputeCost("gpt-4", Tokens{Input: 1_000_000})
	require.NoError(t, err)
	assert.True(t, cost.Equal(decimal.NewFromInt(30)))
}

func TestLoadFile_Invalid(t *testing.T) {
	dir := t.TempDir()

	cases := map[string]string{
		"missing output": "models:\n  m:\n    input: 1\n",
		"negative rate":  "models:\n  m:\n    input: -1\n    output: 1\n",
		"not a number":   "models:\n  m:\n    input: cheap\n    output: 1\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
			_, err := LoadFile(Default(), path)
			assert.Error(t, err)
		})
	}

	_, err := LoadFile(Default(), filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

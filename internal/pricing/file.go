package pricing

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// fileRate is one model entry of a pricing override file:
//
//	models:
//	  gpt-4:
//	    input: 30
//	    output: 60
//	    cached_input: 15
type fileRate struct {
	Input       *yamlDecimal `yaml:"input"`
	Output      *yamlDecimal `yaml:"output"`
	CachedInput *yamlDecimal `yaml:"cached_input"`
	Reasoning   *yamlDecimal `yaml:"reasoning"`
}

type pricingFile struct {
	Models map[string]fileRate `yaml:"models"`
}

// yamlDecimal reads the scalar text directly so rates never pass through
// float64.
type yamlDecimal struct {
	decimal.Decimal
}

func (d *yamlDecimal) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: rate must be a number", node.Line)
	}
	v, err := decimal.NewFromString(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid rate %q: %w", node.Line, node.Value, err)
	}
	if v.IsNegative() {
		return fmt.Errorf("line %d: rate must be non-negative", node.Line)
	}
	d.Decimal = v
	return nil
}

// LoadFile reads a YAML override file and returns base with its entries
// added or replaced.
func LoadFile(base *Table, path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pricing file: %w", err)
	}
	overrides, err := parseOverrides(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pricing file %s: %w", path, err)
	}
	return base.Merge(overrides), nil
}

func parseOverrides(data []byte) (map[string]Rate, error) {
	var f pricingFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	out := make(map[string]Rate, len(f.Models))
	for model, fr := range f.Models {
		if fr.Input == nil || fr.Output == nil {
			return nil, fmt.Errorf("model %s: input and output rates are required", model)
		}
		r := Rate{Input: fr.Input.Decimal, Output: fr.Output.Decimal}
		if fr.CachedInput != nil {
			r.CachedInput = decimal.NewNullDecimal(fr.CachedInput.Decimal)
		}
		if fr.Reasoning != nil {
			r.Reasoning = decimal.NewNullDecimal(fr.Reasoning.Decimal)
		}
		out[model] = r
	}
	return out, nil
}

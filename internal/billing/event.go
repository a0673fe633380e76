package billing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/vnmchuo/usage-tracker/internal/apperr"
)

// requiredFields are checked in this order; the first missing one is
// reported.
var requiredFields = []string{"model_name", "input_tokens", "output_tokens", "user_id", "organization_id"}

// reservedKeys never end up in Metadata.
var reservedKeys = map[string]bool{
	"model_name":          true,
	"input_tokens":        true,
	"output_tokens":       true,
	"cached_input_tokens": true,
	"reasoning_tokens":    true,
	"user_id":             true,
	"organization_id":     true,
	"timestamp":           true,
	"record_id":           true,
	"total_cost":          true,
	"request_id":          true,
	"conversation_id":     true,
}

// UsageEvent is a caller's report of one model call, before validation.
// Nil token pointers and empty strings mean the field was not supplied.
type UsageEvent struct {
	ModelName         string
	InputTokens       *int64
	OutputTokens      *int64
	UserID            string
	OrganizationID    string
	CachedInputTokens int64
	ReasoningTokens   int64
	Timestamp         string
	Metadata          map[string]any

	// malformed holds type problems seen while decoding; they are reported
	// after the presence checks
	malformed []*apperr.ValidationError
}

// UnmarshalJSON accepts token counts as JSON integers or integer strings and
// collects unknown keys into Metadata. Only JSON syntax errors fail here;
// field problems surface from Validate.
func (e *UsageEvent) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return err
	}
	if fields == nil {
		return fmt.Errorf("usage event must be a JSON object")
	}

	*e = UsageEvent{}
	e.ModelName = e.stringField(fields, "model_name")
	e.UserID = e.stringField(fields, "user_id")
	e.OrganizationID = e.stringField(fields, "organization_id")
	e.Timestamp = e.stringField(fields, "timestamp")
	e.InputTokens = e.tokenField(fields, "input_tokens")
	e.OutputTokens = e.tokenField(fields, "output_tokens")
	if n := e.tokenField(fields, "cached_input_tokens"); n != nil {
		e.CachedInputTokens = *n
	}
	if n := e.tokenField(fields, "reasoning_tokens"); n != nil {
		e.ReasoningTokens = *n
	}

	for k, v := range fields {
		if reservedKeys[k] {
			continue
		}
		if e.Metadata == nil {
			e.Metadata = make(map[string]any)
		}
		e.Metadata[k] = v
	}
	return nil
}

func (e *UsageEvent) stringField(fields map[string]any, name string) string {
	switch v := fields[name].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		e.malformed = append(e.malformed, apperr.Invalid(name, fmt.Sprintf("Invalid value for field: %s", name)))
		return ""
	}
}

func (e *UsageEvent) tokenField(fields map[string]any, name string) *int64 {
	var text string
	switch v := fields[name].(type) {
	case nil:
		return nil
	case json.Number:
		text = v.String()
	case string:
		text = v
	default:
		e.malformed = append(e.malformed, apperr.Invalid(name, fmt.Sprintf("%s must be an integer", name)))
		return nil
	}

	d, err := decimal.NewFromString(text)
	if err != nil || !d.IsInteger() || d.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || d.LessThan(decimal.NewFromInt(math.MinInt64)) {
		e.malformed = append(e.malformed, apperr.Invalid(name, fmt.Sprintf("%s must be an integer", name)))
		return nil
	}
	n := d.IntPart()
	return &n
}

// Validate checks required fields in order, then value constraints.
func (e *UsageEvent) Validate() error {
	present := map[string]bool{
		"model_name":      e.ModelName != "",
		"input_tokens":    e.InputTokens != nil,
		"output_tokens":   e.OutputTokens != nil,
		"user_id":         e.UserID != "",
		"organization_id": e.OrganizationID != "",
	}
	// a malformed required field is reported as invalid, not missing
	malformed := make(map[string]bool, len(e.malformed))
	for _, m := range e.malformed {
		malformed[m.Field] = true
	}
	for _, f := range requiredFields {
		if !present[f] && !malformed[f] {
			return apperr.Missing(f)
		}
	}
	if len(e.malformed) > 0 {
		return e.malformed[0]
	}

	counts := []struct {
		name string
		n    int64
	}{
		{"input_tokens", *e.InputTokens},
		{"output_tokens", *e.OutputTokens},
		{"cached_input_tokens", e.CachedInputTokens},
		{"reasoning_tokens", e.ReasoningTokens},
	}
	for _, c := range counts {
		if c.n < 0 {
			return apperr.Invalid(c.name, fmt.Sprintf("%s must be a non-negative integer", c.name))
		}
	}
	return nil
}

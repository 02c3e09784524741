package model

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hupe1980/agentweave/core"
)

// SchemaDirective renders the instruction block that tells a backend to honor
// an output schema. Providers embed it into the system prompt; conformance is
// still validated downstream, never assumed.
func SchemaDirective(schema *core.Schema) string {
	if schema == nil {
		return ""
	}

	spec, err := json.MarshalIndent(schema.JSONMap(), "", "  ")
	if err != nil {
		spec = []byte("{}")
	}

	var b strings.Builder
	b.WriteString("Respond with a single JSON object and nothing else. ")
	b.WriteString("The object must match this JSON schema:\n")
	b.Write(spec)

	return b.String()
}

// RenderInstructions combines a request's instructions with its schema
// directive. Provider adapters use this as the effective system prompt.
func RenderInstructions(req Request) string {
	directive := SchemaDirective(req.Schema)
	if directive == "" {
		return req.Instructions
	}

	if req.Instructions == "" {
		return directive
	}

	return req.Instructions + "\n\n" + directive
}

// ExtractJSON locates and decodes the first JSON object in a reply. Models
// routinely wrap their JSON in prose or markdown fences; everything before
// the opening brace and after the closing one is ignored.
func ExtractJSON(text string) (map[string]any, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil, fmt.Errorf("no JSON object found")
	}

	dec := json.NewDecoder(strings.NewReader(text[start:]))
	dec.UseNumber()

	var value map[string]any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}

	return normalizeNumbers(value).(map[string]any), nil
}

// normalizeNumbers converts json.Number values into float64 so downstream
// validation and consumers see one numeric representation.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = normalizeNumbers(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = normalizeNumbers(item)
		}
		return t
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	default:
		return v
	}
}

// Structured performs one blocking generation call that must yield a value
// conforming to the request schema. Extraction or decoding failures classify
// as malformed provider replies (never retried); a decoded value that fails
// strict validation surfaces as a schema violation.
func Structured(ctx context.Context, m Model, req Request) (map[string]any, *Result, error) {
	if req.Schema == nil {
		return nil, nil, fmt.Errorf("structured call requires a schema")
	}

	res, err := m.Invoke(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	value, err := ExtractJSON(res.Text)
	if err != nil {
		return nil, res, NewMalformed(m.Info().Provider, "reply carries no decodable JSON object", err)
	}

	if err := req.Schema.Validate(value, core.Strict); err != nil {
		return nil, res, err
	}

	return value, res, nil
}

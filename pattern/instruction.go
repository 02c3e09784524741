package pattern

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// Provider supplies dynamic instruction text at runtime.
type Provider interface {
	Instruction(values map[string]any) (string, error)
}

// ProviderFunc is a functional adapter to allow ordinary functions to be used
// as Providers.
type ProviderFunc func(values map[string]any) (string, error)

// Instruction implements Provider.
func (f ProviderFunc) Instruction(values map[string]any) (string, error) { return f(values) }

// Instruction represents either a static instruction string, possibly with
// {{.key}} template markers rendered against per-call values, or a dynamic
// provider. This mirrors a union of string | provider in a Go-idiomatic way.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstruction creates an Instruction from a static string or template.
func NewInstruction(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(values map[string]any) (string, error)) Instruction {
	return Instruction{provider: ProviderFunc(f)}
}

// IsZero reports whether the instruction carries neither text nor provider.
func (i Instruction) IsZero() bool { return i.text == "" && i.provider == nil }

// Resolve returns the instruction text, invoking the provider or rendering
// the template as needed.
func (i Instruction) Resolve(values map[string]any) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(values)
	}

	return renderTemplate(i.text, values)
}

// renderTemplate replaces template variables using Go's text/template package.
func renderTemplate(text string, values map[string]any) (string, error) {
	if !strings.Contains(text, "{{") { // fast path: no template markers
		return text, nil
	}

	tmpl, err := template.New("instruction").Funcs(template.FuncMap{
		"default": func(defaultVal any, val any) any {
			if val == nil || val == "" {
				return defaultVal
			}
			return val
		},
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"join": func(sep string, items []any) string {
			strItems := make([]string, len(items))
			for i, item := range items {
				strItems[i] = fmt.Sprintf("%v", item)
			}
			return strings.Join(strItems, sep)
		},
	}).Parse(text)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, values); err != nil {
		return "", err
	}

	return buf.String(), nil
}

package core

import (
	"fmt"
	"reflect"
	"strings"
)

// Kind enumerates the value types a schema field can declare.
type Kind string

const (
	// KindString matches JSON strings.
	KindString Kind = "string"
	// KindNumber matches any JSON number.
	KindNumber Kind = "number"
	// KindInteger matches JSON numbers without a fractional part.
	KindInteger Kind = "integer"
	// KindBoolean matches JSON booleans.
	KindBoolean Kind = "boolean"
	// KindObject matches JSON objects, optionally with a nested schema.
	KindObject Kind = "object"
	// KindArray matches JSON arrays, optionally with a typed element.
	KindArray Kind = "array"
)

// Field describes one named member of a Schema. Fields keep their declared
// order; generation backends are instructed with that order and validation
// reports follow it.
type Field struct {
	Name        string
	Kind        Kind
	Description string
	Required    bool
	Object      *Schema // nested members when Kind == KindObject
	Elem        *Field  // element type when Kind == KindArray (Name unused)
}

// Optional returns a copy of the field with the required flag cleared.
func (f Field) Optional() Field {
	f.Required = false
	return f
}

// String declares a required string field.
func String(name, description string) Field {
	return Field{Name: name, Kind: KindString, Description: description, Required: true}
}

// Number declares a required number field.
func Number(name, description string) Field {
	return Field{Name: name, Kind: KindNumber, Description: description, Required: true}
}

// Integer declares a required integer field.
func Integer(name, description string) Field {
	return Field{Name: name, Kind: KindInteger, Description: description, Required: true}
}

// Boolean declares a required boolean field.
func Boolean(name, description string) Field {
	return Field{Name: name, Kind: KindBoolean, Description: description, Required: true}
}

// Object declares a required object field with nested members.
func Object(name, description string, fields ...Field) Field {
	return Field{Name: name, Kind: KindObject, Description: description, Required: true, Object: NewSchema(fields...)}
}

// Array declares a required array field with a typed element.
func Array(name, description string, elem Field) Field {
	return Field{Name: name, Kind: KindArray, Description: description, Required: true, Elem: &elem}
}

// Schema is a structural description of an expected output shape: an ordered
// set of named, typed, optionally-required fields. A Schema is immutable once
// an execution starts; callers that need variations build new values.
type Schema struct {
	Fields []Field
}

// NewSchema builds a schema from ordered field declarations.
func NewSchema(fields ...Field) *Schema {
	return &Schema{Fields: fields}
}

// Field returns the declaration for name, if present.
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// JSONMap renders the schema as a JSON-Schema-shaped map, the form providers
// and tool definitions consume.
func (s *Schema) JSONMap() map[string]any {
	properties := make(map[string]any, len(s.Fields))
	required := make([]string, 0, len(s.Fields))

	for _, f := range s.Fields {
		properties[f.Name] = f.jsonMap()
		if f.Required {
			required = append(required, f.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}

	if len(required) > 0 {
		schema["required"] = required
	}

	return schema
}

func (f Field) jsonMap() map[string]any {
	m := map[string]any{"type": string(f.Kind)}

	if f.Description != "" {
		m["description"] = f.Description
	}

	switch f.Kind {
	case KindObject:
		if f.Object != nil {
			nested := f.Object.JSONMap()
			m["properties"] = nested["properties"]
			if req, ok := nested["required"]; ok {
				m["required"] = req
			}
		}
	case KindArray:
		if f.Elem != nil {
			m["items"] = f.Elem.jsonMap()
		}
	}

	return m
}

// FieldViolation describes one field that failed validation.
type FieldViolation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// SchemaViolationError aggregates every field violation found in one
// validation pass.
type SchemaViolationError struct {
	Violations []FieldViolation
}

// Error implements the error interface.
func (e *SchemaViolationError) Error() string {
	if len(e.Violations) == 0 {
		return "schema violation"
	}

	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = fmt.Sprintf("%s: %s", v.Field, v.Message)
	}

	return "schema violation: " + strings.Join(parts, "; ")
}

// ErrorCode implements Coded.
func (e *SchemaViolationError) ErrorCode() ErrorCode { return CodeSchemaViolation }

// Mode selects how strictly Validate treats missing fields.
type Mode int

const (
	// Partial tolerates absent required fields; every field that is present
	// must still type-check. This is the mid-stream mode.
	Partial Mode = iota
	// Strict requires every required field to be present and well-typed.
	Strict
)

// Validate checks a decoded JSON value against the schema in the given mode.
// It returns a *SchemaViolationError listing every violation found, or nil.
// Fields not declared in the schema are tolerated in both modes.
func (s *Schema) Validate(value map[string]any, mode Mode) error {
	violations := s.validate(value, mode, "")
	if len(violations) == 0 {
		return nil
	}
	return &SchemaViolationError{Violations: violations}
}

func (s *Schema) validate(value map[string]any, mode Mode, path string) []FieldViolation {
	var violations []FieldViolation

	for _, f := range s.Fields {
		fieldPath := f.Name
		if path != "" {
			fieldPath = path + "." + f.Name
		}

		v, present := value[f.Name]
		if !present {
			if f.Required && mode == Strict {
				violations = append(violations, FieldViolation{Field: fieldPath, Message: "required field is missing"})
			}
			continue
		}

		violations = append(violations, f.check(v, mode, fieldPath)...)
	}

	return violations
}

func (f Field) check(v any, mode Mode, path string) []FieldViolation {
	if v == nil {
		// A null is a placeholder mid-stream; strict mode treats it as absent.
		if f.Required && mode == Strict {
			return []FieldViolation{{Field: path, Message: "required field is null"}}
		}
		return nil
	}

	switch f.Kind {
	case KindString:
		if _, ok := v.(string); !ok {
			return []FieldViolation{{Field: path, Message: fmt.Sprintf("expected string, got %T", v)}}
		}
	case KindNumber:
		if !isNumeric(v) {
			return []FieldViolation{{Field: path, Message: fmt.Sprintf("expected number, got %T", v)}}
		}
	case KindInteger:
		if !isIntegral(v) {
			return []FieldViolation{{Field: path, Message: fmt.Sprintf("expected integer, got %v (%T)", v, v)}}
		}
	case KindBoolean:
		if _, ok := v.(bool); !ok {
			return []FieldViolation{{Field: path, Message: fmt.Sprintf("expected boolean, got %T", v)}}
		}
	case KindObject:
		obj, ok := v.(map[string]any)
		if !ok {
			return []FieldViolation{{Field: path, Message: fmt.Sprintf("expected object, got %T", v)}}
		}
		if f.Object != nil {
			return f.Object.validate(obj, mode, path)
		}
	case KindArray:
		arr, ok := v.([]any)
		if !ok {
			return []FieldViolation{{Field: path, Message: fmt.Sprintf("expected array, got %T", v)}}
		}
		if f.Elem != nil {
			var violations []FieldViolation
			for i, item := range arr {
				violations = append(violations, f.Elem.check(item, mode, fmt.Sprintf("%s[%d]", path, i))...)
			}
			return violations
		}
	}

	return nil
}

// isNumeric reports whether v is any numeric value.
func isNumeric(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}

// isIntegral reports whether v is a numeric value without a fractional part.
// JSON unmarshaling produces float64 for all numbers, so whole floats count.
func isIntegral(v any) bool {
	switch n := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float64:
		return n == float64(int64(n))
	case float32:
		return float64(n) == float64(int64(n))
	}
	return false
}

// SchemaOf derives a Schema from a Go struct using reflection. Field names
// come from json tags, descriptions from description tags; pointer fields and
// fields tagged omitempty are optional. This is a convenience for declaring
// tool parameter schemas from Go types.
func SchemaOf(structType any) *Schema {
	t := reflect.TypeOf(structType)
	if t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if t == nil || t.Kind() != reflect.Struct {
		return NewSchema()
	}

	fields := make([]Field, 0, t.NumField())

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}

		jsonTag := sf.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}

		name := sf.Name
		if jsonTag != "" {
			if parts := strings.Split(jsonTag, ","); parts[0] != "" {
				name = parts[0]
			}
		}

		f := fieldOf(sf.Type)
		f.Name = name
		f.Description = sf.Tag.Get("description")
		f.Required = !hasOmitEmpty(jsonTag) && sf.Type.Kind() != reflect.Ptr

		fields = append(fields, f)
	}

	return NewSchema(fields...)
}

func fieldOf(t reflect.Type) Field {
	switch t.Kind() {
	case reflect.String:
		return Field{Kind: KindString}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Field{Kind: KindInteger}
	case reflect.Float32, reflect.Float64:
		return Field{Kind: KindNumber}
	case reflect.Bool:
		return Field{Kind: KindBoolean}
	case reflect.Slice, reflect.Array:
		elem := fieldOf(t.Elem())
		return Field{Kind: KindArray, Elem: &elem}
	case reflect.Struct:
		nested := make([]Field, 0, t.NumField())
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if !sf.IsExported() || sf.Tag.Get("json") == "-" {
				continue
			}
			name := sf.Name
			if parts := strings.Split(sf.Tag.Get("json"), ","); parts[0] != "" {
				name = parts[0]
			}
			f := fieldOf(sf.Type)
			f.Name = name
			f.Description = sf.Tag.Get("description")
			f.Required = !hasOmitEmpty(sf.Tag.Get("json")) && sf.Type.Kind() != reflect.Ptr
			nested = append(nested, f)
		}
		return Field{Kind: KindObject, Object: NewSchema(nested...)}
	case reflect.Map:
		return Field{Kind: KindObject}
	case reflect.Ptr:
		return fieldOf(t.Elem())
	default:
		return Field{Kind: KindString}
	}
}

// hasOmitEmpty checks if a JSON tag has the "omitempty" option.
func hasOmitEmpty(tag string) bool {
	parts := strings.Split(tag, ",")
	for _, part := range parts[1:] {
		if strings.TrimSpace(part) == "omitempty" {
			return true
		}
	}
	return false
}

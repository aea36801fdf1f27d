package llm

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

var (
	errNotJSON       = errors.New("LLM returned non-JSON response")
	errSchemaInvalid = errors.New("Schema validation failed")
)

// Schema is the contract a stage response must satisfy. Prepare runs on the
// decoded object before validation and may coerce loose model output
// (numeric strings, lowercase enums, missing optional arrays).
type Schema struct {
	Name        string
	Description string
	JSON        *jsonschema.Schema
	Prepare     func(obj map[string]any)

	resolved *jsonschema.Resolved
}

// NewSchema resolves js once so every call validates against the same tree.
func NewSchema(name string, js *jsonschema.Schema, prepare func(map[string]any)) (*Schema, error) {
	resolved, err := js.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve %s schema: %w", name, err)
	}
	desc, err := json.MarshalIndent(js, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("describe %s schema: %w", name, err)
	}
	return &Schema{
		Name:        name,
		Description: string(desc),
		JSON:        js,
		Prepare:     prepare,
		resolved:    resolved,
	}, nil
}

// MustSchema is NewSchema for package-level schema variables.
func MustSchema(name string, js *jsonschema.Schema, prepare func(map[string]any)) *Schema {
	s, err := NewSchema(name, js, prepare)
	if err != nil {
		panic(err)
	}
	return s
}

// Check parses raw as a JSON object, prepares it and validates it. The
// returned document is the prepared object, ready to decode into a Go type.
func (s *Schema) Check(raw []byte) (json.RawMessage, error) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, errNotJSON
	}
	if s == nil {
		return json.RawMessage(raw), nil
	}
	if s.Prepare != nil {
		s.Prepare(obj)
	}
	if s.resolved != nil {
		if err := s.resolved.Validate(obj); err != nil {
			return nil, fmt.Errorf("%w: %s", errSchemaInvalid, err.Error())
		}
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errSchemaInvalid, err.Error())
	}
	return out, nil
}

func (s *Schema) name() string {
	if s == nil || s.Name == "" {
		return "any"
	}
	return s.Name
}

package pipeline

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/memohai/botsmith/internal/blueprint"
	"github.com/memohai/botsmith/internal/llm"
)

type intentResult struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

type builderResult struct {
	Blueprint  blueprint.Blueprint `json:"blueprint"`
	Summary    string              `json:"summary"`
	Confidence float64             `json:"confidence"`
}

type advisorResult struct {
	Critique          []string        `json:"critique"`
	Suggestions       []string        `json:"suggestions"`
	ImprovedBlueprint json.RawMessage `json:"improvedBlueprint,omitempty"`
	Summary           string          `json:"summary"`
}

func ptr[T any](v T) *T { return &v }

func confidenceSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "number", Minimum: ptr(0.0), Maximum: ptr(1.0)}
}

func stringList(minLen, minItems int) *jsonschema.Schema {
	item := &jsonschema.Schema{Type: "string"}
	if minLen > 0 {
		item.MinLength = ptr(minLen)
	}
	s := &jsonschema.Schema{Type: "array", Items: item}
	if minItems > 0 {
		s.MinItems = ptr(minItems)
	}
	return s
}

var intentSchema = llm.MustSchema("intent", &jsonschema.Schema{
	Type:     "object",
	Required: []string{"intent", "confidence"},
	Properties: map[string]*jsonschema.Schema{
		"intent":     {Type: "string", Enum: enumOf(Intents)},
		"confidence": confidenceSchema(),
	},
}, func(obj map[string]any) {
	if s, ok := obj["intent"].(string); ok {
		obj["intent"] = strings.ToUpper(strings.TrimSpace(s))
	}
	coerceNumber(obj, "confidence")
})

var planSchema = llm.MustSchema("plan", blueprint.PlanJSONSchema(), func(obj map[string]any) {
	defaultList(obj, "dataNeeds")
	defaultList(obj, "assumptions")
})

var builderSchema = llm.MustSchema("builder", &jsonschema.Schema{
	Type:     "object",
	Required: []string{"blueprint", "summary", "confidence"},
	Properties: map[string]*jsonschema.Schema{
		"blueprint":  blueprint.JSONSchema(),
		"summary":    {Type: "string", MinLength: ptr(5), MaxLength: ptr(200)},
		"confidence": confidenceSchema(),
	},
}, func(obj map[string]any) {
	coerceNumber(obj, "confidence")
	if s, ok := obj["summary"].(string); ok {
		obj["summary"] = strings.TrimSpace(s)
	}
	if bp, ok := obj["blueprint"].(map[string]any); ok {
		defaultList(bp, "skills")
		defaultList(bp, "triggers")
		if _, ok := bp["config"].(map[string]any); !ok {
			bp["config"] = map[string]any{}
		}
	}
})

var advisorSchema = llm.MustSchema("advisor", &jsonschema.Schema{
	Type:     "object",
	Required: []string{"suggestions", "summary"},
	Properties: map[string]*jsonschema.Schema{
		"critique":    stringList(5, 0),
		"suggestions": stringList(5, 1),
		"summary":     {Type: "string"},
	},
}, func(obj map[string]any) {
	defaultList(obj, "critique")
})

func enumOf(values []string) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		out = append(out, v)
	}
	return out
}

// coerceNumber turns a numeric string field into a number.
func coerceNumber(obj map[string]any, key string) {
	s, ok := obj[key].(string)
	if !ok {
		return
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		obj[key] = f
	}
}

func defaultList(obj map[string]any, key string) {
	if v, ok := obj[key]; !ok || v == nil {
		obj[key] = []any{}
	}
}

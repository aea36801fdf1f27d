// Package prompts renders the stage prompts sent through the LLM gateway.
package prompts

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/memohai/botsmith/internal/blueprint"
)

// Prompt names in prompts.yaml.
const (
	Intent  = "intent"
	Planner = "planner"
	Builder = "builder"
	Repair  = "repair"
	Advisor = "advisor"
)

//go:embed prompts.yaml
var catalogYAML []byte

// IntentData feeds the intent prompt.
type IntentData struct {
	Message      string
	SessionState string
	History      string
}

// PlannerData feeds the planner prompt.
type PlannerData struct {
	Intent  string
	Message string
}

// Example is a past bot shown to the builder as inspiration.
type Example struct {
	Name        string
	Description string
	Skills      []string
}

// BuilderData feeds the builder prompt.
type BuilderData struct {
	Message  string
	Intent   string
	Plan     blueprint.Plan
	Examples []Example
}

// RepairData feeds the repair prompt. Context is a JSON snippet.
type RepairData struct {
	Issues    []string
	Blueprint blueprint.Blueprint
	Context   string
}

// AdvisorData feeds the advisor prompt.
type AdvisorData struct {
	Blueprint blueprint.Blueprint
	Message   string
	Context   string
}

// Catalog holds the parsed prompt templates.
type Catalog struct {
	templates map[string]*template.Template
}

var funcs = template.FuncMap{
	"quote": Quote,
	"join":  strings.Join,
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
}

// Load parses the embedded catalog.
func Load() (*Catalog, error) {
	return Parse(catalogYAML)
}

// Parse builds a catalog from YAML mapping prompt names to templates.
func Parse(data []byte) (*Catalog, error) {
	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse prompt catalog: %w", err)
	}
	c := &Catalog{templates: make(map[string]*template.Template, len(raw))}
	for name, text := range raw {
		tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse prompt %q: %w", name, err)
		}
		c.templates[name] = tmpl
	}
	for _, required := range []string{Intent, Planner, Builder, Repair, Advisor} {
		if _, ok := c.templates[required]; !ok {
			return nil, fmt.Errorf("prompt catalog: missing %q", required)
		}
	}
	return c, nil
}

// MustLoad is Load for wiring code.
func MustLoad() *Catalog {
	c, err := Load()
	if err != nil {
		panic(err)
	}
	return c
}

// Render executes the named prompt with data.
func (c *Catalog) Render(name string, data any) (string, error) {
	tmpl, ok := c.templates[name]
	if !ok {
		return "", fmt.Errorf("unknown prompt %q", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt %q: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Names lists the catalog entries in order.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.templates))
	for name := range c.templates {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Quote wraps content with backticks.
func Quote(content string) string {
	return fmt.Sprintf("`%s`", content)
}

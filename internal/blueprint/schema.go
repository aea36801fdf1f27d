package blueprint

import "github.com/google/jsonschema-go/jsonschema"

func ptr[T any](v T) *T { return &v }

func str(minLen, maxLen int) *jsonschema.Schema {
	s := &jsonschema.Schema{Type: "string"}
	if minLen > 0 {
		s.MinLength = ptr(minLen)
	}
	if maxLen > 0 {
		s.MaxLength = ptr(maxLen)
	}
	return s
}

func list(items *jsonschema.Schema, minItems, maxItems int) *jsonschema.Schema {
	s := &jsonschema.Schema{Type: "array", Items: items}
	if minItems > 0 {
		s.MinItems = ptr(minItems)
	}
	if maxItems > 0 {
		s.MaxItems = ptr(maxItems)
	}
	return s
}

// JSONSchema describes the blueprint object the builder and repair stages must emit.
func JSONSchema() *jsonschema.Schema {
	triggerTypes := make([]any, 0, len(TriggerTypes))
	for _, t := range TriggerTypes {
		triggerTypes = append(triggerTypes, t)
	}
	return &jsonschema.Schema{
		Type:     "object",
		Required: []string{"name", "description", "menu"},
		Properties: map[string]*jsonschema.Schema{
			"name":        str(NameMin, NameMax),
			"description": str(DescriptionMin, DescriptionMax),
			"menu": list(&jsonschema.Schema{
				Type:     "object",
				Required: []string{"title", "action"},
				Properties: map[string]*jsonschema.Schema{
					"title":   str(TitleMin, TitleMax),
					"action":  str(ActionMin, ActionMax),
					"mediaId": {Type: "string"},
					"nodeId":  {Type: "string"},
				},
			}, MenuMin, MenuMax),
			"skills": list(&jsonschema.Schema{Type: "string"}, 0, 0),
			"triggers": list(&jsonschema.Schema{
				Type:     "object",
				Required: []string{"type", "action"},
				Properties: map[string]*jsonschema.Schema{
					"type":   {Type: "string", Enum: triggerTypes},
					"action": {Type: "string"},
				},
			}, 0, 0),
			"config":   {Type: "object"},
			"fallback": {Type: "string"},
		},
	}
}

// PlanJSONSchema describes the planner output.
func PlanJSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:     "object",
		Required: []string{"purpose", "audience", "mainMenus", "actionsNeeded", "steps"},
		Properties: map[string]*jsonschema.Schema{
			"purpose":       str(3, 0),
			"audience":      str(3, 0),
			"mainMenus":     list(str(2, 0), MenuMin, MenuMax),
			"actionsNeeded": list(str(2, 0), 1, 0),
			"dataNeeds":     list(&jsonschema.Schema{Type: "string"}, 0, 0),
			"steps":         list(str(1, 0), 1, 6),
			"assumptions":   list(str(1, 0), 0, 0),
		},
	}
}

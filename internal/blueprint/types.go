// Package blueprint defines the bot blueprint contract, its semantic validator,
// interactive edit operations and the deterministic evaluator.
package blueprint

import "strings"

// Bounds shared by the LLM schemas and the semantic validator.
const (
	NameMin        = 3
	NameMax        = 60
	DescriptionMin = 5
	DescriptionMax = 200
	MenuMin        = 3
	MenuMax        = 7
	TitleMin       = 1
	TitleMax       = 20
	ActionMin      = 1
	ActionMax      = 200
)

// DefaultFallback is used when a blueprint carries no fallback reply.
const DefaultFallback = "عذراً، لم أفهم طلبك. اختر من القائمة."

// TriggerTypes lists the chat events a trigger may react to.
var TriggerTypes = []string{"message", "photo", "video", "document", "voice", "new_chat_member", "left_chat_member"}

// MenuItem is one button of the bot menu and the reply it sends.
type MenuItem struct {
	Title   string `json:"title"`
	Action  string `json:"action"`
	MediaID string `json:"mediaId,omitempty"`
	NodeID  string `json:"nodeId,omitempty"`
}

// Trigger binds a chat event type to a reply.
type Trigger struct {
	Type   string `json:"type"`
	Action string `json:"action"`
}

// Blueprint is the structured definition of a generated bot.
type Blueprint struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Menu        []MenuItem     `json:"menu"`
	Skills      []string       `json:"skills"`
	Triggers    []Trigger      `json:"triggers"`
	Config      map[string]any `json:"config"`
	Fallback    string         `json:"fallback,omitempty"`
}

// Skeleton is the empty blueprint used when there is no draft yet.
func Skeleton(description string) Blueprint {
	return Blueprint{
		Name:        "New Bot",
		Description: description,
		Menu:        []MenuItem{},
		Skills:      []string{},
		Triggers:    []Trigger{},
		Config:      map[string]any{},
	}
}

// Normalize trims text fields and replaces nil collections with empty ones.
func (b Blueprint) Normalize() Blueprint {
	out := b.Clone()
	out.Name = strings.TrimSpace(out.Name)
	out.Description = strings.TrimSpace(out.Description)
	out.Fallback = strings.TrimSpace(out.Fallback)
	for i := range out.Menu {
		out.Menu[i].Title = strings.TrimSpace(out.Menu[i].Title)
		out.Menu[i].Action = strings.TrimSpace(out.Menu[i].Action)
	}
	if out.Menu == nil {
		out.Menu = []MenuItem{}
	}
	if out.Skills == nil {
		out.Skills = []string{}
	}
	if out.Triggers == nil {
		out.Triggers = []Trigger{}
	}
	if out.Config == nil {
		out.Config = map[string]any{}
	}
	return out
}

// Clone returns a copy that shares no slices or maps with b.
func (b Blueprint) Clone() Blueprint {
	out := b
	if b.Menu != nil {
		out.Menu = append([]MenuItem(nil), b.Menu...)
	}
	if b.Skills != nil {
		out.Skills = append([]string(nil), b.Skills...)
	}
	if b.Triggers != nil {
		out.Triggers = append([]Trigger(nil), b.Triggers...)
	}
	if b.Config != nil {
		out.Config = make(map[string]any, len(b.Config))
		for k, v := range b.Config {
			out.Config[k] = v
		}
	}
	return out
}

// WithFallback returns b with the default fallback filled in when missing.
func (b Blueprint) WithFallback() Blueprint {
	out := b.Clone()
	if strings.TrimSpace(out.Fallback) == "" {
		out.Fallback = DefaultFallback
	}
	return out
}

// Plan is the intermediate statement produced by the planner and consumed by the builder.
type Plan struct {
	Purpose       string   `json:"purpose"`
	Audience      string   `json:"audience"`
	MainMenus     []string `json:"mainMenus"`
	ActionsNeeded []string `json:"actionsNeeded"`
	DataNeeds     []string `json:"dataNeeds"`
	Steps         []string `json:"steps"`
	Assumptions   []string `json:"assumptions"`
}

// Normalize trims every entry and defaults the optional lists.
func (p Plan) Normalize() Plan {
	p.Purpose = strings.TrimSpace(p.Purpose)
	p.Audience = strings.TrimSpace(p.Audience)
	p.MainMenus = trimAll(p.MainMenus)
	p.ActionsNeeded = trimAll(p.ActionsNeeded)
	p.DataNeeds = trimAll(p.DataNeeds)
	p.Steps = trimAll(p.Steps)
	p.Assumptions = trimAll(p.Assumptions)
	return p
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strings.TrimSpace(v))
	}
	return out
}

// ValidationReport is derived from a blueprint and never stored as the source of truth.
type ValidationReport struct {
	OK       bool     `json:"ok"`
	Issues   []string `json:"issues"`
	Repaired bool     `json:"repaired"`
}

// Breakdown scores individual quality axes, each 0..100.
type Breakdown struct {
	Clarity      int `json:"clarity"`
	Completeness int `json:"completeness"`
	Safety       int `json:"safety"`
	UX           int `json:"ux"`
	I18n         int `json:"i18n"`
}

// Evaluator actions.
const (
	ActionApprove    = "approve"
	ActionRegenerate = "regenerate"
)

// EvaluatorReport is an advisory quality signal. It never blocks publishing.
type EvaluatorReport struct {
	Score     int       `json:"score"`
	Breakdown Breakdown `json:"breakdown"`
	Reasons   []string  `json:"reasons"`
	Action    string    `json:"action"`
}

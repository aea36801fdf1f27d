// Package pipeline runs the generation stages: intent, plan, build,
// validate with one repair, secret check and credit deduction. The
// consultation intent detours to the advisor.
package pipeline

import (
	"context"

	"github.com/memohai/botsmith/internal/blueprint"
	"github.com/memohai/botsmith/internal/learning"
)

// Intent categories returned by the classifier.
const (
	IntentCreateBot    = "CREATE_BOT"
	IntentEditBot      = "EDIT_BOT"
	IntentPublishBot   = "PUBLISH_BOT"
	IntentHelp         = "HELP"
	IntentConsultation = "CONSULTATION"
	IntentUnknown      = "UNKNOWN"
)

// Intents lists the accepted classifier outputs.
var Intents = []string{IntentCreateBot, IntentEditBot, IntentPublishBot, IntentHelp, IntentConsultation, IntentUnknown}

// Stage names, used for logs, spans and the latency histogram.
const (
	StageIntent    = "IntentDetection"
	StageAdvisor   = "Advisor"
	StagePlanner   = "Planner"
	StageBuilder   = "Builder"
	StageValidator = "Validator"
	StageRepair    = "Repair"
)

// FallbackSummary is the only text shown to users when a stage fails.
const FallbackSummary = "صار خطأ مؤقت في المعالجة. حاول مرة أخرى."

// ErrRepairFailed is the audit message of a run whose repaired blueprint
// still fails validation.
const ErrRepairFailed = "Validator failed after repair"

const (
	deductionReason  = "pipeline_run"
	consultationConf = 0.9
	maxRunInputRunes = 2000
)

// RequiredSecrets maps a skill to the API keys it needs at runtime.
var RequiredSecrets = map[string][]string{
	"ai_chat":           {"OPENAI_API_KEY"},
	"image_generator":   {"OPENAI_API_KEY"},
	"voice_transcriber": {"OPENAI_API_KEY"},
}

// Examples finds past blueprints similar to a request.
type Examples interface {
	FindSimilarExamples(ctx context.Context, query string) []learning.Example
}

// Secrets reads a bot secret. ok is false when the key is not configured.
type Secrets interface {
	GetSecret(ctx context.Context, botID, key string) (string, bool)
}

// History renders recent conversation turns for a session.
type History interface {
	History(ctx context.Context, sessionID string) (string, error)
}

// BotRef identifies the bot a run is about.
type BotRef struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// Input is one pipeline invocation.
type Input struct {
	TraceID      string
	UserID       string
	ChatID       int64
	MessageText  string
	SessionID    string
	SessionState string
	CurrentBot   *BotRef
	// Draft is the blueprint being refined, if any.
	Draft *blueprint.Blueprint
	// History overrides the history loaded from SessionID.
	History         string
	SkipCreditCheck bool
}

// Output is the pipeline result. When OK is false, Summary is the text to
// show the user and ErrorMessage stays internal.
type Output struct {
	OK              bool
	Intent          string
	Plan            blueprint.Plan
	Blueprint       blueprint.Blueprint
	Summary         string
	Confidence      float64
	ValidatorErrors []string
	CreditsUsed     int
	Evaluation      *blueprint.EvaluatorReport
	Suggestions     []string
	ErrorMessage    string
	BlockedReason   string
}

func (in Input) botID() string {
	if in.CurrentBot == nil {
		return ""
	}
	return in.CurrentBot.ID
}

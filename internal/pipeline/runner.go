package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/memohai/botsmith/internal/audit"
	"github.com/memohai/botsmith/internal/blueprint"
	"github.com/memohai/botsmith/internal/credits"
	"github.com/memohai/botsmith/internal/llm"
	"github.com/memohai/botsmith/internal/metrics"
	"github.com/memohai/botsmith/internal/prompts"
	"github.com/memohai/botsmith/internal/telemetry"
)

// Deps are the collaborators of a Runner. Examples, Secrets, History,
// Metrics and Tracer are optional.
type Deps struct {
	LLM      llm.Client
	Prompts  *prompts.Catalog
	Gate     *credits.Gate
	Audit    *audit.Recorder
	Examples Examples
	Secrets  Secrets
	History  History
	Metrics  *metrics.Metrics
	Tracer   trace.Tracer
}

// Runner executes pipeline runs. It holds no per-run state.
type Runner struct {
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
}

func NewRunner(log *slog.Logger, deps Deps) *Runner {
	if log == nil {
		log = slog.Default()
	}
	if deps.Tracer == nil {
		deps.Tracer = telemetry.Tracer()
	}
	return &Runner{deps: deps, logger: log.With(slog.String("service", "pipeline")), now: time.Now}
}

type validated struct {
	bp     blueprint.Blueprint
	report blueprint.ValidationReport
}

// Run executes one invocation start to finish. It never returns an error:
// every outcome, including blocked and failed runs, yields exactly one
// audit row.
func (r *Runner) Run(ctx context.Context, in Input) Output {
	if in.TraceID == "" {
		in.TraceID = uuid.NewString()
	}
	started := r.now()
	ctx, span := r.deps.Tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(
		attribute.String("trace_id", in.TraceID),
		attribute.String("user_id", in.UserID),
	))
	defer span.End()

	if !in.SkipCreditCheck {
		check, err := r.deps.Gate.Check(ctx, in.UserID)
		if err != nil {
			r.logger.Error("credit check failed", slog.String("trace_id", in.TraceID), slog.Any("error", err))
			return r.fail(ctx, span, in, started, IntentUnknown, nil, nil, err.Error())
		}
		if !check.Allowed {
			return r.blocked(ctx, span, in, check)
		}
	}

	history := in.History
	if history == "" && in.SessionID != "" && r.deps.History != nil {
		h, err := r.deps.History.History(ctx, in.SessionID)
		if err != nil {
			r.logger.Warn("load history failed", slog.String("trace_id", in.TraceID), slog.Any("error", err))
		}
		history = h
	}

	intent, err := stage(ctx, r, in, StageIntent, func(ctx context.Context) (intentResult, error) {
		prompt, err := r.deps.Prompts.Render(prompts.Intent, prompts.IntentData{
			Message:      in.MessageText,
			SessionState: in.SessionState,
			History:      history,
		})
		if err != nil {
			return intentResult{}, err
		}
		return call[intentResult](ctx, r, prompt, intentSchema)
	})
	if err != nil {
		return r.fail(ctx, span, in, started, IntentUnknown, nil, nil, err.Error())
	}
	span.SetAttributes(attribute.String("intent", intent.Intent))

	if intent.Intent == IntentConsultation {
		return r.consult(ctx, span, in, started, history)
	}

	plan, err := stage(ctx, r, in, StagePlanner, func(ctx context.Context) (blueprint.Plan, error) {
		prompt, err := r.deps.Prompts.Render(prompts.Planner, prompts.PlannerData{Intent: intent.Intent, Message: in.MessageText})
		if err != nil {
			return blueprint.Plan{}, err
		}
		p, err := call[blueprint.Plan](ctx, r, prompt, planSchema)
		return p.Normalize(), err
	})
	if err != nil {
		return r.fail(ctx, span, in, started, intent.Intent, nil, nil, err.Error())
	}

	built, err := stage(ctx, r, in, StageBuilder, func(ctx context.Context) (builderResult, error) {
		prompt, err := r.deps.Prompts.Render(prompts.Builder, prompts.BuilderData{
			Message:  in.MessageText,
			Intent:   intent.Intent,
			Plan:     plan,
			Examples: r.examples(ctx, in.MessageText),
		})
		if err != nil {
			return builderResult{}, err
		}
		return call[builderResult](ctx, r, prompt, builderSchema)
	})
	if err != nil {
		return r.fail(ctx, span, in, started, intent.Intent, &plan, nil, err.Error())
	}

	checked, _ := stage(ctx, r, in, StageValidator, func(context.Context) (validated, error) {
		bp, report := blueprint.ValidateAndFix(built.Blueprint)
		return validated{bp: bp, report: report}, nil
	})

	final, summary, confidence := checked.bp, built.Summary, built.Confidence
	var validatorErrors []string
	if !checked.report.OK {
		validatorErrors = checked.report.Issues
		repaired, err := stage(ctx, r, in, StageRepair, func(ctx context.Context) (builderResult, error) {
			prompt, err := r.deps.Prompts.Render(prompts.Repair, prompts.RepairData{
				Issues:    checked.report.Issues,
				Blueprint: checked.bp,
				Context:   contextSnippet(in),
			})
			if err != nil {
				return builderResult{}, err
			}
			return call[builderResult](ctx, r, prompt, builderSchema)
		})
		if err != nil {
			return r.fail(ctx, span, in, started, intent.Intent, &plan, validatorErrors, err.Error())
		}
		fixed, report := blueprint.ValidateAndFix(repaired.Blueprint)
		if !report.OK {
			r.logger.Warn("blueprint still invalid after repair",
				slog.String("trace_id", in.TraceID),
				slog.Any("issues", report.Issues),
			)
			return r.fail(ctx, span, in, started, intent.Intent, &plan, validatorErrors, ErrRepairFailed)
		}
		final, summary, confidence = fixed, repaired.Summary, repaired.Confidence
	}

	summary += r.secretWarning(ctx, in, final.Skills)

	creditsUsed := 0
	if !in.SkipCreditCheck {
		res := r.deps.Gate.Deduct(ctx, in.UserID, r.deps.Gate.Cost(), deductionReason, in.TraceID)
		if res.Success {
			creditsUsed = r.deps.Gate.Cost()
		} else {
			r.deps.Metrics.RecordDeductionFailure()
			r.logger.Warn("credit deduction failed after successful run",
				slog.String("trace_id", in.TraceID),
				slog.String("user_id", in.UserID),
			)
		}
	}

	eval := blueprint.Evaluate(final)
	r.record(ctx, audit.AgentRun{
		TraceID:         in.TraceID,
		UserID:          in.UserID,
		BotID:           in.botID(),
		Intent:          intent.Intent,
		InputText:       audit.Truncate(in.MessageText, maxRunInputRunes),
		Plan:            wrap(blueprint.KindPlan, plan),
		Blueprint:       wrap(blueprint.KindBlueprint, final),
		ValidatorErrors: validatorErrors,
		Status:          audit.StatusSuccess,
		LatencyMS:       r.now().Sub(started).Milliseconds(),
		CreditsUsed:     creditsUsed,
	})
	r.deps.Metrics.RecordPipelineRun(intent.Intent, "ok")
	r.logger.Info("pipeline run completed",
		slog.String("trace_id", in.TraceID),
		slog.String("intent", intent.Intent),
		slog.Int("credits_used", creditsUsed),
		slog.Int("score", eval.Score),
	)

	return Output{
		OK:              true,
		Intent:          intent.Intent,
		Plan:            plan,
		Blueprint:       final,
		Summary:         summary,
		Confidence:      confidence,
		ValidatorErrors: validatorErrors,
		CreditsUsed:     creditsUsed,
		Evaluation:      &eval,
	}
}

// consult answers with the advisor. It never deducts credits and never
// produces a new blueprint.
func (r *Runner) consult(ctx context.Context, span trace.Span, in Input, started time.Time, history string) Output {
	current := blueprint.Skeleton("")
	if in.Draft != nil {
		current = in.Draft.Clone()
	} else if in.CurrentBot != nil {
		current = blueprint.Skeleton(in.CurrentBot.Description)
	}

	advice, err := stage(ctx, r, in, StageAdvisor, func(ctx context.Context) (advisorResult, error) {
		prompt, err := r.deps.Prompts.Render(prompts.Advisor, prompts.AdvisorData{
			Blueprint: current,
			Message:   in.MessageText,
			Context:   fmt.Sprintf("Session: %s\nHistory:\n%s", in.SessionState, history),
		})
		if err != nil {
			return advisorResult{}, err
		}
		return call[advisorResult](ctx, r, prompt, advisorSchema)
	})
	if err != nil {
		return r.fail(ctx, span, in, started, IntentConsultation, nil, nil, err.Error())
	}

	bullets := make([]string, 0, len(advice.Suggestions))
	for _, s := range advice.Suggestions {
		bullets = append(bullets, "• "+s)
	}
	summary := advice.Summary + "\n\n💡 اقتراحات:\n" + strings.Join(bullets, "\n")

	r.record(ctx, audit.AgentRun{
		TraceID:   in.TraceID,
		UserID:    in.UserID,
		BotID:     in.botID(),
		Intent:    IntentConsultation,
		InputText: audit.Truncate(in.MessageText, maxRunInputRunes),
		Blueprint: wrap(blueprint.KindBlueprint, current),
		Status:    audit.StatusSuccess,
		LatencyMS: r.now().Sub(started).Milliseconds(),
	})
	r.deps.Metrics.RecordPipelineRun(IntentConsultation, "ok")

	return Output{
		OK:          true,
		Intent:      IntentConsultation,
		Plan:        blueprint.Plan{Steps: []string{}, Assumptions: []string{}},
		Blueprint:   current,
		Summary:     summary,
		Confidence:  consultationConf,
		Suggestions: advice.Suggestions,
	}
}

func (r *Runner) blocked(ctx context.Context, span trace.Span, in Input, check credits.CheckResult) Output {
	r.logger.Warn("Pipeline blocked - credit/approval check failed",
		slog.String("trace_id", in.TraceID),
		slog.String("user_id", in.UserID),
		slog.String("reason", check.Reason),
	)
	span.SetStatus(codes.Error, check.Reason)
	r.record(ctx, audit.AgentRun{
		TraceID:      in.TraceID,
		UserID:       in.UserID,
		Intent:       audit.IntentBlocked,
		InputText:    audit.Truncate(in.MessageText, audit.BlockedInputLimit),
		Status:       audit.StatusFailed,
		ErrorMessage: check.Reason,
	})
	r.deps.Metrics.RecordPipelineRun(audit.IntentBlocked, "blocked")
	return Output{
		ErrorMessage:  check.Reason,
		Summary:       credits.Message(check, r.deps.Gate.Cost()),
		BlockedReason: check.Reason,
	}
}

func (r *Runner) fail(ctx context.Context, span trace.Span, in Input, started time.Time, intent string, plan *blueprint.Plan, issues []string, msg string) Output {
	span.SetStatus(codes.Error, msg)
	run := audit.AgentRun{
		TraceID:         in.TraceID,
		UserID:          in.UserID,
		BotID:           in.botID(),
		Intent:          intent,
		InputText:       audit.Truncate(in.MessageText, maxRunInputRunes),
		ValidatorErrors: issues,
		Status:          audit.StatusFailed,
		ErrorMessage:    msg,
		LatencyMS:       r.now().Sub(started).Milliseconds(),
	}
	if plan != nil {
		run.Plan = wrap(blueprint.KindPlan, *plan)
	}
	r.record(ctx, run)
	r.deps.Metrics.RecordPipelineRun(intent, "failed")
	return Output{
		Intent:          intent,
		ErrorMessage:    msg,
		Summary:         FallbackSummary,
		ValidatorErrors: issues,
	}
}

func (r *Runner) record(ctx context.Context, run audit.AgentRun) {
	if r.deps.Audit == nil {
		return
	}
	// Audit failures are logged by the recorder and never change the reply.
	_, _ = r.deps.Audit.Record(context.WithoutCancel(ctx), run)
}

func (r *Runner) examples(ctx context.Context, query string) []prompts.Example {
	if r.deps.Examples == nil {
		return nil
	}
	found := r.deps.Examples.FindSimilarExamples(ctx, query)
	out := make([]prompts.Example, 0, len(found))
	for _, e := range found {
		out = append(out, prompts.Example{Name: e.Name, Description: e.Description, Skills: e.Skills})
	}
	return out
}

// secretWarning lists API keys the skills need. For an existing bot only
// the unconfigured keys are named; for a new bot every required key is.
func (r *Runner) secretWarning(ctx context.Context, in Input, skills []string) string {
	required := requiredKeys(skills)
	if len(required) == 0 {
		return ""
	}
	if in.botID() == "" {
		return "\n\n⚠️ ملاحظة: بعد إنشاء البوت، ستحتاج لإضافة المفاتيح التالية: " + strings.Join(required, ", ") + "."
	}
	if r.deps.Secrets == nil {
		return ""
	}
	missing := make([]string, 0, len(required))
	for _, key := range required {
		if _, ok := r.deps.Secrets.GetSecret(ctx, in.botID(), key); !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return ""
	}
	return "\n\n⚠️ تنبيه: هذا البوت يحتاج مفاتيح API ليعمل: " + strings.Join(missing, ", ") + ". يرجى إضافتها في الإعدادات."
}

func requiredKeys(skills []string) []string {
	set := make(map[string]struct{})
	for _, skill := range skills {
		for _, key := range RequiredSecrets[skill] {
			set[key] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// contextSnippet is the JSON context given to the repair prompt.
func contextSnippet(in Input) string {
	ctx := map[string]any{
		"sessionState": nil,
		"currentBot":   in.CurrentBot,
	}
	if in.SessionState != "" {
		ctx["sessionState"] = in.SessionState
	}
	if in.Draft != nil {
		ctx["lastBlueprint"] = in.Draft
	}
	b, err := json.Marshal(ctx)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func wrap(kind string, v any) json.RawMessage {
	b, err := blueprint.Wrap(kind, v)
	if err != nil {
		return nil
	}
	return b
}

func call[T any](ctx context.Context, r *Runner, prompt string, schema *llm.Schema) (T, error) {
	res := llm.Call[T](ctx, r.deps.LLM, prompt, schema, nil)
	if !res.OK {
		var zero T
		return zero, errors.New(res.ErrorMessage)
	}
	return res.Data, nil
}

// stage runs fn inside a span with start and completion logs.
func stage[T any](ctx context.Context, r *Runner, in Input, name string, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := r.deps.Tracer.Start(ctx, "pipeline."+name)
	defer span.End()
	attrs := []any{
		slog.String("trace_id", in.TraceID),
		slog.String("stage", name),
		slog.String("user_id", in.UserID),
		slog.String("bot_id", in.botID()),
	}
	r.logger.Info("Agent stage started", attrs...)
	started := r.now()
	out, err := fn(ctx)
	elapsed := r.now().Sub(started)
	r.deps.Metrics.ObserveStage(name, elapsed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Warn(name+" failed", append(attrs, slog.Any("error", err))...)
		return out, err
	}
	r.logger.Info("Agent stage completed", append(attrs, slog.Duration("duration", elapsed))...)
	return out, nil
}

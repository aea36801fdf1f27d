// Package audit keeps the append-only record of pipeline runs.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// Run statuses.
const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// IntentBlocked marks runs refused by the credit gate.
const IntentBlocked = "BLOCKED"

// BlockedInputLimit caps the stored input of blocked runs, in runes.
const BlockedInputLimit = 200

var ErrInvalidRun = errors.New("invalid agent run")

// AgentRun is one pipeline execution. Rows are never updated.
type AgentRun struct {
	ID              string          `json:"id"`
	TraceID         string          `json:"trace_id"`
	UserID          string          `json:"user_id,omitempty"`
	BotID           string          `json:"bot_id,omitempty"`
	Intent          string          `json:"intent"`
	InputText       string          `json:"input_text"`
	Plan            json.RawMessage `json:"plan,omitempty"`
	Blueprint       json.RawMessage `json:"blueprint,omitempty"`
	ValidatorErrors []string        `json:"validator_errors,omitempty"`
	Status          string          `json:"status"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	LatencyMS       int64           `json:"latency_ms"`
	CreditsUsed     int             `json:"credits_used"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Filter selects runs for the admin listing. Empty fields match everything.
type Filter struct {
	UserID  string
	TraceID string
	Status  string
	Limit   int
}

type Store interface {
	Insert(ctx context.Context, run AgentRun) (AgentRun, error)
	List(ctx context.Context, f Filter) ([]AgentRun, error)
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Recorder writes runs. Record failures are logged by callers, never surfaced to chat users.
type Recorder struct {
	store  Store
	logger *slog.Logger
}

func NewRecorder(log *slog.Logger, store Store) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{store: store, logger: log.With(slog.String("service", "audit"))}
}

func (r *Recorder) Record(ctx context.Context, run AgentRun) (AgentRun, error) {
	if strings.TrimSpace(run.TraceID) == "" || strings.TrimSpace(run.Intent) == "" {
		return AgentRun{}, ErrInvalidRun
	}
	if run.Status != StatusSuccess && run.Status != StatusFailed {
		return AgentRun{}, ErrInvalidRun
	}
	saved, err := r.store.Insert(ctx, run)
	if err != nil {
		r.logger.Error("record agent run failed",
			slog.String("trace_id", run.TraceID),
			slog.String("intent", run.Intent),
			slog.Any("error", err),
		)
		return AgentRun{}, err
	}
	return saved, nil
}

func (r *Recorder) List(ctx context.Context, f Filter) ([]AgentRun, error) {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	return r.store.List(ctx, f)
}

// Truncate keeps the first n runes of s.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// Package llm is the JSON-only gateway to an OpenAI compatible chat
// completion API. Every call is validated against a stage schema.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/memohai/botsmith/internal/metrics"
)

const strictSystemPrompt = `You are a JSON-only API. Your entire response must be a single valid JSON object.

CRITICAL RULES:
- Return ONLY valid JSON. No markdown. No code fences. No explanatory text.
- Start your response with { and end with }
- No extra keys beyond what is requested
- All string values must be properly escaped
- Use double quotes for keys and string values`

// User-facing gateway error messages, kept stable for audit rows.
const (
	MsgMissingContent  = "LLM response missing content"
	MsgTimedOut        = "LLM request timed out"
	MsgRetriesExceeded = "LLM request exceeded retry attempts"
)

const retryBaseDelay = 500 * time.Millisecond

// Options tunes a single call. Zero fields fall back to the gateway defaults.
type Options struct {
	Model       string
	Temperature *float64
	Timeout     time.Duration
	MaxRetries  *int
}

// RawResult is the untyped outcome of a call.
type RawResult struct {
	OK           bool
	Data         json.RawMessage
	ErrorMessage string
	RawSnippet   string
}

// Client is what pipeline stages depend on.
type Client interface {
	CallJSON(ctx context.Context, prompt string, schema *Schema, opts *Options) RawResult
}

// Config configures a Gateway.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
	HTTPClient  *http.Client
	Metrics     *metrics.Metrics
}

// Gateway implements Client over HTTP.
type Gateway struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	timeout     time.Duration
	maxRetries  int
	http        *http.Client
	logger      *slog.Logger
	metrics     *metrics.Metrics
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewGateway validates cfg and builds a gateway.
func NewGateway(log *slog.Logger, cfg Config) (*Gateway, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("llm gateway: base url is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("llm gateway: model is required")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Gateway{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		maxRetries:  cfg.MaxRetries,
		http:        httpClient,
		logger:      log.With(slog.String("service", "llm")),
		metrics:     cfg.Metrics,
		sleep:       sleepCtx,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
	Messages       []chatMessage     `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("llm status %d: %s", e.Status, e.Body)
}

// CallJSON sends prompt with the strict JSON instruction and validates the reply.
func (g *Gateway) CallJSON(ctx context.Context, prompt string, schema *Schema, opts *Options) RawResult {
	model, temperature, timeout, maxRetries := g.resolve(opts)
	system := strictSystemPrompt
	if schema != nil && schema.Description != "" {
		system += "\n\nExpected schema:\n" + schema.Description
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		started := time.Now()
		g.logger.Info("LLM request starting",
			slog.String("model", model),
			slog.String("schema", schema.name()),
			slog.Int("attempt", attempt),
			slog.Int("prompt_length", len(prompt)),
		)
		content, err := g.complete(ctx, model, temperature, timeout, system, prompt)
		if err == nil {
			g.logger.Info("LLM raw response received",
				slog.Duration("duration", time.Since(started)),
				slog.Int("raw_length", len(content)),
				slog.String("raw_snippet", Snippet(content)),
			)
			return g.decode(content, schema)
		}
		lastErr = err
		g.logger.Error("LLM API error", slog.Int("attempt", attempt), slog.Any("error", err))
		if !retryable(err) || attempt == maxRetries || ctx.Err() != nil {
			break
		}
		delay := retryBaseDelay * time.Duration(attempt+1)
		g.logger.Warn("LLM transient error, retrying", slog.Int("attempt", attempt), slog.Duration("delay", delay))
		if err := g.sleep(ctx, delay); err != nil {
			break
		}
	}
	result := RawResult{ErrorMessage: failureMessage(lastErr)}
	g.metrics.RecordLLMCall(schema.name(), outcomeOf(result.ErrorMessage))
	return result
}

func (g *Gateway) decode(content string, schema *Schema) RawResult {
	if strings.TrimSpace(content) == "" {
		g.metrics.RecordLLMCall(schema.name(), "missing_content")
		return RawResult{ErrorMessage: MsgMissingContent}
	}
	snippet := Snippet(content)
	data, err := schema.Check([]byte(ExtractJSON(content)))
	if err != nil {
		if errors.Is(err, errNotJSON) {
			g.logger.Error("LLM returned non-JSON response", slog.String("raw_snippet", snippet))
			g.metrics.RecordLLMCall(schema.name(), "non_json")
		} else {
			g.logger.Error("LLM response schema validation failed",
				slog.String("schema", schema.name()),
				slog.String("issues", err.Error()),
				slog.String("raw_snippet", snippet),
			)
			g.metrics.RecordLLMCall(schema.name(), "schema_invalid")
		}
		return RawResult{ErrorMessage: err.Error(), RawSnippet: snippet}
	}
	g.metrics.RecordLLMCall(schema.name(), "ok")
	return RawResult{OK: true, Data: data, RawSnippet: snippet}
}

func (g *Gateway) complete(ctx context.Context, model string, temperature float64, timeout time.Duration, system, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:          model,
		Temperature:    temperature,
		ResponseFormat: map[string]string{"type": "json_object"},
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &statusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", nil
	}
	if len(parsed.Choices) == 0 {
		return "", nil
	}
	return parsed.Choices[0].Message.Content, nil
}

func (g *Gateway) resolve(opts *Options) (string, float64, time.Duration, int) {
	model, temperature, timeout, maxRetries := g.model, g.temperature, g.timeout, g.maxRetries
	if opts == nil {
		return model, temperature, timeout, maxRetries
	}
	if opts.Model != "" {
		model = opts.Model
	}
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	if opts.MaxRetries != nil && *opts.MaxRetries >= 0 {
		maxRetries = *opts.MaxRetries
	}
	return model, temperature, timeout, maxRetries
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		switch se.Status {
		case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable:
			return true
		}
		return false
	}
	return isTimeout(err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func failureMessage(err error) string {
	var se *statusError
	switch {
	case err == nil:
		return MsgRetriesExceeded
	case isTimeout(err):
		return MsgTimedOut
	case errors.As(err, &se) && retryable(err):
		return MsgRetriesExceeded
	case errors.As(err, &se):
		return fmt.Sprintf("LLM request failed: status %d", se.Status)
	case errors.Is(err, context.Canceled):
		return "LLM request canceled"
	default:
		return "LLM request failed: " + err.Error()
	}
}

func outcomeOf(msg string) string {
	switch msg {
	case MsgTimedOut:
		return "timeout"
	case MsgRetriesExceeded:
		return "retries_exceeded"
	default:
		return "error"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

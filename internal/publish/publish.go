// Package publish moves a bot draft live. Publishing is a fixed sequence
// of phases; the bot status only flips after every phase succeeded.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/memohai/botsmith/internal/blueprint"
	"github.com/memohai/botsmith/internal/bots"
	"github.com/memohai/botsmith/internal/metrics"
	"github.com/memohai/botsmith/internal/telegram"
	"github.com/memohai/botsmith/internal/telemetry"
)

// Phase names a step of the publish protocol.
type Phase string

const (
	PhaseLoad            Phase = "load"
	PhaseValidateToken   Phase = "validate-token"
	PhaseRegisterWebhook Phase = "register-webhook"
	PhaseVerify          Phase = "verify"
	PhaseCommit          Phase = "commit"
)

// Webhook statuses recorded on the bot.
const (
	WebhookOK     = "WEBHOOK_OK"
	WebhookFailed = "WEBHOOK_FAILED"
)

// PublishedRating is the learning rating of a blueprint that made it live.
const PublishedRating = 4

var (
	ErrInvalidTokenFormat = errors.New("invalid bot token format")
	ErrWebhookMismatch    = errors.New("registered webhook url does not match")
	ErrWebhookError       = errors.New("webhook reports an error")
)

// Bots is the part of bots.Service the coordinator uses.
type Bots interface {
	Get(ctx context.Context, id string) (bots.Bot, error)
	Token(b bots.Bot) (string, error)
	SaveToken(ctx context.Context, id, token string, who bots.TelegramIdentity) (bots.Bot, error)
	RecordWebhook(ctx context.Context, id string, rec bots.WebhookRecord) (bots.Bot, error)
	Commit(ctx context.Context, id string, status bots.Status) (bots.Bot, error)
}

// Examples receives blueprints that were published.
type Examples interface {
	SaveExample(ctx context.Context, bp blueprint.Blueprint, rating int) error
}

// Config holds the deployment values every publish uses.
type Config struct {
	BaseURL       string
	WebhookSecret string
	// SkipVerify commits right after registration.
	SkipVerify bool
}

// Request publishes BotID. A non-empty Token replaces the stored one once
// Telegram accepts it.
type Request struct {
	BotID      string
	Token      string
	SkipVerify bool
}

// PhaseResult is the typed outcome of one phase.
type PhaseResult struct {
	Phase   Phase  `json:"phase"`
	OK      bool   `json:"ok"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Result is what callers report to the owner.
type Result struct {
	Success       bool          `json:"success"`
	BotID         string        `json:"bot_id"`
	Username      string        `json:"username,omitempty"`
	WebhookURL    string        `json:"webhook_url,omitempty"`
	WebhookStatus string        `json:"webhook_status"`
	Error         string        `json:"error,omitempty"`
	FailedPhase   Phase         `json:"failed_phase,omitempty"`
	Phases        []PhaseResult `json:"phases"`
}

// attempt carries the values phases hand to each other.
type attempt struct {
	req      Request
	bot      bots.Bot
	draft    *blueprint.Blueprint
	token    string
	identity telegram.BotInfo
	url      string
	secret   string
}

type step struct {
	phase Phase
	run   func(ctx context.Context, a *attempt) error
}

// Coordinator runs the publish protocol.
type Coordinator struct {
	bots     Bots
	telegram telegram.Client
	examples Examples
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

func NewCoordinator(log *slog.Logger, b Bots, tg telegram.Client, examples Examples, m *metrics.Metrics, cfg Config) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		bots:     b,
		telegram: tg,
		examples: examples,
		metrics:  m,
		tracer:   telemetry.Tracer(),
		cfg:      cfg,
		logger:   log.With(slog.String("service", "publish")),
		now:      time.Now,
	}
}

// WebhookURL is the deterministic endpoint of a generated bot.
func WebhookURL(baseURL, botID string) string {
	return fmt.Sprintf("%s/tg/%s/webhook", strings.TrimRight(baseURL, "/"), botID)
}

// Publish runs load, validate-token, register-webhook, verify and commit,
// stopping at the first failure. A failure after the token was loaded
// marks the bot WEBHOOK_FAILED and keeps its draft.
func (c *Coordinator) Publish(ctx context.Context, req Request) Result {
	ctx, span := c.tracer.Start(ctx, "publish.Publish", trace.WithAttributes(attribute.String("bot_id", req.BotID)))
	defer span.End()

	a := &attempt{req: req}
	res := Result{BotID: req.BotID, WebhookStatus: WebhookFailed}
	skipVerify := req.SkipVerify || c.cfg.SkipVerify

	steps := []step{
		{PhaseLoad, c.load},
		{PhaseValidateToken, c.validateToken},
		{PhaseRegisterWebhook, c.registerWebhook},
		{PhaseVerify, c.verify},
		{PhaseCommit, c.commit},
	}
	for _, s := range steps {
		if s.phase == PhaseVerify && skipVerify {
			res.Phases = append(res.Phases, PhaseResult{Phase: s.phase, OK: true, Skipped: true})
			continue
		}
		err := c.runPhase(ctx, s, a)
		if err == nil {
			res.Phases = append(res.Phases, PhaseResult{Phase: s.phase, OK: true})
			continue
		}
		res.Phases = append(res.Phases, PhaseResult{Phase: s.phase, Error: err.Error()})
		res.FailedPhase = s.phase
		res.Error = err.Error()
		res.Username = a.identity.Username
		if res.Username == "" {
			res.Username = a.bot.TelegramUsername
		}
		res.WebhookURL = a.url
		span.SetStatus(codes.Error, res.Error)
		if s.phase != PhaseLoad {
			c.recordFailure(ctx, a, err)
		}
		c.metrics.RecordPublish(string(s.phase), false)
		c.logger.Warn("publish failed",
			slog.String("bot_id", req.BotID),
			slog.String("phase", string(s.phase)),
			slog.Any("error", err),
		)
		return res
	}

	res.Success = true
	res.WebhookStatus = WebhookOK
	res.Username = a.identity.Username
	res.WebhookURL = a.url
	c.metrics.RecordPublish(string(PhaseCommit), true)
	c.logger.Info("bot published",
		slog.String("bot_id", req.BotID),
		slog.String("username", a.identity.Username),
		slog.Bool("verified", !skipVerify),
	)
	return res
}

func (c *Coordinator) runPhase(ctx context.Context, s step, a *attempt) error {
	ctx, span := c.tracer.Start(ctx, "publish."+string(s.phase))
	defer span.End()
	if err := s.run(ctx, a); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (c *Coordinator) load(ctx context.Context, a *attempt) error {
	b, err := c.bots.Get(ctx, a.req.BotID)
	if err != nil {
		return err
	}
	a.bot = b
	if draft, err := b.WorkingDraft(); err == nil {
		a.draft = &draft
	}
	return nil
}

func (c *Coordinator) validateToken(ctx context.Context, a *attempt) error {
	token := strings.TrimSpace(a.req.Token)
	if token == "" {
		stored, err := c.bots.Token(a.bot)
		if err != nil {
			return err
		}
		token = stored
	}
	if !telegram.ValidTokenFormat(token) {
		return ErrInvalidTokenFormat
	}
	info, err := c.telegram.GetMe(ctx, token)
	if err != nil {
		return fmt.Errorf("فشل التحقق من التوكن: %w", err)
	}
	a.token = token
	a.identity = info
	if a.req.Token != "" {
		if _, err := c.bots.SaveToken(ctx, a.bot.ID, token, bots.TelegramIdentity{Username: info.Username, BotID: info.IDString()}); err != nil {
			return fmt.Errorf("save token: %w", err)
		}
	}
	return nil
}

func (c *Coordinator) registerWebhook(ctx context.Context, a *attempt) error {
	a.url = WebhookURL(c.cfg.BaseURL, a.bot.ID)
	a.secret = telegram.ValidSecret(c.cfg.WebhookSecret)
	return c.telegram.SetWebhook(ctx, a.token, a.url, a.secret, telegram.AllowedUpdates)
}

func (c *Coordinator) verify(ctx context.Context, a *attempt) error {
	info, err := c.telegram.GetWebhookInfo(ctx, a.token)
	if err != nil {
		return err
	}
	if info.URL != a.url {
		return fmt.Errorf("%w: got %q", ErrWebhookMismatch, info.URL)
	}
	if info.LastErrorMessage != "" {
		return fmt.Errorf("%w: %s", ErrWebhookError, info.LastErrorMessage)
	}
	return nil
}

func (c *Coordinator) commit(ctx context.Context, a *attempt) error {
	if _, err := c.bots.RecordWebhook(ctx, a.bot.ID, bots.WebhookRecord{
		URL:       a.url,
		Secret:    a.secret,
		Status:    WebhookOK,
		CheckedAt: c.now(),
	}); err != nil {
		return err
	}
	if _, err := c.bots.Commit(ctx, a.bot.ID, bots.StatusWebhookOK); err != nil {
		return err
	}
	if a.draft != nil && c.examples != nil {
		if err := c.examples.SaveExample(ctx, *a.draft, PublishedRating); err != nil {
			c.logger.Warn("save published example failed", slog.String("bot_id", a.bot.ID), slog.Any("error", err))
		}
	}
	return nil
}

// recordFailure persists the diagnostic and flags the bot. The draft is
// left untouched so the owner can retry.
func (c *Coordinator) recordFailure(ctx context.Context, a *attempt, cause error) {
	_, err := c.bots.RecordWebhook(context.WithoutCancel(ctx), a.bot.ID, bots.WebhookRecord{
		URL:       a.url,
		Secret:    a.secret,
		Status:    WebhookFailed,
		Error:     cause.Error(),
		BotStatus: bots.StatusWebhookFailed,
		CheckedAt: c.now(),
	})
	if err != nil {
		c.logger.Error("record webhook failure failed", slog.String("bot_id", a.bot.ID), slog.Any("error", err))
	}
}

// MasterWebhookURL is the endpoint of the builder bot.
func MasterWebhookURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/tg/master/webhook"
}

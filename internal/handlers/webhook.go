package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/botsmith/internal/bots"
	"github.com/memohai/botsmith/internal/metrics"
	"github.com/memohai/botsmith/internal/ratelimit"
	"github.com/memohai/botsmith/internal/telegram"
)

// SecretHeader carries the webhook secret Telegram echoes back.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

const maxUpdateBytes = 1 << 20

// Webhook targets, used as the metrics label.
const (
	targetMaster = "master"
	targetBot    = "bot"
)

// MasterBot handles updates of the builder bot.
type MasterBot interface {
	Handle(ctx context.Context, upd telegram.ParsedUpdate) error
}

// GeneratedBots handles updates of published bots.
type GeneratedBots interface {
	Handle(ctx context.Context, botID string, upd telegram.ParsedUpdate) error
}

// BotLookup finds the bot a webhook belongs to.
type BotLookup interface {
	Get(ctx context.Context, id string) (bots.Bot, error)
}

// WebhookAck is the body of every webhook reply.
type WebhookAck struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// WebhookHandler receives Telegram updates for the builder and every
// generated bot.
type WebhookHandler struct {
	master  MasterBot
	runtime GeneratedBots
	bots    BotLookup
	limiter ratelimit.Store
	secret  string
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewWebhookHandler builds the handler. secret is the deployment webhook
// secret; an empty secret disables the guard for bots without their own.
func NewWebhookHandler(log *slog.Logger, master MasterBot, runtime GeneratedBots, lookup BotLookup, limiter ratelimit.Store, secret string, m *metrics.Metrics) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{
		master:  master,
		runtime: runtime,
		bots:    lookup,
		limiter: limiter,
		secret:  secret,
		metrics: m,
		logger:  log.With(slog.String("handler", "webhook")),
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/tg/master/webhook", h.Master)
	e.POST("/tg/:botId/webhook", h.Bot)
}

func (h *WebhookHandler) Master(c echo.Context) error {
	if !secretMatches(c, h.secret, telegram.NormalizeSecret(h.secret)) {
		return c.JSON(http.StatusUnauthorized, WebhookAck{OK: false})
	}
	upd, err := h.accept(c, targetMaster)
	if err != nil || upd == nil {
		return err
	}
	if err := h.master.Handle(c.Request().Context(), *upd); err != nil {
		h.logger.Error("master update failed", slog.Int("update_id", upd.UpdateID), slog.Any("error", err))
	}
	return c.JSON(http.StatusOK, WebhookAck{OK: true})
}

func (h *WebhookHandler) Bot(c echo.Context) error {
	botID, err := requireParam(c, "botId")
	if err != nil {
		return err
	}
	bot, err := h.bots.Get(c.Request().Context(), botID)
	if errors.Is(err, bots.ErrBotNotFound) {
		return c.JSON(http.StatusNotFound, WebhookAck{OK: false, Error: "Bot not found"})
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	expected := h.secret
	if bot.WebhookSecret != "" {
		expected = bot.WebhookSecret
	}
	if !secretMatches(c, expected) {
		return c.JSON(http.StatusUnauthorized, WebhookAck{OK: false})
	}
	upd, err := h.accept(c, targetBot)
	if err != nil || upd == nil {
		return err
	}
	if err := h.runtime.Handle(c.Request().Context(), bot.ID, *upd); err != nil {
		h.logger.Error("bot update failed", slog.String("bot_id", bot.ID), slog.Int("update_id", upd.UpdateID), slog.Any("error", err))
	}
	return c.JSON(http.StatusOK, WebhookAck{OK: true})
}

// accept decodes the update and applies the rate limit. A nil update with a
// nil error means the reply was already written.
func (h *WebhookHandler) accept(c echo.Context, target string) (*telegram.ParsedUpdate, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxUpdateBytes))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	raw, err := telegram.DecodeUpdate(body)
	if err != nil {
		return nil, c.JSON(http.StatusBadRequest, WebhookAck{OK: false, Error: "Invalid update"})
	}
	upd := telegram.ParseUpdate(raw)
	h.metrics.RecordWebhookUpdate(target, string(upd.Type))

	if h.limiter != nil {
		key := ratelimit.Key(upd.FromKey(), c.RealIP())
		allowed, err := h.limiter.Allow(c.Request().Context(), key)
		if err != nil {
			h.logger.Warn("rate limiter unavailable", slog.String("key", key), slog.Any("error", err))
			allowed = true
		}
		if !allowed {
			h.metrics.RecordRateLimited()
			return nil, c.JSON(http.StatusTooManyRequests, WebhookAck{OK: false, Error: "Rate limit exceeded"})
		}
	}
	return &upd, nil
}

// secretMatches accepts any non-empty candidate. With no candidate set the
// check is disabled.
func secretMatches(c echo.Context, candidates ...string) bool {
	got := c.Request().Header.Get(SecretHeader)
	configured := false
	for _, want := range candidates {
		if want == "" {
			continue
		}
		configured = true
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1 {
			return true
		}
	}
	return !configured
}

package telegram

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	lru "github.com/hashicorp/golang-lru/v2"
)

// AllowedUpdates are the update kinds generated bots subscribe to.
var AllowedUpdates = []string{"message", "callback_query", "pre_checkout_query"}

// BotInfo is the getMe result.
type BotInfo struct {
	ID       int64
	Username string
	Name     string
}

// IDString renders the numeric bot id.
func (b BotInfo) IDString() string { return strconv.FormatInt(b.ID, 10) }

// WebhookInfo is the subset of getWebhookInfo used for verification.
type WebhookInfo struct {
	URL                string
	PendingUpdateCount int
	LastErrorMessage   string
}

// Client is the Bot API surface the builder needs. Every call names the
// token it acts for.
type Client interface {
	GetMe(ctx context.Context, token string) (BotInfo, error)
	SetWebhook(ctx context.Context, token, url, secret string, allowed []string) error
	GetWebhookInfo(ctx context.Context, token string) (WebhookInfo, error)
	Send(ctx context.Context, token string, chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) error
	AnswerCallback(ctx context.Context, token, callbackID, text string) error
}

// ClientConfig configures BotAPIClient.
type ClientConfig struct {
	// Endpoint is a format string with token and method verbs; empty means api.telegram.org.
	Endpoint  string
	Timeout   time.Duration
	CacheSize int
	HTTP      *http.Client
}

// BotAPIClient implements Client on go-telegram-bot-api. BotAPI values are
// built without the getMe handshake and cached per token.
type BotAPIClient struct {
	endpoint string
	http     *http.Client
	bots     *lru.Cache[string, *tgbotapi.BotAPI]
	logger   *slog.Logger
}

var setLoggerOnce sync.Once

func NewBotAPIClient(log *slog.Logger, cfg ClientConfig) (*BotAPIClient, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("adapter", "telegram"))
	setLoggerOnce.Do(func() {
		_ = tgbotapi.SetLogger(&slogBotLogger{log: log})
	})
	if cfg.Endpoint == "" {
		cfg.Endpoint = tgbotapi.APIEndpoint
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 512
	}
	httpClient := cfg.HTTP
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	cache, err := lru.New[string, *tgbotapi.BotAPI](cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	return &BotAPIClient{endpoint: cfg.Endpoint, http: httpClient, bots: cache, logger: log}, nil
}

func (c *BotAPIClient) bot(token string) *tgbotapi.BotAPI {
	if b, ok := c.bots.Get(token); ok {
		return b
	}
	b := &tgbotapi.BotAPI{Token: token, Client: c.http, Buffer: 100}
	b.SetAPIEndpoint(c.endpoint)
	c.bots.Add(token, b)
	return b
}

func (c *BotAPIClient) GetMe(ctx context.Context, token string) (BotInfo, error) {
	if err := ctx.Err(); err != nil {
		return BotInfo{}, err
	}
	u, err := c.bot(token).GetMe()
	if err != nil {
		return BotInfo{}, describe(err)
	}
	return BotInfo{ID: u.ID, Username: u.UserName, Name: u.FirstName}, nil
}

func (c *BotAPIClient) SetWebhook(ctx context.Context, token, url, secret string, allowed []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := tgbotapi.Params{"url": url}
	params.AddNonEmpty("secret_token", secret)
	if err := params.AddInterface("allowed_updates", allowed); err != nil {
		return err
	}
	if _, err := c.bot(token).MakeRequest("setWebhook", params); err != nil {
		return describe(err)
	}
	return nil
}

func (c *BotAPIClient) GetWebhookInfo(ctx context.Context, token string) (WebhookInfo, error) {
	if err := ctx.Err(); err != nil {
		return WebhookInfo{}, err
	}
	info, err := c.bot(token).GetWebhookInfo()
	if err != nil {
		return WebhookInfo{}, describe(err)
	}
	return WebhookInfo{
		URL:                info.URL,
		PendingUpdateCount: info.PendingUpdateCount,
		LastErrorMessage:   info.LastErrorMessage,
	}, nil
}

func (c *BotAPIClient) Send(ctx context.Context, token string, chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if keyboard != nil {
		msg.ReplyMarkup = *keyboard
	}
	if _, err := c.bot(token).Send(msg); err != nil {
		c.logger.Warn("send message failed", slog.Int64("chat_id", chatID), slog.Any("error", err))
		return describe(err)
	}
	return nil
}

func (c *BotAPIClient) AnswerCallback(ctx context.Context, token, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.bot(token).Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return describe(err)
	}
	return nil
}

// describe reduces Bot API errors to their description.
func describe(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return errors.New(apiErr.Message)
	}
	return err
}

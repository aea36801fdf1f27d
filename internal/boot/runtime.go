// Package boot provides runtime configuration and dependency wiring for the server.
package boot

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/memohai/botsmith/internal/config"
)

// RuntimeConfig holds parsed runtime settings (JWT, server address, transport and LLM credentials).
// Values may be overridden by environment variables (e.g. HTTP_ADDR, MASTER_BOT_TOKEN, OPENAI_API_KEY).
type RuntimeConfig struct {
	JwtSecret       string
	JwtExpiresIn    time.Duration
	ServerAddr      string
	BaseURL         string
	WebhookSecret   string
	EncryptionKey   []byte
	MasterBotToken  string
	TelegramAPI     string
	OpenAIAPIKey    string
	RedisURL        string
	RateLimitPerMin int
}

// ProvideRuntimeConfig builds RuntimeConfig from the given config and applies env overrides.
func ProvideRuntimeConfig(cfg config.Config) (*RuntimeConfig, error) {
	return buildRuntimeConfig(cfg, os.Getenv)
}

func buildRuntimeConfig(cfg config.Config, getenv func(string) string) (*RuntimeConfig, error) {
	ret := &RuntimeConfig{
		JwtSecret:       cfg.Auth.JWTSecret,
		ServerAddr:      cfg.Server.Addr,
		BaseURL:         cfg.Telegram.BaseURL,
		WebhookSecret:   cfg.Telegram.WebhookSecret,
		MasterBotToken:  cfg.Telegram.MasterBotToken,
		TelegramAPI:     cfg.Telegram.APIEndpoint,
		OpenAIAPIKey:    cfg.LLM.APIKey,
		RedisURL:        cfg.Redis.URL,
		RateLimitPerMin: cfg.RateLimit.PerMinute,
	}
	encryptionKey := cfg.Telegram.EncryptionKey

	if value := getenv("HTTP_ADDR"); value != "" {
		ret.ServerAddr = value
	}
	if value := getenv("JWT_SECRET"); value != "" {
		ret.JwtSecret = value
	}
	if value := getenv("BASE_URL"); value != "" {
		ret.BaseURL = value
	}
	if value := getenv("WEBHOOK_SECRET"); value != "" {
		ret.WebhookSecret = value
	}
	if value := getenv("MASTER_BOT_TOKEN"); value != "" {
		ret.MasterBotToken = value
	}
	if value := getenv("OPENAI_API_KEY"); value != "" {
		ret.OpenAIAPIKey = value
	}
	if value := getenv("REDIS_URL"); value != "" {
		ret.RedisURL = value
	}
	if value := getenv("ENCRYPTION_KEY"); value != "" {
		encryptionKey = value
	}
	if value := getenv("RATE_LIMIT_PER_MIN"); value != "" {
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid RATE_LIMIT_PER_MIN: %q", value)
		}
		ret.RateLimitPerMin = n
	}

	if strings.TrimSpace(ret.JwtSecret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	jwtExpiresIn, err := time.ParseDuration(cfg.Auth.JWTExpiresIn)
	if err != nil {
		return nil, fmt.Errorf("invalid jwt expires in: %w", err)
	}
	ret.JwtExpiresIn = jwtExpiresIn

	if strings.TrimSpace(encryptionKey) == "" {
		return nil, errors.New("encryption key is required")
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encryptionKey))
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, errors.New("ENCRYPTION_KEY must be 32 bytes (base64)")
	}
	ret.EncryptionKey = key

	ret.BaseURL = strings.TrimRight(strings.TrimSpace(ret.BaseURL), "/")
	if ret.RateLimitPerMin <= 0 {
		ret.RateLimitPerMin = config.DefaultRateLimitPerMin
	}
	return ret, nil
}

// Package config loads and exposes application configuration (TOML).
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath        = "config.toml"
	DefaultHTTPAddr          = ":8080"
	DefaultJWTExpiresIn      = "24h"
	DefaultPGHost            = "127.0.0.1"
	DefaultPGPort            = 5432
	DefaultPGUser            = "postgres"
	DefaultPGDatabase        = "botsmith"
	DefaultPGSSLMode         = "disable"
	DefaultRedisURL          = "redis://localhost:6379"
	DefaultLLMBaseURL        = "https://api.openai.com/v1"
	DefaultLLMModel          = "gpt-4o-mini"
	DefaultLLMTemperature    = 0.2
	DefaultLLMTimeout        = "30s"
	DefaultLLMMaxRetries     = 2
	DefaultTelegramAPI       = "https://api.telegram.org/bot%s/%s"
	DefaultBaseURL           = "https://api.lork.cloud"
	DefaultPipelineCost      = 10
	DefaultDailyLimit        = 100
	DefaultRateLimitPerMin   = 30
	DefaultRateLimitBackend  = "memory"
	DefaultServiceName       = "botsmith"
	DefaultResetSchedule     = "@daily"
	DefaultReconcileSchedule = "@hourly"
)

// Config is the root application configuration loaded from TOML.
type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Admin     AdminConfig     `toml:"admin"`
	Auth      AuthConfig      `toml:"auth"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	LLM       LLMConfig       `toml:"llm"`
	Telegram  TelegramConfig  `toml:"telegram"`
	Credits   CreditsConfig   `toml:"credits"`
	RateLimit RateLimitConfig `toml:"ratelimit"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Schedule  ScheduleConfig  `toml:"schedule"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ServerConfig holds the HTTP server listen address.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// AdminConfig holds the dashboard operator account. PasswordHash is a bcrypt hash.
type AdminConfig struct {
	Username     string `toml:"username"`
	PasswordHash string `toml:"password_hash"`
}

// AuthConfig holds JWT secret and token expiry (e.g. 24h).
type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// RedisConfig holds the redis connection URL used by the shared rate limiter.
type RedisConfig struct {
	URL string `toml:"url"`
}

// LLMConfig holds the OpenAI-compatible chat completion endpoint settings.
type LLMConfig struct {
	BaseURL     string  `toml:"base_url"`
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	Temperature float64 `toml:"temperature"`
	Timeout     string  `toml:"timeout"`
	MaxRetries  int     `toml:"max_retries"`
}

// TimeoutDuration parses Timeout, falling back to the default on error.
func (c LLMConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultLLMTimeout)
	}
	return d
}

// TelegramConfig holds the master bot token, public base URL and webhook secret.
type TelegramConfig struct {
	MasterBotToken string `toml:"master_bot_token"`
	APIEndpoint    string `toml:"api_endpoint"`
	BaseURL        string `toml:"base_url"`
	WebhookSecret  string `toml:"webhook_secret"`
	EncryptionKey  string `toml:"encryption_key"`
}

// CreditsConfig holds the per-run price and the default daily allowance for new users.
type CreditsConfig struct {
	PipelineCost   int `toml:"pipeline_cost"`
	DailyLimit     int `toml:"daily_limit"`
	InitialBalance int `toml:"initial_balance"`
}

// RateLimitConfig selects the limiter backend ("memory" or "redis") and its budget.
type RateLimitConfig struct {
	Backend   string `toml:"backend"`
	PerMinute int    `toml:"per_minute"`
}

// TelemetryConfig configures the OTLP trace exporter. An empty endpoint disables export.
type TelemetryConfig struct {
	ServiceName  string  `toml:"service_name"`
	OTLPEndpoint string  `toml:"otlp_endpoint"`
	Insecure     bool    `toml:"insecure"`
	SampleRatio  float64 `toml:"sample_ratio"`
}

// ScheduleConfig holds cron specs for maintenance jobs.
type ScheduleConfig struct {
	DailyReset string `toml:"daily_reset"`
	Reconcile  string `toml:"reconcile"`
}

// Load reads and parses the TOML config file at path and applies default values for missing fields.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Admin: AdminConfig{
			Username: "admin",
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Redis: RedisConfig{
			URL: DefaultRedisURL,
		},
		LLM: LLMConfig{
			BaseURL:     DefaultLLMBaseURL,
			Model:       DefaultLLMModel,
			Temperature: DefaultLLMTemperature,
			Timeout:     DefaultLLMTimeout,
			MaxRetries:  DefaultLLMMaxRetries,
		},
		Telegram: TelegramConfig{
			APIEndpoint: DefaultTelegramAPI,
			BaseURL:     DefaultBaseURL,
		},
		Credits: CreditsConfig{
			PipelineCost: DefaultPipelineCost,
			DailyLimit:   DefaultDailyLimit,
		},
		RateLimit: RateLimitConfig{
			Backend:   DefaultRateLimitBackend,
			PerMinute: DefaultRateLimitPerMin,
		},
		Telemetry: TelemetryConfig{
			ServiceName: DefaultServiceName,
			SampleRatio: 1,
		},
		Schedule: ScheduleConfig{
			DailyReset: DefaultResetSchedule,
			Reconcile:  DefaultReconcileSchedule,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

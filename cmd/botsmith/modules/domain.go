package modules

import (
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"

	"github.com/memohai/botsmith/internal/audit"
	"github.com/memohai/botsmith/internal/boot"
	"github.com/memohai/botsmith/internal/bots"
	"github.com/memohai/botsmith/internal/config"
	"github.com/memohai/botsmith/internal/credits"
	"github.com/memohai/botsmith/internal/learning"
	"github.com/memohai/botsmith/internal/llm"
	"github.com/memohai/botsmith/internal/metrics"
	"github.com/memohai/botsmith/internal/pipeline"
	"github.com/memohai/botsmith/internal/prompts"
	"github.com/memohai/botsmith/internal/publish"
	"github.com/memohai/botsmith/internal/secrets"
	"github.com/memohai/botsmith/internal/session"
	"github.com/memohai/botsmith/internal/telegram"
	"github.com/memohai/botsmith/internal/users"
)

var DomainModule = fx.Module(
	"domain",
	fx.Provide(
		provideCipher,
		provideUsers,
		provideGate,
		provideAudit,
		provideSessions,
		provideBots,
		provideSecrets,
		provideLearning,
		prompts.Load,
		provideGateway,
		ProvideTelegram,
		provideRunner,
		providePublisher,
	),
)

func provideCipher(rc *boot.RuntimeConfig) (*secrets.Cipher, error) {
	return secrets.NewCipher(rc.EncryptionKey)
}

func provideUsers(log *slog.Logger, pool *pgxpool.Pool, cfg config.Config) *users.Service {
	return users.NewService(log, users.NewPostgresStore(pool), users.Defaults{
		DailyLimit:     cfg.Credits.DailyLimit,
		InitialBalance: cfg.Credits.InitialBalance,
	})
}

func provideGate(log *slog.Logger, pool *pgxpool.Pool, cfg config.Config) *credits.Gate {
	return credits.NewGate(log, credits.NewPostgresStore(pool), cfg.Credits.PipelineCost)
}

func provideAudit(log *slog.Logger, pool *pgxpool.Pool) *audit.Recorder {
	return audit.NewRecorder(log, audit.NewPostgresStore(pool))
}

func provideSessions(log *slog.Logger, pool *pgxpool.Pool) *session.Service {
	return session.NewService(log, session.NewPostgresStore(pool))
}

func provideBots(log *slog.Logger, pool *pgxpool.Pool, cipher *secrets.Cipher) *bots.Service {
	return bots.NewService(log, bots.NewPostgresStore(pool), cipher)
}

func provideSecrets(log *slog.Logger, pool *pgxpool.Pool, cipher *secrets.Cipher) *secrets.Service {
	return secrets.NewService(log, cipher, secrets.NewPostgresStore(pool))
}

func provideLearning(log *slog.Logger, pool *pgxpool.Pool) (*learning.Service, error) {
	return learning.NewService(log, learning.NewPostgresStore(pool), learning.DefaultCacheSize)
}

func provideGateway(log *slog.Logger, cfg config.Config, rc *boot.RuntimeConfig, m *metrics.Metrics) (*llm.Gateway, error) {
	gw, err := llm.NewGateway(log, llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      rc.OpenAIAPIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.TimeoutDuration(),
		MaxRetries:  cfg.LLM.MaxRetries,
		Metrics:     m,
	})
	if err != nil {
		return nil, fmt.Errorf("llm gateway: %w", err)
	}
	return gw, nil
}

// ProvideTelegram builds the Bot API client shared by every bot token.
func ProvideTelegram(log *slog.Logger, rc *boot.RuntimeConfig) (*telegram.BotAPIClient, error) {
	return telegram.NewBotAPIClient(log, telegram.ClientConfig{Endpoint: rc.TelegramAPI})
}

type runnerParams struct {
	fx.In

	Logger   *slog.Logger
	Gateway  *llm.Gateway
	Prompts  *prompts.Catalog
	Gate     *credits.Gate
	Audit    *audit.Recorder
	Learning *learning.Service
	Secrets  *secrets.Service
	Sessions *session.Service
	Metrics  *metrics.Metrics
}

func provideRunner(p runnerParams) *pipeline.Runner {
	return pipeline.NewRunner(p.Logger, pipeline.Deps{
		LLM:      p.Gateway,
		Prompts:  p.Prompts,
		Gate:     p.Gate,
		Audit:    p.Audit,
		Examples: p.Learning,
		Secrets:  p.Secrets,
		History:  p.Sessions,
		Metrics:  p.Metrics,
	})
}

func providePublisher(log *slog.Logger, b *bots.Service, tg *telegram.BotAPIClient, ex *learning.Service, m *metrics.Metrics, rc *boot.RuntimeConfig) *publish.Coordinator {
	return publish.NewCoordinator(log, b, tg, ex, m, publish.Config{
		BaseURL:       rc.BaseURL,
		WebhookSecret: rc.WebhookSecret,
	})
}

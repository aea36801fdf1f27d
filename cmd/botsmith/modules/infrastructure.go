package modules

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/memohai/botsmith/internal/boot"
	"github.com/memohai/botsmith/internal/config"
	"github.com/memohai/botsmith/internal/db"
	"github.com/memohai/botsmith/internal/logger"
	"github.com/memohai/botsmith/internal/metrics"
	"github.com/memohai/botsmith/internal/ratelimit"
	"github.com/memohai/botsmith/internal/telemetry"
)

var InfraModule = fx.Module(
	"infra",
	fx.Provide(
		ProvideConfig,
		ProvideLogger,
		boot.ProvideRuntimeConfig,
		provideDBConn,
		provideRegistry,
		provideMetrics,
		provideRateLimiter,
	),
	fx.Invoke(startTelemetry),
)

// ProvideConfig reads CONFIG_PATH, falling back to config.toml.
func ProvideConfig() (config.Config, error) {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func ProvideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			conn.Close()
			return nil
		},
	})
	return conn, nil
}

func provideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func provideMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New(reg)
}

// provideRateLimiter picks the shared redis counter when configured, else
// per-process token buckets.
func provideRateLimiter(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, rc *boot.RuntimeConfig) (ratelimit.Store, error) {
	if !strings.EqualFold(strings.TrimSpace(cfg.RateLimit.Backend), "redis") {
		return ratelimit.NewMemoryStore(rc.RateLimitPerMin), nil
	}
	opts, err := redis.ParseURL(rc.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis ping: %w", err)
			}
			log.Info("rate limiter using redis", slog.String("addr", opts.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return ratelimit.NewRedisStore(log, client, rc.RateLimitPerMin), nil
}

func startTelemetry(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) {
	var provider *telemetry.Provider
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			p, err := telemetry.Init(ctx, log, cfg.Telemetry)
			if err != nil {
				return fmt.Errorf("telemetry: %w", err)
			}
			provider = p
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return provider.Shutdown(ctx)
		},
	})
}

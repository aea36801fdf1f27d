package modules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/memohai/botsmith/internal/boot"
	"github.com/memohai/botsmith/internal/bots"
	"github.com/memohai/botsmith/internal/config"
	"github.com/memohai/botsmith/internal/conversation"
	"github.com/memohai/botsmith/internal/credits"
	"github.com/memohai/botsmith/internal/handlers"
	"github.com/memohai/botsmith/internal/metrics"
	"github.com/memohai/botsmith/internal/ratelimit"
	"github.com/memohai/botsmith/internal/schedule"
	"github.com/memohai/botsmith/internal/server"
	"github.com/memohai/botsmith/internal/version"
)

var ServerModule = fx.Module(
	"server",
	fx.Provide(
		provideSchedule,
		provideServerHandler(handlers.NewPingHandler),
		provideServerHandler(provideMetricsHandler),
		provideServerHandler(provideAuthHandler),
		provideServerHandler(provideWebhookHandler),
		provideServerHandler(handlers.NewAdminHandler),
		provideServerHandler(provideJobsHandler),
		provideServer,
	),
	fx.Invoke(startSchedule, startServer),
)

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideMetricsHandler(reg *prometheus.Registry) *handlers.MetricsHandler {
	return handlers.NewMetricsHandler(reg)
}

func provideAuthHandler(log *slog.Logger, cfg config.Config, rc *boot.RuntimeConfig) *handlers.AuthHandler {
	return handlers.NewAuthHandler(log, handlers.AdminAccount{
		Username:     cfg.Admin.Username,
		PasswordHash: cfg.Admin.PasswordHash,
	}, rc.JwtSecret, rc.JwtExpiresIn)
}

func provideWebhookHandler(log *slog.Logger, master *conversation.Master, runtime *conversation.Runtime, b *bots.Service, limiter ratelimit.Store, rc *boot.RuntimeConfig, m *metrics.Metrics) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, master, runtime, b, limiter, rc.WebhookSecret, m)
}

func provideJobsHandler(log *slog.Logger, s *schedule.Service) *handlers.JobsHandler {
	return handlers.NewJobsHandler(log, s)
}

func provideSchedule(log *slog.Logger, cfg config.Config, gate *credits.Gate, m *metrics.Metrics) (*schedule.Service, error) {
	svc := schedule.NewService(log, m)
	for _, job := range schedule.CreditJobs(log, gate, cfg.Schedule) {
		if err := svc.Add(job); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	RuntimeConfig  *boot.RuntimeConfig
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(p serverParams) *server.Server {
	return server.NewServer(p.Logger, p.RuntimeConfig.ServerAddr, p.RuntimeConfig.JwtSecret, p.ServerHandlers...)
}

func startSchedule(lc fx.Lifecycle, s *schedule.Service) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			s.Start()
			return nil
		},
		OnStop: s.Stop,
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	log.Info("starting botsmith", slog.String("version", version.GetInfo()))

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}

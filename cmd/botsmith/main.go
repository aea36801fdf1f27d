package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memohai/botsmith/cmd/botsmith/modules"
	"github.com/memohai/botsmith/db"
	"github.com/memohai/botsmith/internal/boot"
	idb "github.com/memohai/botsmith/internal/db"
	"github.com/memohai/botsmith/internal/publish"
	"github.com/memohai/botsmith/internal/telegram"
	"github.com/memohai/botsmith/internal/version"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "botsmith",
		Short:         "Telegram bot builder: master bot, generated bots and admin API",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			// A missing .env is normal in containers.
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			return nil
		},
		RunE: func(*cobra.Command, []string) error {
			return serve()
		},
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server",
			RunE: func(*cobra.Command, []string) error {
				return serve()
			},
		},
		newMigrateCommand(),
		newWebhookCommand(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				cmd.Println("botsmith " + version.GetInfo())
			},
		},
	)
	return root
}

func serve() error {
	app := fx.New(
		modules.InfraModule,
		modules.DomainModule,
		modules.ConversationModule,
		modules.ServerModule,
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate <up|down|version|steps N|force N>",
		Short: "Apply or roll back database migrations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := modules.ProvideConfig()
			if err != nil {
				return err
			}
			log := modules.ProvideLogger(cfg)
			migrations, err := db.Migrations()
			if err != nil {
				return err
			}
			return idb.RunMigrate(log, cfg.Postgres, migrations, args[0], args[1:])
		},
	}
}

func newWebhookCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manage the builder bot webhook",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set-master",
		Short: "Point the builder bot webhook at this deployment",
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := modules.ProvideConfig()
			if err != nil {
				return err
			}
			log := modules.ProvideLogger(cfg)
			rc, err := boot.ProvideRuntimeConfig(cfg)
			if err != nil {
				return err
			}
			if strings.TrimSpace(rc.MasterBotToken) == "" {
				return errors.New("master bot token is required")
			}
			secret, err := masterSecret(rc.WebhookSecret)
			if err != nil {
				return err
			}
			tg, err := modules.ProvideTelegram(log, rc)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(c.Context(), 30*time.Second)
			defer cancel()

			url := publish.MasterWebhookURL(rc.BaseURL)
			if err := tg.SetWebhook(ctx, rc.MasterBotToken, url, secret, telegram.AllowedUpdates); err != nil {
				return fmt.Errorf("set webhook: %w", err)
			}
			info, err := tg.GetWebhookInfo(ctx, rc.MasterBotToken)
			if err != nil {
				return fmt.Errorf("get webhook info: %w", err)
			}
			log.Info("master webhook registered",
				slog.String("url", info.URL),
				slog.Int("pending_updates", info.PendingUpdateCount),
				slog.String("last_error", info.LastErrorMessage),
			)
			return nil
		},
	})
	return cmd
}

// masterSecret is the token Telegram will echo for the builder bot. The
// webhook handler accepts both the raw and the normalized form.
func masterSecret(global string) (string, error) {
	if global == "" || telegram.IsValidSecret(global) {
		return global, nil
	}
	n := telegram.NormalizeSecret(global)
	if n == "" {
		return "", errors.New("webhook secret has no usable characters")
	}
	return n, nil
}

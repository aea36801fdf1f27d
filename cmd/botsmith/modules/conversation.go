package modules

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/memohai/botsmith/internal/boot"
	"github.com/memohai/botsmith/internal/bots"
	"github.com/memohai/botsmith/internal/conversation"
	"github.com/memohai/botsmith/internal/learning"
	"github.com/memohai/botsmith/internal/pipeline"
	"github.com/memohai/botsmith/internal/publish"
	"github.com/memohai/botsmith/internal/session"
	"github.com/memohai/botsmith/internal/telegram"
	"github.com/memohai/botsmith/internal/users"
)

var ConversationModule = fx.Module(
	"conversation",
	fx.Provide(
		provideMaster,
		provideRuntime,
	),
)

type masterParams struct {
	fx.In

	Logger    *slog.Logger
	Runtime   *boot.RuntimeConfig
	Users     *users.Service
	Sessions  *session.Service
	Bots      *bots.Service
	Runner    *pipeline.Runner
	Publisher *publish.Coordinator
	Learning  *learning.Service
	Telegram  *telegram.BotAPIClient
}

func provideMaster(p masterParams) *conversation.Master {
	return conversation.NewMaster(p.Logger, conversation.MasterDeps{
		Token:     p.Runtime.MasterBotToken,
		Users:     p.Users,
		Sessions:  p.Sessions,
		Bots:      p.Bots,
		Generator: p.Runner,
		Publisher: p.Publisher,
		Feedback:  p.Learning,
		Telegram:  p.Telegram,
	})
}

func provideRuntime(log *slog.Logger, u *users.Service, s *session.Service, b *bots.Service, tg *telegram.BotAPIClient) *conversation.Runtime {
	return conversation.NewRuntime(log, conversation.RuntimeDeps{
		Users:    u,
		Sessions: s,
		Bots:     b,
		Telegram: tg,
	})
}

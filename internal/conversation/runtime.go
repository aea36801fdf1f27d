package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/memohai/botsmith/internal/bots"
	"github.com/memohai/botsmith/internal/flow"
	"github.com/memohai/botsmith/internal/session"
	"github.com/memohai/botsmith/internal/telegram"
	"github.com/memohai/botsmith/internal/users"
)

// RuntimeDeps groups the collaborators of published bots.
type RuntimeDeps struct {
	Users    *users.Service
	Sessions *session.Service
	Bots     *bots.Service
	Telegram telegram.Client
}

// Runtime answers end users of generated bots with the live menu.
type Runtime struct {
	deps   RuntimeDeps
	logger *slog.Logger
}

func NewRuntime(log *slog.Logger, deps RuntimeDeps) *Runtime {
	if log == nil {
		log = slog.Default()
	}
	return &Runtime{deps: deps, logger: log.With(slog.String("service", "conversation_runtime"))}
}

// visit is one update for one generated bot.
type visit struct {
	upd     telegram.ParsedUpdate
	bot     bots.Bot
	token   string
	sess    session.Session
	isOwner bool
}

// Handle processes one update sent to botID. Updates for unknown or offline
// bots are dropped, and bots that are not public only answer their owner.
func (r *Runtime) Handle(ctx context.Context, botID string, upd telegram.ParsedUpdate) (err error) {
	if !upd.Actionable() {
		return nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
		if err != nil {
			r.logger.Error("bot update failed", slog.String("bot_id", botID), slog.Int64("chat_id", upd.ChatID), slog.Any("error", err))
		}
	}()

	bot, err := r.deps.Bots.Get(ctx, botID)
	if errors.Is(err, bots.ErrBotNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load bot: %w", err)
	}
	if bot.Status == bots.StatusOffline {
		return nil
	}
	token, err := r.deps.Bots.Token(bot)
	if errors.Is(err, bots.ErrTokenMissing) {
		return nil
	}
	if err != nil {
		return err
	}
	user, err := r.deps.Users.Ensure(ctx, users.Profile{
		TelegramID: upd.FromKey(),
		Name:       upd.FromName,
		Username:   upd.Username,
	})
	if err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	isOwner := bot.OwnerID == user.ID
	if !bot.Public() && !isOwner {
		return nil
	}
	sess, err := r.deps.Sessions.GetOrCreate(ctx, user.ID, bot.ID, strconv.FormatInt(upd.ChatID, 10))
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	v := visit{upd: upd, bot: bot, token: token, sess: sess, isOwner: isOwner}

	if upd.Type == telegram.UpdateCallback && upd.CallbackID != "" {
		if aerr := r.deps.Telegram.AnswerCallback(ctx, token, upd.CallbackID, ""); aerr != nil {
			r.logger.Warn("answer callback failed", slog.String("bot_id", bot.ID), slog.Any("error", aerr))
		}
	}

	data := upd.CallbackData
	switch {
	case upd.Type == telegram.UpdateMessage && upd.Text == "/start":
		return r.navigate(ctx, v, []string{}, r.welcome(v, textBotWelcome))
	case strings.HasPrefix(data, ownerPrefix):
		return r.onOwner(ctx, v)
	case data == flow.CallbackHome:
		return r.navigate(ctx, v, flow.HandleNavigation(flow.NavHome, r.stack(v)), r.welcome(v, textBotWelcome))
	case data == flow.CallbackBack:
		return r.navigate(ctx, v, flow.HandleNavigation(flow.NavBack, r.stack(v)), r.welcome(v, textBotBack))
	}
	if index, ok := flow.ParseMenuCallback(data); ok {
		return r.onMenu(ctx, v, index)
	}
	// Free text has no meaning in a menu bot.
	return nil
}

func (r *Runtime) onMenu(ctx context.Context, v visit, index int) error {
	items := v.bot.LiveMenu()
	if index >= len(items) {
		return nil
	}
	item := items[index]
	stack := flow.Push(r.stack(v), item.Title)
	if _, err := r.deps.Sessions.Transition(ctx, v.sess, session.StateUserFlow, session.UserFlow{Stack: stack}); err != nil {
		return fmt.Errorf("push menu: %w", err)
	}
	r.logger.Info("menu action executed",
		slog.String("bot_id", v.bot.ID),
		slog.String("item", item.Title),
		slog.String("from", v.upd.FromKey()),
	)
	r.send(ctx, v, item.Action, nil)
	return r.sendMenu(ctx, v, textChooseMenu)
}

func (r *Runtime) onOwner(ctx context.Context, v visit) error {
	if !v.isOwner {
		return nil
	}
	switch v.upd.CallbackData {
	case flow.CallbackOwnerPanel:
		r.send(ctx, v, textOwnerPanel, ownerPanelKeyboard())
		return nil
	case cbOwnerToggle:
		next := bots.StatusPublished
		if v.bot.Public() {
			next = bots.StatusOffline
		}
		if _, err := r.deps.Bots.SetStatus(ctx, v.bot.ID, next); err != nil {
			return fmt.Errorf("toggle status: %w", err)
		}
		r.send(ctx, v, fmt.Sprintf(textStatusSetTo, next), nil)
	}
	return nil
}

func (r *Runtime) navigate(ctx context.Context, v visit, stack []string, text string) error {
	if _, err := r.deps.Sessions.Transition(ctx, v.sess, session.StateUserFlow, session.UserFlow{Stack: stack}); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	return r.sendMenu(ctx, v, text)
}

func (r *Runtime) sendMenu(ctx context.Context, v visit, text string) error {
	kb := flow.MenuKeyboard(v.bot.LiveMenu(), v.isOwner, nil)
	r.send(ctx, v, text, &kb)
	return nil
}

func (r *Runtime) send(ctx context.Context, v visit, text string, kb *tgbotapi.InlineKeyboardMarkup) {
	if err := r.deps.Telegram.Send(ctx, v.token, v.upd.ChatID, text, kb); err != nil {
		r.logger.Warn("send reply failed", slog.String("bot_id", v.bot.ID), slog.Int64("chat_id", v.upd.ChatID), slog.Any("error", err))
	}
}

func (r *Runtime) welcome(v visit, fallback string) string {
	if strings.TrimSpace(v.bot.WelcomeText) != "" {
		return v.bot.WelcomeText
	}
	return fallback
}

func (r *Runtime) stack(v visit) []string {
	if p, ok := v.sess.Payload.(session.UserFlow); ok {
		return p.Stack
	}
	return []string{}
}

// Package conversation drives the builder bot state machine and serves
// the bots it publishes.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/memohai/botsmith/internal/blueprint"
	"github.com/memohai/botsmith/internal/bots"
	"github.com/memohai/botsmith/internal/flow"
	"github.com/memohai/botsmith/internal/pipeline"
	"github.com/memohai/botsmith/internal/publish"
	"github.com/memohai/botsmith/internal/session"
	"github.com/memohai/botsmith/internal/telegram"
	"github.com/memohai/botsmith/internal/users"
)

// Generator runs the generation pipeline.
type Generator interface {
	Run(ctx context.Context, in pipeline.Input) pipeline.Output
}

// Publisher runs the publish protocol for a draft.
type Publisher interface {
	Publish(ctx context.Context, req publish.Request) publish.Result
}

// Feedback stores advice the user rated as useful.
type Feedback interface {
	SaveExample(ctx context.Context, bp blueprint.Blueprint, rating int) error
}

// MasterDeps groups the collaborators of the builder bot.
type MasterDeps struct {
	Token     string
	Users     *users.Service
	Sessions  *session.Service
	Bots      *bots.Service
	Generator Generator
	Publisher Publisher
	Feedback  Feedback
	Telegram  telegram.Client
}

// Master is the builder bot. Every update is read against the user's
// latest master session, decided from (state, event) and written back once.
type Master struct {
	deps   MasterDeps
	logger *slog.Logger
}

func NewMaster(log *slog.Logger, deps MasterDeps) *Master {
	if log == nil {
		log = slog.Default()
	}
	return &Master{deps: deps, logger: log.With(slog.String("service", "conversation_master"))}
}

// turn is one inbound event with the context it is decided against.
type turn struct {
	upd  telegram.ParsedUpdate
	user users.User
	sess session.Session
}

func (t turn) chatID() int64 { return t.upd.ChatID }

// Handle processes one update of the builder bot. Failures are answered
// with a generic reply; the returned error is for logging.
func (m *Master) Handle(ctx context.Context, upd telegram.ParsedUpdate) (err error) {
	if !upd.Actionable() {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			m.logger.Error("master update failed",
				slog.Int64("chat_id", upd.ChatID),
				slog.String("from", upd.FromKey()),
				slog.Any("error", err),
			)
			_ = m.reply(ctx, upd.ChatID, textFailure, nil)
		}
	}()

	if upd.Type == telegram.UpdateCallback && upd.CallbackID != "" {
		if aerr := m.deps.Telegram.AnswerCallback(ctx, m.deps.Token, upd.CallbackID, ""); aerr != nil {
			m.logger.Warn("answer callback failed", slog.Any("error", aerr))
		}
	}
	user, err := m.deps.Users.Ensure(ctx, users.Profile{
		TelegramID: upd.FromKey(),
		Name:       upd.FromName,
		Username:   upd.Username,
	})
	if err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	sess, _, err := m.deps.Sessions.Master(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	t := turn{upd: upd, user: user, sess: sess}
	if upd.Type == telegram.UpdateCallback {
		return m.onCallback(ctx, t)
	}
	return m.onText(ctx, t)
}

func (m *Master) onCallback(ctx context.Context, t turn) error {
	data := t.upd.CallbackData
	switch {
	case strings.HasPrefix(data, feedbackPrefix):
		return m.onFeedback(ctx, t)
	case data == cbManageBots:
		return m.listBots(ctx, t)
	case strings.HasPrefix(data, draftPrefix):
		return m.onDraft(ctx, t)
	case t.sess.State == session.StatePreviewMode:
		return m.onPreviewCallback(ctx, t)
	}
	return m.reply(ctx, t.chatID(), textUnknown, nil)
}

func (m *Master) onText(ctx context.Context, t turn) error {
	switch t.upd.Text {
	case "/start":
		if _, err := m.transition(ctx, t, session.StateIdle, session.Idle{}); err != nil {
			return err
		}
		return m.reply(ctx, t.chatID(), textWelcome, nil)
	case "/create":
		if _, err := m.transition(ctx, t, session.StateAwaitingDescription, session.Describing{}); err != nil {
			return err
		}
		return m.reply(ctx, t.chatID(), textAskDescription, nil)
	case "/mybots":
		return m.listBots(ctx, t)
	}
	if t.upd.Text == "" {
		return m.reply(ctx, t.chatID(), textUnknown, nil)
	}
	switch t.sess.State {
	case session.StateAwaitingDescription:
		return m.onDescription(ctx, t)
	case session.StateOwnerEditWelcome:
		return m.onEditWelcome(ctx, t)
	case session.StateOwnerEditMenu:
		return m.onEditMenu(ctx, t)
	case session.StateOwnerEditButtonLabel:
		return m.onButtonLabel(ctx, t)
	case session.StateOwnerEditButtonAction:
		return m.onButtonAction(ctx, t)
	case session.StatePreviewMode:
		return m.onPreviewText(ctx, t)
	case session.StateAwaitingToken:
		return m.onToken(ctx, t)
	}
	return m.reply(ctx, t.chatID(), textUnknown, nil)
}

func (m *Master) listBots(ctx context.Context, t turn) error {
	list, err := m.deps.Bots.ListByOwner(ctx, t.user.ID)
	if err != nil {
		return fmt.Errorf("list bots: %w", err)
	}
	if len(list) == 0 {
		return m.reply(ctx, t.chatID(), textNoBots, nil)
	}
	return m.reply(ctx, t.chatID(), botList(list), nil)
}

func (m *Master) onDescription(ctx context.Context, t turn) error {
	if err := m.deps.Sessions.AppendMessage(ctx, t.sess.ID, session.RoleUser, t.upd.Text); err != nil {
		m.logger.Warn("append message failed", slog.String("session_id", t.sess.ID), slog.Any("error", err))
	}
	var last *blueprint.Blueprint
	if p, ok := t.sess.Payload.(session.Describing); ok {
		last = p.LastBlueprint
	}
	out := m.deps.Generator.Run(ctx, m.input(t, t.upd.Text, nil, last))
	if !out.OK {
		if out.BlockedReason != "" {
			return m.reply(ctx, t.chatID(), out.Summary, nil)
		}
		return m.reply(ctx, t.chatID(), textBuildFailed, nil)
	}

	if out.Intent == pipeline.IntentConsultation {
		advice := out.Blueprint.Clone()
		next, err := m.transition(ctx, t, session.StateAwaitingDescription, session.Describing{LastBlueprint: &advice})
		if err != nil {
			return err
		}
		m.remember(ctx, next.ID, out.Summary)
		return m.reply(ctx, t.chatID(), out.Summary, feedbackKeyboard(next.ID))
	}

	bot, err := m.deps.Bots.CreateDraft(ctx, t.user.ID, out.Blueprint, t.upd.Text)
	if err != nil {
		return fmt.Errorf("create draft: %w", err)
	}
	next, err := m.transition(ctx, t, session.StateAwaitingReview, session.Drafting{BotID: bot.ID})
	if err != nil {
		return err
	}
	m.remember(ctx, next.ID, out.Summary)
	return m.reply(ctx, t.chatID(), out.Summary+"\n\n"+textCreated, reviewKeyboard())
}

func (m *Master) onFeedback(ctx context.Context, t turn) error {
	data := t.upd.CallbackData
	if strings.HasPrefix(data, cbFeedbackBad) {
		return m.reply(ctx, t.chatID(), textFeedbackBad, nil)
	}
	if !strings.HasPrefix(data, cbFeedbackGood) {
		return m.reply(ctx, t.chatID(), textUnknown, nil)
	}
	// The rated advice only survives in the session that produced it.
	if p, ok := t.sess.Payload.(session.Describing); ok && p.LastBlueprint != nil &&
		t.sess.ID == strings.TrimPrefix(data, cbFeedbackGood) {
		if err := m.deps.Feedback.SaveExample(ctx, *p.LastBlueprint, FeedbackRating); err != nil {
			m.logger.Warn("save feedback example failed", slog.String("session_id", t.sess.ID), slog.Any("error", err))
		}
	}
	return m.reply(ctx, t.chatID(), textFeedbackGood, nil)
}

func (m *Master) onDraft(ctx context.Context, t turn) error {
	botID := t.sess.DraftBotID()
	if botID == "" {
		return m.reply(ctx, t.chatID(), textSessionExpired, nil)
	}
	bot, err := m.draftBot(ctx, t, botID)
	if err != nil {
		if errors.Is(err, bots.ErrBotNotFound) || errors.Is(err, bots.ErrBotAccessDenied) || errors.Is(err, bots.ErrNoDraft) {
			return m.reply(ctx, t.chatID(), textDraftMissing, nil)
		}
		return err
	}
	drafting := session.Drafting{BotID: bot.ID}

	data := t.upd.CallbackData
	switch data {
	case cbPreview:
		if _, err := m.deps.Bots.SetStatus(ctx, bot.ID, bots.StatusPreview); err != nil {
			return fmt.Errorf("set preview status: %w", err)
		}
		if _, err := m.transition(ctx, t, session.StatePreviewMode, drafting); err != nil {
			return err
		}
		return m.sendPreview(ctx, t.chatID(), bot, textPreviewBanner)
	case cbEdit:
		return m.step(ctx, t, session.StateAwaitingReview, drafting, textEditMenu, editKeyboard())
	case cbPublish:
		return m.step(ctx, t, session.StateConfirmPublish, drafting, textConfirmPublish, confirmKeyboard())
	case cbBack:
		return m.step(ctx, t, session.StateAwaitingReview, drafting, textCreated, reviewKeyboard())
	case cbEditWelcome:
		return m.step(ctx, t, session.StateOwnerEditWelcome, drafting, textAskWelcome, nil)
	case cbEditMenu:
		return m.step(ctx, t, session.StateOwnerEditMenu, drafting, textAskMenu, nil)
	case cbEditButton:
		return m.step(ctx, t, session.StateOwnerEditButtonSelect, drafting, textPickButton, buttonPicker(bot.DraftMenuItems()))
	case cbRegenerate:
		return m.regenerate(ctx, t, bot)
	case cbConfirmPublish:
		if bot.TokenSealed == "" {
			return m.step(ctx, t, session.StateAwaitingToken, drafting, textAskToken, nil)
		}
		return m.publish(ctx, t, publish.Request{BotID: bot.ID})
	}

	if raw, ok := strings.CutPrefix(data, cbSelectButton); ok {
		index, err := strconv.Atoi(raw)
		if err != nil || index < 0 || index >= len(bot.DraftMenuItems()) {
			return m.reply(ctx, t.chatID(), textButtonMissing, nil)
		}
		return m.step(ctx, t, session.StateOwnerEditButtonLabel, session.ButtonLabel{BotID: bot.ID, Index: index}, textAskButtonLabel, nil)
	}
	return m.reply(ctx, t.chatID(), textUnknown, nil)
}

func (m *Master) regenerate(ctx context.Context, t turn, bot bots.Bot) error {
	working, err := bot.WorkingDraft()
	if err != nil {
		return m.reply(ctx, t.chatID(), textDraftMissing, nil)
	}
	prompt := strings.TrimSpace(bot.Description)
	if prompt == "" {
		prompt = textRegeneratePrompt
	}
	ref := &pipeline.BotRef{ID: bot.ID, Name: bot.Name, Description: bot.Description}
	out := m.deps.Generator.Run(ctx, m.input(t, prompt, ref, &working))
	if !out.OK {
		if out.BlockedReason != "" {
			return m.reply(ctx, t.chatID(), out.Summary, nil)
		}
		return m.reply(ctx, t.chatID(), textRegenerateFailed, nil)
	}
	if out.Intent == pipeline.IntentConsultation {
		return m.reply(ctx, t.chatID(), out.Summary, reviewKeyboard())
	}
	if _, err := m.deps.Bots.UpdateBlueprint(ctx, bot.ID, out.Blueprint); err != nil {
		return fmt.Errorf("update blueprint: %w", err)
	}
	return m.reply(ctx, t.chatID(), out.Summary+"\n\n"+textRegenerated, reviewKeyboard())
}

func (m *Master) onPreviewCallback(ctx context.Context, t turn) error {
	bot, err := m.previewBot(ctx, t)
	if err != nil || bot == nil {
		return err
	}
	data := t.upd.CallbackData
	if index, ok := flow.ParseMenuCallback(data); ok {
		items := bot.DraftMenuItems()
		if index < 0 || index >= len(items) {
			return m.reply(ctx, t.chatID(), textUnknown, nil)
		}
		return m.sendPreview(ctx, t.chatID(), *bot, textPreviewBanner+"\n\n"+items[index].Action)
	}
	if data == flow.CallbackHome || data == flow.CallbackBack {
		return m.sendPreview(ctx, t.chatID(), *bot, textPreviewBanner)
	}
	return m.reply(ctx, t.chatID(), textUnknown, nil)
}

func (m *Master) onPreviewText(ctx context.Context, t turn) error {
	bot, err := m.previewBot(ctx, t)
	if err != nil || bot == nil {
		return err
	}
	return m.sendPreview(ctx, t.chatID(), *bot, textPreviewBanner)
}

// previewBot returns nil after replying when the preview can not continue.
func (m *Master) previewBot(ctx context.Context, t turn) (*bots.Bot, error) {
	botID := t.sess.DraftBotID()
	if botID == "" {
		return nil, m.reply(ctx, t.chatID(), textPreviewExpired, nil)
	}
	bot, err := m.deps.Bots.GetOwned(ctx, botID, t.user.ID)
	if err != nil {
		if errors.Is(err, bots.ErrBotNotFound) || errors.Is(err, bots.ErrBotAccessDenied) {
			return nil, m.reply(ctx, t.chatID(), textBotMissing, nil)
		}
		return nil, err
	}
	return &bot, nil
}

func (m *Master) sendPreview(ctx context.Context, chatID int64, bot bots.Bot, text string) error {
	kb := flow.MenuKeyboard(bot.DraftMenuItems(), false, nil)
	return m.reply(ctx, chatID, text, &kb)
}

func (m *Master) onEditWelcome(ctx context.Context, t turn) error {
	botID := t.sess.DraftBotID()
	if botID == "" {
		return m.reply(ctx, t.chatID(), textBotUnresolved, nil)
	}
	if _, err := m.draftBot(ctx, t, botID); err != nil {
		return m.editFailed(ctx, t, err)
	}
	if _, err := m.deps.Bots.UpdateDraftWelcome(ctx, botID, t.upd.Text); err != nil {
		return m.editFailed(ctx, t, err)
	}
	return m.step(ctx, t, session.StateAwaitingReview, session.Drafting{BotID: botID}, textWelcomeUpdated, reviewKeyboard())
}

func (m *Master) onEditMenu(ctx context.Context, t turn) error {
	botID := t.sess.DraftBotID()
	if botID == "" {
		return m.reply(ctx, t.chatID(), textBotUnresolved, nil)
	}
	if _, err := m.draftBot(ctx, t, botID); err != nil {
		return m.editFailed(ctx, t, err)
	}
	labels := blueprint.SplitLabels(t.upd.Text)
	_, err := m.deps.Bots.EditDraft(ctx, botID, func(bp blueprint.Blueprint) (blueprint.Blueprint, error) {
		return blueprint.ReplaceMenu(bp, labels)
	})
	if err != nil {
		return m.editFailed(ctx, t, err)
	}
	return m.step(ctx, t, session.StateAwaitingReview, session.Drafting{BotID: botID}, textMenuUpdated, reviewKeyboard())
}

func (m *Master) onButtonLabel(ctx context.Context, t turn) error {
	p, ok := t.sess.Payload.(session.ButtonLabel)
	if !ok || p.BotID == "" {
		return m.reply(ctx, t.chatID(), textButtonMissing, nil)
	}
	next := session.ButtonAction{BotID: p.BotID, Index: p.Index, Label: t.upd.Text}
	return m.step(ctx, t, session.StateOwnerEditButtonAction, next, textAskButtonAction, nil)
}

func (m *Master) onButtonAction(ctx context.Context, t turn) error {
	p, ok := t.sess.Payload.(session.ButtonAction)
	if !ok || p.BotID == "" || p.Label == "" {
		return m.reply(ctx, t.chatID(), textButtonEditFailed, nil)
	}
	if _, err := m.draftBot(ctx, t, p.BotID); err != nil {
		if errors.Is(err, bots.ErrBotNotFound) || errors.Is(err, bots.ErrBotAccessDenied) || errors.Is(err, bots.ErrNoDraft) {
			return m.reply(ctx, t.chatID(), textDraftGone, nil)
		}
		return err
	}
	_, err := m.deps.Bots.EditDraft(ctx, p.BotID, func(bp blueprint.Blueprint) (blueprint.Blueprint, error) {
		return blueprint.ReplaceButton(bp, p.Index, p.Label, t.upd.Text)
	})
	if err != nil {
		return m.editFailed(ctx, t, err)
	}
	return m.step(ctx, t, session.StateAwaitingReview, session.Drafting{BotID: p.BotID}, textButtonUpdated, reviewKeyboard())
}

// editFailed maps edit errors to replies. An invalid edit keeps the state so
// the owner can send another value.
func (m *Master) editFailed(ctx context.Context, t turn, err error) error {
	var editErr *blueprint.EditError
	switch {
	case errors.As(err, &editErr):
		m.logger.Info("draft edit rejected", slog.String("user_id", t.user.ID), slog.Any("issues", editErr.Issues))
		return m.reply(ctx, t.chatID(), textInvalidEdit, nil)
	case errors.Is(err, blueprint.ErrIndexOutOfRange):
		return m.reply(ctx, t.chatID(), textButtonMissing, nil)
	case errors.Is(err, bots.ErrBotNotFound), errors.Is(err, bots.ErrBotAccessDenied), errors.Is(err, bots.ErrNoDraft):
		return m.reply(ctx, t.chatID(), textDraftGone, nil)
	}
	return err
}

func (m *Master) onToken(ctx context.Context, t turn) error {
	token := strings.TrimSpace(t.upd.Text)
	if !telegram.ValidTokenFormat(token) {
		return m.reply(ctx, t.chatID(), textBadTokenFormat, nil)
	}
	botID := t.sess.DraftBotID()
	if botID == "" {
		if _, err := m.transition(ctx, t, session.StateIdle, session.Idle{}); err != nil {
			return err
		}
		return m.reply(ctx, t.chatID(), textRestart, nil)
	}
	if _, err := m.draftBot(ctx, t, botID); err != nil {
		if errors.Is(err, bots.ErrBotNotFound) || errors.Is(err, bots.ErrBotAccessDenied) || errors.Is(err, bots.ErrNoDraft) {
			return m.reply(ctx, t.chatID(), textDraftMissing, nil)
		}
		return err
	}
	return m.publish(ctx, t, publish.Request{BotID: botID, Token: token})
}

// publish runs the coordinator. A rejected token keeps the session waiting
// for another one; every other outcome ends the flow in IDLE.
func (m *Master) publish(ctx context.Context, t turn, req publish.Request) error {
	res := m.deps.Publisher.Publish(ctx, req)
	if !res.Success && res.FailedPhase == publish.PhaseValidateToken && req.Token != "" {
		return m.reply(ctx, t.chatID(), invalidToken(res.Error), nil)
	}
	if _, err := m.transition(ctx, t, session.StateIdle, session.Idle{}); err != nil {
		return err
	}
	if res.Success {
		text, kb := publishSuccess(res.Username)
		return m.reply(ctx, t.chatID(), text, kb)
	}
	text, kb := publishFailure(res)
	return m.reply(ctx, t.chatID(), text, kb)
}

func (m *Master) draftBot(ctx context.Context, t turn, botID string) (bots.Bot, error) {
	bot, err := m.deps.Bots.GetOwned(ctx, botID, t.user.ID)
	if err != nil {
		return bots.Bot{}, err
	}
	if !bot.HasDraft() {
		return bots.Bot{}, bots.ErrNoDraft
	}
	return bot, nil
}

func (m *Master) input(t turn, text string, ref *pipeline.BotRef, draft *blueprint.Blueprint) pipeline.Input {
	return pipeline.Input{
		TraceID:      uuid.NewString(),
		UserID:       t.user.ID,
		ChatID:       t.chatID(),
		MessageText:  text,
		SessionID:    t.sess.ID,
		SessionState: string(t.sess.State),
		CurrentBot:   ref,
		Draft:        draft,
	}
}

// step transitions and replies.
func (m *Master) step(ctx context.Context, t turn, state session.State, p session.Payload, text string, kb *tgbotapi.InlineKeyboardMarkup) error {
	if _, err := m.transition(ctx, t, state, p); err != nil {
		return err
	}
	return m.reply(ctx, t.chatID(), text, kb)
}

func (m *Master) transition(ctx context.Context, t turn, state session.State, p session.Payload) (session.Session, error) {
	next, err := m.deps.Sessions.Transition(ctx, t.sess, state, p)
	if err != nil {
		return session.Session{}, fmt.Errorf("transition to %s: %w", state, err)
	}
	return next, nil
}

func (m *Master) remember(ctx context.Context, sessionID, text string) {
	if err := m.deps.Sessions.AppendMessage(ctx, sessionID, session.RoleAssistant, text); err != nil {
		m.logger.Warn("append message failed", slog.String("session_id", sessionID), slog.Any("error", err))
	}
}

func (m *Master) reply(ctx context.Context, chatID int64, text string, kb *tgbotapi.InlineKeyboardMarkup) error {
	if err := m.deps.Telegram.Send(ctx, m.deps.Token, chatID, text, kb); err != nil {
		m.logger.Warn("send reply failed", slog.Int64("chat_id", chatID), slog.Any("error", err))
	}
	return nil
}

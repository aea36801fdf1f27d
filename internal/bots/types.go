package bots

import (
	"errors"
	"time"

	"github.com/memohai/botsmith/internal/blueprint"
)

// Status is the lifecycle state of a generated bot.
type Status string

const (
	StatusDraft         Status = "DRAFT"
	StatusPreview       Status = "PREVIEW"
	StatusPublished     Status = "PUBLISHED"
	StatusWebhookOK     Status = "WEBHOOK_OK"
	StatusWebhookFailed Status = "WEBHOOK_FAILED"
	StatusOffline       Status = "OFFLINE"
)

// DraftWelcome is the welcome text given to fresh drafts.
const DraftWelcome = "مرحبا! اختر من القائمة."

var (
	ErrBotNotFound     = errors.New("bot not found")
	ErrBotAccessDenied = errors.New("bot access denied")
	ErrNoDraft         = errors.New("bot has no draft")
	ErrTokenMissing    = errors.New("bot token not set")
	ErrInvalidStatus   = errors.New("invalid bot status")
)

// ParseStatus validates a status string.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	switch s {
	case StatusDraft, StatusPreview, StatusPublished, StatusWebhookOK, StatusWebhookFailed, StatusOffline:
		return s, nil
	}
	return "", ErrInvalidStatus
}

// Bot holds the live configuration end users see and the draft the owner edits.
// A nil DraftMenu means the menu was never edited and the draft blueprint menu applies.
type Bot struct {
	ID               string               `json:"id"`
	OwnerID          string               `json:"owner_id"`
	Name             string               `json:"name"`
	Description      string               `json:"description"`
	Status           Status               `json:"status"`
	WelcomeText      string               `json:"welcome_text,omitempty"`
	Menu             []blueprint.MenuItem `json:"menu,omitempty"`
	DraftWelcomeText *string              `json:"draft_welcome_text,omitempty"`
	DraftMenu        []blueprint.MenuItem `json:"draft_menu,omitempty"`
	DraftBlueprint   *blueprint.Blueprint `json:"draft_blueprint,omitempty"`
	LiveBlueprint    *blueprint.Blueprint `json:"live_blueprint,omitempty"`
	TokenSealed      string               `json:"-"`
	TelegramUsername string               `json:"telegram_username,omitempty"`
	TelegramBotID    string               `json:"telegram_bot_id,omitempty"`
	WebhookURL       string               `json:"webhook_url,omitempty"`
	WebhookSecret    string               `json:"-"`
	WebhookStatus    string               `json:"webhook_status,omitempty"`
	WebhookError     string               `json:"webhook_error,omitempty"`
	WebhookCheckedAt *time.Time           `json:"webhook_checked_at,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

func (b Bot) HasDraft() bool { return b.DraftBlueprint != nil }

// DraftMenuItems is the menu the owner currently previews.
func (b Bot) DraftMenuItems() []blueprint.MenuItem {
	if b.DraftMenu != nil {
		return b.DraftMenu
	}
	if b.DraftBlueprint != nil {
		return b.DraftBlueprint.Menu
	}
	return nil
}

// DraftWelcomeMessage falls back to the live welcome text.
func (b Bot) DraftWelcomeMessage() string {
	if b.DraftWelcomeText != nil {
		return *b.DraftWelcomeText
	}
	return b.WelcomeText
}

// WorkingDraft is the draft blueprint with the edited menu applied.
func (b Bot) WorkingDraft() (blueprint.Blueprint, error) {
	if b.DraftBlueprint == nil {
		return blueprint.Blueprint{}, ErrNoDraft
	}
	out := b.DraftBlueprint.Clone()
	if b.DraftMenu != nil {
		out.Menu = append([]blueprint.MenuItem(nil), b.DraftMenu...)
	}
	return out, nil
}

// LiveMenu is the published menu, falling back to the live blueprint.
func (b Bot) LiveMenu() []blueprint.MenuItem {
	if len(b.Menu) > 0 {
		return b.Menu
	}
	if b.LiveBlueprint != nil {
		return b.LiveBlueprint.Menu
	}
	return nil
}

// Public reports whether everyone may talk to the bot, not just its owner.
func (b Bot) Public() bool {
	return b.Status == StatusPublished || b.Status == StatusWebhookOK
}

// TelegramIdentity is what getMe reports for a bot token.
type TelegramIdentity struct {
	Username string
	BotID    string
}

// WebhookRecord is the outcome of one webhook registration attempt.
type WebhookRecord struct {
	URL       string
	Secret    string
	Status    string
	Error     string
	BotStatus Status
	CheckedAt time.Time
}

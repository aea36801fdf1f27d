package bots

import (
	"context"

	"github.com/memohai/botsmith/internal/blueprint"
)

type Store interface {
	Create(ctx context.Context, b Bot) (Bot, error)
	Get(ctx context.Context, id string) (Bot, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Bot, error)
	SetStatus(ctx context.Context, id string, status Status) (Bot, error)
	UpdateDraftWelcome(ctx context.Context, id, text string) (Bot, error)
	// UpdateDraft replaces the draft blueprint and the draft menu together.
	UpdateDraft(ctx context.Context, id string, bp blueprint.Blueprint) (Bot, error)
	SaveToken(ctx context.Context, id, sealed string, who TelegramIdentity) (Bot, error)
	RecordWebhook(ctx context.Context, id string, rec WebhookRecord) (Bot, error)
	// Commit copies the draft fields to live, clears the draft and sets status.
	Commit(ctx context.Context, id string, status Status) (Bot, error)
}

package bots

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/botsmith/internal/blueprint"
)

type MemoryStore struct {
	mu   sync.RWMutex
	bots map[string]Bot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bots: make(map[string]Bot)}
}

func (m *MemoryStore) Create(_ context.Context, b Bot) (Bot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	b.ID = uuid.NewString()
	b.CreatedAt, b.UpdatedAt = now, now
	m.bots[b.ID] = cloneBot(b)
	return cloneBot(b), nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Bot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bots[id]
	if !ok {
		return Bot{}, ErrBotNotFound
	}
	return cloneBot(b), nil
}

func (m *MemoryStore) ListByOwner(_ context.Context, ownerID string) ([]Bot, error) {
	m.mu.RLock()
	out := make([]Bot, 0)
	for _, b := range m.bots {
		if b.OwnerID == ownerID {
			out = append(out, cloneBot(b))
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) SetStatus(_ context.Context, id string, status Status) (Bot, error) {
	return m.update(id, func(b *Bot) { b.Status = status })
}

func (m *MemoryStore) UpdateDraftWelcome(_ context.Context, id, text string) (Bot, error) {
	return m.update(id, func(b *Bot) { b.DraftWelcomeText = &text })
}

func (m *MemoryStore) UpdateDraft(_ context.Context, id string, bp blueprint.Blueprint) (Bot, error) {
	return m.update(id, func(b *Bot) {
		draft := bp.Clone()
		b.DraftBlueprint = &draft
		b.DraftMenu = append([]blueprint.MenuItem{}, bp.Menu...)
	})
}

func (m *MemoryStore) SaveToken(_ context.Context, id, sealed string, who TelegramIdentity) (Bot, error) {
	return m.update(id, func(b *Bot) {
		b.TokenSealed = sealed
		b.TelegramUsername = who.Username
		b.TelegramBotID = who.BotID
	})
}

func (m *MemoryStore) RecordWebhook(_ context.Context, id string, rec WebhookRecord) (Bot, error) {
	return m.update(id, func(b *Bot) {
		checked := rec.CheckedAt
		b.WebhookURL = rec.URL
		b.WebhookSecret = rec.Secret
		b.WebhookStatus = rec.Status
		b.WebhookError = rec.Error
		b.WebhookCheckedAt = &checked
		if rec.BotStatus != "" {
			b.Status = rec.BotStatus
		}
	})
}

func (m *MemoryStore) Commit(_ context.Context, id string, status Status) (Bot, error) {
	return m.update(id, func(b *Bot) {
		if b.DraftWelcomeText != nil {
			b.WelcomeText = *b.DraftWelcomeText
		}
		if b.DraftMenu != nil {
			b.Menu = b.DraftMenu
		}
		if b.DraftBlueprint != nil {
			b.LiveBlueprint = b.DraftBlueprint
		}
		b.DraftWelcomeText = nil
		b.DraftMenu = nil
		b.DraftBlueprint = nil
		b.Status = status
	})
}

func (m *MemoryStore) update(id string, fn func(b *Bot)) (Bot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bots[id]
	if !ok {
		return Bot{}, ErrBotNotFound
	}
	b = cloneBot(b)
	fn(&b)
	b.UpdatedAt = time.Now()
	m.bots[id] = b
	return cloneBot(b), nil
}

func cloneBot(b Bot) Bot {
	out := b
	if b.Menu != nil {
		out.Menu = append([]blueprint.MenuItem{}, b.Menu...)
	}
	if b.DraftMenu != nil {
		out.DraftMenu = append([]blueprint.MenuItem{}, b.DraftMenu...)
	}
	if b.DraftBlueprint != nil {
		c := b.DraftBlueprint.Clone()
		out.DraftBlueprint = &c
	}
	if b.LiveBlueprint != nil {
		c := b.LiveBlueprint.Clone()
		out.LiveBlueprint = &c
	}
	if b.DraftWelcomeText != nil {
		w := *b.DraftWelcomeText
		out.DraftWelcomeText = &w
	}
	return out
}

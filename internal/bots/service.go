// Package bots owns generated bots: their draft and live configuration,
// the sealed Telegram token and the webhook registration record.
package bots

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/memohai/botsmith/internal/blueprint"
)

// Sealer encrypts tokens at rest.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

type Service struct {
	store  Store
	sealer Sealer
	logger *slog.Logger
}

func NewService(log *slog.Logger, store Store, sealer Sealer) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:  store,
		sealer: sealer,
		logger: log.With(slog.String("service", "bots")),
	}
}

// CreateDraft stores a new DRAFT bot built from bp. description is the
// owner's original request.
func (s *Service) CreateDraft(ctx context.Context, ownerID string, bp blueprint.Blueprint, description string) (Bot, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return Bot{}, fmt.Errorf("owner id is required")
	}
	name := strings.TrimSpace(bp.Name)
	if name == "" {
		name = "New Bot"
	}
	welcome := DraftWelcome
	draft := bp.Clone()
	b, err := s.store.Create(ctx, Bot{
		OwnerID:          ownerID,
		Name:             name,
		Description:      description,
		Status:           StatusDraft,
		DraftWelcomeText: &welcome,
		DraftMenu:        append([]blueprint.MenuItem{}, draft.Menu...),
		DraftBlueprint:   &draft,
	})
	if err != nil {
		return Bot{}, fmt.Errorf("create draft bot: %w", err)
	}
	s.logger.Info("draft bot created", slog.String("bot_id", b.ID), slog.String("owner_id", ownerID))
	return b, nil
}

func (s *Service) Get(ctx context.Context, id string) (Bot, error) {
	return s.store.Get(ctx, id)
}

// GetOwned loads a bot and checks that ownerID owns it.
func (s *Service) GetOwned(ctx context.Context, id, ownerID string) (Bot, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return Bot{}, err
	}
	if b.OwnerID != ownerID {
		return Bot{}, ErrBotAccessDenied
	}
	return b, nil
}

func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]Bot, error) {
	return s.store.ListByOwner(ctx, ownerID)
}

func (s *Service) SetStatus(ctx context.Context, id string, status Status) (Bot, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return Bot{}, err
	}
	b, err := s.store.SetStatus(ctx, id, status)
	if err != nil {
		return Bot{}, err
	}
	s.logger.Info("bot status changed", slog.String("bot_id", id), slog.String("status", string(status)))
	return b, nil
}

func (s *Service) UpdateDraftWelcome(ctx context.Context, id, text string) (Bot, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return Bot{}, err
	}
	if !b.HasDraft() {
		return Bot{}, ErrNoDraft
	}
	return s.store.UpdateDraftWelcome(ctx, id, strings.TrimSpace(text))
}

// EditDraft applies edit to the working draft. edit is one of the
// blueprint edit operations, so an invalid result is rejected with a
// *blueprint.EditError and nothing is written.
func (s *Service) EditDraft(ctx context.Context, id string, edit func(blueprint.Blueprint) (blueprint.Blueprint, error)) (Bot, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return Bot{}, err
	}
	working, err := b.WorkingDraft()
	if err != nil {
		return Bot{}, err
	}
	next, err := edit(working)
	if err != nil {
		return Bot{}, err
	}
	return s.store.UpdateDraft(ctx, id, next)
}

// UpdateDraftMenu replaces the draft menu with items after validation.
func (s *Service) UpdateDraftMenu(ctx context.Context, id string, items []blueprint.MenuItem) (Bot, error) {
	return s.EditDraft(ctx, id, func(bp blueprint.Blueprint) (blueprint.Blueprint, error) {
		bp.Menu = append([]blueprint.MenuItem(nil), items...)
		fixed, report := blueprint.ValidateAndFix(bp)
		if !report.OK {
			return blueprint.Blueprint{}, &blueprint.EditError{Issues: report.Issues}
		}
		return fixed, nil
	})
}

// UpdateBlueprint replaces the draft with a regenerated blueprint.
func (s *Service) UpdateBlueprint(ctx context.Context, id string, bp blueprint.Blueprint) (Bot, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return Bot{}, err
	}
	return s.store.UpdateDraft(ctx, id, bp.Clone())
}

// SaveToken seals token and stores it with the identity getMe reported.
func (s *Service) SaveToken(ctx context.Context, id, token string, who TelegramIdentity) (Bot, error) {
	if s.sealer == nil {
		return Bot{}, errors.New("token sealer not configured")
	}
	sealed, err := s.sealer.Seal(token)
	if err != nil {
		return Bot{}, fmt.Errorf("seal token: %w", err)
	}
	b, err := s.store.SaveToken(ctx, id, sealed, who)
	if err != nil {
		return Bot{}, err
	}
	s.logger.Info("bot token saved", slog.String("bot_id", id), slog.String("username", who.Username))
	return b, nil
}

// Token decrypts the stored token of b.
func (s *Service) Token(b Bot) (string, error) {
	if b.TokenSealed == "" {
		return "", ErrTokenMissing
	}
	if s.sealer == nil {
		return "", errors.New("token sealer not configured")
	}
	token, err := s.sealer.Open(b.TokenSealed)
	if err != nil {
		return "", fmt.Errorf("open token: %w", err)
	}
	return token, nil
}

func (s *Service) RecordWebhook(ctx context.Context, id string, rec WebhookRecord) (Bot, error) {
	return s.store.RecordWebhook(ctx, id, rec)
}

// Commit publishes the draft. Callers invoke it only after the webhook is verified.
func (s *Service) Commit(ctx context.Context, id string, status Status) (Bot, error) {
	b, err := s.store.Commit(ctx, id, status)
	if err != nil {
		return Bot{}, fmt.Errorf("commit draft: %w", err)
	}
	s.logger.Info("draft committed", slog.String("bot_id", id), slog.String("status", string(status)))
	return b, nil
}

package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type Service struct {
	store    Store
	defaults Defaults
	logger   *slog.Logger
}

func NewService(log *slog.Logger, store Store, defaults Defaults) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:    store,
		defaults: defaults,
		logger:   log.With(slog.String("service", "users")),
	}
}

// Ensure registers the sender on first contact and refreshes their profile afterwards.
func (s *Service) Ensure(ctx context.Context, p Profile) (User, error) {
	p.TelegramID = strings.TrimSpace(p.TelegramID)
	if p.TelegramID == "" {
		return User{}, errors.New("telegram id is required")
	}
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		p.Name = "User"
	}
	p.Username = strings.TrimSpace(p.Username)
	u, err := s.store.Upsert(ctx, p, s.defaults)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *Service) Get(ctx context.Context, id string) (User, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) GetByTelegramID(ctx context.Context, telegramID string) (User, error) {
	return s.store.GetByTelegramID(ctx, strings.TrimSpace(telegramID))
}

// SetStatus is the admin approval action.
func (s *Service) SetStatus(ctx context.Context, id, status string) (User, error) {
	parsed, err := ParseStatus(status)
	if err != nil {
		return User{}, err
	}
	u, err := s.store.SetStatus(ctx, id, parsed)
	if err != nil {
		return User{}, fmt.Errorf("set status: %w", err)
	}
	s.logger.Info("user status changed", slog.String("user_id", id), slog.String("status", string(parsed)))
	return u, nil
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]User, error) {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.store.List(ctx, f)
}

package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Service seals values before they reach the store.
type Service struct {
	cipher *Cipher
	store  Store
	logger *slog.Logger
}

func NewService(log *slog.Logger, cipher *Cipher, store Store) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{cipher: cipher, store: store, logger: log.With(slog.String("service", "secrets"))}
}

func (s *Service) Set(ctx context.Context, botID, key, value string) error {
	key = strings.TrimSpace(key)
	if botID == "" || key == "" {
		return errors.New("bot id and key are required")
	}
	sealed, err := s.cipher.Seal(value)
	if err != nil {
		return fmt.Errorf("seal secret: %w", err)
	}
	if err := s.store.Put(ctx, botID, key, sealed); err != nil {
		return err
	}
	s.logger.Info("secret set", slog.String("bot_id", botID), slog.String("key", key))
	return nil
}

// GetSecret returns the plaintext value; ok is false when it is missing or unreadable.
func (s *Service) GetSecret(ctx context.Context, botID, key string) (string, bool) {
	sealed, err := s.store.Get(ctx, botID, key)
	if err != nil {
		if !errors.Is(err, ErrSecretNotFound) {
			s.logger.Error("load secret failed", slog.String("bot_id", botID), slog.String("key", key), slog.Any("error", err))
		}
		return "", false
	}
	plain, err := s.cipher.Open(sealed)
	if err != nil {
		s.logger.Warn("corrupt secret", slog.String("bot_id", botID), slog.String("key", key))
		return "", false
	}
	return plain, true
}

func (s *Service) Delete(ctx context.Context, botID, key string) error {
	return s.store.Delete(ctx, botID, key)
}

func (s *Service) Keys(ctx context.Context, botID string) ([]string, error) {
	return s.store.Keys(ctx, botID)
}

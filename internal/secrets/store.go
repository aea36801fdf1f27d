package secrets

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/memohai/botsmith/internal/db"
)

var ErrSecretNotFound = errors.New("secret not found")

// Store holds sealed values keyed by bot and name.
type Store interface {
	Put(ctx context.Context, botID, key, sealed string) error
	Get(ctx context.Context, botID, key string) (string, error)
	Delete(ctx context.Context, botID, key string) error
	Keys(ctx context.Context, botID string) ([]string, error)
}

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Put(ctx context.Context, botID, key, sealed string) error {
	pgID, err := db.ParseUUID(botID)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO bot_secrets (bot_id, key, value) VALUES ($1, $2, $3)
		ON CONFLICT (bot_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, pgID, key, sealed)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, botID, key string) (string, error) {
	pgID, err := db.ParseUUID(botID)
	if err != nil {
		return "", ErrSecretNotFound
	}
	var sealed string
	err = s.pool.QueryRow(ctx, `SELECT value FROM bot_secrets WHERE bot_id = $1 AND key = $2`, pgID, key).Scan(&sealed)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrSecretNotFound
	}
	return sealed, err
}

func (s *PostgresStore) Delete(ctx context.Context, botID, key string) error {
	pgID, err := db.ParseUUID(botID)
	if err != nil {
		return ErrSecretNotFound
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM bot_secrets WHERE bot_id = $1 AND key = $2`, pgID, key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSecretNotFound
	}
	return nil
}

func (s *PostgresStore) Keys(ctx context.Context, botID string) ([]string, error) {
	pgID, err := db.ParseUUID(botID)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `SELECT key FROM bot_secrets WHERE bot_id = $1 ORDER BY key`, pgID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

type MemoryStore struct {
	mu     sync.Mutex
	values map[string]map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]map[string]string)}
}

func (m *MemoryStore) Put(_ context.Context, botID, key, sealed string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values[botID] == nil {
		m.values[botID] = make(map[string]string)
	}
	m.values[botID][key] = sealed
	return nil
}

func (m *MemoryStore) Get(_ context.Context, botID, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[botID][key]
	if !ok {
		return "", ErrSecretNotFound
	}
	return v, nil
}

func (m *MemoryStore) Delete(_ context.Context, botID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[botID][key]; !ok {
		return ErrSecretNotFound
	}
	delete(m.values[botID], key)
	return nil
}

func (m *MemoryStore) Keys(_ context.Context, botID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.values[botID]))
	for k := range m.values[botID] {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

package learning

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/memohai/botsmith/internal/blueprint"
	"github.com/memohai/botsmith/internal/db"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Save(ctx context.Context, ex Example) (Example, error) {
	content, err := blueprint.Wrap(blueprint.KindBlueprint, ex.Blueprint)
	if err != nil {
		return Example{}, err
	}
	var (
		id      pgtype.UUID
		created pgtype.Timestamptz
	)
	err = s.pool.QueryRow(ctx, `
		INSERT INTO knowledge_base_items (type, title, content, tags, rating, language)
		VALUES ('EXAMPLE', $1, $2, $3, $4, 'ar')
		RETURNING id, created_at`, ex.Name, content, ex.Tags, ex.Rating).Scan(&id, &created)
	if err != nil {
		return Example{}, err
	}
	ex.ID = db.UUIDToString(id)
	ex.CreatedAt = db.TimeFromPg(created)
	return ex, nil
}

func (s *PostgresStore) Search(ctx context.Context, keywords []string, limit int) ([]Example, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, content, tags, rating, created_at
		FROM knowledge_base_items
		WHERE type = 'EXAMPLE'
		  AND (tags && $1::text[]
		       OR EXISTS (SELECT 1 FROM unnest($1::text[]) k WHERE strpos(title, k) > 0))
		ORDER BY updated_at DESC
		LIMIT $2`, keywords, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Example, 0, limit)
	for rows.Next() {
		var (
			id      pgtype.UUID
			created pgtype.Timestamptz
			content []byte
			ex      Example
		)
		if err := rows.Scan(&id, &ex.Name, &content, &ex.Tags, &ex.Rating, &created); err != nil {
			return nil, err
		}
		bp, err := blueprint.Unwrap[blueprint.Blueprint](content, blueprint.KindBlueprint)
		if err != nil {
			// unreadable rows are skipped, not fatal
			continue
		}
		ex.ID = db.UUIDToString(id)
		ex.CreatedAt = db.TimeFromPg(created)
		ex.Blueprint = bp
		ex.Description = bp.Description
		ex.Skills = bp.Skills
		out = append(out, ex)
	}
	return out, rows.Err()
}

type MemoryStore struct {
	mu    sync.Mutex
	items []Example
	// Searches counts Search calls so tests can observe the cache.
	Searches int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Save(_ context.Context, ex Example) (Example, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ex.ID = uuid.NewString()
	ex.CreatedAt = time.Now().Add(time.Duration(len(m.items)) * time.Nanosecond)
	m.items = append(m.items, ex)
	return ex, nil
}

func (m *MemoryStore) Search(_ context.Context, keywords []string, limit int) ([]Example, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Searches++
	out := make([]Example, 0)
	for _, ex := range m.items {
		if matches(ex, keywords) {
			out = append(out, ex)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matches(ex Example, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(ex.Name, k) {
			return true
		}
		for _, t := range ex.Tags {
			if t == k {
				return true
			}
		}
	}
	return false
}

// Package ratelimit bounds how many webhook updates one sender may push per
// minute. Counters live behind Store so a shared backend can replace the
// in-process one.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Window is the fixed window of the shared counter.
const Window = time.Minute

// Store decides whether one more request under key is allowed.
type Store interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Key is "user:<id>" when the sender is known, else "ip:<ip>".
func Key(fromID, ip string) string {
	if fromID != "" {
		return "user:" + fromID
	}
	return "ip:" + ip
}

// MemoryStore keeps one token bucket per key in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewMemoryStore allows perMinute requests per key, refilled evenly.
func NewMemoryStore(perMinute int) *MemoryStore {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &MemoryStore{
		limiters: map[string]*rate.Limiter{},
		limit:    rate.Every(Window / time.Duration(perMinute)),
		burst:    perMinute,
	}
}

func (m *MemoryStore) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	l, ok := m.limiters[key]
	if !ok {
		l = rate.NewLimiter(m.limit, m.burst)
		m.limiters[key] = l
	}
	m.mu.Unlock()
	return l.Allow(), nil
}

// RedisStore counts requests per key in a fixed window shared by every replica.
type RedisStore struct {
	client *redis.Client
	limit  int64
	prefix string
	logger *slog.Logger
}

func NewRedisStore(log *slog.Logger, client *redis.Client, perMinute int) *RedisStore {
	if log == nil {
		log = slog.Default()
	}
	if perMinute <= 0 {
		perMinute = 1
	}
	return &RedisStore{
		client: client,
		limit:  int64(perMinute),
		prefix: "ratelimit:",
		logger: log.With(slog.String("service", "ratelimit")),
	}
}

func (s *RedisStore) Allow(ctx context.Context, key string) (bool, error) {
	k := s.prefix + key
	count, err := s.client.Incr(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit %s: %w", key, err)
	}
	// The first hit opens the window.
	if count == 1 {
		if err := s.client.Expire(ctx, k, Window).Err(); err != nil {
			return false, fmt.Errorf("rate limit %s: %w", key, err)
		}
	}
	if count > s.limit {
		s.logger.Debug("rate limited", slog.String("key", key), slog.Int64("count", count))
		return false, nil
	}
	return true, nil
}

package users

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps users in process memory. The credits memory store
// shares it so balances and statuses stay in one place.
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]*User
	byTG  map[string]string
	clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[string]*User),
		byTG:  make(map[string]string),
		clock: time.Now,
	}
}

func (s *MemoryStore) Upsert(_ context.Context, p Profile, d Defaults) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	if id, ok := s.byTG[p.TelegramID]; ok {
		u := s.byID[id]
		u.Name = p.Name
		if p.Username != "" {
			u.Username = p.Username
		}
		u.UpdatedAt = now
		return *u, nil
	}
	u := &User{
		ID:         uuid.NewString(),
		TelegramID: p.TelegramID,
		Name:       p.Name,
		Username:   p.Username,
		Status:     StatusPendingApproval,
		Credits:    d.InitialBalance,
		DailyLimit: d.DailyLimit,
		LastReset:  now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.byID[u.ID] = u
	s.byTG[p.TelegramID] = u.ID
	return *u, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return *u, nil
}

func (s *MemoryStore) GetByTelegramID(ctx context.Context, telegramID string) (User, error) {
	s.mu.RLock()
	id, ok := s.byTG[telegramID]
	s.mu.RUnlock()
	if !ok {
		return User{}, ErrUserNotFound
	}
	return s.Get(ctx, id)
}

func (s *MemoryStore) SetStatus(_ context.Context, id string, status Status) (User, error) {
	var out User
	err := s.Update(id, func(u *User) error {
		u.Status = status
		u.UpdatedAt = s.clock()
		out = *u
		return nil
	})
	return out, err
}

func (s *MemoryStore) List(_ context.Context, f ListFilter) ([]User, error) {
	s.mu.RLock()
	items := make([]User, 0, len(s.byID))
	for _, u := range s.byID {
		if f.Status != "" && u.Status != f.Status {
			continue
		}
		items = append(items, *u)
	}
	s.mu.RUnlock()
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	if f.Offset >= len(items) {
		return []User{}, nil
	}
	items = items[f.Offset:]
	if f.Limit > 0 && f.Limit < len(items) {
		items = items[:f.Limit]
	}
	return items, nil
}

// Update applies fn to the stored user under the store lock. A non-nil
// error from fn discards nothing already written by fn, so callers check
// before mutating.
func (s *MemoryStore) Update(id string, fn func(u *User) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	return fn(u)
}

// Each calls fn for every user under the store lock.
func (s *MemoryStore) Each(fn func(u *User)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.byID {
		fn(u)
	}
}

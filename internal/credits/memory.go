package credits

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/botsmith/internal/users"
)

// MemoryStore keeps the ledger in memory and balances on a users.MemoryStore.
type MemoryStore struct {
	users *users.MemoryStore

	mu     sync.Mutex
	ledger []Transaction
	clock  func() time.Time
	// FailDeduct makes every Deduct fail, for exercising the best-effort path.
	FailDeduct error
}

func NewMemoryStore(u *users.MemoryStore) *MemoryStore {
	return &MemoryStore{users: u, clock: time.Now}
}

func (s *MemoryStore) User(ctx context.Context, userID string) (users.User, error) {
	return s.users.Get(ctx, userID)
}

func (s *MemoryStore) ResetDaily(_ context.Context, userID string, at time.Time) error {
	return s.users.Update(userID, func(u *users.User) error {
		u.DailyUsed = 0
		u.LastReset = at
		return nil
	})
}

func (s *MemoryStore) ResetAllDaily(_ context.Context, at time.Time) (int64, error) {
	var n int64
	s.users.Each(func(u *users.User) {
		if !sameDay(u.LastReset, at) && u.LastReset.Before(at) {
			u.DailyUsed = 0
			u.LastReset = at
			n++
		}
	})
	return n, nil
}

func (s *MemoryStore) Deduct(_ context.Context, userID string, amount int, reason, referenceID string) (Transaction, error) {
	if s.FailDeduct != nil {
		return Transaction{}, s.FailDeduct
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out Transaction
	err := s.users.Update(userID, func(u *users.User) error {
		if u.Credits < amount {
			return ErrInsufficientCredits
		}
		u.Credits -= amount
		u.DailyUsed += amount
		out = s.appendLocked(userID, -amount, TypeDeduction, reason, u.Credits, referenceID)
		return nil
	})
	return out, err
}

func (s *MemoryStore) Add(_ context.Context, userID string, amount int, t TransactionType, reason, referenceID string) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out Transaction
	err := s.users.Update(userID, func(u *users.User) error {
		if u.Credits+amount < 0 {
			return ErrInsufficientCredits
		}
		u.Credits += amount
		out = s.appendLocked(userID, amount, t, reason, u.Credits, referenceID)
		return nil
	})
	return out, err
}

func (s *MemoryStore) History(_ context.Context, userID string, limit int) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Transaction, 0)
	for i := len(s.ledger) - 1; i >= 0; i-- {
		if s.ledger[i].UserID != userID {
			continue
		}
		out = append(out, s.ledger[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Reconcile(_ context.Context) ([]Drift, error) {
	s.mu.Lock()
	latest := make(map[string]int)
	for _, t := range s.ledger {
		latest[t.UserID] = t.BalanceAfter
	}
	s.mu.Unlock()

	out := make([]Drift, 0)
	s.users.Each(func(u *users.User) {
		ledger, ok := latest[u.ID]
		if !ok || ledger == u.Credits {
			return
		}
		out = append(out, Drift{UserID: u.ID, Stored: u.Credits, Ledger: ledger})
		u.Credits = ledger
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *MemoryStore) appendLocked(userID string, amount int, t TransactionType, reason string, balance int, referenceID string) Transaction {
	tx := Transaction{
		ID:           uuid.NewString(),
		UserID:       userID,
		Amount:       amount,
		Type:         t,
		Reason:       reason,
		BalanceAfter: balance,
		ReferenceID:  referenceID,
		CreatedAt:    s.clock(),
	}
	s.ledger = append(s.ledger, tx)
	return tx
}

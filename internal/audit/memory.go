package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MemoryStore struct {
	mu   sync.Mutex
	runs []AgentRun
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(_ context.Context, run AgentRun) (AgentRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run.ID = uuid.NewString()
	run.CreatedAt = time.Now()
	s.runs = append(s.runs, run)
	return run, nil
}

// List returns newest first.
func (s *MemoryStore) List(_ context.Context, f Filter) ([]AgentRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AgentRun, 0)
	for i := len(s.runs) - 1; i >= 0; i-- {
		r := s.runs[i]
		if f.UserID != "" && r.UserID != f.UserID {
			continue
		}
		if f.TraceID != "" && r.TraceID != f.TraceID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, r)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// All returns every run in insertion order.
func (s *MemoryStore) All() []AgentRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AgentRun(nil), s.runs...)
}

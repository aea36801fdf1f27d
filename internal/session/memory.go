package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps encoded payloads so reads exercise the codec like Postgres does.
type MemoryStore struct {
	mu       sync.Mutex
	rows     map[string]*memRow
	messages map[string][]Message
	seq      int64
}

type memRow struct {
	s    Session
	data []byte
	seq  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]*memRow), messages: make(map[string][]Message)}
}

func (m *MemoryStore) LatestMaster(_ context.Context, userID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.newestLocked(func(s Session) bool { return s.UserID == userID && s.BotID == "" })
}

func (m *MemoryStore) Find(_ context.Context, userID, botID, chatID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.newestLocked(func(s Session) bool {
		return s.UserID == userID && s.BotID == botID && s.ChatID == chatID
	})
}

func (m *MemoryStore) Create(_ context.Context, s Session) (Session, error) {
	data, err := Encode(s.State, s.Payload)
	if err != nil {
		return Session{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = uuid.NewString()
	s.Version = 1
	s.UpdatedAt = time.Now()
	m.seq++
	m.rows[s.ID] = &memRow{s: s, data: data, seq: m.seq}
	return m.readLocked(m.rows[s.ID])
}

func (m *MemoryStore) Update(_ context.Context, s Session) (Session, error) {
	data, err := Encode(s.State, s.Payload)
	if err != nil {
		return Session{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[s.ID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	if row.s.Version != s.Version {
		return Session{}, ErrSessionConflict
	}
	s.Version++
	s.UpdatedAt = time.Now()
	m.seq++
	row.s, row.data, row.seq = s, data, m.seq
	return m.readLocked(row)
}

func (m *MemoryStore) AppendMessage(_ context.Context, sessionID, role, content string) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[sessionID]; !ok {
		return Message{}, ErrSessionNotFound
	}
	msg := Message{ID: uuid.NewString(), SessionID: sessionID, Role: role, Content: content, CreatedAt: time.Now()}
	m.messages[sessionID] = append(m.messages[sessionID], msg)
	return msg, nil
}

func (m *MemoryStore) RecentMessages(_ context.Context, sessionID string, limit int) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.messages[sessionID]
	out := make([]Message, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (m *MemoryStore) newestLocked(match func(Session) bool) (Session, error) {
	rows := make([]*memRow, 0)
	for _, r := range m.rows {
		if match(r.s) {
			rows = append(rows, r)
		}
	}
	if len(rows) == 0 {
		return Session{}, ErrSessionNotFound
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq > rows[j].seq })
	return m.readLocked(rows[0])
}

func (m *MemoryStore) readLocked(r *memRow) (Session, error) {
	p, err := Decode(r.s.State, r.data)
	if err != nil {
		return Session{}, err
	}
	out := r.s
	out.Payload = p
	return out, nil
}

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// HistoryLimit is how many messages the pipeline sees.
const HistoryLimit = 6

type Service struct {
	store  Store
	logger *slog.Logger
}

func NewService(log *slog.Logger, store Store) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, logger: log.With(slog.String("service", "session"))}
}

// Master returns the builder conversation of userID. ok is false when the
// user has none yet; the zero session then behaves as IDLE.
func (s *Service) Master(ctx context.Context, userID string) (Session, bool, error) {
	sess, err := s.store.LatestMaster(ctx, userID)
	if errors.Is(err, ErrSessionNotFound) {
		return Session{UserID: userID, State: StateIdle, Payload: Idle{}}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	return sess, true, nil
}

// Transition moves cur to state. A session without an ID is created.
// ErrSessionConflict means another update won the race.
func (s *Service) Transition(ctx context.Context, cur Session, state State, p Payload) (Session, error) {
	if p == nil {
		p = Idle{}
	}
	if err := Check(state, p); err != nil {
		return Session{}, fmt.Errorf("%s: %w", state, err)
	}
	next := cur
	next.State = state
	next.Payload = p
	var (
		out Session
		err error
	)
	if cur.ID == "" {
		out, err = s.store.Create(ctx, next)
	} else {
		out, err = s.store.Update(ctx, next)
	}
	if err != nil {
		if errors.Is(err, ErrSessionConflict) {
			s.logger.Warn("session conflict",
				slog.String("session_id", cur.ID),
				slog.String("user_id", cur.UserID),
				slog.String("state", string(state)),
			)
		}
		return Session{}, err
	}
	s.logger.Debug("session transition",
		slog.String("session_id", out.ID),
		slog.String("from", string(cur.State)),
		slog.String("to", string(state)),
	)
	return out, nil
}

// GetOrCreate returns the end-user session of a published bot chat,
// creating it in USER_FLOW with an empty stack.
func (s *Service) GetOrCreate(ctx context.Context, userID, botID, chatID string) (Session, error) {
	sess, err := s.store.Find(ctx, userID, botID, chatID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return Session{}, err
	}
	return s.store.Create(ctx, Session{
		UserID:  userID,
		BotID:   botID,
		ChatID:  chatID,
		State:   StateUserFlow,
		Payload: UserFlow{Stack: []string{}},
	})
}

func (s *Service) AppendMessage(ctx context.Context, sessionID, role, content string) error {
	if sessionID == "" {
		return nil
	}
	_, err := s.store.AppendMessage(ctx, sessionID, role, content)
	return err
}

// History renders the recent messages oldest first as "ROLE: content" lines.
func (s *Service) History(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", nil
	}
	msgs, err := s.store.RecentMessages(ctx, sessionID, HistoryLimit)
	if err != nil {
		return "", err
	}
	return FormatHistory(msgs), nil
}

// FormatHistory expects msgs newest first.
func FormatHistory(msgs []Message) string {
	lines := make([]string, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		lines = append(lines, strings.ToUpper(msgs[i].Role)+": "+msgs[i].Content)
	}
	return strings.Join(lines, "\n")
}

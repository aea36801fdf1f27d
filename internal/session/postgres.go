package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/memohai/botsmith/internal/db"
)

const sessionColumns = `id, user_id, bot_id, chat_id, state, data, version, updated_at`

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) LatestMaster(ctx context.Context, userID string) (Session, error) {
	pgUser, err := db.ParseUUID(userID)
	if err != nil {
		return Session{}, ErrSessionNotFound
	}
	return scanSession(s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = $1 AND bot_id IS NULL
		ORDER BY updated_at DESC
		LIMIT 1`, pgUser))
}

func (s *PostgresStore) Find(ctx context.Context, userID, botID, chatID string) (Session, error) {
	pgUser, err := db.ParseUUID(userID)
	if err != nil {
		return Session{}, ErrSessionNotFound
	}
	pgBot, err := db.OptionalUUID(botID)
	if err != nil {
		return Session{}, ErrSessionNotFound
	}
	return scanSession(s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = $1
		  AND bot_id IS NOT DISTINCT FROM $2
		  AND chat_id IS NOT DISTINCT FROM $3
		ORDER BY updated_at DESC
		LIMIT 1`, pgUser, pgBot, db.TextFrom(chatID)))
}

func (s *PostgresStore) Create(ctx context.Context, sess Session) (Session, error) {
	data, err := Encode(sess.State, sess.Payload)
	if err != nil {
		return Session{}, err
	}
	pgUser, err := db.ParseUUID(sess.UserID)
	if err != nil {
		return Session{}, err
	}
	pgBot, err := db.OptionalUUID(sess.BotID)
	if err != nil {
		return Session{}, err
	}
	out, err := scanSession(s.pool.QueryRow(ctx, `
		INSERT INTO sessions (user_id, bot_id, chat_id, state, data)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+sessionColumns, pgUser, pgBot, db.TextFrom(sess.ChatID), string(sess.State), data))
	if err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Update(ctx context.Context, sess Session) (Session, error) {
	data, err := Encode(sess.State, sess.Payload)
	if err != nil {
		return Session{}, err
	}
	pgID, err := db.ParseUUID(sess.ID)
	if err != nil {
		return Session{}, ErrSessionNotFound
	}
	out, err := scanSession(s.pool.QueryRow(ctx, `
		UPDATE sessions
		SET state = $3, data = $4, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2
		RETURNING `+sessionColumns, pgID, sess.Version, string(sess.State), data))
	if errors.Is(err, ErrSessionNotFound) {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`, pgID).Scan(&exists); err != nil {
			return Session{}, err
		}
		if exists {
			return Session{}, ErrSessionConflict
		}
		return Session{}, ErrSessionNotFound
	}
	return out, err
}

func (s *PostgresStore) AppendMessage(ctx context.Context, sessionID, role, content string) (Message, error) {
	pgID, err := db.ParseUUID(sessionID)
	if err != nil {
		return Message{}, ErrSessionNotFound
	}
	var (
		id      pgtype.UUID
		created pgtype.Timestamptz
	)
	err = s.pool.QueryRow(ctx, `
		INSERT INTO chat_messages (session_id, role, content)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`, pgID, role, content).Scan(&id, &created)
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	return Message{
		ID:        db.UUIDToString(id),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: db.TimeFromPg(created),
	}, nil
}

func (s *PostgresStore) RecentMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	pgID, err := db.ParseUUID(sessionID)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, role, content, created_at FROM chat_messages
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, pgID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Message, 0, limit)
	for rows.Next() {
		var (
			id      pgtype.UUID
			created pgtype.Timestamptz
			m       Message
		)
		if err := rows.Scan(&id, &m.Role, &m.Content, &created); err != nil {
			return nil, err
		}
		m.ID = db.UUIDToString(id)
		m.SessionID = sessionID
		m.CreatedAt = db.TimeFromPg(created)
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanSession(row pgx.Row) (Session, error) {
	var (
		id, userID, botID pgtype.UUID
		chatID            pgtype.Text
		state             string
		data              []byte
		updated           pgtype.Timestamptz
		out               Session
	)
	err := row.Scan(&id, &userID, &botID, &chatID, &state, &data, &out.Version, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}
	out.ID = db.UUIDToString(id)
	out.UserID = db.UUIDToString(userID)
	out.BotID = db.UUIDToString(botID)
	out.ChatID = db.TextToString(chatID)
	out.State = State(state)
	out.UpdatedAt = db.TimeFromPg(updated)
	if out.Payload, err = Decode(out.State, data); err != nil {
		return Session{}, err
	}
	return out, nil
}

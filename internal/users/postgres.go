package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/memohai/botsmith/internal/db"
)

// Columns is the select list ScanUser expects.
const Columns = `id, telegram_id, name, username, status, credits, daily_credits_used,
	daily_credits_limit, last_credit_reset, created_at, updated_at`

// PostgresStore is the users table.
type PostgresStore struct {
	db db.DBTX
}

func NewPostgresStore(conn db.DBTX) *PostgresStore {
	return &PostgresStore{db: conn}
}

// ScanUser reads a row selected with the users column list. Other stores
// that join users reuse it.
func ScanUser(row pgx.Row) (User, error) {
	var (
		telegramID, name, status    string
		username                    pgtype.Text
		u                           User
		uid                         pgtype.UUID
		lastReset, created, updated pgtype.Timestamptz
	)
	if err := row.Scan(&uid, &telegramID, &name, &username, &status, &u.Credits, &u.DailyUsed,
		&u.DailyLimit, &lastReset, &created, &updated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	u.ID = db.UUIDToString(uid)
	u.TelegramID = telegramID
	u.Name = name
	u.Username = db.TextToString(username)
	u.Status = Status(status)
	u.LastReset = db.TimeFromPg(lastReset)
	u.CreatedAt = db.TimeFromPg(created)
	u.UpdatedAt = db.TimeFromPg(updated)
	return u, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, p Profile, d Defaults) (User, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO users (telegram_id, name, username, credits, daily_credits_limit)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (telegram_id) DO UPDATE
		SET name = EXCLUDED.name,
		    username = COALESCE(EXCLUDED.username, users.username),
		    updated_at = now()
		RETURNING `+Columns,
		p.TelegramID, p.Name, db.TextFrom(p.Username), d.InitialBalance, d.DailyLimit)
	u, err := ScanUser(row)
	if err != nil {
		return User{}, fmt.Errorf("upsert user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (User, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return User{}, ErrUserNotFound
	}
	return ScanUser(s.db.QueryRow(ctx, `SELECT `+Columns+` FROM users WHERE id = $1`, pgID))
}

func (s *PostgresStore) GetByTelegramID(ctx context.Context, telegramID string) (User, error) {
	return ScanUser(s.db.QueryRow(ctx, `SELECT `+Columns+` FROM users WHERE telegram_id = $1`, telegramID))
}

func (s *PostgresStore) SetStatus(ctx context.Context, id string, status Status) (User, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return User{}, ErrUserNotFound
	}
	return ScanUser(s.db.QueryRow(ctx, `
		UPDATE users SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+Columns, pgID, string(status)))
}

func (s *PostgresStore) List(ctx context.Context, f ListFilter) ([]User, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+Columns+` FROM users
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, string(f.Status), f.Limit, f.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]User, 0)
	for rows.Next() {
		u, err := ScanUser(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, u)
	}
	return items, rows.Err()
}

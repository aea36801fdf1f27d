package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/memohai/botsmith/internal/db"
	"github.com/memohai/botsmith/internal/users"
)

const txColumns = `id, user_id, amount, type, reason, balance_after, reference_id, created_at`

// PostgresStore keeps balances on the users table and the ledger in credit_transactions.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) User(ctx context.Context, userID string) (users.User, error) {
	pgID, err := db.ParseUUID(userID)
	if err != nil {
		return users.User{}, users.ErrUserNotFound
	}
	return users.ScanUser(s.pool.QueryRow(ctx, `SELECT `+users.Columns+` FROM users WHERE id = $1`, pgID))
}

func (s *PostgresStore) ResetDaily(ctx context.Context, userID string, at time.Time) error {
	pgID, err := db.ParseUUID(userID)
	if err != nil {
		return users.ErrUserNotFound
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET daily_credits_used = 0, last_credit_reset = $2, updated_at = now()
		WHERE id = $1`, pgID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return users.ErrUserNotFound
	}
	return nil
}

func (s *PostgresStore) ResetAllDaily(ctx context.Context, at time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET daily_credits_used = 0, last_credit_reset = $1, updated_at = now()
		WHERE (last_credit_reset AT TIME ZONE 'UTC')::date < ($1::timestamptz AT TIME ZONE 'UTC')::date`, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Deduct(ctx context.Context, userID string, amount int, reason, referenceID string) (Transaction, error) {
	pgID, err := db.ParseUUID(userID)
	if err != nil {
		return Transaction{}, users.ErrUserNotFound
	}
	var out Transaction
	err = db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		var balance int
		err := tx.QueryRow(ctx, `
			UPDATE users
			SET credits = credits - $2,
			    daily_credits_used = daily_credits_used + $2,
			    updated_at = now()
			WHERE id = $1 AND credits >= $2
			RETURNING credits`, pgID, amount).Scan(&balance)
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, pgID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return users.ErrUserNotFound
			}
			return ErrInsufficientCredits
		}
		if err != nil {
			return err
		}
		out, err = insertTx(ctx, tx, pgID, -amount, TypeDeduction, reason, balance, referenceID)
		return err
	})
	return out, err
}

func (s *PostgresStore) Add(ctx context.Context, userID string, amount int, t TransactionType, reason, referenceID string) (Transaction, error) {
	pgID, err := db.ParseUUID(userID)
	if err != nil {
		return Transaction{}, users.ErrUserNotFound
	}
	var out Transaction
	err = db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		var balance int
		err := tx.QueryRow(ctx, `
			UPDATE users SET credits = credits + $2, updated_at = now()
			WHERE id = $1 AND credits + $2 >= 0
			RETURNING credits`, pgID, amount).Scan(&balance)
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, pgID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return users.ErrUserNotFound
			}
			return ErrInsufficientCredits
		}
		if err != nil {
			return err
		}
		out, err = insertTx(ctx, tx, pgID, amount, t, reason, balance, referenceID)
		return err
	})
	return out, err
}

func (s *PostgresStore) History(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	pgID, err := db.ParseUUID(userID)
	if err != nil {
		return nil, users.ErrUserNotFound
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+txColumns+` FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, pgID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]Transaction, 0)
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (s *PostgresStore) Reconcile(ctx context.Context) ([]Drift, error) {
	rows, err := s.pool.Query(ctx, `
		WITH latest AS (
			SELECT DISTINCT ON (user_id) user_id, balance_after
			FROM credit_transactions
			ORDER BY user_id, created_at DESC, id DESC
		), drift AS (
			SELECT u.id, u.credits AS stored, l.balance_after
			FROM users u JOIN latest l ON l.user_id = u.id
			WHERE u.credits <> l.balance_after
		)
		UPDATE users SET credits = drift.balance_after, updated_at = now()
		FROM drift
		WHERE users.id = drift.id
		RETURNING users.id, drift.stored, drift.balance_after`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Drift, 0)
	for rows.Next() {
		var (
			id pgtype.UUID
			d  Drift
		)
		if err := rows.Scan(&id, &d.Stored, &d.Ledger); err != nil {
			return nil, err
		}
		d.UserID = db.UUIDToString(id)
		out = append(out, d)
	}
	return out, rows.Err()
}

func insertTx(ctx context.Context, tx pgx.Tx, userID pgtype.UUID, amount int, t TransactionType, reason string, balance int, referenceID string) (Transaction, error) {
	row := tx.QueryRow(ctx, `
		INSERT INTO credit_transactions (user_id, amount, type, reason, balance_after, reference_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+txColumns, userID, amount, string(t), reason, balance, db.TextFrom(referenceID))
	out, err := scanTx(row)
	if err != nil {
		return Transaction{}, fmt.Errorf("insert ledger row: %w", err)
	}
	return out, nil
}

func scanTx(row pgx.Row) (Transaction, error) {
	var (
		id, userID pgtype.UUID
		typ        string
		ref        pgtype.Text
		created    pgtype.Timestamptz
		t          Transaction
	)
	if err := row.Scan(&id, &userID, &t.Amount, &typ, &t.Reason, &t.BalanceAfter, &ref, &created); err != nil {
		return Transaction{}, err
	}
	t.ID = db.UUIDToString(id)
	t.UserID = db.UUIDToString(userID)
	t.Type = TransactionType(typ)
	t.ReferenceID = db.TextToString(ref)
	t.CreatedAt = db.TimeFromPg(created)
	return t, nil
}

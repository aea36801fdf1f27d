package credits

import (
	"context"
	"time"

	"github.com/memohai/botsmith/internal/users"
)

// Store owns balances, daily counters and the ledger.
type Store interface {
	User(ctx context.Context, userID string) (users.User, error)
	// ResetDaily zeroes the daily counter of one user and stamps the reset time.
	ResetDaily(ctx context.Context, userID string, at time.Time) error
	// ResetAllDaily resets every user whose last reset was on an earlier UTC day.
	ResetAllDaily(ctx context.Context, at time.Time) (int64, error)
	// Deduct atomically lowers the balance, raises the daily counter and
	// appends a DEDUCTION row. It fails with ErrInsufficientCredits when the
	// balance is short.
	Deduct(ctx context.Context, userID string, amount int, reason, referenceID string) (Transaction, error)
	// Add changes the balance by amount and appends a row of type t.
	Add(ctx context.Context, userID string, amount int, t TransactionType, reason, referenceID string) (Transaction, error)
	History(ctx context.Context, userID string, limit int) ([]Transaction, error)
	// Reconcile sets each balance to the newest ledger snapshot where they differ.
	Reconcile(ctx context.Context) ([]Drift, error)
}

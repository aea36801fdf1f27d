package credits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/memohai/botsmith/internal/users"
)

const defaultHistoryLimit = 50

// Gate decides whether a user may run the pipeline and charges them afterwards.
type Gate struct {
	store  Store
	cost   int
	logger *slog.Logger
	now    func() time.Time
}

func NewGate(log *slog.Logger, store Store, cost int) *Gate {
	if log == nil {
		log = slog.Default()
	}
	if cost <= 0 {
		cost = PipelineCost
	}
	return &Gate{
		store:  store,
		cost:   cost,
		logger: log.With(slog.String("service", "credits")),
		now:    time.Now,
	}
}

// Cost is the price of one pipeline run.
func (g *Gate) Cost() int { return g.cost }

// Check runs the pre-flight checks in order: existence, approval status,
// daily reset, daily limit, balance.
func (g *Gate) Check(ctx context.Context, userID string) (CheckResult, error) {
	u, err := g.store.User(ctx, userID)
	if errors.Is(err, users.ErrUserNotFound) {
		return CheckResult{Allowed: false, Reason: ReasonUserNotFound}, nil
	}
	if err != nil {
		return CheckResult{}, fmt.Errorf("load user: %w", err)
	}
	if u.Status != users.StatusApproved {
		return CheckResult{Allowed: false, Reason: StatusReason(u.Status)}, nil
	}

	now := g.now()
	if !sameDay(u.LastReset, now) {
		if err := g.store.ResetDaily(ctx, u.ID, now); err != nil {
			return CheckResult{}, fmt.Errorf("reset daily usage: %w", err)
		}
		u.DailyUsed = 0
		u.LastReset = now
	}

	if u.DailyUsed+g.cost > u.DailyLimit {
		return CheckResult{
			Allowed:    false,
			Reason:     ReasonDailyLimitExceeded,
			Balance:    intPtr(u.Credits),
			DailyUsed:  intPtr(u.DailyUsed),
			DailyLimit: intPtr(u.DailyLimit),
		}, nil
	}
	if u.Credits < g.cost {
		return CheckResult{Allowed: false, Reason: ReasonInsufficientCredits, Balance: intPtr(u.Credits)}, nil
	}
	return CheckResult{Allowed: true, Balance: intPtr(u.Credits)}, nil
}

// Deduct charges amount and appends a ledger row. It never returns an
// error; Success is false when the charge did not happen.
func (g *Gate) Deduct(ctx context.Context, userID string, amount int, reason, referenceID string) DeductResult {
	if amount <= 0 {
		g.logger.Warn("deduct rejected", slog.String("user_id", userID), slog.Int("amount", amount))
		return DeductResult{}
	}
	tx, err := g.store.Deduct(ctx, userID, amount, reason, referenceID)
	if err != nil {
		g.logger.Warn("deduct failed",
			slog.String("user_id", userID),
			slog.Int("amount", amount),
			slog.String("reference_id", referenceID),
			slog.Any("error", err),
		)
		return DeductResult{}
	}
	return DeductResult{Success: true, NewBalance: tx.BalanceAfter, TransactionID: tx.ID}
}

// AddCredits grants credits with one of the non-deduction ledger types.
func (g *Gate) AddCredits(ctx context.Context, userID string, amount int, t TransactionType, reason, referenceID string) (Transaction, error) {
	if amount == 0 || (amount < 0 && t != TypeAdjustment) {
		return Transaction{}, ErrInvalidAmount
	}
	if t == TypeDeduction {
		return Transaction{}, ErrInvalidType
	}
	tx, err := g.store.Add(ctx, userID, amount, t, reason, referenceID)
	if err != nil {
		return Transaction{}, err
	}
	g.logger.Info("credits added",
		slog.String("user_id", userID),
		slog.Int("amount", amount),
		slog.String("type", string(t)),
		slog.Int("balance", tx.BalanceAfter),
	)
	return tx, nil
}

// Summary applies the daily reset for display without writing it.
func (g *Gate) Summary(ctx context.Context, userID string) (Summary, error) {
	u, err := g.store.User(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	used := u.DailyUsed
	if !sameDay(u.LastReset, g.now()) {
		used = 0
	}
	remaining := u.DailyLimit - used
	if remaining < 0 {
		remaining = 0
	}
	return Summary{
		Balance:        u.Credits,
		DailyUsed:      used,
		DailyLimit:     u.DailyLimit,
		DailyRemaining: remaining,
		Status:         u.Status,
		PipelineCost:   g.cost,
	}, nil
}

func (g *Gate) History(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return g.store.History(ctx, userID, limit)
}

// Reconcile repairs balances that drifted from the ledger.
func (g *Gate) Reconcile(ctx context.Context) ([]Drift, error) {
	drift, err := g.store.Reconcile(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile ledger: %w", err)
	}
	for _, d := range drift {
		g.logger.Warn("balance drift repaired",
			slog.String("user_id", d.UserID),
			slog.Int("stored", d.Stored),
			slog.Int("ledger", d.Ledger),
		)
	}
	return drift, nil
}

// ResetDaily zeroes daily usage for users last reset on an earlier day.
func (g *Gate) ResetDaily(ctx context.Context) (int64, error) {
	n, err := g.store.ResetAllDaily(ctx, g.now())
	if err != nil {
		return 0, fmt.Errorf("reset daily usage: %w", err)
	}
	if n > 0 {
		g.logger.Info("daily usage reset", slog.Int64("users", n))
	}
	return n, nil
}

package credits

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/botsmith/internal/users"
)

type fixture struct {
	users *users.MemoryStore
	store *MemoryStore
	gate  *Gate
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	u := users.NewMemoryStore()
	s := NewMemoryStore(u)
	return fixture{users: u, store: s, gate: NewGate(nil, s, PipelineCost)}
}

func (f fixture) addUser(t *testing.T, tgID string, status users.Status, credits, used, limit int) users.User {
	t.Helper()
	u, err := f.users.Upsert(context.Background(), users.Profile{TelegramID: tgID, Name: tgID}, users.Defaults{DailyLimit: limit, InitialBalance: credits})
	require.NoError(t, err)
	require.NoError(t, f.users.Update(u.ID, func(x *users.User) error {
		x.Status = status
		x.DailyUsed = used
		return nil
	}))
	out, err := f.users.Get(context.Background(), u.ID)
	require.NoError(t, err)
	return out
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		status  users.Status
		credits int
		used    int
		limit   int
		allowed bool
		reason  string
	}{
		{"approved with balance", users.StatusApproved, 100, 0, 100, true, ""},
		{"pending", users.StatusPendingApproval, 100, 0, 100, false, "user_status_pending_approval"},
		{"denied", users.StatusDenied, 100, 0, 100, false, "user_status_denied"},
		{"suspended", users.StatusSuspended, 100, 0, 100, false, "user_status_suspended"},
		{"daily limit", users.StatusApproved, 100, 95, 100, false, ReasonDailyLimitExceeded},
		{"exact daily limit", users.StatusApproved, 100, 90, 100, true, ""},
		{"insufficient", users.StatusApproved, 5, 0, 100, false, ReasonInsufficientCredits},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			u := f.addUser(t, "1", tt.status, tt.credits, tt.used, tt.limit)
			res, err := f.gate.Check(context.Background(), u.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, res.Allowed)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
}

func TestCheckUnknownUser(t *testing.T) {
	f := newFixture(t)
	res, err := f.gate.Check(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, ReasonUserNotFound, res.Reason)
	assert.Equal(t, "المستخدم غير موجود.", Message(res, PipelineCost))
}

func TestCheckInsufficientReportsBalance(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "1", users.StatusApproved, 5, 0, 100)
	res, err := f.gate.Check(context.Background(), u.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Balance)
	assert.Equal(t, 5, *res.Balance)
	assert.Contains(t, Message(res, PipelineCost), "5 < 10")
}

func TestCheckResetsOnNewDay(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "1", users.StatusApproved, 100, 100, 100)
	require.NoError(t, f.users.Update(u.ID, func(x *users.User) error {
		x.LastReset = time.Now().Add(-48 * time.Hour)
		return nil
	}))

	res, err := f.gate.Check(context.Background(), u.ID)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	after, err := f.users.Get(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, after.DailyUsed)
}

func TestDeductWritesLedger(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.addUser(t, "1", users.StatusApproved, 100, 0, 100)

	res := f.gate.Deduct(ctx, u.ID, 10, "pipeline_run", "trace-1")
	require.True(t, res.Success)
	assert.Equal(t, 90, res.NewBalance)

	after, err := f.users.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 90, after.Credits)
	assert.Equal(t, 10, after.DailyUsed)

	hist, err := f.gate.History(ctx, u.ID, 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, -10, hist[0].Amount)
	assert.Equal(t, TypeDeduction, hist[0].Type)
	assert.Equal(t, 90, hist[0].BalanceAfter)
	assert.Equal(t, "trace-1", hist[0].ReferenceID)
	assert.Equal(t, res.TransactionID, hist[0].ID)
}

func TestDeductFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.addUser(t, "1", users.StatusApproved, 5, 0, 100)

	assert.False(t, f.gate.Deduct(ctx, u.ID, 10, "pipeline_run", "").Success)
	assert.False(t, f.gate.Deduct(ctx, "missing", 10, "pipeline_run", "").Success)
	assert.False(t, f.gate.Deduct(ctx, u.ID, 0, "pipeline_run", "").Success)

	f.store.FailDeduct = errors.New("db down")
	assert.False(t, f.gate.Deduct(ctx, u.ID, 1, "pipeline_run", "").Success)

	after, err := f.users.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, after.Credits)
}

func TestAddCreditsAndSummary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.addUser(t, "1", users.StatusApproved, 0, 30, 100)

	tx, err := f.gate.AddCredits(ctx, u.ID, 50, TypeTopUp, "manual", "")
	require.NoError(t, err)
	assert.Equal(t, 50, tx.BalanceAfter)

	_, err = f.gate.AddCredits(ctx, u.ID, -5, TypeBonus, "", "")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = f.gate.AddCredits(ctx, u.ID, 5, TypeDeduction, "", "")
	assert.ErrorIs(t, err, ErrInvalidType)

	sum, err := f.gate.Summary(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, Summary{
		Balance:        50,
		DailyUsed:      30,
		DailyLimit:     100,
		DailyRemaining: 70,
		Status:         users.StatusApproved,
		PipelineCost:   PipelineCost,
	}, sum)
}

func TestReconcileRepairsDrift(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.addUser(t, "1", users.StatusApproved, 100, 0, 100)
	require.True(t, f.gate.Deduct(ctx, u.ID, 10, "pipeline_run", "").Success)

	require.NoError(t, f.users.Update(u.ID, func(x *users.User) error {
		x.Credits = 999
		return nil
	}))

	drift, err := f.gate.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, drift, 1)
	assert.Equal(t, Drift{UserID: u.ID, Stored: 999, Ledger: 90}, drift[0])

	after, err := f.users.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 90, after.Credits)

	drift, err = f.gate.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, drift)
}

func TestResetDailySweep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	stale := f.addUser(t, "1", users.StatusApproved, 100, 40, 100)
	fresh := f.addUser(t, "2", users.StatusApproved, 100, 20, 100)
	require.NoError(t, f.users.Update(stale.ID, func(x *users.User) error {
		x.LastReset = time.Now().Add(-30 * time.Hour)
		return nil
	}))

	n, err := f.gate.ResetDaily(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	s, _ := f.users.Get(ctx, stale.ID)
	fr, _ := f.users.Get(ctx, fresh.ID)
	assert.Equal(t, 0, s.DailyUsed)
	assert.Equal(t, 20, fr.DailyUsed)
}

func TestParseType(t *testing.T) {
	got, err := ParseType(" bonus ")
	require.NoError(t, err)
	assert.Equal(t, TypeBonus, got)
	_, err = ParseType("DEDUCTION")
	assert.ErrorIs(t, err, ErrInvalidType)
}

// Package credits is the credit gate: pre-flight quota checks before a
// pipeline run and the ledgered deduction after it.
package credits

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/memohai/botsmith/internal/users"
)

// PipelineCost is the default price of one generation run.
const PipelineCost = 10

// Denial reason codes.
const (
	ReasonUserNotFound        = "user_not_found"
	ReasonDailyLimitExceeded  = "daily_limit_exceeded"
	ReasonInsufficientCredits = "insufficient_credits"
	reasonStatusPrefix        = "user_status_"
)

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TypeDeduction  TransactionType = "DEDUCTION"
	TypeTopUp      TransactionType = "TOPUP"
	TypeBonus      TransactionType = "BONUS"
	TypeRefund     TransactionType = "REFUND"
	TypeAdjustment TransactionType = "ADJUSTMENT"
)

var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidAmount       = errors.New("invalid credit amount")
	ErrInvalidType         = errors.New("invalid transaction type")
)

// ParseType accepts the grant types an operator may use.
func ParseType(raw string) (TransactionType, error) {
	t := TransactionType(strings.ToUpper(strings.TrimSpace(raw)))
	switch t {
	case TypeTopUp, TypeBonus, TypeRefund, TypeAdjustment:
		return t, nil
	}
	return "", ErrInvalidType
}

// CheckResult is the gate decision. Balance and daily fields are set when known.
type CheckResult struct {
	Allowed    bool   `json:"allowed"`
	Reason     string `json:"reason,omitempty"`
	Balance    *int   `json:"current_balance,omitempty"`
	DailyUsed  *int   `json:"daily_used,omitempty"`
	DailyLimit *int   `json:"daily_limit,omitempty"`
}

// DeductResult reports a deduction. Success is false on any failure.
type DeductResult struct {
	Success       bool   `json:"success"`
	NewBalance    int    `json:"new_balance"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// Transaction is one append-only ledger row.
type Transaction struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Amount       int             `json:"amount"`
	Type         TransactionType `json:"type"`
	Reason       string          `json:"reason"`
	BalanceAfter int             `json:"balance_after"`
	ReferenceID  string          `json:"reference_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Summary is the balance view shown to admins.
type Summary struct {
	Balance        int          `json:"balance"`
	DailyUsed      int          `json:"daily_used"`
	DailyLimit     int          `json:"daily_limit"`
	DailyRemaining int          `json:"daily_remaining"`
	Status         users.Status `json:"status"`
	PipelineCost   int          `json:"pipeline_cost"`
}

// Drift is a user whose stored balance disagreed with the ledger.
type Drift struct {
	UserID string `json:"user_id"`
	Stored int    `json:"stored"`
	Ledger int    `json:"ledger"`
}

// StatusReason maps a non-approved status to its reason code.
func StatusReason(s users.Status) string {
	return reasonStatusPrefix + strings.ToLower(string(s))
}

// Message is the user-facing text for a denial.
func Message(r CheckResult, cost int) string {
	switch r.Reason {
	case ReasonUserNotFound:
		return "المستخدم غير موجود."
	case StatusReason(users.StatusPendingApproval):
		return "حسابك في انتظار موافقة المشرف. يرجى الانتظار."
	case StatusReason(users.StatusDenied):
		return "تم رفض حسابك. تواصل مع المشرف."
	case StatusReason(users.StatusSuspended):
		return "تم إيقاف حسابك مؤقتاً."
	case ReasonDailyLimitExceeded:
		return fmt.Sprintf("وصلت للحد اليومي (%d/%d). حاول غداً.", deref(r.DailyUsed), deref(r.DailyLimit))
	case ReasonInsufficientCredits:
		return fmt.Sprintf("رصيدك غير كافٍ (%d < %d). اشحن رصيدك.", deref(r.Balance), cost)
	default:
		return "لا يمكن تنفيذ الطلب حالياً."
	}
}

func deref(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func intPtr(v int) *int { return &v }

// sameDay compares calendar days in UTC.
func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

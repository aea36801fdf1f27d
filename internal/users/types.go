// Package users manages the chat users who build bots and their approval status.
package users

import (
	"errors"
	"strings"
	"time"
)

// Status is the approval state of a user.
type Status string

const (
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusApproved        Status = "APPROVED"
	StatusDenied          Status = "DENIED"
	StatusSuspended       Status = "SUSPENDED"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrInvalidStatus = errors.New("invalid user status")
)

// ParseStatus accepts any casing.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case StatusPendingApproval, StatusApproved, StatusDenied, StatusSuspended:
		return s, nil
	}
	return "", ErrInvalidStatus
}

// User is a chat platform account known to the builder.
type User struct {
	ID         string    `json:"id"`
	TelegramID string    `json:"telegram_id"`
	Name       string    `json:"name"`
	Username   string    `json:"username,omitempty"`
	Status     Status    `json:"status"`
	Credits    int       `json:"credits"`
	DailyUsed  int       `json:"daily_credits_used"`
	DailyLimit int       `json:"daily_credits_limit"`
	LastReset  time.Time `json:"last_credit_reset"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Profile is what the chat platform tells us about a sender.
type Profile struct {
	TelegramID string
	Name       string
	Username   string
}

// Defaults apply to newly created users only.
type Defaults struct {
	DailyLimit     int
	InitialBalance int
}

// ListFilter narrows List.
type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}

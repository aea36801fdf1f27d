package users

import "context"

// Store persists users.
type Store interface {
	// Upsert creates the user on first contact and refreshes name/username afterwards.
	Upsert(ctx context.Context, p Profile, d Defaults) (User, error)
	Get(ctx context.Context, id string) (User, error)
	GetByTelegramID(ctx context.Context, telegramID string) (User, error)
	SetStatus(ctx context.Context, id string, status Status) (User, error)
	List(ctx context.Context, f ListFilter) ([]User, error)
}

package session

import "context"

type Store interface {
	// LatestMaster returns the newest session of userID that is not bound to a bot.
	LatestMaster(ctx context.Context, userID string) (Session, error)
	// Find returns the newest session matching all three keys.
	Find(ctx context.Context, userID, botID, chatID string) (Session, error)
	Create(ctx context.Context, s Session) (Session, error)
	// Update writes s if the stored version still equals s.Version and bumps it.
	Update(ctx context.Context, s Session) (Session, error)
	AppendMessage(ctx context.Context, sessionID, role, content string) (Message, error)
	// RecentMessages returns up to limit messages, newest first.
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]Message, error)
}

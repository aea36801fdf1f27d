package bots

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/memohai/botsmith/internal/blueprint"
	"github.com/memohai/botsmith/internal/db"
)

const botColumns = `id, owner_id, name, description, status, welcome_text, menu, draft_welcome_text,
	draft_menu, draft_blueprint, live_blueprint, token_sealed, telegram_username, telegram_bot_id,
	webhook_url, webhook_secret, webhook_status, webhook_error, webhook_checked_at, created_at, updated_at`

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Create(ctx context.Context, b Bot) (Bot, error) {
	owner, err := db.ParseUUID(b.OwnerID)
	if err != nil {
		return Bot{}, err
	}
	draftMenu, err := encodeMenu(b.DraftMenu)
	if err != nil {
		return Bot{}, err
	}
	draft, err := encodeBlueprint(b.DraftBlueprint)
	if err != nil {
		return Bot{}, err
	}
	var welcome pgtype.Text
	if b.DraftWelcomeText != nil {
		welcome = pgtype.Text{String: *b.DraftWelcomeText, Valid: true}
	}
	return scanBot(s.pool.QueryRow(ctx, `
		INSERT INTO bots (owner_id, name, description, status, draft_welcome_text, draft_menu, draft_blueprint)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+botColumns, owner, b.Name, b.Description, string(b.Status), welcome, draftMenu, draft))
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Bot, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return Bot{}, ErrBotNotFound
	}
	return scanBot(s.pool.QueryRow(ctx, `SELECT `+botColumns+` FROM bots WHERE id = $1`, pgID))
}

func (s *PostgresStore) ListByOwner(ctx context.Context, ownerID string) ([]Bot, error) {
	owner, err := db.ParseUUID(ownerID)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `SELECT `+botColumns+` FROM bots WHERE owner_id = $1 ORDER BY created_at DESC`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Bot, 0)
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetStatus(ctx context.Context, id string, status Status) (Bot, error) {
	return s.exec(ctx, id, `UPDATE bots SET status = $2, updated_at = now() WHERE id = $1 RETURNING `+botColumns, string(status))
}

func (s *PostgresStore) UpdateDraftWelcome(ctx context.Context, id, text string) (Bot, error) {
	return s.exec(ctx, id, `UPDATE bots SET draft_welcome_text = $2, updated_at = now() WHERE id = $1 RETURNING `+botColumns, text)
}

func (s *PostgresStore) UpdateDraft(ctx context.Context, id string, bp blueprint.Blueprint) (Bot, error) {
	draft, err := encodeBlueprint(&bp)
	if err != nil {
		return Bot{}, err
	}
	menu, err := encodeMenu(append([]blueprint.MenuItem{}, bp.Menu...))
	if err != nil {
		return Bot{}, err
	}
	return s.exec(ctx, id, `
		UPDATE bots SET draft_blueprint = $2, draft_menu = $3, updated_at = now()
		WHERE id = $1 RETURNING `+botColumns, draft, menu)
}

func (s *PostgresStore) SaveToken(ctx context.Context, id, sealed string, who TelegramIdentity) (Bot, error) {
	return s.exec(ctx, id, `
		UPDATE bots SET token_sealed = $2, telegram_username = $3, telegram_bot_id = $4, updated_at = now()
		WHERE id = $1 RETURNING `+botColumns, sealed, db.TextFrom(who.Username), db.TextFrom(who.BotID))
}

func (s *PostgresStore) RecordWebhook(ctx context.Context, id string, rec WebhookRecord) (Bot, error) {
	return s.exec(ctx, id, `
		UPDATE bots SET
			webhook_url = $2,
			webhook_secret = $3,
			webhook_status = $4,
			webhook_error = $5,
			webhook_checked_at = $6,
			status = COALESCE(NULLIF($7, ''), status),
			updated_at = now()
		WHERE id = $1 RETURNING `+botColumns,
		db.TextFrom(rec.URL), db.TextFrom(rec.Secret), db.TextFrom(rec.Status), db.TextFrom(rec.Error),
		db.TimeToPg(rec.CheckedAt), string(rec.BotStatus))
}

func (s *PostgresStore) Commit(ctx context.Context, id string, status Status) (Bot, error) {
	return s.exec(ctx, id, `
		UPDATE bots SET
			welcome_text = COALESCE(draft_welcome_text, welcome_text),
			menu = COALESCE(draft_menu, menu),
			live_blueprint = COALESCE(draft_blueprint, live_blueprint),
			draft_welcome_text = NULL,
			draft_menu = NULL,
			draft_blueprint = NULL,
			status = $2,
			updated_at = now()
		WHERE id = $1 RETURNING `+botColumns, string(status))
}

func (s *PostgresStore) exec(ctx context.Context, id, query string, args ...any) (Bot, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return Bot{}, ErrBotNotFound
	}
	return scanBot(s.pool.QueryRow(ctx, query, append([]any{pgID}, args...)...))
}

func encodeMenu(items []blueprint.MenuItem) ([]byte, error) {
	if items == nil {
		return nil, nil
	}
	return json.Marshal(items)
}

func encodeBlueprint(bp *blueprint.Blueprint) ([]byte, error) {
	if bp == nil {
		return nil, nil
	}
	return blueprint.Wrap(blueprint.KindBlueprint, bp)
}

func decodeBlueprint(raw []byte) (*blueprint.Blueprint, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	bp, err := blueprint.Unwrap[blueprint.Blueprint](raw, blueprint.KindBlueprint)
	if err != nil {
		return nil, err
	}
	return &bp, nil
}

func scanBot(row pgx.Row) (Bot, error) {
	var (
		id, owner                                  pgtype.UUID
		status                                     string
		welcome, draftWelcome, token, tgUser, tgID pgtype.Text
		hookURL, hookSecret, hookStatus, hookErr   pgtype.Text
		menu, draftMenu, draft, live               []byte
		checked, created, updated                  pgtype.Timestamptz
		b                                          Bot
	)
	err := row.Scan(&id, &owner, &b.Name, &b.Description, &status, &welcome, &menu, &draftWelcome,
		&draftMenu, &draft, &live, &token, &tgUser, &tgID,
		&hookURL, &hookSecret, &hookStatus, &hookErr, &checked, &created, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return Bot{}, ErrBotNotFound
	}
	if err != nil {
		return Bot{}, err
	}
	b.ID = db.UUIDToString(id)
	b.OwnerID = db.UUIDToString(owner)
	b.Status = Status(status)
	b.WelcomeText = db.TextToString(welcome)
	if draftWelcome.Valid {
		w := draftWelcome.String
		b.DraftWelcomeText = &w
	}
	if len(menu) > 0 {
		if err := json.Unmarshal(menu, &b.Menu); err != nil {
			return Bot{}, fmt.Errorf("decode menu: %w", err)
		}
	}
	if len(draftMenu) > 0 {
		b.DraftMenu = []blueprint.MenuItem{}
		if err := json.Unmarshal(draftMenu, &b.DraftMenu); err != nil {
			return Bot{}, fmt.Errorf("decode draft menu: %w", err)
		}
	}
	if b.DraftBlueprint, err = decodeBlueprint(draft); err != nil {
		return Bot{}, err
	}
	if b.LiveBlueprint, err = decodeBlueprint(live); err != nil {
		return Bot{}, err
	}
	b.TokenSealed = db.TextToString(token)
	b.TelegramUsername = db.TextToString(tgUser)
	b.TelegramBotID = db.TextToString(tgID)
	b.WebhookURL = db.TextToString(hookURL)
	b.WebhookSecret = db.TextToString(hookSecret)
	b.WebhookStatus = db.TextToString(hookStatus)
	b.WebhookError = db.TextToString(hookErr)
	if checked.Valid {
		t := checked.Time
		b.WebhookCheckedAt = &t
	}
	b.CreatedAt = db.TimeFromPg(created)
	b.UpdatedAt = db.TimeFromPg(updated)
	return b, nil
}

package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/memohai/botsmith/internal/db"
)

const runColumns = `id, trace_id, user_id, bot_id, intent, input_text, plan_json, blueprint_json,
	validator_errors, status, error_message, latency_ms, credits_used, created_at`

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Insert(ctx context.Context, run AgentRun) (AgentRun, error) {
	userID, err := db.OptionalUUID(run.UserID)
	if err != nil {
		return AgentRun{}, err
	}
	botID, err := db.OptionalUUID(run.BotID)
	if err != nil {
		return AgentRun{}, err
	}
	var issues []byte
	if len(run.ValidatorErrors) > 0 {
		if issues, err = json.Marshal(run.ValidatorErrors); err != nil {
			return AgentRun{}, err
		}
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO agent_runs (trace_id, user_id, bot_id, intent, input_text, plan_json, blueprint_json,
			validator_errors, status, error_message, latency_ms, credits_used)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING `+runColumns,
		run.TraceID, userID, botID, run.Intent, run.InputText,
		jsonOrEmpty(run.Plan), jsonOrEmpty(run.Blueprint), issues,
		run.Status, db.TextFrom(run.ErrorMessage), run.LatencyMS, run.CreditsUsed,
	)
	saved, err := scanRun(row)
	if err != nil {
		return AgentRun{}, fmt.Errorf("insert agent run: %w", err)
	}
	return saved, nil
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]AgentRun, error) {
	userID, err := db.OptionalUUID(f.UserID)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+runColumns+` FROM agent_runs
		WHERE ($1::uuid IS NULL OR user_id = $1)
		  AND ($2 = '' OR trace_id = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY created_at DESC
		LIMIT $4`, userID, f.TraceID, f.Status, f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]AgentRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func jsonOrEmpty(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}

func scanRun(row pgx.Row) (AgentRun, error) {
	var (
		id, userID, botID pgtype.UUID
		issues            []byte
		errMsg            pgtype.Text
		created           pgtype.Timestamptz
		latency           int32
		run               AgentRun
	)
	if err := row.Scan(&id, &run.TraceID, &userID, &botID, &run.Intent, &run.InputText, &run.Plan, &run.Blueprint,
		&issues, &run.Status, &errMsg, &latency, &run.CreditsUsed, &created); err != nil {
		return AgentRun{}, err
	}
	if len(issues) > 0 {
		if err := json.Unmarshal(issues, &run.ValidatorErrors); err != nil {
			return AgentRun{}, err
		}
	}
	run.ID = db.UUIDToString(id)
	run.UserID = db.UUIDToString(userID)
	run.BotID = db.UUIDToString(botID)
	run.ErrorMessage = db.TextToString(errMsg)
	run.LatencyMS = int64(latency)
	run.CreatedAt = db.TimeFromPg(created)
	return run, nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS action_outcomes (
	id          BIGSERIAL PRIMARY KEY,
	action_id   TEXT NOT NULL,
	type        TEXT NOT NULL DEFAULT '',
	agent_id    TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	retry_count INT NOT NULL DEFAULT 0,
	max_retries INT NOT NULL DEFAULT 0,
	will_retry  BOOLEAN NOT NULL DEFAULT FALSE,
	message     TEXT NOT NULL DEFAULT '',
	selector    TEXT NOT NULL DEFAULT '',
	duration_ms BIGINT NOT NULL DEFAULT 0,
	metadata    JSONB,
	ts          BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS action_outcomes_ts_idx ON action_outcomes (ts DESC);
CREATE INDEX IF NOT EXISTS action_outcomes_action_idx ON action_outcomes (action_id);
`

// PostgresStore implements Store using Postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres creates a new store with an existing *sql.DB.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres dials dsn and, unless skipMigrate, creates the schema.
func OpenPostgres(ctx context.Context, dsn string, skipMigrate bool) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	p := NewPostgres(db)
	if !skipMigrate {
		if err := p.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return p, nil
}

// Migrate creates the outcome table if needed.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate action_outcomes: %w", err)
	}
	return nil
}

func (p *PostgresStore) RecordOutcome(ctx context.Context, o Outcome) error {
	if o.Timestamp == 0 {
		o.Timestamp = time.Now().UnixMilli()
	}
	var meta []byte
	if len(o.Metadata) > 0 {
		var err error
		meta, err = json.Marshal(o.Metadata)
		if err != nil {
			return err
		}
	}
	_, err := p.db.ExecContext(ctx, `
INSERT INTO action_outcomes
	(action_id, type, agent_id, status, retry_count, max_retries, will_retry, message, selector, duration_ms, metadata, ts)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		o.ActionID, o.Type, o.AgentID, o.Status, o.RetryCount, o.MaxRetries, o.WillRetry,
		o.Message, o.Selector, o.DurationMs, nullableJSON(meta), o.Timestamp)
	return err
}

func (p *PostgresStore) Recent(ctx context.Context, limit int, status string) ([]Outcome, error) {
	return p.History(ctx, HistoryFilter{Status: status, Limit: limit})
}

func (p *PostgresStore) History(ctx context.Context, filter HistoryFilter) ([]Outcome, error) {
	where, args := buildWhere(filter)
	args = append(args, clampLimit(filter.Limit), filter.Offset)
	query := fmt.Sprintf(`
SELECT action_id, type, agent_id, status, retry_count, max_retries, will_retry, message, selector, duration_ms, metadata, ts
FROM action_outcomes %s
ORDER BY ts DESC, id DESC
LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Outcome{}
	for rows.Next() {
		var o Outcome
		var meta []byte
		if err := rows.Scan(&o.ActionID, &o.Type, &o.AgentID, &o.Status, &o.RetryCount, &o.MaxRetries,
			&o.WillRetry, &o.Message, &o.Selector, &o.DurationMs, &meta, &o.Timestamp); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &o.Metadata)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}

func buildWhere(f HistoryFilter) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.ActionID != "" {
		add("action_id = $%d", f.ActionID)
	}
	if f.AgentID != "" {
		add("agent_id = $%d", f.AgentID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.FromTs > 0 {
		add("ts >= $%d", f.FromTs)
	}
	if f.ToTs > 0 {
		add("ts <= $%d", f.ToTs)
	}
	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

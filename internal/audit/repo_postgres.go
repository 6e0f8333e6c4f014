package audit

import (
	"context"
	"database/sql"
	"fmt"

	"voip-callkit/pkg/utils"
)

// PostgresRepo appends events to call_audit_events.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

var auditSchema = []string{
	`CREATE TABLE IF NOT EXISTS call_audit_events (
  id         TEXT PRIMARY KEY,
  call_id    TEXT NOT NULL,
  type       TEXT NOT NULL,
  origin     TEXT NOT NULL DEFAULT '',
  state      TEXT NOT NULL DEFAULT '',
  reason     TEXT NOT NULL DEFAULT '',
  message    TEXT NOT NULL DEFAULT '',
  metadata   TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS call_audit_events_call_id_idx ON call_audit_events (call_id, created_at)`,
}

func (r *PostgresRepo) Migrate(ctx context.Context) error {
	if err := utils.Migrate(ctx, r.db, "audit", auditSchema...); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	return nil
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO call_audit_events (id, call_id, type, origin, state, reason, message, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.CallID, string(e.Type), e.Origin, e.State, e.Reason, e.Message, e.Metadata, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}
	return nil
}

func (r *PostgresRepo) ListByCall(ctx context.Context, callID string) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, call_id, type, origin, state, reason, message, metadata, created_at
FROM call_audit_events
WHERE call_id = $1
ORDER BY created_at, id`, callID)
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e   Event
			typ string
		)
		if err := rows.Scan(&e.ID, &e.CallID, &typ, &e.Origin, &e.State, &e.Reason, &e.Message, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: list: %w", err)
		}
		e.Type = EventType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}

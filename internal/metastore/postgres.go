package metastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"voip-callkit/internal/calls"
	"voip-callkit/pkg/utils"
)

// PostgresStore keeps sessions as JSONB rows and the scalars in a small
// key/value table. The *sql.DB is expected to be opened with the pgx stdlib driver.
type PostgresStore struct {
	handle
	db  *sql.DB
	log *slog.Logger
}

func NewPostgresStore(db *sql.DB, log *slog.Logger) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("metastore: db is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &PostgresStore{db: db, log: log}, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS call_sessions (
  id         TEXT PRIMARY KEY,
  record     JSONB NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS call_kv (
  key        TEXT PRIMARY KEY,
  value      TEXT NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if err := s.usable(); err != nil {
		return err
	}
	if err := utils.Migrate(ctx, s.db, "metastore", schema...); err != nil {
		return fmt.Errorf("metastore: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveSession(ctx context.Context, sess calls.CallSession) error {
	if err := s.usable(); err != nil {
		return err
	}
	data, err := EncodeSession(sess)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO call_sessions (id, record, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (id) DO UPDATE SET record = EXCLUDED.record, updated_at = now()`, sess.ID, data)
	if err != nil {
		return fmt.Errorf("metastore: save %s: %w", sess.ID, err)
	}
	return nil
}

func (s *PostgresStore) LoadSession(ctx context.Context, id string) (calls.CallSession, bool, error) {
	if err := s.usable(); err != nil {
		return calls.CallSession{}, false, err
	}
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT record FROM call_sessions WHERE id = $1`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return calls.CallSession{}, false, nil
		}
		return calls.CallSession{}, false, fmt.Errorf("metastore: load %s: %w", id, err)
	}
	sess, err := DecodeSession(data)
	if err != nil {
		logMalformed(s.log, id, err)
		return calls.CallSession{}, false, nil
	}
	return sess, true, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context) ([]calls.CallSession, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, record FROM call_sessions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("metastore: list sessions: %w", err)
	}
	defer rows.Close()

	var out []calls.CallSession
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("metastore: list sessions: %w", err)
		}
		sess, err := DecodeSession(data)
		if err != nil {
			logMalformed(s.log, id, err)
			continue
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("metastore: list sessions: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, id string) (bool, error) {
	if err := s.usable(); err != nil {
		return false, err
	}
	var existed bool
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM call_sessions WHERE id = $1`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		existed = n > 0
		_, err = tx.ExecContext(ctx, `DELETE FROM call_kv WHERE key = $1 AND value = $2`, keyCurrentCall, id)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("metastore: delete %s: %w", id, err)
	}
	return existed, nil
}

func (s *PostgresStore) CurrentCallID(ctx context.Context) (string, bool, error) {
	return s.getScalar(ctx, keyCurrentCall)
}

func (s *PostgresStore) SetCurrentCallID(ctx context.Context, id string) error {
	return s.setScalar(ctx, keyCurrentCall, id)
}

func (s *PostgresStore) PushToken(ctx context.Context) (string, bool, error) {
	return s.getScalar(ctx, keyPushToken)
}

func (s *PostgresStore) SetPushToken(ctx context.Context, token string) error {
	return s.setScalar(ctx, keyPushToken, token)
}

func (s *PostgresStore) getScalar(ctx context.Context, key string) (string, bool, error) {
	if err := s.usable(); err != nil {
		return "", false, err
	}
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM call_kv WHERE key = $1`, key).Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("metastore: get %s: %w", key, err)
	}
	return v, true, nil
}

func (s *PostgresStore) setScalar(ctx context.Context, key, value string) error {
	if err := s.usable(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO call_kv (key, value, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, key, value)
	if err != nil {
		return fmt.Errorf("metastore: set %s: %w", key, err)
	}
	return nil
}

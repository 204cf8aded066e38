// Package store persists call records in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/dkeye/securecall/internal/core"
	"github.com/dkeye/securecall/internal/domain"
)

const MemoryPath = ":memory:"

type SQLite struct {
	db *sql.DB
}

var _ core.CallStore = (*SQLite)(nil)

// Open opens (or creates) the database at path. Use MemoryPath for an
// ephemeral store.
func Open(path string) (*SQLite, error) {
	if path == "" {
		path = MemoryPath
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}
	// A single connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", p, err)
		}
	}

	s := &SQLite{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	log.Info().Str("module", "store").Str("path", path).Msg("call store ready")
	return s, nil
}

func (s *SQLite) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS calls (
		session_id   TEXT PRIMARY KEY,
		caller_id    TEXT NOT NULL,
		callee_id    TEXT NOT NULL,
		participants TEXT NOT NULL,
		call_type    TEXT NOT NULL,
		status       TEXT NOT NULL,
		created_at   INTEGER NOT NULL,
		answered_at  INTEGER,
		ended_at     INTEGER,
		is_encrypted INTEGER NOT NULL DEFAULT 0,
		mode         TEXT NOT NULL DEFAULT 'p2p',
		answered_by  TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS call_participants (
		session_id TEXT NOT NULL REFERENCES calls(session_id) ON DELETE CASCADE,
		user_id    TEXT NOT NULL,
		PRIMARY KEY (session_id, user_id)
	);
	CREATE INDEX IF NOT EXISTS idx_call_participants_user ON call_participants(user_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Create(ctx context.Context, rec *domain.CallRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin: %w", err)
	}
	defer tx.Rollback()

	parts, err := json.Marshal(rec.Participants)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO calls (session_id, caller_id, callee_id, participants, call_type, status,
			created_at, answered_at, ended_at, is_encrypted, mode, answered_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.CallerID, rec.CalleeID, string(parts), rec.Type, rec.Status,
		rec.CreatedAt.UnixNano(), nullTime(rec.AnsweredAt), nullTime(rec.EndedAt), rec.Encrypted, mode(rec), rec.AnsweredBy,
	)
	if err != nil {
		return fmt.Errorf("failed to insert call %s: %w", rec.SessionID, err)
	}
	if err := replaceParticipants(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) Get(ctx context.Context, id domain.CallID) (*domain.CallRecord, error) {
	return scanCall(s.db.QueryRowContext(ctx, selectCall+` WHERE session_id = ?`, id))
}

func (s *SQLite) Update(ctx context.Context, id domain.CallID, fn func(*domain.CallRecord) error) (*domain.CallRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin: %w", err)
	}
	defer tx.Rollback()

	rec, err := scanCall(tx.QueryRowContext(ctx, selectCall+` WHERE session_id = ?`, id))
	if err != nil {
		return nil, err
	}
	if err := fn(rec); err != nil {
		return nil, err
	}

	parts, err := json.Marshal(rec.Participants)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE calls SET callee_id = ?, participants = ?, status = ?, answered_at = ?, ended_at = ?,
			is_encrypted = ?, mode = ?, answered_by = ?
		WHERE session_id = ?`,
		rec.CalleeID, string(parts), rec.Status, nullTime(rec.AnsweredAt), nullTime(rec.EndedAt),
		rec.Encrypted, mode(rec), rec.AnsweredBy, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update call %s: %w", id, err)
	}
	if err := replaceParticipants(ctx, tx, rec); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit call %s: %w", id, err)
	}
	return rec, nil
}

func (s *SQLite) ListByUser(ctx context.Context, user domain.UserID, limit int) ([]*domain.CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, selectCall+`
		WHERE session_id IN (SELECT session_id FROM call_participants WHERE user_id = ?)
		ORDER BY created_at DESC LIMIT ?`, user, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list calls: %w", err)
	}
	return scanAll(rows)
}

func (s *SQLite) ListActive(ctx context.Context) ([]*domain.CallRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectCall+`
		WHERE status IN (?, ?) ORDER BY created_at`, domain.StatusRinging, domain.StatusAnswered)
	if err != nil {
		return nil, fmt.Errorf("failed to list active calls: %w", err)
	}
	return scanAll(rows)
}

func scanAll(rows *sql.Rows) ([]*domain.CallRecord, error) {
	defer rows.Close()
	var out []*domain.CallRecord
	for rows.Next() {
		rec, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

const selectCall = `SELECT session_id, caller_id, callee_id, participants, call_type, status,
	created_at, answered_at, ended_at, is_encrypted, mode, answered_by FROM calls`

type scanner interface {
	Scan(dest ...any) error
}

func scanCall(row scanner) (*domain.CallRecord, error) {
	var (
		rec             domain.CallRecord
		parts           string
		created         int64
		answered, ended sql.NullInt64
		encrypted       bool
	)
	err := row.Scan(&rec.SessionID, &rec.CallerID, &rec.CalleeID, &parts, &rec.Type, &rec.Status,
		&created, &answered, &ended, &encrypted, &rec.Mode, &rec.AnsweredBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCallNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan call: %w", err)
	}
	if err := json.Unmarshal([]byte(parts), &rec.Participants); err != nil {
		return nil, fmt.Errorf("failed to decode participants: %w", err)
	}
	rec.CreatedAt = time.Unix(0, created)
	rec.AnsweredAt = fromNull(answered)
	rec.EndedAt = fromNull(ended)
	rec.Encrypted = encrypted
	return &rec, nil
}

func replaceParticipants(ctx context.Context, tx *sql.Tx, rec *domain.CallRecord) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM call_participants WHERE session_id = ?`, rec.SessionID); err != nil {
		return fmt.Errorf("failed to clear participants: %w", err)
	}
	for _, p := range rec.Participants {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO call_participants (session_id, user_id) VALUES (?, ?)`, rec.SessionID, p); err != nil {
			return fmt.Errorf("failed to insert participant: %w", err)
		}
	}
	return nil
}

func mode(rec *domain.CallRecord) string {
	if rec.Mode == "" {
		return domain.ModeP2P
	}
	return rec.Mode
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNull(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64)
	return &t
}

// Package journal keeps a durable log of conversation turns in SQLite.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/gl-pgege/gl-fraud-mobile/internal/conversation"
)

const schema = `
CREATE TABLE IF NOT EXISTS turns (
	id          TEXT PRIMARY KEY,
	loop        TEXT NOT NULL,
	call_sid    TEXT NOT NULL,
	target      TEXT NOT NULL,
	token       INTEGER NOT NULL,
	utterance   TEXT NOT NULL,
	reply       TEXT NOT NULL,
	voice_id    TEXT NOT NULL,
	asset_url   TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	error       TEXT,
	started_at  INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS turns_call_sid ON turns (call_sid, started_at);
`

// Entry is one journaled turn.
type Entry struct {
	ID        string        `json:"id"`
	Loop      string        `json:"loop"`
	CallSID   string        `json:"call_sid"`
	Target    string        `json:"target"`
	Token     uint64        `json:"token"`
	Utterance string        `json:"utterance"`
	Reply     string        `json:"reply"`
	VoiceID   string        `json:"voice_id"`
	AssetURL  string        `json:"asset_url"`
	Outcome   string        `json:"outcome"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Store is a SQLite-backed turn journal.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the journal database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("journal: path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open database: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	store := New(db)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an existing database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the journal schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("journal: migrate: %w", err)
	}
	return nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordTurn stores a finished turn.
func (s *Store) RecordTurn(ctx context.Context, turn *conversation.TurnResult) error {
	if turn == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (id, loop, call_sid, target, token, utterance, reply, voice_id, asset_url, outcome, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		turn.ID,
		turn.Loop,
		turn.CallSID,
		turn.Target.Key(),
		int64(turn.Token),
		turn.Utterance,
		turn.Reply,
		turn.VoiceID,
		turn.AssetURL,
		string(turn.Outcome),
		nullableString(turn.Error),
		turn.StartedAt.UnixMilli(),
		turn.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("journal: record turn: %w", err)
	}
	return nil
}

// Recent returns the newest turns, newest first. A non-empty callSID limits
// the result to that call.
func (s *Store) Recent(ctx context.Context, callSID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, loop, call_sid, target, token, utterance, reply, voice_id, asset_url, outcome, error, started_at, duration_ms
		FROM turns`
	args := []any{}
	if callSID != "" {
		query += ` WHERE call_sid = ?`
		args = append(args, callSID)
	}
	query += ` ORDER BY started_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: query turns: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			token      int64
			errText    sql.NullString
			startedAt  int64
			durationMs int64
		)
		if err := rows.Scan(&e.ID, &e.Loop, &e.CallSID, &e.Target, &token, &e.Utterance, &e.Reply,
			&e.VoiceID, &e.AssetURL, &e.Outcome, &errText, &startedAt, &durationMs); err != nil {
			return nil, fmt.Errorf("journal: scan turn: %w", err)
		}
		e.Token = uint64(token)
		e.Error = errText.String
		e.StartedAt = time.UnixMilli(startedAt)
		e.Duration = time.Duration(durationMs) * time.Millisecond
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterate turns: %w", err)
	}
	return entries, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

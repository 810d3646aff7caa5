// Package audit persists a per-call audit trail to SQLite: one row per
// executed service call with its identity, correlation id, outcome, and
// usage. The store subscribes to the emitter and records response and
// failure events.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/zjrosen/relay/internal/emitter"
	"github.com/zjrosen/relay/internal/log"
)

// schemaVersion is tracked via PRAGMA user_version; bump it when adding
// a migration step below.
const schemaVersion = 1

const schemaV1 = `
CREATE TABLE calls (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	correlation_id TEXT NOT NULL,
	identity TEXT NOT NULL,
	kind TEXT NOT NULL,
	provider TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	output_chars INTEGER NOT NULL DEFAULT 0,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	attempts INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX idx_calls_identity ON calls(identity);
CREATE INDEX idx_calls_correlation ON calls(correlation_id);
`

// Entry is one audited call outcome.
type Entry struct {
	ID            int64
	CorrelationID string
	Identity      string
	Kind          string
	Provider      string
	Model         string
	OutputChars   int
	InputTokens   int
	OutputTokens  int
	Attempts      int
	Error         string
	CreatedAt     time.Time
}

// Store is the SQLite-backed call audit trail.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the audit database at path and runs
// pending migrations. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("create audit directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	if path == ":memory:" {
		// each pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping audit database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	log.Info(log.CatAudit, "audit store open", "path", path)
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version >= schemaVersion {
		return nil
	}

	if version < 1 {
		if _, err := s.db.Exec(schemaV1); err != nil {
			return fmt.Errorf("apply schema v1: %w", err)
		}
	}

	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	log.Info(log.CatAudit, "audit schema migrated", "from", version, "to", schemaVersion)
	return nil
}

// RecordEvent stores the terminal events of a call; request and chunk
// events are ignored.
func (s *Store) RecordEvent(ev emitter.Event) error {
	switch ev.Kind {
	case emitter.KindResponse, emitter.KindFailure, emitter.KindStreamComplete:
	default:
		return nil
	}

	entry := Entry{
		CorrelationID: ev.CorrelationID,
		Identity:      ev.IdentityLabel,
		Kind:          string(ev.Kind),
		Attempts:      ev.Attempts,
		Error:         ev.Err,
	}
	if ev.Response != nil {
		entry.Provider = ev.Response.Provider
		entry.Model = ev.Response.Model
		entry.OutputChars = len(ev.Response.Output)
		entry.InputTokens = ev.Response.Usage.InputTokens
		entry.OutputTokens = ev.Response.Usage.OutputTokens
	}

	_, err := s.db.Exec(`
		INSERT INTO calls (correlation_id, identity, kind, provider, model,
			output_chars, input_tokens, output_tokens, attempts, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.CorrelationID, entry.Identity, entry.Kind, entry.Provider, entry.Model,
		entry.OutputChars, entry.InputTokens, entry.OutputTokens, entry.Attempts, entry.Error,
	)
	if err != nil {
		return fmt.Errorf("insert audit row: %w", err)
	}
	return nil
}

// Recent returns the latest n entries, newest first.
func (s *Store) Recent(n int) ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT id, correlation_id, identity, kind, provider, model,
			output_chars, input_tokens, output_tokens, attempts, error, created_at
		FROM calls ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query audit rows: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.CorrelationID, &e.Identity, &e.Kind,
			&e.Provider, &e.Model, &e.OutputChars, &e.InputTokens,
			&e.OutputTokens, &e.Attempts, &e.Error, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ByIdentity returns the latest n entries for one identity label.
func (s *Store) ByIdentity(label string, n int) ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT id, correlation_id, identity, kind, provider, model,
			output_chars, input_tokens, output_tokens, attempts, error, created_at
		FROM calls WHERE identity = ? ORDER BY id DESC LIMIT ?`, label, n)
	if err != nil {
		return nil, fmt.Errorf("query audit rows: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.CorrelationID, &e.Identity, &e.Kind,
			&e.Provider, &e.Model, &e.OutputChars, &e.InputTokens,
			&e.OutputTokens, &e.Attempts, &e.Error, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Follow subscribes to em and records terminal call events until ctx
// ends. Run it in its own goroutine.
func (s *Store) Follow(ctx context.Context, em *emitter.Emitter) {
	events := em.Subscribe(ctx)
	for ev := range events {
		if err := s.RecordEvent(ev.Payload); err != nil {
			log.ErrorErr(log.CatAudit, "failed to record call", err,
				"correlation_id", ev.Payload.CorrelationID)
		}
	}
}

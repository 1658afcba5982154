// Package eventlog persists the agent activity log.
package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"legalmind/internal/domain"
)

// SQLiteStore implements domain.EventLog using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and runs the
// schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open event log db: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent appends.
	db.SetMaxOpenConns(1)
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate event log db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS agent_event_log (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id     TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			agent_name TEXT NOT NULL,
			action     TEXT NOT NULL,
			summary    TEXT NOT NULL DEFAULT '',
			raw_output TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_agent_event_log_run ON agent_event_log(run_id, id);
		CREATE INDEX IF NOT EXISTS idx_agent_event_log_session ON agent_event_log(session_id, id);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// AppendEvent implements domain.EventLog.
func (s *SQLiteStore) AppendEvent(ctx context.Context, ev domain.AgentEvent) error {
	if ev.RunID == "" || ev.AgentName == "" || ev.Action == "" {
		return domain.NewSubSystemError("event", "SQLiteStore.AppendEvent", domain.ErrInvalidInput, "run_id, agent_name and action are required")
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_event_log (run_id, session_id, agent_name, action, summary, raw_output, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.RunID, ev.SessionID, ev.AgentName, ev.Action, ev.Summary, ev.RawOutput,
		ev.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return domain.NewSubSystemError("event", "SQLiteStore.AppendEvent", domain.ErrPersistence, err.Error())
	}
	return nil
}

// ListEvents implements domain.EventLog. Events are returned in append order.
func (s *SQLiteStore) ListEvents(ctx context.Context, runID string) ([]domain.AgentEvent, error) {
	return s.query(ctx, "run_id", runID)
}

// ListSessionEvents implements domain.EventLog.
func (s *SQLiteStore) ListSessionEvents(ctx context.Context, sessionID string) ([]domain.AgentEvent, error) {
	return s.query(ctx, "session_id", sessionID)
}

// Sessions implements domain.EventLog.
func (s *SQLiteStore) Sessions(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id FROM agent_event_log WHERE session_id != ''
		 GROUP BY session_id ORDER BY MAX(id) DESC LIMIT ?`, limit)
	if err != nil {
		return nil, domain.NewSubSystemError("event", "SQLiteStore.Sessions", domain.ErrPersistence, err.Error())
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// query lists events by an indexed column. column is never user input.
func (s *SQLiteStore) query(ctx context.Context, column, value string) ([]domain.AgentEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, session_id, agent_name, action, summary, raw_output, created_at
		 FROM agent_event_log WHERE `+column+` = ? ORDER BY id`, value)
	if err != nil {
		return nil, domain.NewSubSystemError("event", "SQLiteStore.query", domain.ErrPersistence, err.Error())
	}
	defer rows.Close()

	var out []domain.AgentEvent
	for rows.Next() {
		var (
			ev      domain.AgentEvent
			created string
		)
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.SessionID, &ev.AgentName, &ev.Action, &ev.Summary, &ev.RawOutput, &created); err != nil {
			return nil, fmt.Errorf("scan agent event: %w", err)
		}
		ev.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, ev)
	}
	return out, rows.Err()
}

var _ domain.EventLog = (*SQLiteStore)(nil)

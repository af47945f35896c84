// Package journal keeps an append-only sqlite record of questioning turns
// and lifecycle events, so a workspace retains a durable trail even after
// sidecar archives are compacted.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/9erson/openclaw/internal/config"
	"github.com/9erson/openclaw/internal/model"
)

// Journal is the workspace turn journal.
type Journal struct {
	db *sql.DB
}

// Turn is one recorded question/answer exchange.
type Turn struct {
	ID            int64     `json:"id"`
	SessionID     string    `json:"sessionId"`
	Pillar        string    `json:"pillar"`
	Project       string    `json:"project,omitempty"`
	ContextType   string    `json:"contextType"`
	Slot          string    `json:"slot"`
	Level         string    `json:"level"`
	Question      string    `json:"question"`
	Answer        string    `json:"answer"`
	Accepted      bool      `json:"accepted"`
	CoverageTotal int       `json:"coverageTotal"`
	RecordedAt    time.Time `json:"recordedAt"`
}

// Event is a recorded lifecycle transition.
type Event struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"sessionId"`
	Kind       string    `json:"kind"`
	Detail     string    `json:"detail"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Open opens or creates the journal database under the workspace root.
func Open(root string) (*Journal, error) {
	dbPath := config.JournalPath(root)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", filepath.Dir(dbPath), err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(context.Background(), pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}
	j := &Journal{db: db}
	if err := j.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return j, nil
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// RecordTurn appends one committed exchange.
func (j *Journal) RecordTurn(sess *model.Session, t model.TurnEntry) error {
	_, err := j.db.ExecContext(context.Background(), `
		INSERT INTO turns (session_id, pillar, project, context_type, slot, level, question, answer, accepted, coverage_total, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Pillar, sess.Project, string(sess.ContextType),
		t.Slot, t.Level, t.Question, t.Answer, boolInt(t.Accepted),
		sess.Coverage.Total, t.At.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record turn: %w", err)
	}
	return nil
}

// RecordEvent appends a lifecycle event (started, paused, resumed,
// completed, canceled).
func (j *Journal) RecordEvent(sess *model.Session, kind, detail string) error {
	_, err := j.db.ExecContext(context.Background(), `
		INSERT INTO events (session_id, kind, detail, recorded_at)
		VALUES (?, ?, ?, ?)`,
		sess.ID, kind, detail, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// Turns returns the recorded exchanges for a session, oldest first. A
// sessionID of "" returns the most recent turns across all sessions.
func (j *Journal) Turns(sessionID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, session_id, pillar, project, context_type, slot, level, question, answer, accepted, coverage_total, recorded_at
		FROM turns`
	args := []any{}
	if sessionID != "" {
		query += " WHERE session_id = ?"
		args = append(args, sessionID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(context.Background(), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		var accepted int
		var recordedAt string
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Pillar, &t.Project, &t.ContextType,
			&t.Slot, &t.Level, &t.Question, &t.Answer, &accepted, &t.CoverageTotal, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Accepted = accepted != 0
		t.RecordedAt, _ = time.Parse(time.RFC3339, recordedAt)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Oldest first for reading.
	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out, nil
}

// Events returns a session's lifecycle events, oldest first.
func (j *Journal) Events(sessionID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(context.Background(), `
		SELECT id, session_id, kind, detail, recorded_at
		FROM events WHERE session_id = ? ORDER BY id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var recordedAt string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Kind, &e.Detail, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.RecordedAt, _ = time.Parse(time.RFC3339, recordedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Package history records session status transitions in a SQLite log so
// `sw list --history` can show what a session went through after the
// fact, independent of the live registry.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/brianly1003/sw/internal/domain/events"
	"github.com/brianly1003/sw/internal/domain/ports"
	"github.com/brianly1003/sw/internal/hub"
)

const schemaVersion = 1

// Transition is one recorded status change.
type Transition struct {
	Worktree   string    `json:"worktree"`
	SessionID  string    `json:"session_id"`
	TmuxName   string    `json:"tmux_session_name"`
	FromStatus string    `json:"from"`
	ToStatus   string    `json:"to"`
	At         time.Time `json:"at"`
}

// Log is the SQLite-backed transition log for one project.
type Log struct {
	db   *sql.DB
	path string

	mu         sync.Mutex
	subscribed bool
}

// Open creates or opens the transition log at path.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, err
	}
	l := &Log{db: db, path: path}
	if err := l.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// PathFor builds the history database path for a project hash inside dir.
func PathFor(dir, hash string) string {
	return filepath.Join(dir, "history-"+hash+".db")
}

func (l *Log) migrate() error {
	var version int
	if err := l.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	if version == schemaVersion {
		return nil
	}
	if version != 0 {
		// Old layout: rebuild rather than migrate, the log is advisory.
		if _, err := l.db.Exec("DROP TABLE IF EXISTS transitions"); err != nil {
			return err
		}
	}
	if _, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS transitions (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			worktree    TEXT NOT NULL,
			session_id  TEXT NOT NULL,
			tmux_name   TEXT NOT NULL,
			from_status TEXT NOT NULL,
			to_status   TEXT NOT NULL,
			at          TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_transitions_session ON transitions(session_id);
		CREATE INDEX IF NOT EXISTS idx_transitions_worktree ON transitions(worktree);
	`); err != nil {
		return err
	}
	_, err := l.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion))
	return err
}

// Close closes the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}

// Record appends one transition.
func (l *Log) Record(tr Transition) error {
	_, err := l.db.Exec(
		"INSERT INTO transitions (worktree, session_id, tmux_name, from_status, to_status, at) VALUES (?, ?, ?, ?, ?, ?)",
		tr.Worktree, tr.SessionID, tr.TmuxName, tr.FromStatus, tr.ToStatus, tr.At.UTC())
	return err
}

// BySession returns a session's transitions, oldest first.
func (l *Log) BySession(sessionID string, limit int) ([]Transition, error) {
	return l.query(
		"SELECT worktree, session_id, tmux_name, from_status, to_status, at FROM transitions WHERE session_id = ? ORDER BY id DESC LIMIT ?",
		sessionID, limitOrDefault(limit))
}

// ByWorktree returns a worktree's transitions, newest first.
func (l *Log) ByWorktree(worktree string, limit int) ([]Transition, error) {
	return l.query(
		"SELECT worktree, session_id, tmux_name, from_status, to_status, at FROM transitions WHERE worktree = ? ORDER BY id DESC LIMIT ?",
		worktree, limitOrDefault(limit))
}

// Recent returns the latest transitions across the whole project.
func (l *Log) Recent(limit int) ([]Transition, error) {
	return l.query(
		"SELECT worktree, session_id, tmux_name, from_status, to_status, at FROM transitions ORDER BY id DESC LIMIT ?",
		limitOrDefault(limit))
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}

func (l *Log) query(q string, args ...interface{}) ([]Transition, error) {
	rows, err := l.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var tr Transition
		if err := rows.Scan(&tr.Worktree, &tr.SessionID, &tr.TmuxName, &tr.FromStatus, &tr.ToStatus, &tr.At); err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// AttachTo subscribes the log to the hub so every status-changed event is
// recorded as it happens.
func (l *Log) AttachTo(h ports.EventHub) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.subscribed {
		return
	}
	l.subscribed = true

	h.Subscribe(hub.NewFuncSubscriber("status-history", func(event events.Event) {
		if event.Type() != events.EventTypeSessionStatusChanged {
			return
		}
		base, ok := event.(*events.BaseEvent)
		if !ok {
			return
		}
		payload, ok := base.Payload.(events.SessionStatusChangedPayload)
		if !ok {
			return
		}
		tr := Transition{
			Worktree:   event.GetWorktree(),
			SessionID:  payload.SessionID,
			TmuxName:   payload.TmuxName,
			FromStatus: string(payload.From),
			ToStatus:   string(payload.To),
			At:         event.Timestamp(),
		}
		if err := l.Record(tr); err != nil {
			log.Warn().Err(err).Str("session", payload.TmuxName).Msg("failed to record status transition")
		}
	}))
}

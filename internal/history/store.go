// Package history keeps a local log of finished calls in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Outcome is how a call ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed" // connected, then hung up
	OutcomeRejected  Outcome = "rejected"
	OutcomeMissed    Outcome = "missed" // incoming, never answered
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// Entry is one finished call.
type Entry struct {
	ID          int64
	PeerID      string
	PeerName    string
	Outgoing    bool
	IsVideo     bool
	Outcome     Outcome
	StartedAt   time.Time
	ConnectedAt time.Time // zero when the call never connected
	Duration    time.Duration
}

// Store wraps the history database.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure history: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS calls (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			peer_id      TEXT NOT NULL,
			peer_name    TEXT DEFAULT '',
			outgoing     INTEGER NOT NULL,
			is_video     INTEGER NOT NULL,
			outcome      TEXT NOT NULL,
			started_at   INTEGER NOT NULL,
			connected_at INTEGER DEFAULT 0,
			duration_ms  INTEGER DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS calls_started ON calls(started_at);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create calls table: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends e and returns its row id.
func (s *Store) Record(ctx context.Context, e Entry) (int64, error) {
	if e.PeerID == "" {
		return 0, fmt.Errorf("history entry without peer")
	}

	var connected int64
	if !e.ConnectedAt.IsZero() {
		connected = e.ConnectedAt.UnixMilli()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO calls (peer_id, peer_name, outgoing, is_video, outcome, started_at, connected_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.PeerID, e.PeerName, boolInt(e.Outgoing), boolInt(e.IsVideo), string(e.Outcome),
		e.StartedAt.UnixMilli(), connected, e.Duration.Milliseconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert call: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, peer_id, peer_name, outgoing, is_video, outcome, started_at, connected_at, duration_ms
		FROM calls ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                         Entry
			outgoing, video           int
			outcome                   string
			started, connected, durMs int64
		)
		if err := rows.Scan(&e.ID, &e.PeerID, &e.PeerName, &outgoing, &video, &outcome, &started, &connected, &durMs); err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		e.Outgoing = outgoing != 0
		e.IsVideo = video != 0
		e.Outcome = Outcome(outcome)
		e.StartedAt = time.UnixMilli(started)
		if connected != 0 {
			e.ConnectedAt = time.UnixMilli(connected)
		}
		e.Duration = time.Duration(durMs) * time.Millisecond
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

// Package history persists REPL input in a SQLite database. Each REPL run is
// a session keyed by UUID; every line the user submits is appended to it
// along with its printed result or error.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

// ErrSessionNotFound indicates the requested session doesn't exist
var ErrSessionNotFound = errors.New("session not found")

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	started_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	source     TEXT NOT NULL,
	result     TEXT NOT NULL DEFAULT '',
	failed     INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS entries_session ON entries(session_id, id);
`

// Entry is one submitted REPL line.
type Entry struct {
	ID        int64
	SessionID string
	Source    string
	Result    string // printed result or error text
	Failed    bool
	CreatedAt time.Time
}

// Session summarizes one REPL run.
type Session struct {
	ID        string
	StartedAt time.Time
	Entries   int
}

// Store handles SQLite storage for REPL history
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection: an in-memory database is per connection, and writes
	// are serialized anyway.
	db.SetMaxOpenConns(1)

	// Set busy timeout for concurrent access from other REPLs
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	commonlog.GetLogger("yellowstone.history").Debugf("opened history %s", path)
	return &Store{db: db, path: path}, nil
}

// Path returns the database location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// NewSession starts a session and returns its ID.
func (s *Store) NewSession() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	_, err := s.db.Exec(
		"INSERT INTO sessions (id, started_at) VALUES (?, ?)",
		id, time.Now().UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}
	return id, nil
}

// Append records a submitted line in the given session.
func (s *Store) Append(sessionID, source, result string, failed bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkSession(sessionID); err != nil {
		return 0, err
	}

	res, err := s.db.Exec(
		"INSERT INTO entries (session_id, source, result, failed, created_at) VALUES (?, ?, ?, ?, ?)",
		sessionID, source, result, failed, time.Now().UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("appending entry: %w", err)
	}
	return res.LastInsertId()
}

// Entries returns a session's lines in submission order.
func (s *Store) Entries(sessionID string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkSession(sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(
		`SELECT id, session_id, source, result, failed, created_at
		 FROM entries WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	return scanEntries(rows)
}

// Recent returns the last limit lines across all sessions, oldest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, session_id, source, result, failed, created_at FROM (
			SELECT * FROM entries ORDER BY id DESC LIMIT ?
		 ) ORDER BY id`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying recent entries: %w", err)
	}
	return scanEntries(rows)
}

// Sessions lists every session, newest first.
func (s *Store) Sessions() ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT s.id, s.started_at, COUNT(e.id)
		 FROM sessions s LEFT JOIN entries e ON e.session_id = s.id
		 GROUP BY s.id ORDER BY s.started_at DESC, s.rowid DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var started int64
		if err := rows.Scan(&sess.ID, &started, &sess.Entries); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sess.StartedAt = time.Unix(0, started)
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// DeleteSession removes a session and its entries.
func (s *Store) DeleteSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkSession(sessionID); err != nil {
		return err
	}
	if _, err := s.db.Exec("DELETE FROM entries WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("deleting entries: %w", err)
	}
	if _, err := s.db.Exec("DELETE FROM sessions WHERE id = ?", sessionID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

func (s *Store) checkSession(sessionID string) error {
	var id string
	err := s.db.QueryRow("SELECT id FROM sessions WHERE id = ?", sessionID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return fmt.Errorf("querying session: %w", err)
	}
	return nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Source, &e.Result, &e.Failed, &created); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		e.CreatedAt = time.Unix(0, created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Package state persists coordination checkpoints and task history to
// SQLite. It handles both a global store (~/.local/share/convoy/convoy.db)
// and a project-local store (.convoy/state.db).
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a checkpoint key does not exist.
var ErrNotFound = errors.New("state: not found")

// Store wraps an SQLite database with Convoy-specific operations.
type Store struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// GlobalPath returns the path to the global Convoy database.
func GlobalPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "convoy", "convoy.db")
}

// ProjectPath returns the path to the project-local database.
func ProjectPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".convoy", "state.db")
}

// Open opens an SQLite store at the given path, creating parent
// directories as needed. WAL mode is enabled for concurrent reads.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{conn: conn, path: path}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// OpenProject opens the project-local store.
func OpenProject(projectRoot string) (*Store, error) {
	return Open(ProjectPath(projectRoot))
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// Path returns the path to the database file.
func (s *Store) Path() string {
	return s.path
}

// migrate applies all pending schema migrations.
func (s *Store) migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := s.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Checkpoints},
		{2, migrationV2TaskHistory},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}
	return nil
}

const migrationV1Checkpoints = `
CREATE TABLE IF NOT EXISTS checkpoints (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	updated_at DATETIME NOT NULL
);
`

const migrationV2TaskHistory = `
CREATE TABLE IF NOT EXISTS task_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT NOT NULL,
	status TEXT NOT NULL,
	agent_id TEXT,
	detail TEXT,
	recorded_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_task_history_task_id ON task_history(task_id);
`

// SaveCheckpoint stores a checkpoint blob under key, replacing any
// previous value.
func (s *Store) SaveCheckpoint(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(`
		INSERT INTO checkpoints (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at
	`, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save checkpoint %q: %w", key, err)
	}
	return nil
}

// LoadCheckpoint reads a checkpoint blob by key.
func (s *Store) LoadCheckpoint(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var value []byte
	row := s.conn.QueryRow("SELECT value FROM checkpoints WHERE key = ?", key)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load checkpoint %q: %w", key, err)
	}
	return value, nil
}

// DeleteCheckpoint removes a checkpoint; missing keys are not an error.
func (s *Store) DeleteCheckpoint(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec("DELETE FROM checkpoints WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("delete checkpoint %q: %w", key, err)
	}
	return nil
}

// HistoryEntry is one recorded task status change.
type HistoryEntry struct {
	TaskID     string
	Status     string
	AgentID    string
	Detail     string
	RecordedAt time.Time
}

// RecordTaskEvent appends a status change to the task history.
func (s *Store) RecordTaskEvent(taskID, status, agentID, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(`
		INSERT INTO task_history (task_id, status, agent_id, detail, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`, taskID, status, agentID, detail, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record task event: %w", err)
	}
	return nil
}

// TaskHistory returns the recorded status changes for one task, oldest
// first.
func (s *Store) TaskHistory(taskID string) ([]HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.conn.Query(`
		SELECT task_id, status, COALESCE(agent_id, ''), COALESCE(detail, ''), recorded_at
		FROM task_history WHERE task_id = ? ORDER BY id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query task history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.TaskID, &e.Status, &e.AgentID, &e.Detail, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan task history: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

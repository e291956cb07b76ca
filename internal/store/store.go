// Package store provides habitd's local durable storage: a string-keyed
// store of JSON documents backed by embedded SQLite.
//
// Each sync domain persists a small fixed set of named slices here. Reads
// never fail from the caller's perspective — a missing or malformed row
// leaves the supplied default value in place, so a corrupted store
// degrades to first-run behavior instead of an error. Writes are
// synchronous; batching toward the remote store happens a layer up.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Persisted slice keys. These names are a stable contract shared with the
// legacy browser export format (see internal/migrate).
const (
	KeyGoalsConfig    = "personal_goals_config"
	KeyGoalsHistory   = "personal_goals_history"
	KeyStudyActive    = "study_goal_active"
	KeyStudyHistory   = "study_goal_history"
	KeyProtocolState  = "protocol_state"
	KeyProtocolTasks  = "protocol_task_history"
	KeyDeviceIdentity = "device_identity"
)

// Store is a string-keyed JSON document store.
type Store struct {
	conn   *sql.DB
	logger *log.Logger
}

// Open creates or opens the store at path. The parent directory is
// created if needed. The caller must Close the store when done.
func Open(path string) (*Store, error) {
	return OpenWithLogger(path, nil)
}

// OpenWithLogger opens the store with a custom logger. A nil logger
// defaults to stderr.
func OpenWithLogger(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	// Single writer; WAL keeps concurrent readers cheap.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &Store{conn: conn, logger: logger}
	if err := s.initSchema(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS slices (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`
	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize store schema: %w", err)
	}
	return nil
}

// Close checkpoints the WAL and closes the underlying database.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	s.conn = nil
	return nil
}

// Load reads the slice stored under key into into, which must be a
// pointer. If the key is absent or the stored JSON does not parse, into
// is left untouched (callers pre-populate it with the default value) and
// the problem is logged, never returned.
func (s *Store) Load(key string, into any) {
	var raw string
	err := s.conn.QueryRow("SELECT value FROM slices WHERE key = ?", key).Scan(&raw)
	if err == sql.ErrNoRows {
		return
	}
	if err != nil {
		s.logger.Printf("Warning: failed to read %q, using default: %v", key, err)
		return
	}
	if err := json.Unmarshal([]byte(raw), into); err != nil {
		s.logger.Printf("Warning: malformed data under %q, using default: %v", key, err)
	}
}

// Save writes value under key, replacing any previous slice. Marshal
// failures are programmer errors and are returned.
func (s *Store) Save(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", key, err)
	}
	_, err = s.conn.Exec(`
		INSERT INTO slices (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(raw), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save %q: %w", key, err)
	}
	return nil
}

// Delete removes the slice under key. Deleting an absent key is a no-op.
func (s *Store) Delete(key string) error {
	if _, err := s.conn.Exec("DELETE FROM slices WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

// Keys returns all stored slice keys, for diagnostics and migration.
func (s *Store) Keys() ([]string, error) {
	rows, err := s.conn.Query("SELECT key FROM slices ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

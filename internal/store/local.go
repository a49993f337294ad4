// Package store persists tasks, conversations, messages, and tool calls
// in SQLite using the pure-Go driver.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"taskchat/internal/logging"
)

// LocalStore is the SQLite-backed persistence layer. The handle is
// guarded with an RWMutex: SQLite serializes writers, and the mutex keeps
// multi-statement operations coherent under concurrent turns.
type LocalStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string

	// refPolicy controls task reference resolution: exact id only, or
	// id with a title-fragment fallback.
	refPolicy string
}

// NewLocalStore opens (creating if needed) the SQLite database at path.
// An empty path or ":memory:" yields an in-memory database, used by
// tests and the one-shot CLI mode.
func NewLocalStore(path, refPolicy string) (*LocalStore, error) {
	if path == "" {
		path = ":memory:"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// In-memory databases vanish per-connection; pin the pool to one.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &LocalStore{db: db, dbPath: path, refPolicy: refPolicy}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.StoreDebug("Opened store at %s (ref policy %s)", path, refPolicy)
	return s, nil
}

// initialize creates the required tables.
func (s *LocalStore) initialize() error {
	taskTable := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		completed INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_owner ON tasks(owner_id);
	`

	conversationTable := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_owner ON conversations(owner_id);
	`

	messageTable := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		sender_type TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);
	`

	toolCallTable := `
	CREATE TABLE IF NOT EXISTS tool_calls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT NOT NULL,
		tool_name TEXT NOT NULL,
		parameters TEXT NOT NULL DEFAULT '{}',
		result TEXT NOT NULL DEFAULT '{}',
		executed_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_message ON tool_calls(message_id);
	`

	for _, table := range []string{taskTable, conversationTable, messageTable, toolCallTable} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *LocalStore) Close() error {
	return s.db.Close()
}

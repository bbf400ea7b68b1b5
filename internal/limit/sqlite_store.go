package limit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the durable (name → limit) table backing local-mode
// resolution per spec.md §4.6: "a durable key-value store of (name →
// limit)". WAL mode and a busy-timeout are applied exactly as the pack's
// sqlite store does, since multiple goroutines (admin writes, the consumer
// thread's reads) can contend for the same database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) the sqlite database at
// dbPath and ensures its schema exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("limit: create database directory: %w", err)
		}
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("limit: open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("limit: ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("limit: initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS user_limits (
		name TEXT PRIMARY KEY,
		limit_value INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Get returns the configured limit for name, or (0, false) if none is set.
func (s *SQLiteStore) Get(ctx context.Context, name string) (int, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT limit_value FROM user_limits WHERE name = ?`, name)
	var limit int
	switch err := row.Scan(&limit); err {
	case nil:
		return limit, true, nil
	case sql.ErrNoRows:
		return 0, false, nil
	default:
		return 0, false, fmt.Errorf("limit: query %q: %w", name, err)
	}
}

// Set upserts the configured limit for name.
func (s *SQLiteStore) Set(ctx context.Context, name string, limit int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_limits(name, limit_value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET limit_value = excluded.limit_value`,
		name, limit)
	if err != nil {
		return fmt.Errorf("limit: upsert %q: %w", name, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

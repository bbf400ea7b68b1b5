// Package exceptedip implements the excepted-IP collaborator named in
// spec.md §4.4/§6: a simple predicate query the Check Service consults to
// decide whether an IP is exempt from enforcement. Persistence is the
// collaborator's concern; the core only ever calls IsExcepted.
package exceptedip

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

// Store answers whether an IP is exempt from concurrent-IP enforcement.
type Store interface {
	IsExcepted(ctx context.Context, ip string) (bool, error)
}

// MemoryStore is an in-memory Store, useful for tests and for a panel mode
// that has no need of durable excepted-IP state.
type MemoryStore struct {
	mu  sync.RWMutex
	ips map[string]struct{}
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ips: make(map[string]struct{})}
}

// Add marks ip as excepted.
func (s *MemoryStore) Add(ip string) {
	s.mu.Lock()
	s.ips[ip] = struct{}{}
	s.mu.Unlock()
}

// Remove un-marks ip.
func (s *MemoryStore) Remove(ip string) {
	s.mu.Lock()
	delete(s.ips, ip)
	s.mu.Unlock()
}

// IsExcepted reports whether ip is currently excepted.
func (s *MemoryStore) IsExcepted(_ context.Context, ip string) (bool, error) {
	s.mu.RLock()
	_, ok := s.ips[ip]
	s.mu.RUnlock()
	return ok, nil
}

// SQLiteStore is the durable excepted-IP table, the default persistence
// collaborator per spec.md §6 ("Persistent state: excepted-IP entries...
// are persisted by the collaborator; the core reads them through simple
// predicate queries").
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) the sqlite database at
// dbPath and ensures its schema exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("exceptedip: create database directory: %w", err)
		}
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("exceptedip: open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("exceptedip: ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("exceptedip: initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS excepted_ips (
		ip TEXT PRIMARY KEY
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Add marks ip as excepted.
func (s *SQLiteStore) Add(ctx context.Context, ip string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO excepted_ips(ip) VALUES (?)`, ip)
	if err != nil {
		return fmt.Errorf("exceptedip: add %q: %w", ip, err)
	}
	return nil
}

// Remove un-marks ip.
func (s *SQLiteStore) Remove(ctx context.Context, ip string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM excepted_ips WHERE ip = ?`, ip)
	if err != nil {
		return fmt.Errorf("exceptedip: remove %q: %w", ip, err)
	}
	return nil
}

// IsExcepted reports whether ip is currently excepted.
func (s *SQLiteStore) IsExcepted(ctx context.Context, ip string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT 1 FROM excepted_ips WHERE ip = ?`, ip)
	var one int
	switch err := row.Scan(&one); err {
	case nil:
		return true, nil
	case sql.ErrNoRows:
		return false, nil
	default:
		return false, fmt.Errorf("exceptedip: query %q: %w", ip, err)
	}
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

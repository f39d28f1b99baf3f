// Package store provides the shared on-disk usage database.
//
// The database is a single SQLite file shared by every process of the host
// application. Each process holds its own connection; the cross-process
// discipline is:
//
//  1. Reload() before any write that depends on possibly-stale state, to
//     adopt sibling processes' prior writes.
//  2. Persist() after writes, which checkpoints the WAL and touches the
//     change notification file so sibling processes reload.
//
// All event writes are idempotent upserts keyed by (timestamp, model,
// owning_user), so a rare double-execution under the advisory lock wastes
// work without corrupting data.
//
// Within a process, Store methods are safe for concurrent use: Reload and
// Close exclude in-flight readers and writers while the connection is
// swapped.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/usagevault/usagevault/internal/notify"
)

// FileName is the database file's name within the storage directory.
const FileName = "usage.db"

// ErrNotInitialized is returned when a method is called before Initialize
// or after Close. This indicates a programming error, not a recoverable
// runtime condition.
var ErrNotInitialized = errors.New("store: not initialized")

// Store wraps the SQLite connection with usage-cache functionality.
type Store struct {
	dir    string
	path   string
	logger *log.Logger

	// mu guards conn against the swap in Initialize/Reload/Close. Every
	// other method holds it shared for its whole duration, so a reload
	// never closes a connection out from under a running statement.
	mu   sync.RWMutex
	conn *sql.DB
}

// New creates a Store rooted in the given storage directory. The database
// is not opened until Initialize is called.
func New(dir string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}
	return &Store{
		dir:    dir,
		path:   filepath.Join(dir, FileName),
		logger: logger,
	}
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Initialize opens the database file, creating it and the storage directory
// if needed, then applies idempotent schema creation and data migrations.
// Safe to call on every startup.
func (s *Store) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return nil
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	conn, err := s.open()
	if err != nil {
		return err
	}
	s.conn = conn

	if err := s.initSchema(); err != nil {
		_ = s.conn.Close()
		s.conn = nil
		return err
	}
	if err := s.migrate(); err != nil {
		_ = s.conn.Close()
		s.conn = nil
		return err
	}

	return nil
}

// Reload discards the current connection and re-reads the on-disk file,
// adopting any sibling process's writes. It fails if the database file is
// missing: callers must have run Initialize first.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return ErrNotInitialized
	}

	if _, err := os.Stat(s.path); err != nil {
		return fmt.Errorf("database file missing, initialize first: %w", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database for reload: %w", err)
	}
	s.conn = nil

	conn, err := s.open()
	if err != nil {
		return err
	}
	s.conn = conn
	return nil
}

// Persist flushes all in-memory state to the database file, then touches
// the change notification file. A failed touch is logged, not returned:
// the data is already safe on disk.
func (s *Store) Persist() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.persist()
}

// persist is Persist with the lock already held (shared).
func (s *Store) persist() error {
	if s.conn == nil {
		return ErrNotInitialized
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("failed to checkpoint database: %w", err)
	}

	if err := notify.Touch(s.dir); err != nil {
		s.logger.Printf("warning: failed to touch notification file: %v", err)
	}
	return nil
}

// Close releases the database connection. Subsequent calls to any other
// method fail with ErrNotInitialized.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// open opens a connection against the database file with the standard
// pragma set.
func (s *Store) open() (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", "file:"+s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(5 * time.Minute)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	return conn, nil
}

// initSchema creates all tables and indexes. Idempotent.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_events (
		timestamp TEXT NOT NULL,          -- epoch milliseconds, string-encoded
		model TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT '',
		max_mode INTEGER,                 -- NULL = unknown, else 0/1
		request_cost REAL,
		usage_cost_dollars REAL NOT NULL DEFAULT 0,
		is_token_based INTEGER NOT NULL DEFAULT 0,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		cache_write_tokens INTEGER NOT NULL DEFAULT 0,
		cache_read_tokens INTEGER NOT NULL DEFAULT 0,
		token_cost_cents REAL NOT NULL DEFAULT 0,
		owning_user TEXT NOT NULL DEFAULT '',
		owning_team TEXT NOT NULL DEFAULT '',
		fee REAL NOT NULL DEFAULT 0,
		is_chargeable INTEGER NOT NULL DEFAULT 0,
		is_headless INTEGER NOT NULL DEFAULT 0,
		note TEXT NOT NULL DEFAULT '',
		fetched_at TEXT NOT NULL,
		PRIMARY KEY (timestamp, model, owning_user)
	);

	CREATE TABLE IF NOT EXISTS usage_summaries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cycle_start TEXT NOT NULL DEFAULT '',
		cycle_end TEXT NOT NULL DEFAULT '',
		plan_used REAL NOT NULL DEFAULT 0,
		plan_limit REAL NOT NULL DEFAULT 0,
		plan_remaining REAL NOT NULL DEFAULT 0,
		plan_included REAL NOT NULL DEFAULT 0,
		plan_bonus REAL NOT NULL DEFAULT 0,
		plan_total REAL NOT NULL DEFAULT 0,
		ondemand_used REAL NOT NULL DEFAULT 0,
		ondemand_limit REAL NOT NULL DEFAULT 0,
		team_ondemand_used REAL NOT NULL DEFAULT 0,
		team_ondemand_limit REAL NOT NULL DEFAULT 0,
		fetched_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS identity (
		user_id TEXT PRIMARY KEY,
		email TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL DEFAULT '',
		fetched_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS team_roster (
		team_id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		fetched_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS team_members (
		team_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'member',
		PRIMARY KEY (team_id, user_id)
	);

	CREATE INDEX IF NOT EXISTS idx_events_fetched ON usage_events(fetched_at);
	CREATE INDEX IF NOT EXISTS idx_events_team ON usage_events(owning_team);
	CREATE INDEX IF NOT EXISTS idx_events_user ON usage_events(owning_user);
	CREATE INDEX IF NOT EXISTS idx_summaries_fetched ON usage_summaries(fetched_at);
	`

	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// migrate applies data migrations. Each migration is gated by a cheap
// existence or content check so it runs at most once logically even though
// migrate is invoked on every startup.
func (s *Store) migrate() error {
	// Older databases lack the fee column.
	hasFee, err := s.columnExists("usage_events", "fee")
	if err != nil {
		return err
	}
	if !hasFee {
		if _, err := s.conn.Exec(
			"ALTER TABLE usage_events ADD COLUMN fee REAL NOT NULL DEFAULT 0"); err != nil {
			return fmt.Errorf("failed to add fee column: %w", err)
		}
		s.logger.Printf("migrated: added fee column")
	}

	// Token-based rows written before cents were derived locally carry a
	// zero token_cost_cents; backfill from the dollar cost.
	var pending int
	err = s.conn.QueryRow(`
		SELECT COUNT(*) FROM usage_events
		WHERE is_token_based = 1 AND token_cost_cents = 0 AND usage_cost_dollars > 0
	`).Scan(&pending)
	if err != nil {
		return fmt.Errorf("failed to check cents backfill: %w", err)
	}
	if pending > 0 {
		if _, err := s.conn.Exec(`
			UPDATE usage_events
			SET token_cost_cents = usage_cost_dollars * 100
			WHERE is_token_based = 1 AND token_cost_cents = 0 AND usage_cost_dollars > 0
		`); err != nil {
			return fmt.Errorf("failed to backfill token cents: %w", err)
		}
		s.logger.Printf("migrated: backfilled token cents on %d rows", pending)
	}

	return nil
}

// columnExists checks PRAGMA table_info for a column.
func (s *Store) columnExists(table, column string) (bool, error) {
	rows, err := s.conn.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name, typ string
			notNull   int
			dflt      sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return false, fmt.Errorf("failed to scan table info: %w", err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

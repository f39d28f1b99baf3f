// Package lockfile implements the cross-process sync lock.
//
// The lock is a JSON sentinel file recording when it was taken and by which
// process. It is advisory: a small race window between check and write can
// let two processes acquire simultaneously, which is tolerated because every
// downstream database write is idempotent by natural key. A lock older than
// the staleness threshold is presumed abandoned by a crashed process and is
// silently overwritten by the next acquirer.
package lockfile

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// StaleAfter is how old a lock file may be before it is treated as
// abandoned.
const StaleAfter = 120 * time.Second

// FileName is the lock file's name within the storage directory.
const FileName = "sync.lock"

// record is the on-disk lock format.
type record struct {
	StartedAt string `json:"startedAt"`
	PID       int    `json:"pid"`
}

// Lock negotiates exclusive fetch rights across processes via a sentinel
// file in the storage directory.
type Lock struct {
	path       string
	staleAfter time.Duration
	logger     *log.Logger
}

// New creates a Lock rooted in the given storage directory.
// If logger is nil, logging is discarded.
func New(dir string, logger *log.Logger) *Lock {
	if logger == nil {
		logger = log.New(os.Stderr, "[lock] ", log.LstdFlags)
	}
	return &Lock{
		path:       filepath.Join(dir, FileName),
		staleAfter: StaleAfter,
		logger:     logger,
	}
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Acquire attempts to take the lock. It returns true when the lock was
// taken: either no lock file existed, the existing one was corrupt, or it
// was older than the staleness threshold. It returns false when another
// process holds a fresh lock; callers must abandon the sync attempt rather
// than wait.
func (l *Lock) Acquire() (bool, error) {
	data, err := os.ReadFile(l.path)
	switch {
	case err == nil:
		if fresh(data, l.staleAfter) {
			return false, nil
		}
		l.logger.Printf("overwriting stale or corrupt lock at %s", l.path)
	case os.IsNotExist(err):
		// No holder.
	default:
		return false, fmt.Errorf("failed to read lock file: %w", err)
	}

	if err := l.write(); err != nil {
		return false, err
	}
	return true, nil
}

// Release deletes the lock file. A lock file that is already gone counts as
// success; any other deletion failure is returned.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// IsLocked reports whether a fresh lock is currently held. It never mutates
// the lock file; corrupt or stale files read as unlocked.
func (l *Lock) IsLocked() (bool, error) {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read lock file: %w", err)
	}
	return fresh(data, l.staleAfter), nil
}

// write creates or overwrites the lock file with this process's claim.
func (l *Lock) write() error {
	rec := record{
		StartedAt: time.Now().UTC().Format(time.RFC3339),
		PID:       os.Getpid(),
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lock record: %w", err)
	}

	if err := os.WriteFile(l.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	return nil
}

// fresh reports whether raw lock-file contents describe a live holder.
// Unparseable contents or an unparseable timestamp read as not fresh.
func fresh(data []byte, staleAfter time.Duration) bool {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return false
	}

	startedAt, err := time.Parse(time.RFC3339, rec.StartedAt)
	if err != nil {
		return false
	}

	return time.Since(startedAt) <= staleAfter
}

package lockfile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeLockFile plants a lock file with the given age for testing.
func writeLockFile(t *testing.T, dir string, age time.Duration, pid int) {
	t.Helper()

	rec := record{
		StartedAt: time.Now().Add(-age).UTC().Format(time.RFC3339),
		PID:       pid,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Failed to marshal lock record: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), data, 0644); err != nil {
		t.Fatalf("Failed to write lock file: %v", err)
	}
}

func TestAcquire(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, dir string)
		want    bool
	}{
		{
			name:  "no existing lock",
			setup: func(t *testing.T, dir string) {},
			want:  true,
		},
		{
			name: "fresh lock held by another process",
			setup: func(t *testing.T, dir string) {
				writeLockFile(t, dir, 30*time.Second, 9999)
			},
			want: false,
		},
		{
			name: "stale lock is overwritten",
			setup: func(t *testing.T, dir string) {
				writeLockFile(t, dir, 121*time.Second, 9999)
			},
			want: true,
		},
		{
			name: "corrupt lock is overwritten",
			setup: func(t *testing.T, dir string) {
				path := filepath.Join(dir, FileName)
				if err := os.WriteFile(path, []byte("not json"), 0644); err != nil {
					t.Fatalf("Failed to write corrupt lock: %v", err)
				}
			},
			want: true,
		},
		{
			name: "unparseable timestamp is overwritten",
			setup: func(t *testing.T, dir string) {
				path := filepath.Join(dir, FileName)
				data := []byte(`{"startedAt": "yesterday", "pid": 1}`)
				if err := os.WriteFile(path, data, 0644); err != nil {
					t.Fatalf("Failed to write lock: %v", err)
				}
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			tt.setup(t, dir)

			lock := New(dir, nil)
			got, err := lock.Acquire()
			if err != nil {
				t.Fatalf("Acquire() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Acquire() = %v, want %v", got, tt.want)
			}

			if tt.want {
				// Acquisition must leave our claim on disk.
				data, err := os.ReadFile(lock.Path())
				if err != nil {
					t.Fatalf("Failed to read lock after acquire: %v", err)
				}
				var rec record
				if err := json.Unmarshal(data, &rec); err != nil {
					t.Fatalf("Lock file not valid JSON: %v", err)
				}
				if rec.PID != os.Getpid() {
					t.Errorf("Lock PID = %d, want %d", rec.PID, os.Getpid())
				}
			}
		})
	}
}

func TestRelease(t *testing.T) {
	dir := t.TempDir()
	lock := New(dir, nil)

	acquired, err := lock.Acquire()
	if err != nil || !acquired {
		t.Fatalf("Acquire() = %v, %v; want true, nil", acquired, err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release() error: %v", err)
	}

	if _, err := os.Stat(lock.Path()); !os.IsNotExist(err) {
		t.Errorf("Lock file still exists after release")
	}

	// Releasing an already-gone lock is success.
	if err := lock.Release(); err != nil {
		t.Errorf("Second Release() error: %v", err)
	}
}

func TestIsLocked(t *testing.T) {
	dir := t.TempDir()
	lock := New(dir, nil)

	locked, err := lock.IsLocked()
	if err != nil {
		t.Fatalf("IsLocked() error: %v", err)
	}
	if locked {
		t.Errorf("IsLocked() = true on empty dir")
	}

	writeLockFile(t, dir, 10*time.Second, 1234)
	locked, err = lock.IsLocked()
	if err != nil {
		t.Fatalf("IsLocked() error: %v", err)
	}
	if !locked {
		t.Errorf("IsLocked() = false with fresh lock present")
	}

	writeLockFile(t, dir, 5*time.Minute, 1234)
	locked, err = lock.IsLocked()
	if err != nil {
		t.Fatalf("IsLocked() error: %v", err)
	}
	if locked {
		t.Errorf("IsLocked() = true with stale lock")
	}

	// IsLocked never mutates: the stale file must survive.
	if _, err := os.Stat(lock.Path()); err != nil {
		t.Errorf("IsLocked removed the lock file: %v", err)
	}
}

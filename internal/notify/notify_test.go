package notify

import (
	"encoding/json"
	"os"
	"testing"
	"time"
)

func TestTouch(t *testing.T) {
	dir := t.TempDir()

	if err := Touch(dir); err != nil {
		t.Fatalf("Touch() error: %v", err)
	}

	data, err := os.ReadFile(Path(dir))
	if err != nil {
		t.Fatalf("Failed to read notification file: %v", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("Notification file not valid JSON: %v", err)
	}

	if _, err := time.Parse(time.RFC3339, rec.UpdatedAt); err != nil {
		t.Errorf("updatedAt %q is not RFC3339: %v", rec.UpdatedAt, err)
	}
}

func TestWatcherSignalsOnTouch(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWatcher(dir)
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer w.Stop()

	if err := Touch(dir); err != nil {
		t.Fatalf("Touch() error: %v", err)
	}

	select {
	case <-w.Changes():
		// Signalled.
	case <-time.After(2 * time.Second):
		t.Fatal("Watcher did not signal within 2s of a touch")
	}
}

func TestWatcherCoalescesRapidTouches(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWatcher(dir)
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer w.Stop()

	for i := 0; i < 5; i++ {
		if err := Touch(dir); err != nil {
			t.Fatalf("Touch() error: %v", err)
		}
	}

	select {
	case <-w.Changes():
	case <-time.After(2 * time.Second):
		t.Fatal("Watcher did not signal")
	}

	// The burst must have coalesced into at most one pending signal.
	time.Sleep(3 * DefaultDebounce)
	extra := 0
	for {
		select {
		case <-w.Changes():
			extra++
			if extra > 1 {
				t.Fatalf("Watcher emitted %d extra signals for one burst", extra)
			}
			continue
		default:
		}
		break
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWatcher(dir)
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(dir+"/other.json", []byte("{}"), 0644); err != nil {
		t.Fatalf("Failed to write unrelated file: %v", err)
	}

	select {
	case <-w.Changes():
		t.Fatal("Watcher signalled for an unrelated file")
	case <-time.After(3 * DefaultDebounce):
	}
}

package store

import (
	"errors"
	"io"
	"log"
	"os"
	"testing"
)

// setupStore creates an initialized store in a temp directory.
func setupStore(t *testing.T) *Store {
	t.Helper()

	s := New(t.TempDir(), log.New(io.Discard, "", 0))
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// makeEvent builds a minimal valid event.
func makeEvent(ts, model, user string) UsageEvent {
	return UsageEvent{
		Timestamp:  ts,
		Model:      model,
		Kind:       "included",
		OwningUser: user,
		FetchedAt:  "2026-01-02T03:04:05Z",
	}
}

func TestInitializeIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	logger := log.New(io.Discard, "", 0)

	s := New(dir, logger)
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	if err := s.UpsertEvents([]UsageEvent{makeEvent("1000", "m1", "u1")}); err != nil {
		t.Fatalf("UpsertEvents() error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	// Second startup against the same file: schema and migrations rerun
	// without damage.
	s2 := New(dir, logger)
	if err := s2.Initialize(); err != nil {
		t.Fatalf("Second Initialize() error: %v", err)
	}
	defer s2.Close()

	count, err := s2.EventCount()
	if err != nil {
		t.Fatalf("EventCount() error: %v", err)
	}
	if count != 1 {
		t.Errorf("EventCount() = %d after reopen, want 1", count)
	}
}

func TestMethodsFailBeforeInitialize(t *testing.T) {
	s := New(t.TempDir(), log.New(io.Discard, "", 0))

	if err := s.Reload(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Reload() error = %v, want ErrNotInitialized", err)
	}
	if err := s.Persist(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Persist() error = %v, want ErrNotInitialized", err)
	}
	if err := s.UpsertEvents([]UsageEvent{makeEvent("1", "m", "u")}); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("UpsertEvents() error = %v, want ErrNotInitialized", err)
	}
	if _, _, err := s.LatestEventTimestamp(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("LatestEventTimestamp() error = %v, want ErrNotInitialized", err)
	}
}

func TestMethodsFailAfterClose(t *testing.T) {
	s := setupStore(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	if _, err := s.EventCount(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("EventCount() after Close error = %v, want ErrNotInitialized", err)
	}
}

func TestReloadFailsWhenFileMissing(t *testing.T) {
	s := setupStore(t)

	if err := os.Remove(s.Path()); err != nil {
		t.Fatalf("Failed to remove database file: %v", err)
	}
	// WAL sidecars may remain; only the main file matters.
	if err := s.Reload(); err == nil {
		t.Error("Reload() succeeded with database file missing")
	}
}

func TestReloadAdoptsSiblingWrites(t *testing.T) {
	dir := t.TempDir()
	logger := log.New(io.Discard, "", 0)

	a := New(dir, logger)
	if err := a.Initialize(); err != nil {
		t.Fatalf("Initialize(a) error: %v", err)
	}
	defer a.Close()

	// A sibling process writes and persists.
	b := New(dir, logger)
	if err := b.Initialize(); err != nil {
		t.Fatalf("Initialize(b) error: %v", err)
	}
	if err := b.UpsertEvents([]UsageEvent{makeEvent("2000", "m1", "u1")}); err != nil {
		t.Fatalf("UpsertEvents(b) error: %v", err)
	}
	if err := b.Persist(); err != nil {
		t.Fatalf("Persist(b) error: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close(b) error: %v", err)
	}

	if err := a.Reload(); err != nil {
		t.Fatalf("Reload(a) error: %v", err)
	}

	count, err := a.EventCount()
	if err != nil {
		t.Fatalf("EventCount(a) error: %v", err)
	}
	if count != 1 {
		t.Errorf("EventCount(a) = %d after reload, want 1", count)
	}
}

func TestMigrationBackfillsTokenCents(t *testing.T) {
	dir := t.TempDir()
	logger := log.New(io.Discard, "", 0)

	s := New(dir, logger)
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}

	// A legacy row: token-based with dollars but no cents.
	_, err := s.conn.Exec(`
		INSERT INTO usage_events (timestamp, model, owning_user, is_token_based,
			usage_cost_dollars, token_cost_cents, fetched_at)
		VALUES ('1000', 'm1', 'u1', 1, 0.5, 0, '2026-01-01T00:00:00Z')
	`)
	if err != nil {
		t.Fatalf("Failed to seed legacy row: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	s2 := New(dir, logger)
	if err := s2.Initialize(); err != nil {
		t.Fatalf("Second Initialize() error: %v", err)
	}
	defer s2.Close()

	var cents float64
	err = s2.conn.QueryRow(
		"SELECT token_cost_cents FROM usage_events WHERE timestamp = '1000'").Scan(&cents)
	if err != nil {
		t.Fatalf("Failed to read cents: %v", err)
	}
	if cents != 50 {
		t.Errorf("token_cost_cents = %v after migration, want 50", cents)
	}
}

func TestReloadConcurrentWithReads(t *testing.T) {
	s := setupStore(t)

	if err := s.UpsertEvents([]UsageEvent{makeEvent("1000", "m", "u")}); err != nil {
		t.Fatalf("UpsertEvents() error: %v", err)
	}

	// A daemon reloads on sibling notifications while its own readers keep
	// querying. Neither side may observe a half-swapped connection.
	done := make(chan error, 1)
	go func() {
		for i := 0; i < 50; i++ {
			if err := s.Reload(); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	for {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("Reload() error: %v", err)
			}
			return
		default:
			count, err := s.EventCount()
			if err != nil {
				t.Fatalf("EventCount() during concurrent reloads: %v", err)
			}
			if count != 1 {
				t.Fatalf("EventCount() = %d during concurrent reloads, want 1", count)
			}
		}
	}
}

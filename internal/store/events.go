package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UsageEvent is one metered action. Events are uniquely identified by the
// (Timestamp, Model, OwningUser) triple; no two stored rows share it.
type UsageEvent struct {
	// Timestamp is a string-encoded integer of epoch milliseconds. It is
	// the ordering key for range filters and the high-water mark.
	Timestamp string

	Model string

	// Kind is an enum-like tag from the remote API, e.g. "included",
	// "usage-based", "errored-not-charged".
	Kind string

	// MaxMode is tri-state: nil means the API did not report it.
	MaxMode *bool

	// RequestCost is nullable; nil means no per-request cost applied.
	RequestCost *float64

	UsageCostDollars float64

	IsTokenBased     bool
	InputTokens      int64
	OutputTokens     int64
	CacheWriteTokens int64
	CacheReadTokens  int64
	TokenCostCents   float64

	OwningUser string
	OwningTeam string

	Fee          float64
	IsChargeable bool
	IsHeadless   bool

	// Note is user-authored free text. Sync never overwrites it.
	Note string

	// FetchedAt is the ISO timestamp of local ingestion.
	FetchedAt string
}

// UpsertEvents merges a batch of events into the store. For each event it
// inserts if absent by natural key, then updates every column except note
// on the existing row. The two-step insert-then-update keeps user notes
// intact while still refreshing upstream fields the server may have
// corrected. The whole batch is one transaction: any failure rolls back
// entirely.
func (s *Store) UpsertEvents(events []UsageEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.conn == nil {
		return ErrNotInitialized
	}
	if len(events) == 0 {
		return nil
	}

	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insert, err := tx.Prepare(`
		INSERT OR IGNORE INTO usage_events (
			timestamp, model, kind, max_mode, request_cost,
			usage_cost_dollars, is_token_based,
			input_tokens, output_tokens, cache_write_tokens, cache_read_tokens,
			token_cost_cents, owning_user, owning_team,
			fee, is_chargeable, is_headless, note, fetched_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer insert.Close()

	update, err := tx.Prepare(`
		UPDATE usage_events SET
			kind = ?, max_mode = ?, request_cost = ?,
			usage_cost_dollars = ?, is_token_based = ?,
			input_tokens = ?, output_tokens = ?,
			cache_write_tokens = ?, cache_read_tokens = ?,
			token_cost_cents = ?, owning_team = ?,
			fee = ?, is_chargeable = ?, is_headless = ?, fetched_at = ?
		WHERE timestamp = ? AND model = ? AND owning_user = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare update: %w", err)
	}
	defer update.Close()

	for _, ev := range events {
		if _, err := insert.Exec(
			ev.Timestamp, ev.Model, ev.Kind,
			boolPtrToNull(ev.MaxMode), floatPtrToNull(ev.RequestCost),
			ev.UsageCostDollars, boolToInt(ev.IsTokenBased),
			ev.InputTokens, ev.OutputTokens, ev.CacheWriteTokens, ev.CacheReadTokens,
			ev.TokenCostCents, ev.OwningUser, ev.OwningTeam,
			ev.Fee, boolToInt(ev.IsChargeable), boolToInt(ev.IsHeadless),
			ev.Note, ev.FetchedAt,
		); err != nil {
			return fmt.Errorf("failed to insert event %s/%s: %w", ev.Timestamp, ev.Model, err)
		}

		if _, err := update.Exec(
			ev.Kind, boolPtrToNull(ev.MaxMode), floatPtrToNull(ev.RequestCost),
			ev.UsageCostDollars, boolToInt(ev.IsTokenBased),
			ev.InputTokens, ev.OutputTokens,
			ev.CacheWriteTokens, ev.CacheReadTokens,
			ev.TokenCostCents, ev.OwningTeam,
			ev.Fee, boolToInt(ev.IsChargeable), boolToInt(ev.IsHeadless), ev.FetchedAt,
			ev.Timestamp, ev.Model, ev.OwningUser,
		); err != nil {
			return fmt.Errorf("failed to update event %s/%s: %w", ev.Timestamp, ev.Model, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit event batch: %w", err)
	}
	return nil
}

// LatestEventTimestamp returns the maximum event timestamp, in natural-key
// (numeric) ordering. The second return is false when the store holds zero
// events, which signals that no sync has ever completed.
func (s *Store) LatestEventTimestamp() (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.conn == nil {
		return "", false, ErrNotInitialized
	}

	var max sql.NullInt64
	err := s.conn.QueryRow(
		"SELECT MAX(CAST(timestamp AS INTEGER)) FROM usage_events").Scan(&max)
	if err != nil {
		return "", false, fmt.Errorf("failed to query latest timestamp: %w", err)
	}
	if !max.Valid {
		return "", false, nil
	}
	return fmt.Sprintf("%d", max.Int64), true, nil
}

// EventCount returns the total number of stored events.
func (s *Store) EventCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.conn == nil {
		return 0, ErrNotInitialized
	}

	var count int
	if err := s.conn.QueryRow("SELECT COUNT(*) FROM usage_events").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// DeleteOlderThan removes events and summaries whose fetched_at precedes
// now minus retentionDays, returning how many rows were deleted. It always
// persists afterward, even when nothing was deleted, so callers observe
// uniform behavior.
func (s *Store) DeleteOlderThan(retentionDays int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.conn == nil {
		return 0, ErrNotInitialized
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format(time.RFC3339)

	res, err := s.conn.Exec("DELETE FROM usage_events WHERE fetched_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}
	eventsDeleted, _ := res.RowsAffected()

	res, err = s.conn.Exec("DELETE FROM usage_summaries WHERE fetched_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old summaries: %w", err)
	}
	summariesDeleted, _ := res.RowsAffected()

	deleted := int(eventsDeleted + summariesDeleted)
	if deleted > 0 {
		s.logger.Printf("retention: deleted %d rows older than %d days", deleted, retentionDays)
	}

	if err := s.persist(); err != nil {
		return deleted, err
	}
	return deleted, nil
}

// UpdateNote sets the user-authored note on the event identified by the
// natural key, touching no other column. Returns sql.ErrNoRows when no
// such event exists.
func (s *Store) UpdateNote(timestamp, model, owningUser, note string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.conn == nil {
		return ErrNotInitialized
	}

	res, err := s.conn.Exec(`
		UPDATE usage_events SET note = ?
		WHERE timestamp = ? AND model = ? AND owning_user = ?
	`, note, timestamp, model, owningUser)
	if err != nil {
		return fmt.Errorf("failed to update note: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	return s.persist()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func boolPtrToNull(b *bool) sql.NullInt64 {
	if b == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(boolToInt(*b)), Valid: true}
}

func floatPtrToNull(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullToBoolPtr(n sql.NullInt64) *bool {
	if !n.Valid {
		return nil
	}
	b := n.Int64 != 0
	return &b
}

func nullToFloatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	f := n.Float64
	return &f
}

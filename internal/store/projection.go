package store

import (
	"database/sql"
	"fmt"
)

// Role is an identity's role within its team.
type Role string

const (
	// RoleOwner sees the whole team's events.
	RoleOwner Role = "owner"
	// RoleMember sees only their own events within the team.
	RoleMember Role = "member"
	// RoleNone means the identity belongs to no team.
	RoleNone Role = ""
)

// MaxProjectionRows caps the read projection served to the UI layer.
const MaxProjectionRows = 10000

// CurrentIdentity returns the stored identity, or nil when none is stored.
func (s *Store) CurrentIdentity() (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentIdentity()
}

// currentIdentity is CurrentIdentity with the lock already held (shared).
func (s *Store) currentIdentity() (*Identity, error) {
	if s.conn == nil {
		return nil, ErrNotInitialized
	}

	row := s.conn.QueryRow(
		"SELECT user_id, email, display_name, fetched_at FROM identity LIMIT 1")

	var id Identity
	err := row.Scan(&id.UserID, &id.Email, &id.DisplayName, &id.FetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query identity: %w", err)
	}
	return &id, nil
}

// CurrentRole returns the identity's team role: RoleOwner or RoleMember
// when the identity appears in team_members, RoleNone otherwise.
func (s *Store) CurrentRole() (Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.conn == nil {
		return RoleNone, ErrNotInitialized
	}

	identity, err := s.currentIdentity()
	if err != nil || identity == nil {
		return RoleNone, err
	}

	var role string
	err = s.conn.QueryRow(
		"SELECT role FROM team_members WHERE user_id = ? LIMIT 1",
		identity.UserID).Scan(&role)
	if err == sql.ErrNoRows {
		return RoleNone, nil
	}
	if err != nil {
		return RoleNone, fmt.Errorf("failed to query role: %w", err)
	}

	if role == string(RoleOwner) {
		return RoleOwner, nil
	}
	return RoleMember, nil
}

// accessFilter computes the access-control WHERE clause for event reads.
//
// The projection is recomputed from the stored identity, roster, and
// membership on every read, never cached: a token swap changes identity
// without necessarily invalidating anything else.
//
// Rules: a team member sees their team's events restricted to their own
// unless their role is owner; an identity with no team sees only their own
// events; with no stored identity nothing is restricted (the store is
// empty or mid-bootstrap).
func (s *Store) accessFilter() (string, []any, error) {
	identity, err := s.currentIdentity()
	if err != nil {
		return "", nil, err
	}
	if identity == nil {
		return "1=1", nil, nil
	}

	var teamID, role string
	err = s.conn.QueryRow(
		"SELECT team_id, role FROM team_members WHERE user_id = ? LIMIT 1",
		identity.UserID).Scan(&teamID, &role)
	if err == sql.ErrNoRows {
		return "owning_user = ?", []any{identity.UserID}, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to query membership: %w", err)
	}

	if role == string(RoleOwner) {
		return "owning_team = ?", []any{teamID}, nil
	}
	return "owning_team = ? AND owning_user = ?", []any{teamID, identity.UserID}, nil
}

// QueryEvents returns the access-control-filtered event projection, newest
// first, capped at MaxProjectionRows. A limit of 0 (or anything above the
// cap) means the cap.
func (s *Store) QueryEvents(limit int) ([]UsageEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.conn == nil {
		return nil, ErrNotInitialized
	}

	if limit <= 0 || limit > MaxProjectionRows {
		limit = MaxProjectionRows
	}

	filter, args, err := s.accessFilter()
	if err != nil {
		return nil, err
	}

	query := `
		SELECT timestamp, model, kind, max_mode, request_cost,
		       usage_cost_dollars, is_token_based,
		       input_tokens, output_tokens, cache_write_tokens, cache_read_tokens,
		       token_cost_cents, owning_user, owning_team,
		       fee, is_chargeable, is_headless, note, fetched_at
		FROM usage_events
		WHERE ` + filter + `
		ORDER BY CAST(timestamp AS INTEGER) DESC
		LIMIT ?
	`
	args = append(args, limit)

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// DisplayNames maps user identifiers to display names, drawn from the
// membership table plus the identity row.
func (s *Store) DisplayNames() (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.conn == nil {
		return nil, ErrNotInitialized
	}

	names := make(map[string]string)

	rows, err := s.conn.Query(
		"SELECT user_id, display_name FROM team_members WHERE display_name != ''")
	if err != nil {
		return nil, fmt.Errorf("failed to query member names: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID, name string
		if err := rows.Scan(&userID, &name); err != nil {
			return nil, fmt.Errorf("failed to scan member name: %w", err)
		}
		names[userID] = name
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating member names: %w", err)
	}

	identity, err := s.currentIdentity()
	if err != nil {
		return nil, err
	}
	if identity != nil && identity.DisplayName != "" {
		names[identity.UserID] = identity.DisplayName
	}

	return names, nil
}

// scanEvents scans usage event rows.
func scanEvents(rows *sql.Rows) ([]UsageEvent, error) {
	var events []UsageEvent

	for rows.Next() {
		var (
			ev          UsageEvent
			maxMode     sql.NullInt64
			requestCost sql.NullFloat64
			tokenBased  int
			chargeable  int
			headless    int
		)

		err := rows.Scan(
			&ev.Timestamp, &ev.Model, &ev.Kind, &maxMode, &requestCost,
			&ev.UsageCostDollars, &tokenBased,
			&ev.InputTokens, &ev.OutputTokens, &ev.CacheWriteTokens, &ev.CacheReadTokens,
			&ev.TokenCostCents, &ev.OwningUser, &ev.OwningTeam,
			&ev.Fee, &chargeable, &headless, &ev.Note, &ev.FetchedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		ev.MaxMode = nullToBoolPtr(maxMode)
		ev.RequestCost = nullToFloatPtr(requestCost)
		ev.IsTokenBased = tokenBased != 0
		ev.IsChargeable = chargeable != 0
		ev.IsHeadless = headless != 0

		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

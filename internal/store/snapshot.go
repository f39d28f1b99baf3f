package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UsageSummary is a periodic snapshot of plan and quota state. Summaries
// are append-only: every successful fetch inserts a new row and history is
// retained until retention cleanup removes it.
type UsageSummary struct {
	CycleStart string
	CycleEnd   string

	PlanUsed      float64
	PlanLimit     float64
	PlanRemaining float64
	PlanIncluded  float64
	PlanBonus     float64
	PlanTotal     float64

	OnDemandUsed  float64
	OnDemandLimit float64

	TeamOnDemandUsed  float64
	TeamOnDemandLimit float64

	FetchedAt string
}

// Identity is the current authenticated principal. Latest snapshot only.
type Identity struct {
	UserID      string
	Email       string
	DisplayName string
	FetchedAt   string
}

// Team is one entry in the team roster. Latest snapshot only.
type Team struct {
	ID   string
	Name string
}

// TeamMember is one member of a team, with their role. Latest snapshot
// only.
type TeamMember struct {
	TeamID      string
	UserID      string
	DisplayName string
	Role        string
}

// AppendSummary inserts a summary row. No dedup: history is the point.
func (s *Store) AppendSummary(summary *UsageSummary) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.conn == nil {
		return ErrNotInitialized
	}

	fetchedAt := summary.FetchedAt
	if fetchedAt == "" {
		fetchedAt = time.Now().UTC().Format(time.RFC3339)
	}

	_, err := s.conn.Exec(`
		INSERT INTO usage_summaries (
			cycle_start, cycle_end,
			plan_used, plan_limit, plan_remaining,
			plan_included, plan_bonus, plan_total,
			ondemand_used, ondemand_limit,
			team_ondemand_used, team_ondemand_limit,
			fetched_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		summary.CycleStart, summary.CycleEnd,
		summary.PlanUsed, summary.PlanLimit, summary.PlanRemaining,
		summary.PlanIncluded, summary.PlanBonus, summary.PlanTotal,
		summary.OnDemandUsed, summary.OnDemandLimit,
		summary.TeamOnDemandUsed, summary.TeamOnDemandLimit,
		fetchedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append summary: %w", err)
	}
	return nil
}

// LatestSummary returns the most recently fetched summary, or nil when none
// is stored.
func (s *Store) LatestSummary() (*UsageSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.conn == nil {
		return nil, ErrNotInitialized
	}

	row := s.conn.QueryRow(`
		SELECT cycle_start, cycle_end,
		       plan_used, plan_limit, plan_remaining,
		       plan_included, plan_bonus, plan_total,
		       ondemand_used, ondemand_limit,
		       team_ondemand_used, team_ondemand_limit,
		       fetched_at
		FROM usage_summaries
		ORDER BY id DESC
		LIMIT 1
	`)

	var sum UsageSummary
	err := row.Scan(
		&sum.CycleStart, &sum.CycleEnd,
		&sum.PlanUsed, &sum.PlanLimit, &sum.PlanRemaining,
		&sum.PlanIncluded, &sum.PlanBonus, &sum.PlanTotal,
		&sum.OnDemandUsed, &sum.OnDemandLimit,
		&sum.TeamOnDemandUsed, &sum.TeamOnDemandLimit,
		&sum.FetchedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest summary: %w", err)
	}
	return &sum, nil
}

// ReplaceIdentity replaces the stored identity wholesale. Identity
// describes current state, not a time series.
func (s *Store) ReplaceIdentity(identity *Identity) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.conn == nil {
		return ErrNotInitialized
	}

	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM identity"); err != nil {
		return fmt.Errorf("failed to clear identity: %w", err)
	}

	if identity != nil {
		fetchedAt := identity.FetchedAt
		if fetchedAt == "" {
			fetchedAt = time.Now().UTC().Format(time.RFC3339)
		}
		if _, err := tx.Exec(`
			INSERT INTO identity (user_id, email, display_name, fetched_at)
			VALUES (?, ?, ?, ?)
		`, identity.UserID, identity.Email, identity.DisplayName, fetchedAt); err != nil {
			return fmt.Errorf("failed to insert identity: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit identity: %w", err)
	}
	return nil
}

// ReplaceTeamRoster replaces the team list wholesale.
func (s *Store) ReplaceTeamRoster(teams []Team) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.conn == nil {
		return ErrNotInitialized
	}

	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM team_roster"); err != nil {
		return fmt.Errorf("failed to clear team roster: %w", err)
	}

	fetchedAt := time.Now().UTC().Format(time.RFC3339)
	for _, team := range teams {
		if _, err := tx.Exec(`
			INSERT INTO team_roster (team_id, name, fetched_at)
			VALUES (?, ?, ?)
		`, team.ID, team.Name, fetchedAt); err != nil {
			return fmt.Errorf("failed to insert team %s: %w", team.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit team roster: %w", err)
	}
	return nil
}

// ReplaceTeamMembers replaces the team membership table wholesale. Passing
// an empty slice purges all membership rows, which is exactly what a sync
// must do when the team list comes back empty.
func (s *Store) ReplaceTeamMembers(members []TeamMember) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.conn == nil {
		return ErrNotInitialized
	}

	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM team_members"); err != nil {
		return fmt.Errorf("failed to clear team members: %w", err)
	}

	for _, m := range members {
		if _, err := tx.Exec(`
			INSERT INTO team_members (team_id, user_id, display_name, role)
			VALUES (?, ?, ?, ?)
		`, m.TeamID, m.UserID, m.DisplayName, m.Role); err != nil {
			return fmt.Errorf("failed to insert member %s/%s: %w", m.TeamID, m.UserID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit team members: %w", err)
	}
	return nil
}

// TeamMemberCount returns how many membership rows are stored.
func (s *Store) TeamMemberCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.conn == nil {
		return 0, ErrNotInitialized
	}

	var count int
	if err := s.conn.QueryRow("SELECT COUNT(*) FROM team_members").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count team members: %w", err)
	}
	return count, nil
}

package store

import (
	"testing"
)

func TestAppendSummaryIsAppendOnly(t *testing.T) {
	s := setupStore(t)

	first := &UsageSummary{PlanUsed: 10, PlanLimit: 100, FetchedAt: "2026-01-01T00:00:00Z"}
	second := &UsageSummary{PlanUsed: 20, PlanLimit: 100, FetchedAt: "2026-01-02T00:00:00Z"}

	if err := s.AppendSummary(first); err != nil {
		t.Fatalf("AppendSummary() error: %v", err)
	}
	if err := s.AppendSummary(second); err != nil {
		t.Fatalf("AppendSummary() error: %v", err)
	}

	var count int
	if err := s.conn.QueryRow("SELECT COUNT(*) FROM usage_summaries").Scan(&count); err != nil {
		t.Fatalf("Failed to count summaries: %v", err)
	}
	if count != 2 {
		t.Errorf("Summary count = %d, want 2 (history retained)", count)
	}

	latest, err := s.LatestSummary()
	if err != nil {
		t.Fatalf("LatestSummary() error: %v", err)
	}
	if latest == nil || latest.PlanUsed != 20 {
		t.Errorf("LatestSummary().PlanUsed = %v, want 20", latest.PlanUsed)
	}
}

func TestLatestSummaryEmpty(t *testing.T) {
	s := setupStore(t)

	latest, err := s.LatestSummary()
	if err != nil {
		t.Fatalf("LatestSummary() error: %v", err)
	}
	if latest != nil {
		t.Errorf("LatestSummary() = %+v on empty store, want nil", latest)
	}
}

func TestReplaceIdentity(t *testing.T) {
	s := setupStore(t)

	if err := s.ReplaceIdentity(&Identity{UserID: "u1", Email: "a@x.test"}); err != nil {
		t.Fatalf("ReplaceIdentity() error: %v", err)
	}
	if err := s.ReplaceIdentity(&Identity{UserID: "u2", Email: "b@x.test"}); err != nil {
		t.Fatalf("Second ReplaceIdentity() error: %v", err)
	}

	identity, err := s.CurrentIdentity()
	if err != nil {
		t.Fatalf("CurrentIdentity() error: %v", err)
	}
	if identity == nil || identity.UserID != "u2" {
		t.Errorf("CurrentIdentity() = %+v, want u2 (wholesale replacement)", identity)
	}

	var count int
	if err := s.conn.QueryRow("SELECT COUNT(*) FROM identity").Scan(&count); err != nil {
		t.Fatalf("Failed to count identity rows: %v", err)
	}
	if count != 1 {
		t.Errorf("Identity rows = %d, want 1", count)
	}
}

func TestReplaceTeamMembersPurge(t *testing.T) {
	s := setupStore(t)

	members := []TeamMember{
		{TeamID: "team-x", UserID: "u1", Role: "owner"},
		{TeamID: "team-x", UserID: "u2", Role: "member"},
	}
	if err := s.ReplaceTeamMembers(members); err != nil {
		t.Fatalf("ReplaceTeamMembers() error: %v", err)
	}

	count, err := s.TeamMemberCount()
	if err != nil {
		t.Fatalf("TeamMemberCount() error: %v", err)
	}
	if count != 2 {
		t.Fatalf("TeamMemberCount() = %d, want 2", count)
	}

	// Empty replacement purges everything.
	if err := s.ReplaceTeamMembers(nil); err != nil {
		t.Fatalf("ReplaceTeamMembers(nil) error: %v", err)
	}

	count, err = s.TeamMemberCount()
	if err != nil {
		t.Fatalf("TeamMemberCount() error: %v", err)
	}
	if count != 0 {
		t.Errorf("TeamMemberCount() = %d after purge, want 0", count)
	}
}

func TestReplaceTeamRoster(t *testing.T) {
	s := setupStore(t)

	if err := s.ReplaceTeamRoster([]Team{{ID: "t1", Name: "Alpha"}}); err != nil {
		t.Fatalf("ReplaceTeamRoster() error: %v", err)
	}
	if err := s.ReplaceTeamRoster([]Team{{ID: "t2", Name: "Beta"}}); err != nil {
		t.Fatalf("Second ReplaceTeamRoster() error: %v", err)
	}

	var teamID string
	if err := s.conn.QueryRow("SELECT team_id FROM team_roster").Scan(&teamID); err != nil {
		t.Fatalf("Failed to read roster: %v", err)
	}
	if teamID != "t2" {
		t.Errorf("Roster team = %q, want t2", teamID)
	}
}

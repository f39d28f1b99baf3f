package store

import (
	"testing"
)

// seedProjection loads a mixed set of events across two users and a team.
func seedProjection(t *testing.T, s *Store) {
	t.Helper()

	events := []UsageEvent{
		makeEvent("1000", "m", "u1"),
		makeEvent("2000", "m", "u2"),
		makeEvent("3000", "m", "u3"),
	}
	events[0].OwningTeam = "team-x"
	events[1].OwningTeam = "team-x"
	// events[2] belongs to another user with no team.

	if err := s.UpsertEvents(events); err != nil {
		t.Fatalf("UpsertEvents() error: %v", err)
	}
}

func TestQueryEventsProjection(t *testing.T) {
	tests := []struct {
		name     string
		identity *Identity
		members  []TeamMember
		wantTS   []string // newest first
		wantRole Role
	}{
		{
			name:     "team owner sees whole team",
			identity: &Identity{UserID: "u1"},
			members: []TeamMember{
				{TeamID: "team-x", UserID: "u1", Role: "owner"},
				{TeamID: "team-x", UserID: "u2", Role: "member"},
			},
			wantTS:   []string{"2000", "1000"},
			wantRole: RoleOwner,
		},
		{
			name:     "team member sees only own events",
			identity: &Identity{UserID: "u2"},
			members: []TeamMember{
				{TeamID: "team-x", UserID: "u1", Role: "owner"},
				{TeamID: "team-x", UserID: "u2", Role: "member"},
			},
			wantTS:   []string{"2000"},
			wantRole: RoleMember,
		},
		{
			name:     "no team sees only own events",
			identity: &Identity{UserID: "u3"},
			members:  nil,
			wantTS:   []string{"3000"},
			wantRole: RoleNone,
		},
		{
			name:     "no identity leaves reads unrestricted",
			identity: nil,
			members:  nil,
			wantTS:   []string{"3000", "2000", "1000"},
			wantRole: RoleNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupStore(t)
			seedProjection(t, s)

			if err := s.ReplaceIdentity(tt.identity); err != nil {
				t.Fatalf("ReplaceIdentity() error: %v", err)
			}
			if err := s.ReplaceTeamMembers(tt.members); err != nil {
				t.Fatalf("ReplaceTeamMembers() error: %v", err)
			}

			events, err := s.QueryEvents(0)
			if err != nil {
				t.Fatalf("QueryEvents() error: %v", err)
			}

			if len(events) != len(tt.wantTS) {
				t.Fatalf("QueryEvents() returned %d events, want %d", len(events), len(tt.wantTS))
			}
			for i, want := range tt.wantTS {
				if events[i].Timestamp != want {
					t.Errorf("events[%d].Timestamp = %s, want %s", i, events[i].Timestamp, want)
				}
			}

			role, err := s.CurrentRole()
			if err != nil {
				t.Fatalf("CurrentRole() error: %v", err)
			}
			if role != tt.wantRole {
				t.Errorf("CurrentRole() = %q, want %q", role, tt.wantRole)
			}
		})
	}
}

func TestProjectionRecomputedAfterIdentitySwap(t *testing.T) {
	s := setupStore(t)
	seedProjection(t, s)

	if err := s.ReplaceIdentity(&Identity{UserID: "u3"}); err != nil {
		t.Fatalf("ReplaceIdentity() error: %v", err)
	}

	events, err := s.QueryEvents(0)
	if err != nil {
		t.Fatalf("QueryEvents() error: %v", err)
	}
	if len(events) != 1 || events[0].OwningUser != "u3" {
		t.Fatalf("QueryEvents() = %d events for u3, want exactly u3's", len(events))
	}

	// A token swap replaced the identity; reads must pick it up with no
	// explicit invalidation.
	if err := s.ReplaceIdentity(&Identity{UserID: "u2"}); err != nil {
		t.Fatalf("ReplaceIdentity() error: %v", err)
	}

	events, err = s.QueryEvents(0)
	if err != nil {
		t.Fatalf("QueryEvents() error: %v", err)
	}
	if len(events) != 1 || events[0].OwningUser != "u2" {
		t.Errorf("QueryEvents() after identity swap = %d events, want u2's only", len(events))
	}
}

func TestQueryEventsLimit(t *testing.T) {
	s := setupStore(t)
	seedProjection(t, s)

	events, err := s.QueryEvents(2)
	if err != nil {
		t.Fatalf("QueryEvents(2) error: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("QueryEvents(2) returned %d events, want 2", len(events))
	}
	// Newest first.
	if events[0].Timestamp != "3000" {
		t.Errorf("events[0].Timestamp = %s, want 3000", events[0].Timestamp)
	}
}

func TestDisplayNames(t *testing.T) {
	s := setupStore(t)

	if err := s.ReplaceIdentity(&Identity{UserID: "u1", DisplayName: "Me"}); err != nil {
		t.Fatalf("ReplaceIdentity() error: %v", err)
	}
	if err := s.ReplaceTeamMembers([]TeamMember{
		{TeamID: "t", UserID: "u2", DisplayName: "Alice", Role: "member"},
		{TeamID: "t", UserID: "u3", DisplayName: "", Role: "member"},
	}); err != nil {
		t.Fatalf("ReplaceTeamMembers() error: %v", err)
	}

	names, err := s.DisplayNames()
	if err != nil {
		t.Fatalf("DisplayNames() error: %v", err)
	}

	if names["u1"] != "Me" {
		t.Errorf("names[u1] = %q, want Me", names["u1"])
	}
	if names["u2"] != "Alice" {
		t.Errorf("names[u2] = %q, want Alice", names["u2"])
	}
	if _, ok := names["u3"]; ok {
		t.Errorf("names[u3] present despite empty display name")
	}
}

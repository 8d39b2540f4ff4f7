package models

import "testing"

func TestRoleValid(t *testing.T) {
	tests := []struct {
		role Role
		want bool
	}{
		{RolePlanner, true},
		{RoleWorker, true},
		{RoleReviewer, true},
		{RoleAnalyst, true},
		{Role(""), false},
		{Role("scout"), false},
	}

	for _, tt := range tests {
		if got := tt.role.Valid(); got != tt.want {
			t.Errorf("Role(%q).Valid() = %v, want %v", tt.role, got, tt.want)
		}
	}
}

func TestRolesAreValid(t *testing.T) {
	roles := Roles()
	if len(roles) != 4 {
		t.Fatalf("expected 4 roles, got %d", len(roles))
	}
	for _, r := range roles {
		if !r.Valid() {
			t.Errorf("Roles() returned invalid role %q", r)
		}
	}
}

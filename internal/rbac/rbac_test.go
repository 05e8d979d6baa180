package rbac

import "testing"

func TestCanMatrix(t *testing.T) {
	tests := []struct {
		role   Role
		action Action
		want   bool
	}{
		{RoleAdmin, ActionRead, true},
		{RoleAdmin, ActionChat, true},
		{RoleAdmin, ActionWrite, true},
		{RoleAdmin, ActionAdmin, true},
		{RoleUser, ActionRead, true},
		{RoleUser, ActionChat, true},
		{RoleUser, ActionWrite, false},
		{RoleUser, ActionAdmin, false},
		{Role("GUEST"), ActionRead, false},
	}

	for _, tc := range tests {
		if got := Can(tc.role, tc.action); got != tc.want {
			t.Errorf("Can(%s, %s) = %v, want %v", tc.role, tc.action, got, tc.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	if Normalize("ADMIN") != RoleAdmin {
		t.Fatalf("expected ADMIN to normalize to RoleAdmin")
	}
	for _, input := range []string{"", "USER", "editor", "root"} {
		if Normalize(input) != RoleUser {
			t.Fatalf("expected %q to normalize to RoleUser", input)
		}
	}
}

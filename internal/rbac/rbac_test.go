package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "guest join", role: RoleGuest, action: ActionJoin, allow: true},
		{name: "guest add", role: RoleGuest, action: ActionAddElement, allow: false},
		{name: "loader add", role: RoleLoader, action: ActionAddElement, allow: true},
		{name: "loader update", role: RoleLoader, action: ActionUpdateElement, allow: false},
		{name: "loader remove", role: RoleLoader, action: ActionRemoveElement, allow: false},
		{name: "operator update", role: RoleOperator, action: ActionUpdateElement, allow: true},
		{name: "operator lock", role: RoleOperator, action: ActionLockElement, allow: true},
		{name: "operator unlock", role: RoleOperator, action: ActionUnlockElement, allow: true},
		{name: "operator drag start", role: RoleOperator, action: ActionDragStart, allow: true},
		{name: "operator remove", role: RoleOperator, action: ActionRemoveElement, allow: true},
		{name: "operator clear", role: RoleOperator, action: ActionClear, allow: false},
		{name: "operator undo", role: RoleOperator, action: ActionUndo, allow: false},
		{name: "operator toggle", role: RoleOperator, action: ActionToggleLock, allow: false},
		{name: "producer clear", role: RoleProducer, action: ActionClear, allow: true},
		{name: "producer undo", role: RoleProducer, action: ActionUndo, allow: true},
		{name: "producer toggle", role: RoleProducer, action: ActionToggleLock, allow: true},
		{name: "producer unknown", role: RoleProducer, action: Action("teleport"), allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]Role{
		"PRODUCER":   RoleProducer,
		" operator ": RoleOperator,
		"loader":     RoleLoader,
		"":           RoleGuest,
		"admin":      RoleGuest,
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

package rbac

import "strings"

type Role string
type Action string

const (
	RoleProducer Role = "PRODUCER"
	RoleOperator Role = "OPERATOR"
	RoleLoader   Role = "LOADER"
	RoleGuest    Role = "GUEST"
)

const (
	ActionJoin          Action = "join"
	ActionAddElement    Action = "add-element"
	ActionUpdateElement Action = "update-element"
	ActionRemoveElement Action = "remove-element"
	ActionLockElement   Action = "lock-element"
	ActionUnlockElement Action = "unlock-element"
	ActionDragStart     Action = "drag-start"
	ActionClear         Action = "clear"
	ActionUndo          Action = "undo"
	ActionToggleLock    Action = "toggle-lock"
)

var allowed = map[Action][]Role{
	ActionJoin:          {RoleProducer, RoleOperator, RoleLoader, RoleGuest},
	ActionAddElement:    {RoleProducer, RoleOperator, RoleLoader},
	ActionUpdateElement: {RoleProducer, RoleOperator},
	ActionLockElement:   {RoleProducer, RoleOperator},
	ActionUnlockElement: {RoleProducer, RoleOperator},
	ActionDragStart:     {RoleProducer, RoleOperator},
	ActionRemoveElement: {RoleProducer, RoleOperator},
	ActionClear:         {RoleProducer},
	ActionUndo:          {RoleProducer},
	ActionToggleLock:    {RoleProducer},
}

// Can reports whether role may perform action. Unknown actions are denied.
func Can(role Role, action Action) bool {
	for _, r := range allowed[action] {
		if r == role {
			return true
		}
	}
	return false
}

// Known reports whether action appears in the permission table.
func Known(action Action) bool {
	_, ok := allowed[action]
	return ok
}

func Normalize(role string) Role {
	switch r := Role(strings.ToUpper(strings.TrimSpace(role))); r {
	case RoleProducer, RoleOperator, RoleLoader, RoleGuest:
		return r
	default:
		return RoleGuest
	}
}

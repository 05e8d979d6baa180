// Package rbac holds the two-role permission model. Every authenticated
// caller is a USER unless the identity layer says ADMIN; tenant scoping is
// enforced separately against the resource's organization.
package rbac

type Role string
type Action string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

const (
	ActionRead  Action = "read"
	ActionChat  Action = "chat"
	ActionWrite Action = "write"
	ActionAdmin Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleUser:
		return action == ActionRead || action == ActionChat
	default:
		return false
	}
}

// Normalize maps arbitrary header/token input onto a known role.
// Unknown values degrade to USER, the least-privileged authenticated role.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleUser
	}
}

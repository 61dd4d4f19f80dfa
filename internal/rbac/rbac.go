package rbac

type Role string
type Action string

const (
	RoleViewer  Role = "viewer"
	RoleAgent   Role = "agent"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

const (
	ActionRead        Action = "read"
	ActionWrite       Action = "write"
	ActionCommunicate Action = "communicate"
	ActionSync        Action = "sync"
	ActionExport      Action = "export"
	ActionAdmin       Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleManager:
		return action != ActionAdmin
	case RoleAgent:
		return action == ActionRead || action == ActionWrite || action == ActionCommunicate
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleAgent, RoleManager, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}

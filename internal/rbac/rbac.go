package rbac

type Role string
type Action string

const (
	RoleAnnotator Role = "annotator"
	RoleReviewer  Role = "reviewer"
	RoleAdmin     Role = "admin"
)

const (
	ActionRead     Action = "read"
	ActionAnnotate Action = "annotate"
	ActionReview   Action = "review"
	ActionAdmin    Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleReviewer:
		return action == ActionRead || action == ActionReview
	case RoleAnnotator:
		return action == ActionRead || action == ActionAnnotate
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleAnnotator, RoleReviewer, RoleAdmin:
		return Role(role)
	default:
		return RoleAnnotator
	}
}

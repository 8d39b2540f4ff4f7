package models

// Role is the functional role an agent plays inside a crew.
// Roles select per-role configuration such as thinking level and output budget.
type Role string

const (
	// RolePlanner breaks a request into steps and a task graph.
	RolePlanner Role = "planner"
	// RoleWorker implements a single task.
	RoleWorker Role = "worker"
	// RoleReviewer reviews finished work.
	RoleReviewer Role = "reviewer"
	// RoleAnalyst researches the codebase and reports findings.
	RoleAnalyst Role = "analyst"
)

// Valid returns true if the role is a known value.
func (r Role) Valid() bool {
	switch r {
	case RolePlanner, RoleWorker, RoleReviewer, RoleAnalyst:
		return true
	default:
		return false
	}
}

// Roles lists every known role in a stable order.
func Roles() []Role {
	return []Role{RolePlanner, RoleWorker, RoleReviewer, RoleAnalyst}
}

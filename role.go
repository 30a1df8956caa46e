package moduleaccess

import "strings"

// Role is a graded capability a user holds inside a single module.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

// unsatisfiableLevel is what an unknown required role maps to, so requests
// naming a role outside the hierarchy always fail closed.
const unsatisfiableLevel = 999

var roleHierarchy = map[Role]int{
	RoleViewer: 1,
	RoleEditor: 2,
	RoleAdmin:  3,
}

// Level returns the rank of a held role. Unknown roles rank 0.
func (r Role) Level() int {
	return roleHierarchy[r]
}

// requiredLevel returns the rank a caller must reach to satisfy r.
func requiredLevel(r Role) int {
	if lvl, ok := roleHierarchy[r]; ok {
		return lvl
	}
	return unsatisfiableLevel
}

// Satisfies reports whether holding r is enough for an action requiring required.
func (r Role) Satisfies(required Role) bool {
	return r.Level() >= requiredLevel(required)
}

// Known reports whether r is part of the fixed hierarchy.
func (r Role) Known() bool {
	_, ok := roleHierarchy[r]
	return ok
}

// ParseRole normalizes user supplied input. It does not reject unknown
// roles; callers decide whether that matters.
func ParseRole(s string) Role {
	return Role(strings.ToLower(strings.TrimSpace(s)))
}

func (r Role) String() string { return string(r) }

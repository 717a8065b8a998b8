package models

// UserRole represents the roles issued by the session layer.
type UserRole string

const (
	RoleStudent          UserRole = "student"
	RoleTeacher          UserRole = "teacher"
	RoleInstitutionAdmin UserRole = "institution_admin"
	RolePlatformAdmin    UserRole = "platform_admin"
	// RoleGrader is the service role of the external evaluation worker.
	RoleGrader UserRole = "grader"
)

// Valid reports whether r is a known role.
func (r UserRole) Valid() bool {
	_, ok := roleCapabilities[r]
	return ok
}

// Pagination contains cursor metadata returned in list responses.
type Pagination struct {
	PageSize   int    `json:"page_size"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor,omitempty"`
	// ExactCount is false when has_more is a "page came back full" guess.
	ExactCount bool `json:"exact_count"`
}

package models

// UserRole represents the roles recognised by the registrar core.
type UserRole string

const (
	RoleSuperAdmin UserRole = "SUPERADMIN"
	RoleRegistrar  UserRole = "REGISTRAR"
	RoleFaculty    UserRole = "FACULTY"
	RoleStudent    UserRole = "STUDENT"
)

// IsRegistrar reports whether the role may run registrar commands.
func (r UserRole) IsRegistrar() bool {
	return r == RoleRegistrar || r == RoleSuperAdmin
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

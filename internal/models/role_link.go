package models

// Role tags a RoleLink.
type Role string

const (
	RoleMaster   Role = "master"
	RoleStudent  Role = "student"
	RoleSysAdmin Role = "sysadmin"
)

// Valid reports whether the tag is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleMaster, RoleStudent, RoleSysAdmin:
		return true
	}
	return false
}

// RoleLink binds a principal to a student and an operating role. There is
// at most one link per principal.
type RoleLink struct {
	ID        string `json:"id,omitempty"`
	UserID    string `json:"user_id"`
	StudentID string `json:"student_id"`
	Role      Role   `json:"role"`
}

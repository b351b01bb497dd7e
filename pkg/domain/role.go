package domain

// Role is the authorization role carried by the acting user.
type Role string

const (
	RoleStaff      Role = "staff"
	RoleSupervisor Role = "supervisor"
	RoleAdmin      Role = "admin"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleStaff, RoleSupervisor, RoleAdmin:
		return true
	}
	return false
}

// CanSupervise reports whether the role may act on other staff members.
func (r Role) CanSupervise() bool {
	return r == RoleSupervisor || r == RoleAdmin
}

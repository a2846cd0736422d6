package models

// AdminRole is the role column of an account. Only admin-class roles may
// hold an admin session.
type AdminRole string

const (
	RoleSuperAdmin   AdminRole = "super_admin"
	RoleAdmin        AdminRole = "admin"
	RoleSupportAdmin AdminRole = "support_admin"

	RoleBuyer     AdminRole = "buyer"
	RoleDealer    AdminRole = "dealer"
	RoleAffiliate AdminRole = "affiliate"
)

// IsAdmin reports whether the role belongs to the admin class.
func (r AdminRole) IsAdmin() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleSupportAdmin:
		return true
	}
	return false
}

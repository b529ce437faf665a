package shared

// Security administration permissions.
const (
	PermRolesView   = "security.role.view"
	PermRolesManage = "security.role.manage"
	PermRolesAssign = "security.role.assign"

	PermUsersManage = "security.user.manage"

	PermAuditView = "security.audit.view"
)

// CoreScopes lists all permissions related to security administration.
func CoreScopes() []string {
	return []string{
		PermRolesView,
		PermRolesManage,
		PermRolesAssign,
		PermUsersManage,
		PermAuditView,
	}
}

package rbac

import "time"

// DefaultRoles returns the built-in role table. The migrations seed the
// same rows; keep both in step.
func DefaultRoles() []Role {
	all := []string{
		PermSystemFullAccess, PermDashboardAccess,
		PermRolesView, PermRolesCreate, PermRolesEdit, PermRolesDelete,
		PermUsersView, PermUsersEdit, PermKYCManage, PermAuditRead,
		PermProfileView, PermProfileEdit,
	}
	epoch := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	roles := []Role{
		{Name: RoleSuperadmin, DisplayName: "Super Admin", Hierarchy: 7, Permissions: all, Color: "#7c3aed", Icon: "crown"},
		{Name: RoleAdmin, DisplayName: "Admin", Hierarchy: 6, Color: "#dc2626", Icon: "shield", Permissions: []string{
			PermDashboardAccess, PermRolesView, PermRolesCreate, PermRolesEdit, PermRolesDelete,
			PermUsersView, PermUsersEdit, PermKYCManage, PermAuditRead,
		}},
		{Name: RoleSupportAdmin, DisplayName: "Support Admin", Hierarchy: 5, Color: "#ea580c", Icon: "headset", Permissions: []string{
			PermDashboardAccess, PermRolesView, PermUsersView, PermUsersEdit, PermKYCManage, PermAuditRead,
		}},
		{Name: RoleComplianceOfficer, DisplayName: "Compliance Officer", Hierarchy: 4, Color: "#0891b2", Icon: "scale", Permissions: []string{
			PermDashboardAccess, PermKYCManage, PermAuditRead,
		}},
		{Name: RoleSupport, DisplayName: "Support", Hierarchy: 3, Color: "#2563eb", Icon: "life-buoy", Permissions: []string{
			PermDashboardAccess, PermUsersView,
		}},
		{Name: RoleSubscriber, DisplayName: "Subscriber", Hierarchy: 2, Color: "#16a34a", Icon: "user-check", Permissions: []string{
			PermProfileView, PermProfileEdit,
		}},
		{Name: RoleUser, DisplayName: "User", Hierarchy: 1, Color: "#64748b", Icon: "user", Permissions: []string{
			PermProfileView,
		}},
	}
	for i := range roles {
		roles[i].Permissions = NormalizePermissions(roles[i].Permissions)
		roles[i].IsActive = true
		roles[i].Version = 1
		roles[i].CreatedAt = epoch
		roles[i].UpdatedAt = epoch
	}
	return roles
}

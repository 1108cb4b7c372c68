package rbac_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/valinor-ai/kycgate/internal/rbac"
)

func TestNormalizeRoleName(t *testing.T) {
	assert.Equal(t, "risk_analyst", rbac.NormalizeRoleName("  Risk Analyst "))
	assert.Equal(t, "risk_analyst", rbac.NormalizeRoleName("risk   analyst"))
	assert.Equal(t, "ops", rbac.NormalizeRoleName("OPS"))
}

func TestValidRoleName(t *testing.T) {
	assert.True(t, rbac.ValidRoleName("risk_analyst"))
	assert.True(t, rbac.ValidRoleName("l3_support"))
	assert.False(t, rbac.ValidRoleName("ab"))
	assert.False(t, rbac.ValidRoleName("risk-analyst"))
	assert.False(t, rbac.ValidRoleName("Risk"))
}

func TestNormalizePermissions(t *testing.T) {
	got := rbac.NormalizePermissions([]string{" KYC:Manage", "audit:read", "", "kyc:manage", "  "})
	assert.Equal(t, []string{"audit:read", "kyc:manage"}, got)
	assert.Empty(t, rbac.NormalizePermissions(nil))
}

func TestValidPermission(t *testing.T) {
	assert.True(t, rbac.ValidPermission("kyc:manage"))
	assert.True(t, rbac.ValidPermission("system:full_access"))
	assert.False(t, rbac.ValidPermission("kyc"))
	assert.False(t, rbac.ValidPermission("*"))
}

func TestIsProtected(t *testing.T) {
	for _, name := range []string{"superadmin", "admin", "user", " Admin "} {
		assert.True(t, rbac.IsProtected(name), name)
	}
	assert.False(t, rbac.IsProtected("support"))
	assert.False(t, rbac.IsProtected("subscriber"))
}

func TestDefaultRoles(t *testing.T) {
	roles := rbac.DefaultRoles()
	byName := map[string]rbac.Role{}
	for _, r := range roles {
		byName[r.Name] = r
		assert.True(t, r.IsActive)
		assert.GreaterOrEqual(t, r.Hierarchy, rbac.MinHierarchy)
		assert.LessOrEqual(t, r.Hierarchy, rbac.MaxHierarchy)
	}
	assert.Len(t, byName, 7)
	assert.Contains(t, byName[rbac.RoleSuperadmin].Permissions, rbac.PermSystemFullAccess)
	assert.NotContains(t, byName[rbac.RoleSupport].Permissions, rbac.PermKYCManage)
}

func TestSet_Sorted(t *testing.T) {
	s := rbac.NewSet("b:x", "a:y", "b:x")
	assert.Equal(t, []string{"a:y", "b:x"}, s.Sorted())
}

// Package rbac answers capability questions about a principal. Every check
// fails closed: an unknown or inactive role, a catalog error or a missing
// principal denies.
package rbac

import (
	"errors"
	"regexp"
	"slices"
	"strings"
	"time"
)

var (
	ErrRoleNotFound = errors.New("role not found")
	ErrRoleInactive = errors.New("role inactive")
)

// Permission vocabulary used by the seeded roles and the HTTP gates.
const (
	PermSystemFullAccess = "system:full_access"
	PermDashboardAccess  = "dashboard:access"
	PermRolesView        = "roles:view"
	PermRolesCreate      = "roles:create"
	PermRolesEdit        = "roles:edit"
	PermRolesDelete      = "roles:delete"
	PermUsersView        = "users:view"
	PermUsersEdit        = "users:edit"
	PermKYCManage        = "kyc:manage"
	PermAuditRead        = "audit:read"
	PermProfileView      = "profile:view"
	PermProfileEdit      = "profile:edit"
)

const (
	MinHierarchy = 1
	MaxHierarchy = 7
)

// Names of the seeded roles. The first three are protected.
const (
	RoleSuperadmin        = "superadmin"
	RoleAdmin             = "admin"
	RoleUser              = "user"
	RoleSupportAdmin      = "support_admin"
	RoleComplianceOfficer = "compliance_officer"
	RoleSupport           = "support"
	RoleSubscriber        = "subscriber"
)

// IsProtected reports whether name can never be deleted.
func IsProtected(name string) bool {
	switch NormalizeRoleName(name) {
	case RoleSuperadmin, RoleAdmin, RoleUser:
		return true
	}
	return false
}

// Decision represents the result of an authorization check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Role is one catalog entry. Name and Hierarchy are immutable once created.
type Role struct {
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Description string    `json:"description,omitempty"`
	Hierarchy   int       `json:"hierarchy"`
	Permissions []string  `json:"permissions"`
	Color       string    `json:"color,omitempty"`
	Icon        string    `json:"icon,omitempty"`
	IsActive    bool      `json:"is_active"`
	UserCount   int       `json:"user_count"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Clone returns a copy that shares no slices with r.
func (r Role) Clone() Role {
	r.Permissions = slices.Clone(r.Permissions)
	return r
}

// Set is a set of permission strings.
type Set map[string]struct{}

func NewSet(perms ...string) Set {
	s := make(Set, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

func (s Set) Has(permission string) bool {
	_, ok := s[permission]
	return ok
}

// Sorted returns the members in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

var (
	roleNamePattern   = regexp.MustCompile(`^[a-z0-9_]+$`)
	permissionPattern = regexp.MustCompile(`^[a-z0-9_]+:[a-z0-9_]+$`)
)

// NormalizeRoleName trims, lower-cases and replaces spaces with underscores.
func NormalizeRoleName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.Join(strings.Fields(name), "_")
}

// ValidRoleName reports whether an already normalized name is acceptable.
func ValidRoleName(name string) bool {
	return len(name) >= 3 && roleNamePattern.MatchString(name)
}

// ValidPermission reports whether p has the resource:action shape.
func ValidPermission(p string) bool {
	return permissionPattern.MatchString(p)
}

// NormalizePermissions trims, lower-cases, drops empties, dedupes and sorts.
func NormalizePermissions(perms []string) []string {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// SortRoles orders by hierarchy descending, then name.
func SortRoles(roles []Role) {
	slices.SortFunc(roles, func(a, b Role) int {
		if a.Hierarchy != b.Hierarchy {
			return b.Hierarchy - a.Hierarchy
		}
		return strings.Compare(a.Name, b.Name)
	})
}

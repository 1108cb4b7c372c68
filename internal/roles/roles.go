// Package roles administers the role catalog: create, update and delete
// custom roles under the same evaluator that guards every other action.
package roles

import (
	"errors"
	"fmt"
	"strings"

	"github.com/valinor-ai/kycgate/internal/platform/apperr"
	"github.com/valinor-ai/kycgate/internal/platform/validate"
	"github.com/valinor-ai/kycgate/internal/rbac"
)

var (
	ErrRoleExists     = errors.New("role name already exists")
	ErrImmutableField = errors.New("field is immutable after creation")
)

// CreateRequest is the boundary DTO for a new role. Level is the legacy
// alias of Hierarchy and is read only when Hierarchy is absent.
type CreateRequest struct {
	Name        string   `json:"name" validate:"required,max=64"`
	DisplayName string   `json:"display_name" validate:"max=128"`
	Description string   `json:"description" validate:"max=512"`
	Hierarchy   *int     `json:"hierarchy" validate:"omitempty,min=1,max=7"`
	Level       *int     `json:"level,omitempty" validate:"omitempty,min=1,max=7"`
	Permissions []string `json:"permissions" validate:"max=64"`
	Color       string   `json:"color" validate:"omitempty,hexcolor"`
	Icon        string   `json:"icon" validate:"max=64"`
	IsActive    *bool    `json:"is_active"`
}

// Patch carries the mutable role fields. Name, Hierarchy and Level are
// decoded only so that a request attempting to change them can be refused.
type Patch struct {
	DisplayName *string   `json:"display_name" validate:"omitempty,max=128"`
	Description *string   `json:"description" validate:"omitempty,max=512"`
	Permissions *[]string `json:"permissions" validate:"omitempty,max=64"`
	Color       *string   `json:"color" validate:"omitempty,hexcolor"`
	Icon        *string   `json:"icon" validate:"omitempty,max=64"`
	IsActive    *bool     `json:"is_active"`

	Name      *string `json:"name,omitempty"`
	Hierarchy *int    `json:"hierarchy,omitempty"`
	Level     *int    `json:"level,omitempty"`

	// ExpectedVersion, when set, must equal the stored version.
	ExpectedVersion *int64 `json:"-"`
}

// normalize is the single place where CreateRequest defaults and the level
// alias are resolved.
func (req CreateRequest) normalize() (rbac.Role, error) {
	if err := validate.Struct(req); err != nil {
		return rbac.Role{}, err
	}

	name := rbac.NormalizeRoleName(req.Name)
	if !rbac.ValidRoleName(name) {
		return rbac.Role{}, apperr.Validation("name", "must match [a-z0-9_]+ and be at least 3 characters")
	}

	hierarchy := req.Hierarchy
	if hierarchy == nil {
		hierarchy = req.Level
	}
	if hierarchy == nil {
		return rbac.Role{}, apperr.Validation("hierarchy", "is required")
	}

	perms, err := normalizePermissions(req.Permissions)
	if err != nil {
		return rbac.Role{}, err
	}

	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = name
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	return rbac.Role{
		Name:        name,
		DisplayName: displayName,
		Description: strings.TrimSpace(req.Description),
		Hierarchy:   *hierarchy,
		Permissions: perms,
		Color:       strings.ToLower(req.Color),
		Icon:        strings.TrimSpace(req.Icon),
		IsActive:    active,
	}, nil
}

// check refuses immutable fields and malformed values.
func (p Patch) check() error {
	switch {
	case p.Name != nil:
		return immutable("name")
	case p.Hierarchy != nil:
		return immutable("hierarchy")
	case p.Level != nil:
		return immutable("level")
	}
	if err := validate.Struct(p); err != nil {
		return err
	}
	if p.Permissions != nil {
		if _, err := normalizePermissions(*p.Permissions); err != nil {
			return err
		}
	}
	return nil
}

// apply writes the patch onto r.
func (p Patch) apply(r *rbac.Role) {
	if p.DisplayName != nil {
		if dn := strings.TrimSpace(*p.DisplayName); dn != "" {
			r.DisplayName = dn
		}
	}
	if p.Description != nil {
		r.Description = strings.TrimSpace(*p.Description)
	}
	if p.Permissions != nil {
		r.Permissions, _ = normalizePermissions(*p.Permissions)
	}
	if p.Color != nil {
		r.Color = strings.ToLower(*p.Color)
	}
	if p.Icon != nil {
		r.Icon = strings.TrimSpace(*p.Icon)
	}
	if p.IsActive != nil {
		r.IsActive = *p.IsActive
	}
}

func normalizePermissions(perms []string) ([]string, error) {
	out := rbac.NormalizePermissions(perms)
	for _, p := range out {
		if !rbac.ValidPermission(p) {
			return nil, apperr.Validation("permissions", "%q is not a resource:action permission", p)
		}
	}
	return out, nil
}

func immutable(field string) error {
	return &apperr.Error{
		Code:    apperr.CodeValidation,
		Field:   field,
		Message: "cannot be changed",
		Err:     ErrImmutableField,
	}
}

func duplicateName(name string) error {
	return &apperr.Error{
		Code:    apperr.CodeValidation,
		Field:   "name",
		Message: fmt.Sprintf("role %q already exists", name),
		Err:     ErrRoleExists,
	}
}

package roles

import (
	"context"

	"github.com/valinor-ai/kycgate/internal/platform/apperr"
	"github.com/valinor-ai/kycgate/internal/rbac"
)

// Store persists roles. Every write runs under a per-name lock; fn and
// check always receive the freshest stored role.
type Store interface {
	rbac.Catalog

	// Insert adds a new role at version 1. A name collision returns an
	// error matching ErrRoleExists.
	Insert(ctx context.Context, role rbac.Role) (rbac.Role, error)
	// Update applies fn to the locked role and bumps its version.
	Update(ctx context.Context, name string, fn func(*rbac.Role) error) (rbac.Role, error)
	// Delete removes the role after check accepts the locked row.
	Delete(ctx context.Context, name string, check func(rbac.Role) error) error
	// Save writes role if the stored version still equals expectedVersion.
	Save(ctx context.Context, role rbac.Role, expectedVersion int64) (rbac.Role, error)
}

func versionConflict(name string, want, got int64) error {
	return apperr.New(apperr.CodeVersionConflict, "role %q is at version %d, expected %d", name, got, want)
}

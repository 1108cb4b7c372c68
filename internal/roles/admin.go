package roles

import (
	"context"
	"log/slog"
	"time"

	"github.com/valinor-ai/kycgate/internal/audit"
	"github.com/valinor-ai/kycgate/internal/auth"
	"github.com/valinor-ai/kycgate/internal/platform/apperr"
	"github.com/valinor-ai/kycgate/internal/platform/telemetry"
	"github.com/valinor-ai/kycgate/internal/rbac"
)

// Invalidator drops cached catalog entries after a mutation.
type Invalidator interface {
	Invalidate(ctx context.Context, name string) error
}

// Option configures an Administration.
type Option func(*Administration)

func WithCache(c Invalidator) Option {
	return func(a *Administration) { a.cache = c }
}

func WithAudit(l audit.Logger) Option {
	return func(a *Administration) { a.audit = l }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(a *Administration) { a.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Administration) { a.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(a *Administration) { a.now = now }
}

// Administration guards role mutations with the evaluator and keeps the
// cached catalog coherent for the writing process.
type Administration struct {
	store     Store
	evaluator *rbac.Evaluator
	cache     Invalidator
	audit     audit.Logger
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

func NewAdministration(store Store, evaluator *rbac.Evaluator, opts ...Option) *Administration {
	a := &Administration{
		store:     store,
		evaluator: evaluator,
		audit:     audit.NopLogger{},
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Create adds a custom role. Requires system:full_access or roles:create.
func (a *Administration) Create(ctx context.Context, req CreateRequest, actor *auth.Principal) (rbac.Role, error) {
	role, err := a.create(ctx, req, actor)
	a.metrics.ObserveRoleMutation("create", telemetry.Result(err))
	return role, err
}

func (a *Administration) create(ctx context.Context, req CreateRequest, actor *auth.Principal) (rbac.Role, error) {
	if !a.evaluator.CanAny(ctx, actor, rbac.PermSystemFullAccess, rbac.PermRolesCreate) {
		return rbac.Role{}, apperr.Denied("creating roles requires %s or %s", rbac.PermSystemFullAccess, rbac.PermRolesCreate)
	}

	role, err := req.normalize()
	if err != nil {
		return rbac.Role{}, err
	}
	now := a.now().UTC()
	role.CreatedAt = now
	role.UpdatedAt = now

	created, err := a.store.Insert(ctx, role)
	if err != nil {
		return rbac.Role{}, err
	}

	a.invalidate(ctx, created.Name)
	a.audit.Log(ctx, audit.Event{
		ActorID:      actor.UserID,
		Action:       audit.ActionRoleCreated,
		ResourceType: audit.ResourceRole,
		ResourceID:   created.Name,
		Metadata: map[string]any{
			"hierarchy":   created.Hierarchy,
			"permissions": created.Permissions,
		},
		Source: audit.SourceAPI,
	})
	return created, nil
}

// Update applies patch to the named role. Requires roles:edit.
func (a *Administration) Update(ctx context.Context, name string, patch Patch, actor *auth.Principal) (rbac.Role, error) {
	role, err := a.update(ctx, rbac.NormalizeRoleName(name), patch, actor)
	a.metrics.ObserveRoleMutation("update", telemetry.Result(err))
	return role, err
}

func (a *Administration) update(ctx context.Context, name string, patch Patch, actor *auth.Principal) (rbac.Role, error) {
	if !a.evaluator.Can(ctx, actor, rbac.PermRolesEdit) {
		return rbac.Role{}, apperr.Denied("updating roles requires %s", rbac.PermRolesEdit)
	}
	if err := patch.check(); err != nil {
		return rbac.Role{}, err
	}

	var before rbac.Role
	updated, err := a.store.Update(ctx, name, func(r *rbac.Role) error {
		if patch.ExpectedVersion != nil && *patch.ExpectedVersion != r.Version {
			return versionConflict(name, *patch.ExpectedVersion, r.Version)
		}
		before = r.Clone()
		patch.apply(r)
		r.UpdatedAt = a.now().UTC()
		return nil
	})
	if err != nil {
		return rbac.Role{}, err
	}

	a.invalidate(ctx, name)
	a.audit.Log(ctx, audit.Event{
		ActorID:      actor.UserID,
		Action:       audit.ActionRoleUpdated,
		ResourceType: audit.ResourceRole,
		ResourceID:   name,
		Metadata: map[string]any{
			"version":          updated.Version,
			"was_active":       before.IsActive,
			"is_active":        updated.IsActive,
			"permissions_from": before.Permissions,
			"permissions_to":   updated.Permissions,
		},
		Source: audit.SourceAPI,
	})
	return updated, nil
}

// Delete removes a custom role. Protected roles are refused before the
// actor is even considered; roles still assigned to users are refused last.
func (a *Administration) Delete(ctx context.Context, name string, actor *auth.Principal) error {
	err := a.delete(ctx, rbac.NormalizeRoleName(name), actor)
	a.metrics.ObserveRoleMutation("delete", telemetry.Result(err))
	return err
}

func (a *Administration) delete(ctx context.Context, name string, actor *auth.Principal) error {
	if rbac.IsProtected(name) {
		return apperr.New(apperr.CodeProtectedRole, "role %q is protected", name)
	}
	if !a.evaluator.Can(ctx, actor, rbac.PermRolesDelete) {
		return apperr.Denied("deleting roles requires %s", rbac.PermRolesDelete)
	}

	err := a.store.Delete(ctx, name, func(r rbac.Role) error {
		if r.UserCount > 0 {
			return apperr.New(apperr.CodeRoleInUse, "role %q is assigned to %d users", name, r.UserCount)
		}
		return nil
	})
	if err != nil {
		return err
	}

	a.invalidate(ctx, name)
	a.audit.Log(ctx, audit.Event{
		ActorID:      actor.UserID,
		Action:       audit.ActionRoleDeleted,
		ResourceType: audit.ResourceRole,
		ResourceID:   name,
		Source:       audit.SourceAPI,
	})
	return nil
}

// List returns the catalog. Requires roles:view.
func (a *Administration) List(ctx context.Context, includeInactive bool, actor *auth.Principal) ([]rbac.Role, error) {
	if !a.evaluator.Can(ctx, actor, rbac.PermRolesView) {
		return nil, apperr.Denied("listing roles requires %s", rbac.PermRolesView)
	}
	return a.store.List(ctx, includeInactive)
}

// Get returns one role. Requires roles:view.
func (a *Administration) Get(ctx context.Context, name string, actor *auth.Principal) (rbac.Role, error) {
	if !a.evaluator.Can(ctx, actor, rbac.PermRolesView) {
		return rbac.Role{}, apperr.Denied("viewing roles requires %s", rbac.PermRolesView)
	}
	return a.store.Get(ctx, rbac.NormalizeRoleName(name))
}

func (a *Administration) invalidate(ctx context.Context, name string) {
	if a.cache == nil {
		return
	}
	if err := a.cache.Invalidate(ctx, name); err != nil {
		a.logger.WarnContext(ctx, "role cache invalidation failed", "role", name, "error", err)
	}
}

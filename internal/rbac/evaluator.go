package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/valinor-ai/kycgate/internal/auth"
	"github.com/valinor-ai/kycgate/internal/platform/telemetry"
)

// EvaluatorOption configures the Evaluator.
type EvaluatorOption func(*Evaluator)

func WithLogger(logger *slog.Logger) EvaluatorOption {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

func WithMetrics(m *telemetry.Metrics) EvaluatorOption {
	return func(e *Evaluator) {
		e.metrics = m
	}
}

// Evaluator resolves a principal's effective permissions against a Catalog.
// Permissions are literal strings; there is no wildcard.
type Evaluator struct {
	catalog Catalog
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

func NewEvaluator(catalog Catalog, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{catalog: catalog, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EffectivePermissions is the union of the role's permissions and the
// principal's explicit overrides. It fails when the role cannot be
// resolved or is inactive; overrides are never granted on their own.
func (e *Evaluator) EffectivePermissions(ctx context.Context, p *auth.Principal) (Set, error) {
	if p == nil {
		return nil, errors.New("no principal")
	}
	role, err := e.catalog.Get(ctx, p.Role)
	if err != nil {
		return nil, fmt.Errorf("resolving role %q: %w", p.Role, err)
	}
	if !role.IsActive {
		return nil, fmt.Errorf("role %q: %w", p.Role, ErrRoleInactive)
	}

	set := NewSet(role.Permissions...)
	for _, perm := range p.ExplicitPermissions {
		set[perm] = struct{}{}
	}
	return set, nil
}

// Decide evaluates a single permission and explains a denial.
func (e *Evaluator) Decide(ctx context.Context, p *auth.Principal, permission string) Decision {
	set, d := e.resolve(ctx, p)
	if set == nil {
		return e.observe(ctx, p, permission, d)
	}
	if set.Has(permission) {
		return e.observe(ctx, p, permission, Decision{Allowed: true})
	}
	return e.observe(ctx, p, permission, Decision{Reason: fmt.Sprintf("no permission for %s", permission)})
}

// Can reports permission ∈ EffectivePermissions(p).
func (e *Evaluator) Can(ctx context.Context, p *auth.Principal, permission string) bool {
	return e.Decide(ctx, p, permission).Allowed
}

// CanAny is true when at least one permission is held. An empty list denies.
func (e *Evaluator) CanAny(ctx context.Context, p *auth.Principal, permissions ...string) bool {
	return e.DecideAny(ctx, p, permissions...).Allowed
}

// CanAll is true when every permission is held. An empty list denies.
func (e *Evaluator) CanAll(ctx context.Context, p *auth.Principal, permissions ...string) bool {
	set, d := e.resolve(ctx, p)
	label := joinLabel("all", permissions)
	if set == nil {
		return e.observe(ctx, p, label, d).Allowed
	}
	if len(permissions) == 0 {
		return e.observe(ctx, p, label, Decision{Reason: "no permissions requested"}).Allowed
	}
	for _, perm := range permissions {
		if !set.Has(perm) {
			return e.observe(ctx, p, label, Decision{Reason: fmt.Sprintf("no permission for %s", perm)}).Allowed
		}
	}
	return e.observe(ctx, p, label, Decision{Allowed: true}).Allowed
}

// DecideAny is the Decision form of CanAny.
func (e *Evaluator) DecideAny(ctx context.Context, p *auth.Principal, permissions ...string) Decision {
	set, d := e.resolve(ctx, p)
	label := joinLabel("any", permissions)
	if set == nil {
		return e.observe(ctx, p, label, d)
	}
	for _, perm := range permissions {
		if set.Has(perm) {
			return e.observe(ctx, p, label, Decision{Allowed: true})
		}
	}
	return e.observe(ctx, p, label, Decision{Reason: fmt.Sprintf("none of %v held", permissions)})
}

// HierarchyAtLeast compares the principal's token-cached hierarchy to
// level. The role must still resolve and be active.
func (e *Evaluator) HierarchyAtLeast(ctx context.Context, p *auth.Principal, level int) bool {
	return e.DecideHierarchy(ctx, p, level).Allowed
}

// DecideHierarchy is the Decision form of HierarchyAtLeast.
func (e *Evaluator) DecideHierarchy(ctx context.Context, p *auth.Principal, level int) Decision {
	label := fmt.Sprintf("hierarchy>=%d", level)
	set, d := e.resolve(ctx, p)
	if set == nil {
		return e.observe(ctx, p, label, d)
	}
	if p.Hierarchy >= level {
		return e.observe(ctx, p, label, Decision{Allowed: true})
	}
	return e.observe(ctx, p, label, Decision{Reason: fmt.Sprintf("hierarchy %d below %d", p.Hierarchy, level)})
}

// resolve returns the effective set, or nil and a deny decision.
func (e *Evaluator) resolve(ctx context.Context, p *auth.Principal) (Set, Decision) {
	if p == nil {
		return nil, Decision{Reason: "no principal"}
	}
	set, err := e.EffectivePermissions(ctx, p)
	switch {
	case err == nil:
		return set, Decision{Allowed: true}
	case errors.Is(err, ErrRoleNotFound):
		return nil, Decision{Reason: fmt.Sprintf("unknown role %s", p.Role)}
	case errors.Is(err, ErrRoleInactive):
		return nil, Decision{Reason: fmt.Sprintf("role %s is inactive", p.Role)}
	default:
		e.logger.WarnContext(ctx, "role lookup failed, denying", "role", p.Role, "error", err)
		return nil, Decision{Reason: "role lookup failed"}
	}
}

func (e *Evaluator) observe(ctx context.Context, p *auth.Principal, check string, d Decision) Decision {
	e.metrics.ObserveDecision(d.Allowed)
	if !d.Allowed {
		var uid, role string
		if p != nil {
			uid, role = p.UserID, p.Role
		}
		e.logger.DebugContext(ctx, "permission denied", "user_id", uid, "role", role, "check", check, "reason", d.Reason)
	}
	return d
}

func joinLabel(kind string, perms []string) string {
	return fmt.Sprintf("%s%v", kind, perms)
}

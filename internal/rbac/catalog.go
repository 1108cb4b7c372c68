package rbac

import (
	"context"
	"sync"

	"github.com/valinor-ai/kycgate/internal/platform/apperr"
)

// Catalog is the read side of the role table.
type Catalog interface {
	// Get returns the role or an error matching ErrRoleNotFound.
	Get(ctx context.Context, name string) (Role, error)
	// List returns roles sorted by hierarchy descending, then name.
	List(ctx context.Context, includeInactive bool) ([]Role, error)
	HierarchyOf(ctx context.Context, name string) (int, error)
}

// NotFound wraps ErrRoleNotFound with the NOT_FOUND code.
func NotFound(name string) error {
	return apperr.Wrap(apperr.CodeNotFound, ErrRoleNotFound, "role %q not found", name)
}

// StaticCatalog is an in-memory catalog. Used in tests and dev mode.
type StaticCatalog struct {
	mu    sync.RWMutex
	roles map[string]Role
}

func NewStaticCatalog(roles ...Role) *StaticCatalog {
	c := &StaticCatalog{roles: make(map[string]Role, len(roles))}
	for _, r := range roles {
		c.roles[r.Name] = r.Clone()
	}
	return c
}

// Put adds or replaces a role.
func (c *StaticCatalog) Put(r Role) {
	c.mu.Lock()
	c.roles[r.Name] = r.Clone()
	c.mu.Unlock()
}

func (c *StaticCatalog) Remove(name string) {
	c.mu.Lock()
	delete(c.roles, name)
	c.mu.Unlock()
}

func (c *StaticCatalog) Get(_ context.Context, name string) (Role, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.roles[name]
	if !ok {
		return Role{}, NotFound(name)
	}
	return r.Clone(), nil
}

func (c *StaticCatalog) List(_ context.Context, includeInactive bool) ([]Role, error) {
	c.mu.RLock()
	out := make([]Role, 0, len(c.roles))
	for _, r := range c.roles {
		if r.IsActive || includeInactive {
			out = append(out, r.Clone())
		}
	}
	c.mu.RUnlock()
	SortRoles(out)
	return out, nil
}

func (c *StaticCatalog) HierarchyOf(ctx context.Context, name string) (int, error) {
	r, err := c.Get(ctx, name)
	if err != nil {
		return 0, err
	}
	return r.Hierarchy, nil
}

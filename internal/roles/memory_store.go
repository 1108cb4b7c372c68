package roles

import (
	"context"
	"sync"

	"github.com/valinor-ai/kycgate/internal/platform/keylock"
	"github.com/valinor-ai/kycgate/internal/rbac"
)

// MemoryStore keeps roles in process. Used in dev mode and tests.
type MemoryStore struct {
	locks *keylock.Striped

	mu    sync.RWMutex
	roles map[string]rbac.Role
}

// NewMemoryStore seeds the store with roles.
func NewMemoryStore(roles ...rbac.Role) *MemoryStore {
	s := &MemoryStore{locks: keylock.New(0), roles: make(map[string]rbac.Role, len(roles))}
	for _, r := range roles {
		s.roles[r.Name] = r.Clone()
	}
	return s
}

// Put replaces a role without locking or versioning. Tests use it to set
// the advisory user count.
func (s *MemoryStore) Put(r rbac.Role) {
	s.mu.Lock()
	s.roles[r.Name] = r.Clone()
	s.mu.Unlock()
}

func (s *MemoryStore) Get(_ context.Context, name string) (rbac.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[name]
	if !ok {
		return rbac.Role{}, rbac.NotFound(name)
	}
	return r.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context, includeInactive bool) ([]rbac.Role, error) {
	s.mu.RLock()
	out := make([]rbac.Role, 0, len(s.roles))
	for _, r := range s.roles {
		if r.IsActive || includeInactive {
			out = append(out, r.Clone())
		}
	}
	s.mu.RUnlock()
	rbac.SortRoles(out)
	return out, nil
}

func (s *MemoryStore) HierarchyOf(ctx context.Context, name string) (int, error) {
	r, err := s.Get(ctx, name)
	if err != nil {
		return 0, err
	}
	return r.Hierarchy, nil
}

func (s *MemoryStore) Insert(_ context.Context, role rbac.Role) (rbac.Role, error) {
	unlock := s.locks.Lock(role.Name)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.roles[role.Name]; exists {
		return rbac.Role{}, duplicateName(role.Name)
	}
	role.Version = 1
	s.roles[role.Name] = role.Clone()
	return role.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, name string, fn func(*rbac.Role) error) (rbac.Role, error) {
	unlock := s.locks.Lock(name)
	defer unlock()

	current, err := s.Get(ctx, name)
	if err != nil {
		return rbac.Role{}, err
	}
	stored := current.Clone()
	if err := fn(&current); err != nil {
		return rbac.Role{}, err
	}
	pinImmutable(&current, stored)
	current.Version = stored.Version + 1
	s.Put(current)
	return current.Clone(), nil
}

func (s *MemoryStore) Delete(ctx context.Context, name string, check func(rbac.Role) error) error {
	unlock := s.locks.Lock(name)
	defer unlock()

	current, err := s.Get(ctx, name)
	if err != nil {
		return err
	}
	if check != nil {
		if err := check(current); err != nil {
			return err
		}
	}
	s.mu.Lock()
	delete(s.roles, name)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Save(ctx context.Context, role rbac.Role, expectedVersion int64) (rbac.Role, error) {
	unlock := s.locks.Lock(role.Name)
	defer unlock()

	current, err := s.Get(ctx, role.Name)
	if err != nil {
		return rbac.Role{}, err
	}
	if current.Version != expectedVersion {
		return rbac.Role{}, versionConflict(role.Name, expectedVersion, current.Version)
	}
	pinImmutable(&role, current)
	role.Version = current.Version + 1
	s.Put(role)
	return role.Clone(), nil
}

// pinImmutable restores the columns the Postgres store never rewrites.
func pinImmutable(next *rbac.Role, stored rbac.Role) {
	next.Name = stored.Name
	next.Hierarchy = stored.Hierarchy
	next.UserCount = stored.UserCount
	next.CreatedAt = stored.CreatedAt
}

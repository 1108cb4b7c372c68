package kyc

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/valinor-ai/kycgate/internal/platform/keylock"
)

// MemoryStore keeps profiles in process. Used in dev mode and tests.
type MemoryStore struct {
	locks *keylock.Striped

	mu       sync.RWMutex
	profiles map[string]Profile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{locks: keylock.New(0), profiles: make(map[string]Profile)}
}

func (s *MemoryStore) Load(_ context.Context, userID string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return Profile{}, profileNotFound(userID)
	}
	return p.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, userID string, fn UpdateFunc) (Profile, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	current, err := s.Load(ctx, userID)
	found := err == nil
	if !found {
		current = Profile{}
	}

	next, err := fn(current, found)
	if err != nil {
		return Profile{}, err
	}
	next.UserID = userID
	if found {
		next.ID = current.ID
		next.CreatedAt = current.CreatedAt
		next.Version = current.Version + 1
	} else {
		next.Version = 1
	}
	s.put(next)
	return next.Clone(), nil
}

func (s *MemoryStore) Save(ctx context.Context, p Profile, expectedVersion int64) (Profile, error) {
	unlock := s.locks.Lock(p.UserID)
	defer unlock()

	current, err := s.Load(ctx, p.UserID)
	if err != nil {
		return Profile{}, err
	}
	if current.Version != expectedVersion {
		return Profile{}, versionConflict(p.UserID, expectedVersion, current.Version)
	}
	p.ID = current.ID
	p.CreatedAt = current.CreatedAt
	p.Version = current.Version + 1
	s.put(p)
	return p.Clone(), nil
}

func (s *MemoryStore) ApprovedBefore(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id, p := range s.profiles {
		a := p.KYC.ApprovedAt
		if p.Active() && p.KYC.Status == StatusApproved && a != nil && !a.After(cutoff) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (s *MemoryStore) put(p Profile) {
	s.mu.Lock()
	s.profiles[p.UserID] = p.Clone()
	s.mu.Unlock()
}

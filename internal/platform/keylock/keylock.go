// Package keylock serializes work per aggregate key in a single process.
package keylock

import (
	"hash/fnv"
	"sync"
)

// Striped maps keys onto a fixed set of mutexes. Two keys may share a
// stripe, which only costs contention; one key always maps to one stripe.
type Striped struct {
	stripes []sync.Mutex
}

// New returns a lock map with n stripes; n <= 0 means 64.
func New(n int) *Striped {
	if n <= 0 {
		n = 64
	}
	return &Striped{stripes: make([]sync.Mutex, n)}
}

// Lock acquires the stripe for key and returns its unlock function.
func (s *Striped) Lock(key string) (unlock func()) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	mu := &s.stripes[h.Sum32()%uint32(len(s.stripes))]
	mu.Lock()
	return mu.Unlock
}

package stores

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	inst      *Instance
	expiresAt time.Time
}

// MemoryInstanceStore keeps instances in process memory with lazy expiry.
type MemoryInstanceStore struct {
	mu      sync.Mutex
	entries map[[2]string]memoryEntry
}

// NewMemoryInstanceStore creates an empty store.
func NewMemoryInstanceStore() *MemoryInstanceStore {
	return &MemoryInstanceStore{entries: make(map[[2]string]memoryEntry)}
}

func (s *MemoryInstanceStore) Get(_ context.Context, principal, kind string, now time.Time) (*Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := [2]string{kind, principal}
	e, ok := s.entries[k]
	if !ok {
		return nil, ErrInstanceNotFound
	}
	if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
		delete(s.entries, k)
		return nil, ErrInstanceNotFound
	}
	return e.inst.Clone(), nil
}

func (s *MemoryInstanceStore) Put(_ context.Context, inst *Instance, ttl time.Duration) error {
	e := memoryEntry{inst: inst.Clone()}
	if ttl > 0 {
		e.expiresAt = inst.UpdatedAt.Add(ttl)
	}

	s.mu.Lock()
	s.entries[[2]string{inst.Kind, inst.Principal}] = e
	s.mu.Unlock()
	return nil
}

func (s *MemoryInstanceStore) Delete(_ context.Context, principal, kind string) error {
	s.mu.Lock()
	delete(s.entries, [2]string{kind, principal})
	s.mu.Unlock()
	return nil
}

// Prune drops instances that expired before now.
func (s *MemoryInstanceStore) Prune(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, e := range s.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

var _ InstanceStore = (*MemoryInstanceStore)(nil)

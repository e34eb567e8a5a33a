// README: Driver store contract and the in-process implementation.
package driver

import (
	"context"
	"sort"
	"sync"

	"ridecore/internal/types"
)

// Mutator edits a driver inside Store.Update. Returning an error aborts the write.
type Mutator func(d *Driver) error

type Store interface {
	Create(ctx context.Context, d *Driver) error
	Get(ctx context.Context, id types.ID) (*Driver, error)
	Update(ctx context.Context, id types.ID, mutate Mutator) (*Driver, error)
	ListByStatus(ctx context.Context, status Status) ([]*Driver, error)
}

type MemoryStore struct {
	mu      sync.RWMutex
	drivers map[types.ID]*Driver
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{drivers: make(map[types.ID]*Driver)}
}

func (s *MemoryStore) Create(_ context.Context, d *Driver) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.drivers[d.ID]; ok {
		return ErrExists
	}
	s.drivers[d.ID] = d.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*Driver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drivers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, id types.ID, mutate Mutator) (*Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.drivers[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := cur.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.Version = cur.Version + 1
	s.drivers[id] = next
	return next.Clone(), nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status Status) ([]*Driver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Driver
	for _, d := range s.drivers {
		if d.Status == status {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

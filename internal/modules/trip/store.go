// README: TripRecordStore contract and the in-process implementation.
package trip

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"ridecore/internal/types"
)

// Mutator validates and edits a trip inside Store.Update. Returning an error aborts the write.
type Mutator func(t *Trip) error

// Store persists trips. It enforces no business rules beyond the one-active-trip-per-rider
// guard on Create; Update applies the mutator against the latest stored version and fails
// with ErrStateConflict if another writer got there first.
type Store interface {
	Create(ctx context.Context, t *Trip) error
	Get(ctx context.Context, id types.ID) (*Trip, error)
	Update(ctx context.Context, id types.ID, mutate Mutator) (*Trip, error)
	// ActiveFor returns the non-terminal trip where userID is rider or driver, or nil.
	ActiveFor(ctx context.Context, userID types.ID) (*Trip, error)
	ListByStatus(ctx context.Context, status Status) ([]*Trip, error)
	// ListForUser returns trips where userID is the rider or the driver who accepted the
	// trip (including ones later cancelled), newest first.
	ListForUser(ctx context.Context, userID types.ID) ([]*Trip, error)
}

type MemoryStore struct {
	mu    sync.RWMutex
	trips map[types.ID]*Trip
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{trips: make(map[types.ID]*Trip)}
}

func (s *MemoryStore) Create(_ context.Context, t *Trip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trips[t.ID]; ok {
		return fmt.Errorf("%w: duplicate trip id %s", ErrStateConflict, t.ID)
	}
	for _, existing := range s.trips {
		if existing.RiderID == t.RiderID && !existing.Status.Terminal() {
			return fmt.Errorf("%w: rider already has an active trip", ErrStateConflict)
		}
	}
	s.trips[t.ID] = t.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trips[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, id types.ID, mutate Mutator) (*Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.trips[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := cur.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.Version = cur.Version + 1
	s.trips[id] = next
	return next.Clone(), nil
}

func (s *MemoryStore) ActiveFor(_ context.Context, userID types.ID) (*Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.trips {
		if !t.Status.Terminal() && t.IsParty(userID) {
			return t.Clone(), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status Status) ([]*Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Trip
	for _, t := range s.trips {
		if t.Status == status {
			out = append(out, t.Clone())
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) ListForUser(_ context.Context, userID types.ID) ([]*Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Trip
	for _, t := range s.trips {
		if t.InHistoryOf(userID) {
			out = append(out, t.Clone())
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(trips []*Trip) {
	sort.SliceStable(trips, func(i, j int) bool {
		return trips[i].CreatedAt.After(trips[j].CreatedAt)
	})
}

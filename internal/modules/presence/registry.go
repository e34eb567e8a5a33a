// README: Presence registry: which connection handles each user currently holds.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"ridecore/internal/types"
)

// DefaultTTL is the socket presence liveness window. It is independent of the driver online watchdog.
const DefaultTTL = 90 * time.Second

// Registry maps a user to the set of live connection handle ids. Listing a user without
// connections yields an empty slice, never an error.
type Registry interface {
	AddConnection(ctx context.Context, userID types.ID, handleID string) error
	RemoveConnection(ctx context.Context, userID types.ID, handleID string) error
	Refresh(ctx context.Context, userID types.ID) error
	ListConnections(ctx context.Context, userID types.ID) ([]string, error)
	ListUsers(ctx context.Context) ([]types.ID, error)
}

type memoryEntry struct {
	handles  map[string]struct{}
	lastSeen time.Time
}

// MemoryRegistry keeps presence in process. Entries older than the TTL are treated as gone.
type MemoryRegistry struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[types.ID]*memoryEntry
}

func NewMemoryRegistry(ttl time.Duration) *MemoryRegistry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryRegistry{ttl: ttl, now: time.Now, entries: make(map[types.ID]*memoryEntry)}
}

func (r *MemoryRegistry) AddConnection(_ context.Context, userID types.ID, handleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.live(userID)
	if e == nil {
		e = &memoryEntry{handles: make(map[string]struct{})}
		r.entries[userID] = e
	}
	e.handles[handleID] = struct{}{}
	e.lastSeen = r.now()
	return nil
}

func (r *MemoryRegistry) RemoveConnection(_ context.Context, userID types.ID, handleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[userID]
	if !ok {
		return nil
	}
	delete(e.handles, handleID)
	if len(e.handles) == 0 {
		delete(r.entries, userID)
	}
	return nil
}

func (r *MemoryRegistry) Refresh(_ context.Context, userID types.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.live(userID); e != nil {
		e.lastSeen = r.now()
	}
	return nil
}

func (r *MemoryRegistry) ListConnections(_ context.Context, userID types.ID) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.live(userID)
	if e == nil {
		return []string{}, nil
	}
	out := make([]string, 0, len(e.handles))
	for h := range e.handles {
		out = append(out, h)
	}
	sort.Strings(out)
	return out, nil
}

func (r *MemoryRegistry) ListUsers(_ context.Context) ([]types.ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.ID, 0, len(r.entries))
	for id := range r.entries {
		if r.live(id) != nil {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// live returns the entry if it has not expired, dropping it otherwise. Caller holds mu.
func (r *MemoryRegistry) live(userID types.ID) *memoryEntry {
	e, ok := r.entries[userID]
	if !ok {
		return nil
	}
	if r.now().Sub(e.lastSeen) > r.ttl {
		delete(r.entries, userID)
		return nil
	}
	return e
}

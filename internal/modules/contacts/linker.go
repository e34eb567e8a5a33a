// README: Rider/driver auto-connect: links both users as contacts after an accepted trip.
package contacts

import (
	"context"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridecore/internal/types"
)

// SourceTrip marks contacts created by a trip acceptance.
const SourceTrip = "trip"

// Linker connects two users in both directions. Linking an existing pair is not an error.
type Linker interface {
	Link(ctx context.Context, a, b types.ID) error
}

type PostgresLinker struct {
	db *pgxpool.Pool
}

func NewPostgresLinker(db *pgxpool.Pool) *PostgresLinker {
	return &PostgresLinker{db: db}
}

func (l *PostgresLinker) Link(ctx context.Context, a, b types.ID) error {
	_, err := l.db.Exec(ctx, `
        INSERT INTO contacts (user_id, contact_id, source)
        VALUES ($1, $2, $3), ($2, $1, $3)
        ON CONFLICT (user_id, contact_id) DO NOTHING`,
		string(a), string(b), SourceTrip,
	)
	return err
}

type FirestoreLinker struct {
	client *firestore.Client
	now    func() time.Time
}

func NewFirestoreLinker(client *firestore.Client) *FirestoreLinker {
	return &FirestoreLinker{client: client, now: time.Now}
}

type contactDoc struct {
	Source    string    `firestore:"source"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func (l *FirestoreLinker) contact(owner, other types.ID) *firestore.DocumentRef {
	return l.client.Collection("users").Doc(string(owner)).Collection("contacts").Doc(string(other))
}

func (l *FirestoreLinker) Link(ctx context.Context, a, b types.ID) error {
	doc := contactDoc{Source: SourceTrip, CreatedAt: l.now()}
	batch := l.client.Batch()
	batch.Set(l.contact(a, b), doc)
	batch.Set(l.contact(b, a), doc)
	_, err := batch.Commit(ctx)
	return err
}

// MemoryLinker keeps contacts in process.
type MemoryLinker struct {
	mu       sync.Mutex
	contacts map[types.ID]map[types.ID]struct{}
}

func NewMemoryLinker() *MemoryLinker {
	return &MemoryLinker{contacts: make(map[types.ID]map[types.ID]struct{})}
}

func (l *MemoryLinker) Link(_ context.Context, a, b types.ID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.add(a, b)
	l.add(b, a)
	return nil
}

func (l *MemoryLinker) add(owner, other types.ID) {
	set, ok := l.contacts[owner]
	if !ok {
		set = make(map[types.ID]struct{})
		l.contacts[owner] = set
	}
	set[other] = struct{}{}
}

// Contacts returns the contacts of userID, sorted.
func (l *MemoryLinker) Contacts(userID types.ID) []types.ID {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.ID, 0, len(l.contacts[userID]))
	for id := range l.contacts[userID] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

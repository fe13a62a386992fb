// Package roster is the persistence boundary for participants. The quote and
// ranking core only consumes the Store interface; the SQLite and in-memory
// implementations here are the concrete collaborators the server wires in.
package roster

import (
	"context"
	"errors"
	"sync"
	"time"

	"stockleague/internal/ranking"
)

// ErrNotFound is returned when a participant id does not exist.
var ErrNotFound = errors.New("participant not found")

// Store is everything the rest of the application needs from persistence.
// BatchApply is a partial write: it touches cmp/change/rank only, never
// name, symbol or the frozen lastFridayPrice.
type Store interface {
	GetAll(ctx context.Context) ([]ranking.Participant, error)
	Get(ctx context.Context, id string) (ranking.Participant, error)
	Create(ctx context.Context, p ranking.Participant) error
	Delete(ctx context.Context, id string) error
	BatchApply(ctx context.Context, updates []ranking.RankedUpdate) error
	// Subscribe registers fn to run after every successful mutation and
	// returns the unsubscribe handle.
	Subscribe(fn func()) (unsubscribe func())
}

// notifier fans change notifications out to subscribers. Callbacks run on
// the mutating goroutine and must not block.
type notifier struct {
	mu   sync.Mutex
	next int
	subs map[int]func()
}

func (n *notifier) subscribe(fn func()) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subs == nil {
		n.subs = make(map[int]func())
	}
	id := n.next
	n.next++
	n.subs[id] = fn
	return func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}
}

func (n *notifier) notify() {
	n.mu.Lock()
	fns := make([]func(), 0, len(n.subs))
	for _, fn := range n.subs {
		fns = append(fns, fn)
	}
	n.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// nowUTC is a hook for pinning creation times in tests.
var nowUTC = func() time.Time { return time.Now().UTC() }

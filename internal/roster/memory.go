package roster

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"stockleague/internal/ranking"
)

// Memory is an in-memory Store for tests and examples. Insertion order is
// preserved by GetAll so ranking's stable tie-break sees a deterministic
// snapshot.
type Memory struct {
	notifier

	mu    sync.RWMutex
	order []string
	byID  map[string]ranking.Participant
}

func NewMemory() *Memory {
	return &Memory{byID: make(map[string]ranking.Participant)}
}

var _ Store = (*Memory)(nil)

func (m *Memory) GetAll(ctx context.Context) ([]ranking.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ranking.Participant, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.byID[id])
	}
	return out, nil
}

func (m *Memory) Get(ctx context.Context, id string) (ranking.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.byID[id]
	if !ok {
		return ranking.Participant{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p, nil
}

func (m *Memory) Create(ctx context.Context, p ranking.Participant) error {
	m.mu.Lock()
	if _, exists := m.byID[p.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("participant %s already exists", p.ID)
	}
	m.byID[p.ID] = p
	m.order = append(m.order, p.ID)
	m.mu.Unlock()
	m.notify()
	return nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.byID[id]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.byID, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	m.notify()
	return nil
}

func (m *Memory) BatchApply(ctx context.Context, updates []ranking.RankedUpdate) error {
	m.mu.Lock()
	for _, u := range updates {
		p, ok := m.byID[u.ID]
		if !ok {
			m.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrNotFound, u.ID)
		}
		p.CMP = u.CMP
		p.Change = u.Change
		p.Rank = u.Rank
		m.byID[u.ID] = p
	}
	m.mu.Unlock()
	if len(updates) > 0 {
		m.notify()
	}
	return nil
}

func (m *Memory) Subscribe(fn func()) func() { return m.subscribe(fn) }

// Leaderboard returns the roster ordered by rank (unranked entries last).
func Leaderboard(ps []ranking.Participant) []ranking.Participant {
	out := make([]ranking.Participant, len(ps))
	copy(out, ps)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Rank, out[j].Rank
		if ri == 0 {
			return false
		}
		if rj == 0 {
			return true
		}
		return ri < rj
	})
	return out
}

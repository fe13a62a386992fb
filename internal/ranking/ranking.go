// Package ranking turns a batch of quote outcomes into a total, stable
// leaderboard ordering. It is pure: no I/O, no shared state, no locking.
// Callers pass a frozen snapshot of participants and a completed batch of
// quote results.
package ranking

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"stockleague/internal/quote"
)

// Participant is the roster entry as the core sees it. The store owns its
// lifecycle; the engine only derives CMP, Change and Rank.
type Participant struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Symbol   string         `json:"symbol"`
	Exchange quote.Exchange `json:"exchange"`
	// LastFridayPrice is fixed when the pick is registered and never
	// touched afterwards.
	LastFridayPrice decimal.Decimal `json:"last_friday_price"`
	CMP             decimal.Decimal `json:"cmp"`
	Change          decimal.Decimal `json:"change"`
	// Rank is a positive dense rank; 0 means "never ranked".
	Rank int `json:"rank"`
}

// Outcome is the per-participant result of a quote batch. Err set means the
// fetch failed and the participant keeps its previous values.
type Outcome struct {
	Price decimal.Decimal
	Err   error
}

// RankedUpdate is the minimal field set needed to persist one participant's
// post-ranking state.
type RankedUpdate struct {
	ID     string          `json:"id"`
	CMP    decimal.Decimal `json:"cmp"`
	Change decimal.Decimal `json:"change"`
	Rank   int             `json:"rank"`
}

var hundred = decimal.NewFromInt(100)

// ComputeUpdates derives percentage change per participant, orders the batch
// by change descending and assigns dense ranks starting at 1. Returns one
// update per participant, in rank order.
//
// A participant whose fetch failed keeps its previous cmp/change verbatim
// and still competes using those stale values; dropping it would silently
// remove it from the leaderboard. Equal changes keep their relative input
// order, so genuinely tied entries do not swap between refreshes.
//
// The only error is a contract violation: an outcome keyed to an ID that is
// not in participants.
func ComputeUpdates(participants []Participant, outcomes map[string]Outcome) ([]RankedUpdate, error) {
	known := make(map[string]struct{}, len(participants))
	for _, p := range participants {
		known[p.ID] = struct{}{}
	}
	for id := range outcomes {
		if _, ok := known[id]; !ok {
			return nil, fmt.Errorf("outcome for unknown participant %q", id)
		}
	}

	updates := make([]RankedUpdate, 0, len(participants))
	for _, p := range participants {
		u := RankedUpdate{ID: p.ID, CMP: p.CMP, Change: p.Change}
		if oc, ok := outcomes[p.ID]; ok && oc.Err == nil {
			u.CMP = oc.Price
			u.Change = percentChange(p.LastFridayPrice, oc.Price)
		}
		updates = append(updates, u)
	}

	sort.SliceStable(updates, func(i, j int) bool {
		return updates[i].Change.GreaterThan(updates[j].Change)
	})
	for i := range updates {
		updates[i].Rank = i + 1
	}
	return updates, nil
}

// percentChange is (new − base) / base × 100, rounded to 2 decimal places.
// A zero or negative base is a data-integrity anomaly upstream; it yields 0
// rather than a division by zero.
func percentChange(base, price decimal.Decimal) decimal.Decimal {
	if !base.IsPositive() {
		return decimal.Zero
	}
	return price.Sub(base).Div(base).Mul(hundred).Round(2)
}

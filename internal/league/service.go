// Package league glues the quote fetcher, the ranking engine and the roster
// store together: it is the caller the core was designed for.
package league

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stockleague/internal/fetcher"
	"stockleague/internal/quote"
	"stockleague/internal/ranking"
	"stockleague/internal/roster"
)

// PriceSource is the fetcher surface the league needs.
type PriceSource interface {
	FetchPrice(ctx context.Context, symbol string, exchange quote.Exchange) (quote.Quote, error)
	FetchBatch(ctx context.Context, reqs []fetcher.Request) []fetcher.Result
	Invalidate()
}

// ErrNoQuotes means a refresh produced zero successful fetches; there is no
// ranking signal and nothing is persisted.
var ErrNoQuotes = errors.New("no quotes could be fetched")

// RefreshReport counts the outcome of one full refresh. Partial failure is
// normal and reported as counts, never escalated to an all-or-nothing error.
type RefreshReport struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

func (r RefreshReport) String() string {
	return fmt.Sprintf("%d succeeded, %d failed", r.Succeeded, r.Failed)
}

// Service exposes the two flows the application has: submit one pick, and
// refresh the whole leaderboard.
type Service struct {
	store  roster.Store
	source PriceSource
	log    zerolog.Logger
}

func New(store roster.Store, source PriceSource, log zerolog.Logger) *Service {
	return &Service{
		store:  store,
		source: source,
		log:    log.With().Str("component", "league").Logger(),
	}
}

// SubmitPick fetches the current price for the pick and registers the
// participant with that price frozen as the entry baseline. A fetch failure
// blocks the submission; no participant is created on a fabricated price.
func (s *Service) SubmitPick(ctx context.Context, name, symbol string, exchange quote.Exchange) (ranking.Participant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ranking.Participant{}, errors.New("participant name is required")
	}
	q, err := s.source.FetchPrice(ctx, symbol, exchange)
	if err != nil {
		return ranking.Participant{}, err
	}
	p := ranking.Participant{
		ID:              uuid.NewString(),
		Name:            name,
		Symbol:          q.Symbol,
		Exchange:        q.Exchange,
		LastFridayPrice: q.Price,
		CMP:             q.Price,
		Change:          decimal.Zero,
		Rank:            0,
	}
	if err := s.store.Create(ctx, p); err != nil {
		return ranking.Participant{}, fmt.Errorf("store pick: %w", err)
	}
	s.log.Info().Str("id", p.ID).Str("symbol", p.Symbol).Str("exchange", string(p.Exchange)).
		Str("baseline", p.LastFridayPrice.String()).Msg("pick registered")
	return p, nil
}

// Leaderboard returns the roster ordered by rank.
func (s *Service) Leaderboard(ctx context.Context) ([]ranking.Participant, error) {
	ps, err := s.store.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return roster.Leaderboard(ps), nil
}

// RefreshAll re-quotes every pick and persists a fresh ranking. The cache is
// invalidated up front so one pass never ranks a mix of cached and fresh
// prices. Zero successes skip the write entirely.
func (s *Service) RefreshAll(ctx context.Context) (RefreshReport, error) {
	ps, err := s.store.GetAll(ctx)
	if err != nil {
		return RefreshReport{}, fmt.Errorf("load roster: %w", err)
	}
	if len(ps) == 0 {
		return RefreshReport{}, nil
	}

	s.source.Invalidate()

	reqs := make([]fetcher.Request, len(ps))
	for i, p := range ps {
		reqs[i] = fetcher.Request{Symbol: p.Symbol, Exchange: p.Exchange}
	}
	results := s.source.FetchBatch(ctx, reqs)

	report := RefreshReport{Total: len(ps)}
	outcomes := make(map[string]ranking.Outcome, len(ps))
	for i, res := range results {
		id := ps[i].ID
		if res.Err != nil {
			report.Failed++
			outcomes[id] = ranking.Outcome{Err: res.Err}
			s.log.Warn().Str("id", id).Str("symbol", ps[i].Symbol).Err(res.Err).Msg("refresh fetch failed")
			continue
		}
		report.Succeeded++
		outcomes[id] = ranking.Outcome{Price: res.Quote.Price}
	}
	if report.Succeeded == 0 {
		return report, ErrNoQuotes
	}

	updates, err := ranking.ComputeUpdates(ps, outcomes)
	if err != nil {
		return report, fmt.Errorf("compute ranking: %w", err)
	}
	if err := s.store.BatchApply(ctx, updates); err != nil {
		return report, fmt.Errorf("persist ranking: %w", err)
	}
	s.log.Info().Int("total", report.Total).Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).Msg("leaderboard refreshed")
	return report, nil
}

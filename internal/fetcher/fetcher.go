// Package fetcher resolves stock symbols to current prices through an
// unreliable third-party provider, shielding callers from transport
// flakiness with a rotating route list and a short-lived price cache.
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"stockleague/internal/quote"
)

// Doer describes an HTTP client.
//
//go:generate mockgen -package=fetcher_test -destination=mock_doer_test.go -source=fetcher.go Doer
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

const (
	DefaultBaseURL        = "https://query1.finance.yahoo.com/v8/finance/chart"
	DefaultAttemptTimeout = 8 * time.Second
	DefaultCacheTTL       = 60 * time.Second
	DefaultBatchWorkers   = 5
)

// Config controls the fetcher. Zero fields fall back to the defaults above,
// so the zero Config is usable.
type Config struct {
	// BaseURL is the provider chart endpoint; the symbol plus the
	// exchange suffix is appended as the final path element.
	BaseURL string
	// Routes are tried in order starting at the shared rotation cursor.
	// At most len(Routes) attempts are made per fetch.
	Routes []Route
	// AttemptTimeout bounds each individual route attempt.
	AttemptTimeout time.Duration
	// CacheTTL is how long a fetched price may be served without a
	// network call.
	CacheTTL time.Duration
	// BatchWorkers is the fixed worker-pool size for FetchBatch. It is a
	// constant bound on provider load, never derived from input size.
	BatchWorkers int
}

// Fetcher resolves one symbol+exchange pair to a price. It owns route
// selection, per-attempt timeouts, response validation and the price cache.
// Construct one per application; there is no package-level state.
type Fetcher struct {
	cfg    Config
	client Doer
	log    zerolog.Logger

	cache *priceCache
	group singleflight.Group

	mu     sync.Mutex
	cursor int

	now func() time.Time
}

// New creates a Fetcher with its own cache and rotation cursor.
func New(cfg Config, client Doer, log zerolog.Logger) *Fetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if len(cfg.Routes) == 0 {
		cfg.Routes = DefaultRoutes()
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.BatchWorkers <= 0 {
		cfg.BatchWorkers = DefaultBatchWorkers
	}
	return &Fetcher{
		cfg:    cfg,
		client: client,
		log:    log.With().Str("component", "fetcher").Logger(),
		cache:  newPriceCache(cfg.CacheTTL),
		now:    time.Now,
	}
}

// FetchPrice resolves symbol on exchange to a quote. A live cache entry is
// returned with no network activity; otherwise the routes are tried in
// rotation order until one yields a valid positive price. Failed fetches are
// never cached and never replaced with a fabricated price.
func (f *Fetcher) FetchPrice(ctx context.Context, symbol string, exchange quote.Exchange) (quote.Quote, error) {
	sym, err := quote.NormalizeSymbol(symbol)
	if err != nil {
		return quote.Quote{}, err
	}
	if !exchange.Valid() {
		return quote.Quote{}, fmt.Errorf("%w: %q", quote.ErrInvalidExchange, exchange)
	}

	key := cacheKey{symbol: sym, exchange: exchange}
	if e, ok := f.cache.get(key, f.now()); ok {
		return quote.Quote{Symbol: sym, Exchange: exchange, Price: e.price, FetchedAt: e.insertedAt}, nil
	}

	// Coalesce concurrent misses for the same key into one resolution.
	v, err, _ := f.group.Do(sym+string(exchange), func() (any, error) {
		return f.resolve(ctx, key)
	})
	if err != nil {
		return quote.Quote{}, err
	}
	return v.(quote.Quote), nil
}

func (f *Fetcher) resolve(ctx context.Context, key cacheKey) (quote.Quote, error) {
	target := providerURL(f.cfg.BaseURL, key.symbol, key.exchange)
	n := len(f.cfg.Routes)
	start := f.startIndex(n)

	var lastErr error
	for i := 0; i < n; i++ {
		// The caller's context is consulted between attempts only; an
		// attempt already in flight runs to its own timeout so a late
		// success is still cached for the next call.
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		idx := (start + i) % n
		route := f.cfg.Routes[idx]
		price, err := f.attempt(route, target)
		if err != nil {
			lastErr = err
			f.advanceCursor(idx, n)
			f.log.Warn().
				Str("route", route.Name).
				Str("symbol", key.symbol).
				Str("exchange", string(key.exchange)).
				Err(err).
				Msg("route attempt failed")
			continue
		}
		price = price.Round(2)
		now := f.now()
		f.cache.put(key, price, now)
		f.log.Debug().
			Str("route", route.Name).
			Str("symbol", key.symbol).
			Str("price", price.String()).
			Msg("quote resolved")
		return quote.Quote{Symbol: key.symbol, Exchange: key.exchange, Price: price, FetchedAt: now}, nil
	}
	return quote.Quote{}, &quote.QuoteUnavailableError{
		Symbol:   key.symbol,
		Exchange: key.exchange,
		Attempts: n,
		Last:     lastErr,
	}
}

// attempt performs one request through one route. The timeout context is
// detached from the caller so cancellation of the surrounding refresh never
// aborts an attempt mid-flight; nothing touches the cache until a full,
// validated success.
func (f *Fetcher) attempt(route Route, target string) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, route.Wrap(target), nil)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("route %s: build request: %w", route.Name, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("route %s: %w", route.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return decimal.Decimal{}, fmt.Errorf("route %s: status %d: %s", route.Name, resp.StatusCode, string(b))
	}
	price, err := decodePrice(resp.Body)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("route %s: %w", route.Name, err)
	}
	return price, nil
}

// Request is one element of a batch fetch.
type Request struct {
	Symbol   string         `json:"symbol"`
	Exchange quote.Exchange `json:"exchange"`
}

// Result pairs a request with its outcome. Exactly one of Quote and Err is
// meaningful.
type Result struct {
	Request Request     `json:"request"`
	Quote   quote.Quote `json:"quote"`
	Err     error       `json:"-"`
}

// FetchBatch fans FetchPrice out over reqs with a fixed-size worker pool.
// Results preserve input order regardless of completion order, so callers
// can zip them back onto their originating records. Individual failures are
// carried per element; the batch itself never fails.
func (f *Fetcher) FetchBatch(ctx context.Context, reqs []Request) []Result {
	if len(reqs) == 0 {
		return nil
	}
	results := make([]Result, len(reqs))
	var g errgroup.Group
	g.SetLimit(f.cfg.BatchWorkers)
	for i, r := range reqs {
		i, r := i, r
		g.Go(func() error {
			q, err := f.FetchPrice(ctx, r.Symbol, r.Exchange)
			results[i] = Result{Request: r, Quote: q, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Invalidate clears the whole cache. Call it before a full refresh so one
// ranking pass never mixes cached and fresh prices.
func (f *Fetcher) Invalidate() {
	f.cache.clear()
}

func (f *Fetcher) startIndex(n int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursor % n
}

// advanceCursor moves the shared rotation cursor past a failed route so the
// next fetch prefers the next untried route instead of queueing behind a
// persistently broken one.
func (f *Fetcher) advanceCursor(failed, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cursor%n == failed {
		f.cursor = (failed + 1) % n
	}
}

var errNoPrice = errors.New("payload has no usable price")

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice *decimal.Decimal `json:"regularMarketPrice"`
				PreviousClose      *decimal.Decimal `json:"previousClose"`
				ChartPreviousClose *decimal.Decimal `json:"chartPreviousClose"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// decodePrice extracts a strictly positive price from the provider payload:
// the live trading price when present, else the prior session's close. Any
// other shape is a validation failure, treated like a transport failure for
// rotation purposes but never a crash.
func decodePrice(r io.Reader) (decimal.Decimal, error) {
	var cr chartResponse
	if err := json.NewDecoder(io.LimitReader(r, 1<<20)).Decode(&cr); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode payload: %w", err)
	}
	if cr.Chart.Error != nil {
		return decimal.Decimal{}, fmt.Errorf("provider error: %s: %s", cr.Chart.Error.Code, cr.Chart.Error.Description)
	}
	if len(cr.Chart.Result) == 0 {
		return decimal.Decimal{}, errNoPrice
	}
	meta := cr.Chart.Result[0].Meta
	for _, p := range []*decimal.Decimal{meta.RegularMarketPrice, meta.PreviousClose, meta.ChartPreviousClose} {
		if p != nil && p.IsPositive() {
			return *p, nil
		}
	}
	return decimal.Decimal{}, errNoPrice
}

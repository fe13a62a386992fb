package fetcher

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"stockleague/internal/quote"
)

type cacheKey struct {
	symbol   string
	exchange quote.Exchange
}

// cacheEntry is immutable once written; an update replaces the entry rather
// than mutating it, so a reader never observes a half-written value.
type cacheEntry struct {
	price      decimal.Decimal
	insertedAt time.Time
}

// priceCache caches the last successful price per (symbol, exchange) for a
// TTL. Expired entries are evicted lazily on the next probe for their key.
type priceCache struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[cacheKey]cacheEntry
}

func newPriceCache(ttl time.Duration) *priceCache {
	return &priceCache{ttl: ttl, entries: make(map[cacheKey]cacheEntry)}
}

// get returns the live entry for key, if any. An entry older than the TTL is
// never returned; it is deleted so the next lookup refreshes it.
func (c *priceCache) get(key cacheKey, now time.Time) (cacheEntry, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return cacheEntry{}, false
	}
	if now.Sub(e.insertedAt) >= c.ttl {
		c.mu.Lock()
		// re-check under the write lock; a fresher entry may have landed
		if cur, ok := c.entries[key]; ok && now.Sub(cur.insertedAt) >= c.ttl {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return cacheEntry{}, false
	}
	return e, true
}

// put overwrites any entry for key, stale or not.
func (c *priceCache) put(key cacheKey, price decimal.Decimal, now time.Time) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{price: price, insertedAt: now}
	c.mu.Unlock()
}

// clear drops every entry.
func (c *priceCache) clear() {
	c.mu.Lock()
	c.entries = make(map[cacheKey]cacheEntry)
	c.mu.Unlock()
}

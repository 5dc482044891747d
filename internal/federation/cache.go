package federation

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the number of server roots kept per manager.
const DefaultCacheSize = 256

// ExpiryMargin is subtracted from a generated server token's expiry before caching.
const ExpiryMargin = 5 * time.Minute

// Entry is a token scoped to one federated server root.
type Entry struct {
	Token   string
	Expires time.Time
}

// Live reports whether the entry may still be served at now.
func (e Entry) Live(now time.Time) bool {
	return e.Token != "" && now.Before(e.Expires)
}

// TrustCache holds per-server-root tokens. An entry past its expiry is
// treated as absent and evicted on lookup.
type TrustCache struct {
	entries *lru.Cache[string, Entry]
	now     func() time.Time
}

// CacheOption configures a TrustCache.
type CacheOption func(*TrustCache)

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *TrustCache) {
		c.now = now
	}
}

// NewTrustCache creates a cache holding at most size roots. A size of zero or
// less uses DefaultCacheSize.
func NewTrustCache(size int, opts ...CacheOption) *TrustCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	// lru.New only fails for non-positive sizes.
	entries, _ := lru.New[string, Entry](size)
	c := &TrustCache{
		entries: entries,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the live entry for root.
func (c *TrustCache) Get(root string) (Entry, bool) {
	entry, ok := c.entries.Get(root)
	if !ok {
		return Entry{}, false
	}
	if !entry.Live(c.now()) {
		c.entries.Remove(root)
		return Entry{}, false
	}
	return entry, true
}

// Put stores entry for root, replacing any previous one.
func (c *TrustCache) Put(root string, entry Entry) {
	c.entries.Add(root, entry)
}

// Has reports whether root has ever been stored and not evicted, live or not.
func (c *TrustCache) Has(root string) bool {
	return c.entries.Contains(root)
}

// Remove drops root from the cache.
func (c *TrustCache) Remove(root string) {
	c.entries.Remove(root)
}

// Purge empties the cache.
func (c *TrustCache) Purge() {
	c.entries.Purge()
}

// Len returns the number of stored roots, including expired ones not yet evicted.
func (c *TrustCache) Len() int {
	return c.entries.Len()
}

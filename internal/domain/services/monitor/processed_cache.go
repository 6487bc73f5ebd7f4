package monitor

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// ProcessedTxCache suppresses duplicate handling of a transaction hash within
// one monitor's lifetime. It is not authoritative for crediting.
type ProcessedTxCache struct {
	items *gocache.Cache
}

// NewProcessedTxCache creates a cache whose entries expire after ttl. Expired
// entries are only removed by Cleanup.
func NewProcessedTxCache(ttl time.Duration) *ProcessedTxCache {
	return &ProcessedTxCache{items: gocache.New(ttl, 0)}
}

// MarkProcessed records hash and reports whether it was not already present
func (c *ProcessedTxCache) MarkProcessed(hash string) bool {
	return c.items.Add(hash, time.Now(), gocache.DefaultExpiration) == nil
}

// Forget removes hash so a later observation is handled again
func (c *ProcessedTxCache) Forget(hash string) {
	c.items.Delete(hash)
}

// Seen reports whether hash was handled and has not expired
func (c *ProcessedTxCache) Seen(hash string) bool {
	_, ok := c.items.Get(hash)
	return ok
}

// HandledAt returns when hash was recorded
func (c *ProcessedTxCache) HandledAt(hash string) (time.Time, bool) {
	v, ok := c.items.Get(hash)
	if !ok {
		return time.Time{}, false
	}
	return v.(time.Time), true
}

// Cleanup purges expired entries
func (c *ProcessedTxCache) Cleanup() {
	c.items.DeleteExpired()
}

// Len returns the number of stored entries, expired ones included
func (c *ProcessedTxCache) Len() int {
	return c.items.ItemCount()
}

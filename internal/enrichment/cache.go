package enrichment

import (
	"sync"

	"github.com/ginjaninja78/billing-summary/internal/types"
)

// Cache holds looked-up text records for the lifetime of a Service (or until
// Clear). Entries are immutable: the first Put for a key wins.
type Cache struct {
	mu      sync.RWMutex
	entries map[types.GroupKey]types.TextRecord
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[types.GroupKey]types.TextRecord)}
}

// Get returns the cached record for key.
func (c *Cache) Get(key types.GroupKey) (types.TextRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.entries[key]
	return rec, ok
}

// Put stores rec unless key is already cached. It reports whether the entry
// was stored.
func (c *Cache) Put(key types.GroupKey, rec types.TextRecord) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; exists {
		return false
	}
	c.entries[key] = rec
	return true
}

// Len is the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[types.GroupKey]types.TextRecord)
}

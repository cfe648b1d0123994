// Package metadata resolves and caches MIME type and size information for
// stored files and inline payloads.
package metadata

import "sync"

// Entry holds the detected metadata for one stored file.
type Entry struct {
	MIME string
	Size int64
}

// Cache is a capacity-bounded filename -> Entry map. Eviction is strictly
// insertion-ordered (FIFO): stored names are write-once, so recency tracking
// buys nothing over insertion order here. Lookups never refresh position.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]Entry
	order    []string
	capacity int
}

// DefaultCacheSize is the default entry capacity.
const DefaultCacheSize = 1000

// NewCache creates a Cache with the given entry capacity.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	return &Cache{
		entries:  make(map[string]Entry, capacity),
		order:    make([]string, 0, capacity),
		capacity: capacity,
	}
}

// Get returns the cached entry for a stored filename.
func (c *Cache) Get(name string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[name]
	return e, ok
}

// Put inserts or updates an entry. Inserting beyond capacity evicts the
// first-inserted entry; updating an existing key leaves eviction order
// untouched.
func (c *Cache) Put(name string, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[name]; exists {
		c.entries[name] = e
		return
	}

	if len(c.order) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[name] = e
	c.order = append(c.order, name)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

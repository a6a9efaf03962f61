package selector

import (
	"sync"

	"github.com/jmylchreest/framecast/internal/capability"
)

type cacheKey struct {
	format capability.PixelFormat
	dims   capability.Dimensions
}

type cacheEntry struct {
	generation uint64
	candidates []Candidate
}

// enumerationCache memoizes candidate enumeration per (format, dims). Entries
// are tagged with the registry generation they were built from and ignored
// once the generation moves on. A full cache is reset wholesale.
type enumerationCache struct {
	mu      sync.Mutex
	size    int
	entries map[cacheKey]cacheEntry

	hits   uint64
	misses uint64
}

func newEnumerationCache(size int) *enumerationCache {
	return &enumerationCache{
		size:    size,
		entries: make(map[cacheKey]cacheEntry, size),
	}
}

func (c *enumerationCache) get(key cacheKey, generation uint64) ([]Candidate, bool) {
	if c.size <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.generation != generation {
		c.misses++
		return nil, false
	}
	c.hits++
	return e.candidates, true
}

func (c *enumerationCache) put(key cacheKey, generation uint64, candidates []Candidate) {
	if c.size <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.size {
		clear(c.entries)
	}
	c.entries[key] = cacheEntry{generation: generation, candidates: candidates}
}

// CacheStats reports enumeration cache activity.
type CacheStats struct {
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

func (c *enumerationCache) stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Entries: len(c.entries), Hits: c.hits, Misses: c.misses}
}

// Package cache provides a bounded text->vector memoization layer consulted
// before each embed request.
package cache

import (
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCapacity keeps memory in the low single-digit megabytes: at 768
// dims * 4 bytes * 1000 entries.
const DefaultCapacity = 1000

// VectorCache is a bounded text->embedding memoization map with LRU
// eviction. A single owning goroutine is expected to mutate it between
// await points; if multiple goroutines contend, callers should serialize
// through a mutex of their own since hit/miss paths here are not internally
// synchronized beyond what golang-lru already provides.
type VectorCache struct {
	cache *lru.Cache[string, []float32]
	model string
}

// New creates a VectorCache bound to model (used to namespace cache keys so
// switching embedding models can't return stale vectors). capacity <= 0
// falls back to DefaultCapacity.
func New(model string, capacity int) *VectorCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c, _ := lru.New[string, []float32](capacity)
	return &VectorCache{cache: c, model: model}
}

func (c *VectorCache) key(text string) string {
	sum := sha256.Sum256([]byte(text + "\x00" + c.model))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached vector for text, if present. A hit bypasses the
// worker pool entirely.
func (c *VectorCache) Get(text string) ([]float32, bool) {
	return c.cache.Get(c.key(text))
}

// Put stores vec for text, evicting the least-recently-used entry if the
// cache is at capacity.
func (c *VectorCache) Put(text string, vec []float32) {
	c.cache.Add(c.key(text), vec)
}

// Len returns the current number of cached entries.
func (c *VectorCache) Len() int {
	return c.cache.Len()
}

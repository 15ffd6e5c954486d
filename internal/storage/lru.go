// Package storage provides the core storage engine components for the directory engine.
package storage

import (
	"math"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"
)

// LRUCache implements a Least Recently Used (LRU) cache for page eviction.
// It maintains the order of page access to identify cold pages for eviction.
// The PageCache owns capacity management itself (see pagecache.go), so this
// wraps simplelru.LRU with an effectively unbounded size and relies on the
// caller to Remove evicted pages explicitly.
type LRUCache struct {
	inner *lru.LRU[PageID, struct{}]
}

// NewLRUCache creates a new LRU cache.
func NewLRUCache() *LRUCache {
	inner, err := lru.NewLRU[PageID, struct{}](math.MaxInt32, nil)
	if err != nil {
		// Only returns an error for a non-positive size, which MaxInt32 never is.
		panic(err)
	}
	return &LRUCache{inner: inner}
}

// Access marks a page as recently accessed, moving it to the front of the list.
// If the page is not in the cache, it is added.
func (c *LRUCache) Access(pageID PageID) {
	c.inner.Add(pageID, struct{}{})
}

// Remove removes a page from the LRU cache.
func (c *LRUCache) Remove(pageID PageID) {
	c.inner.Remove(pageID)
}

// GetLRU returns the least recently used page ID.
// Returns the page ID and true if the cache is not empty, otherwise 0 and false.
func (c *LRUCache) GetLRU() (PageID, bool) {
	key, _, ok := c.inner.GetOldest()
	return key, ok
}

// GetLRUExcluding returns the least recently used page ID that is not in the excluded set.
// This is useful for finding eviction candidates while skipping pinned pages.
func (c *LRUCache) GetLRUExcluding(excluded map[PageID]bool) (PageID, bool) {
	for _, key := range c.inner.Keys() {
		if !excluded[key] {
			return key, true
		}
	}
	return 0, false
}

// Contains checks if a page is in the LRU cache.
func (c *LRUCache) Contains(pageID PageID) bool {
	return c.inner.Contains(pageID)
}

// Len returns the number of entries in the LRU cache.
func (c *LRUCache) Len() int {
	return c.inner.Len()
}

// Clear removes all entries from the LRU cache.
func (c *LRUCache) Clear() {
	c.inner.Purge()
}

// GetAll returns all page IDs in the cache, ordered from most to least recently used.
func (c *LRUCache) GetAll() []PageID {
	keys := c.inner.Keys()
	result := make([]PageID, len(keys))
	for i, k := range keys {
		result[len(keys)-1-i] = k
	}
	return result
}

// GetAllLRUOrder returns all page IDs in the cache, ordered from least to most recently used.
func (c *LRUCache) GetAllLRUOrder() []PageID {
	return c.inner.Keys()
}

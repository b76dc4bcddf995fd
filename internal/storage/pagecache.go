package storage

import "github.com/RichardKnop/storagebackend/pkg/lrucache"

// DefaultPageCacheSize is the default maximum number of pages kept in
// memory per backend (mirrors minisql's PageCacheSize).
const DefaultPageCacheSize = 2000

// PageCache is a bounded, advisory cache from page id to the most
// recently observed page image. A miss never produces a wrong answer;
// correctness rests entirely on the journal/snapshot layer beneath it.
type PageCache struct {
	cache *lrucache.Cache[uint32, *RawPage]
}

// NewPageCache builds a cache holding at most maxSize pages. A
// non-positive maxSize falls back to DefaultPageCacheSize, mirroring
// the teacher's NewPager(..., maxCachedPages) guard.
func NewPageCache(maxSize int) *PageCache {
	if maxSize <= 0 {
		maxSize = DefaultPageCacheSize
	}
	return &PageCache{cache: lrucache.New[uint32, *RawPage](maxSize)}
}

// Get returns the cached page for id, if present.
func (c *PageCache) Get(id uint32) (*RawPage, bool) {
	return c.cache.Get(id)
}

// Insert records page in the cache, evicting the current LRU victim
// if the cache is at capacity.
func (c *PageCache) Insert(page *RawPage) {
	c.cache.Put(page.PageID, page, true)
}

// Reset clears the cache in place. Used after a rollback, since
// cached pages may reflect uncommitted writes that were just
// discarded.
func (c *PageCache) Reset() {
	c.cache.Reset()
}

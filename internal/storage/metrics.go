package storage

import "sync/atomic"

// Metrics tracks page-cache effectiveness for a file backend.
// Grounded on the original source's Metrics, which file_backend.rs
// pokes at with self.metrics.fetch_page() / page_hit_cache() on every
// uncached read.
type Metrics struct {
	fetches  atomic.Uint64
	cacheHit atomic.Uint64
}

// FetchPage records an attempt to read a page through the main read
// path (as opposed to a session-pinned journal read).
func (m *Metrics) FetchPage() {
	m.fetches.Add(1)
}

// PageHitCache records that FetchPage was satisfied from the page
// cache without touching the journal or main file.
func (m *Metrics) PageHitCache() {
	m.cacheHit.Add(1)
}

// Fetches returns the total number of FetchPage calls observed.
func (m *Metrics) Fetches() uint64 {
	return m.fetches.Load()
}

// CacheHits returns the total number of PageHitCache calls observed.
func (m *Metrics) CacheHits() uint64 {
	return m.cacheHit.Load()
}

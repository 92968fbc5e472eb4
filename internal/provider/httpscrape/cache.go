package httpscrape

import (
	"sync"
	"time"

	"project-tachyon/internal/model"
)

type templateCacheEntry struct {
	results  []model.SearchResult
	cachedAt time.Time
}

// templateCache is a simple per-template TTL cache; stale hits are still
// returned (the caller checks Stale) when allow_stale_cache is configured,
// per spec §4.6.2.
type templateCache struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]templateCacheEntry
}

func newTemplateCache(ttl time.Duration) *templateCache {
	return &templateCache{ttl: ttl, m: make(map[string]templateCacheEntry)}
}

func (c *templateCache) get(key string) (results []model.SearchResult, stale bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, found := c.m[key]
	if !found {
		return nil, false, false
	}
	return entry.results, time.Since(entry.cachedAt) > c.ttl, true
}

func (c *templateCache) put(key string, results []model.SearchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = templateCacheEntry{results: results, cachedAt: time.Now()}
}

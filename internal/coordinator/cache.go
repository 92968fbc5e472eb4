package coordinator

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tidwall/buntdb"

	"project-tachyon/internal/model"
)

const (
	defaultCacheCapacity = 100
	defaultCacheTTL      = 300 * time.Second
)

// SearchCache is the capacity-bounded LRU, per-entry-TTL cache of §4.5.11,
// keyed by (query, page, filter signature). It is backed by an in-memory
// buntdb database: entries carry a native TTL via buntdb's SetOptions, and a
// monotonic "seq" field (indexed) gives LRU-by-recency eviction for free
// through ascending index iteration.
type SearchCache struct {
	db       *buntdb.DB
	capacity int
	ttl      time.Duration
	seq      int64
}

type cacheEntry struct {
	Seq      int64                `json:"seq"`
	CachedAt time.Time            `json:"cached_at"`
	Results  []model.SearchResult `json:"results"`
}

// NewSearchCache opens an in-memory buntdb store sized per spec defaults
// (capacity 100, TTL 300s). capacity<=0 or ttl<=0 fall back to the defaults.
func NewSearchCache(capacity int, ttl time.Duration) (*SearchCache, error) {
	if capacity <= 0 {
		capacity = defaultCacheCapacity
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open search cache: %w", err)
	}
	if err := db.CreateIndex("byseq", "*", buntdb.IndexJSON("seq")); err != nil {
		return nil, fmt.Errorf("create search cache index: %w", err)
	}
	return &SearchCache{db: db, capacity: capacity, ttl: ttl}, nil
}

// Close releases the underlying buntdb handle.
func (c *SearchCache) Close() error { return c.db.Close() }

// FilterSignature renders a filter map as the sorted "k:v" join spec §4.5.11
// calls for, so that equivalent filter sets always hash to the same cache
// key regardless of map iteration order.
func FilterSignature(filters map[string]string) string {
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+":"+filters[k])
	}
	return strings.Join(parts, ",")
}

func cacheKey(query string, page int, filterSignature string) string {
	return query + "|" + strconv.Itoa(page) + "|" + filterSignature
}

// Get returns a cached page and true if present and unexpired. A hit
// refreshes the entry's LRU recency.
func (c *SearchCache) Get(query string, page int, filterSignature string) ([]model.SearchResult, bool) {
	key := cacheKey(query, page, filterSignature)
	var entry cacheEntry
	found := false

	err := c.db.Update(func(tx *buntdb.Tx) error {
		raw, err := tx.Get(key)
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if jsonErr := json.Unmarshal([]byte(raw), &entry); jsonErr != nil {
			return jsonErr
		}
		found = true
		entry.Seq = atomic.AddInt64(&c.seq, 1)
		refreshed, jsonErr := json.Marshal(entry)
		if jsonErr != nil {
			return jsonErr
		}
		_, _, err = tx.Set(key, string(refreshed), &buntdb.SetOptions{Expires: true, TTL: c.ttl})
		return err
	})
	if err != nil || !found {
		return nil, false
	}
	return entry.Results, true
}

// Put stores a page of results, evicting the least-recently-touched entries
// if the cache is over capacity afterward.
func (c *SearchCache) Put(query string, page int, filterSignature string, results []model.SearchResult) error {
	key := cacheKey(query, page, filterSignature)
	entry := cacheEntry{
		Seq:      atomic.AddInt64(&c.seq, 1),
		CachedAt: time.Now(),
		Results:  results,
	}
	encoded, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	return c.db.Update(func(tx *buntdb.Tx) error {
		if _, _, err := tx.Set(key, string(encoded), &buntdb.SetOptions{Expires: true, TTL: c.ttl}); err != nil {
			return err
		}
		return evictOverCapacity(tx, c.capacity)
	})
}

func evictOverCapacity(tx *buntdb.Tx, capacity int) error {
	count, err := tx.Len()
	if err != nil {
		return err
	}
	overage := count - capacity
	if overage <= 0 {
		return nil
	}

	stale := make([]string, 0, overage)
	err = tx.Ascend("byseq", func(key, value string) bool {
		stale = append(stale, key)
		return len(stale) < overage
	})
	if err != nil {
		return err
	}
	for _, key := range stale {
		if _, err := tx.Delete(key); err != nil && err != buntdb.ErrNotFound {
			return err
		}
	}
	return nil
}

// Invalidate drops every cached entry. Called when provider enable state is
// reloaded, per spec §4.5.11 ("reload of providers' enable state invalidates
// the cache").
func (c *SearchCache) Invalidate() error {
	return c.db.Update(func(tx *buntdb.Tx) error {
		var keys []string
		if err := tx.Ascend("", func(key, value string) bool {
			keys = append(keys, key)
			return true
		}); err != nil {
			return err
		}
		for _, key := range keys {
			if _, err := tx.Delete(key); err != nil && err != buntdb.ErrNotFound {
				return err
			}
		}
		return nil
	})
}

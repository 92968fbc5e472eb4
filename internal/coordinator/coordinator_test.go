package coordinator

import (
	"context"
	"strings"
	"testing"
	"time"

	"project-tachyon/internal/bus"
	"project-tachyon/internal/model"
	"project-tachyon/internal/provider"
)

// fakeProvider is a test double implementing provider.Provider without any
// network dependency.
type fakeProvider struct {
	name      string
	results   []model.SearchResult
	err       string
	delay     time.Duration
	callCount int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Search(ctx context.Context, query string, page int) ([]model.SearchResult, error) {
	f.callCount++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.results, nil
}

func (f *fakeProvider) LastError() string { return f.err }

func newTestCache(t *testing.T) *SearchCache {
	t.Helper()
	c, err := NewSearchCache(10, time.Minute)
	if err != nil {
		t.Fatalf("NewSearchCache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestDedupeKeepsMaxSeeds(t *testing.T) {
	a := model.SearchResult{Infohash: "H", Seeds: 10}
	b := model.SearchResult{Infohash: "H", Seeds: 25}
	out := Dedupe([]model.SearchResult{a, b})
	if len(out) != 1 || out[0].Seeds != 25 {
		t.Fatalf("expected single entry with seeds=25, got %+v", out)
	}
}

func TestDedupeIdempotent(t *testing.T) {
	xs := []model.SearchResult{
		{Infohash: "H1", Seeds: 3},
		{Infohash: "H1", Seeds: 9},
		{Link: "https://a.test/x", Title: "a"},
		{Link: "https://a.test/x", Title: "a-dup"},
	}
	once := Dedupe(xs)
	twice := Dedupe(once)
	if len(once) != len(twice) {
		t.Fatalf("not idempotent: %d vs %d", len(once), len(twice))
	}
	for i := range once {
		if once[i].IdentityKey() != twice[i].IdentityKey() {
			t.Fatalf("not idempotent at index %d", i)
		}
	}
}

func TestAggregationAcrossSources(t *testing.T) {
	r1 := model.SearchResult{
		Title:    "Acme Synth 2024 v3.1",
		Provider: "P1",
		Link:     "magnet:?xt=urn:btih:AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
		Seeds:    5,
	}
	r2 := model.SearchResult{
		Title:    "Acme Synth 2024 v3.1 macOS",
		Provider: "P2",
		Link:     "https://mega.nz/file/abc",
		Seeds:    0,
	}

	out := Aggregate(Dedupe([]model.SearchResult{r1, r2}))
	if len(out) != 1 {
		t.Fatalf("expected one aggregated item, got %d: %+v", len(out), out)
	}
	item := out[0]
	if len(item.AggregatedSources) != 2 {
		t.Fatalf("expected 2 aggregated sources, got %v", item.AggregatedSources)
	}
	if len(item.LinkCandidates) != 2 {
		t.Fatalf("expected 2 link candidates, got %d", len(item.LinkCandidates))
	}
	// Per the link-quality formula (seeds-only for magnets, host/path
	// signals for HTTP links), a bare 5-seed magnet scores lower than an
	// https mega.nz file link, so the mega link wins the merge here.
	if !strings.Contains(item.Link, "mega.nz") {
		t.Fatalf("expected mega.nz link to win on quality, got %s", item.Link)
	}
	if item.Provider != "P1 +1" {
		t.Fatalf("expected provider display 'P1 +1', got %q", item.Provider)
	}
}

func TestAggregationSeparatesDifferentVersions(t *testing.T) {
	r1 := model.SearchResult{Title: "Acme Synth 2023", Provider: "P1", Infohash: "A"}
	r2 := model.SearchResult{Title: "Acme Synth 2024", Provider: "P2", Infohash: "B"}
	out := Aggregate(Dedupe([]model.SearchResult{r1, r2}))
	if len(out) != 2 {
		t.Fatalf("expected results with different versions to stay separate, got %d", len(out))
	}
}

func TestLinkQualityMagnetAndHTTP(t *testing.T) {
	if q := LinkQuality("magnet:?xt=urn:btih:x", 6000, 600, 0); q != 5000+250 {
		t.Fatalf("expected capped magnet quality 5250, got %d", q)
	}
	plain := LinkQuality("http://example.com/a.zip", 0, 0, 0)
	secure := LinkQuality("https://example.com/a.zip", 0, 0, 0)
	if secure <= plain {
		t.Fatalf("expected https bonus to raise quality: http=%d https=%d", plain, secure)
	}
	rapidgator := LinkQuality("https://rapidgator.net/file/xyz.zip", 0, 0, 0)
	if rapidgator <= secure {
		t.Fatalf("expected host-weight bonus for rapidgator: base=%d weighted=%d", secure, rapidgator)
	}
}

func TestSortOrdering(t *testing.T) {
	results := []model.SearchResult{
		{Title: "Low seeds v1.0", Seeds: 1, LinkQuality: 100},
		{Title: "High seeds v1.0", Seeds: 50, LinkQuality: 10},
	}
	Sort(results)
	if results[0].Title != "High seeds v1.0" {
		t.Fatalf("expected seeds to dominate link quality, got order %+v", results)
	}
}

func TestSortStableOnTies(t *testing.T) {
	results := []model.SearchResult{
		{Title: "A", Seeds: 5, LinkQuality: 5, Size: 100},
		{Title: "B", Seeds: 5, LinkQuality: 5, Size: 100},
	}
	Sort(results)
	if results[0].Title != "A" || results[1].Title != "B" {
		t.Fatalf("expected stable order on equal keys, got %+v", results)
	}
}

func TestCircuitBreakerMonotonicity(t *testing.T) {
	reg := newHealthRegistry()
	now := time.Now()
	for i := 0; i < defaultCircuitFailureThreshold; i++ {
		reg.recordOutcome("flaky", false, time.Millisecond, "boom", 0, 0, now)
	}
	allowed, _ := reg.checkCircuit("flaky", now)
	if allowed {
		t.Fatalf("expected circuit to be open immediately after threshold failures")
	}
	allowed, _ = reg.checkCircuit("flaky", now.Add(30*time.Second))
	if allowed {
		t.Fatalf("expected circuit to remain open before cooldown elapses")
	}
	allowed, _ = reg.checkCircuit("flaky", now.Add(defaultCircuitCooldown+time.Second))
	if !allowed {
		t.Fatalf("expected half-open probe to be allowed after cooldown")
	}
}

func TestSearchEmptyQueryShortCircuits(t *testing.T) {
	c := New(nil, bus.New(nil), newTestCache(t), Config{})
	result, err := c.Search(context.Background(), "", 1, 20, Filters{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Results) != 0 {
		t.Fatalf("expected empty result for empty query, got %+v", result.Results)
	}
}

func TestSearchFastReturn(t *testing.T) {
	fast := &fakeProvider{name: "httpscrape", results: []model.SearchResult{{Title: "found", Link: "https://x.test/a"}}}
	slow := &fakeProvider{name: "slow", delay: 5 * time.Second, results: []model.SearchResult{{Title: "late", Link: "https://x.test/b"}}}

	c := New([]provider.Provider{fast, slow}, bus.New(nil), newTestCache(t), Config{
		EarlyReturnMinResults: 1,
		EarlyReturnSeconds:    0.1,
		PreferCompletion:      map[string]bool{},
	})

	start := time.Now()
	result, err := c.Search(context.Background(), "acme", 1, 20, Filters{WaitForAllSources: false, SourceTimeoutSeconds: 10})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed >= 2*time.Second {
		t.Fatalf("expected fast return under 2s, took %s", elapsed)
	}
	if len(result.Results) != 1 {
		t.Fatalf("expected exactly 1 result from fast provider, got %d", len(result.Results))
	}
	if !strings.Contains(result.SourceWarnings["slow"], "fast results") {
		t.Fatalf("expected slow provider warning to mention fast results, got %q", result.SourceWarnings["slow"])
	}
}

func TestSearchWaitForAllSourcesWaits(t *testing.T) {
	fast := &fakeProvider{name: "fast", results: []model.SearchResult{{Title: "a", Link: "https://x.test/a"}}}
	slow := &fakeProvider{name: "slow", delay: 150 * time.Millisecond, results: []model.SearchResult{{Title: "b", Link: "https://x.test/b"}}}

	c := New([]provider.Provider{fast, slow}, bus.New(nil), newTestCache(t), Config{
		EarlyReturnMinResults: 1,
		EarlyReturnSeconds:    0.01,
	})

	result, err := c.Search(context.Background(), "acme", 1, 20, Filters{WaitForAllSources: true, SourceTimeoutSeconds: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Results) != 2 {
		t.Fatalf("expected both providers' results when waitForAllSources, got %d: %+v", len(result.Results), result.Results)
	}
}

func TestSearchCacheHit(t *testing.T) {
	calls := 0
	countingProvider := &fakeProvider{name: "p", results: []model.SearchResult{{Title: "x", Link: "https://x.test/1"}}}
	c := New([]provider.Provider{countingProvider}, bus.New(nil), newTestCache(t), Config{})

	first, err := c.Search(context.Background(), "acme", 1, 20, Filters{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	calls = countingProvider.callCount

	second, err := c.Search(context.Background(), "acme", 1, 20, Filters{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if countingProvider.callCount != calls {
		t.Fatalf("expected cache hit to avoid re-invoking provider")
	}
	if len(first.Results) != len(second.Results) {
		t.Fatalf("expected cached result to match original")
	}
}

func TestFilterSignatureSortedAndStable(t *testing.T) {
	a := FilterSignature(map[string]string{"b": "2", "a": "1"})
	b := FilterSignature(map[string]string{"a": "1", "b": "2"})
	if a != b {
		t.Fatalf("expected signature independent of map iteration order: %q vs %q", a, b)
	}
}

// Package coordinator implements the fan-out search coordinator: per-provider
// circuit breaking and routing, retry/backoff, bounded-worker dispatch, fast
// return, deduplication, cross-provider aggregation, ranking, and a
// TTL-bounded result cache.
package coordinator

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"project-tachyon/internal/bus"
	"project-tachyon/internal/model"
	"project-tachyon/internal/provider"
)

// Config holds the tunables §4.5 leaves as implementation-defined knobs.
// Zero values fall back to the package defaults below.
type Config struct {
	MaxRetries             int
	RetryBackoffSeconds     float64
	CircuitFailureThreshold int
	CircuitCooldownSeconds  float64
	EarlyReturnMinResults   int
	EarlyReturnSeconds      float64
	PreferCompletion        map[string]bool
	CacheCapacity           int
	CacheTTLSeconds         float64
}

var defaultPreferCompletion = map[string]bool{
	"httpscrape":    true,
	"opendirectory": true,
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.RetryBackoffSeconds <= 0 {
		c.RetryBackoffSeconds = 0.5
	}
	if c.CircuitFailureThreshold <= 0 {
		c.CircuitFailureThreshold = defaultCircuitFailureThreshold
	}
	if c.CircuitCooldownSeconds <= 0 {
		c.CircuitCooldownSeconds = defaultCircuitCooldown.Seconds()
	}
	if c.EarlyReturnMinResults <= 0 {
		c.EarlyReturnMinResults = 5
	}
	if c.EarlyReturnSeconds <= 0 {
		c.EarlyReturnSeconds = 2.5
	}
	if c.PreferCompletion == nil {
		c.PreferCompletion = defaultPreferCompletion
	}
	return c
}

// Filters mirrors the recognized filter set of spec §4.5.1.
type Filters struct {
	MinSeeds             int
	SizeMinGB            float64
	SizeMaxGB            float64
	EnabledSources       []string
	WaitForAllSources    bool
	SourceTimeoutSeconds float64
	CacheBust            bool
}

func (f Filters) signature() string {
	m := map[string]string{
		"minSeeds":          strconv.Itoa(f.MinSeeds),
		"sizeMinGB":         strconv.FormatFloat(f.SizeMinGB, 'f', -1, 64),
		"sizeMaxGB":         strconv.FormatFloat(f.SizeMaxGB, 'f', -1, 64),
		"waitForAllSources": strconv.FormatBool(f.WaitForAllSources),
	}
	if len(f.EnabledSources) > 0 {
		sorted := append([]string(nil), f.EnabledSources...)
		sort.Strings(sorted)
		m["enabledSources"] = strings.Join(sorted, "+")
	}
	return FilterSignature(m)
}

// Result is the full envelope of a completed search, matching the
// SEARCH_COMPLETED payload of spec §4.5.1.
type Result struct {
	Results        []model.SearchResult `json:"results"`
	Count          int                   `json:"count"`
	Total          int                   `json:"total"`
	SourceWarnings map[string]string     `json:"sourceWarnings"`
	SourceHealth   map[string]SourceHealth `json:"sourceHealth"`
}

// Coordinator owns the provider registry, health table, and result cache for
// one search surface.
type Coordinator struct {
	cfg       Config
	bus       *bus.Bus
	health    *healthRegistry
	cache     *SearchCache
	providers []provider.Provider
}

// New builds a Coordinator. providers is the full registered set; enable
// state is applied per-call via filters.EnabledSources, not at construction.
func New(providers []provider.Provider, eventBus *bus.Bus, cache *SearchCache, cfg Config) *Coordinator {
	return &Coordinator{
		cfg:       cfg.withDefaults(),
		bus:       eventBus,
		health:    newHealthRegistry(),
		cache:     cache,
		providers: providers,
	}
}

// Health returns a snapshot of every provider's current health record.
func (c *Coordinator) Health() map[string]SourceHealth {
	return c.health.all()
}

// InvalidateCache drops every cached page. Call after a settings reload that
// changes provider enable state, per spec §4.5.11.
func (c *Coordinator) InvalidateCache() error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Invalidate()
}

type taskOutcome struct {
	provider string
	results  []model.SearchResult
	warning  string
	attempts int
	latency  time.Duration
	ok       bool
}

// SourceProgress is one incremental per-provider status update, reported to
// an optional ProgressFunc as each provider's task settles (completes,
// times out, is skipped by the circuit breaker, or is cut off by fast
// return). It mirrors the per-source status map of the search-job facade.
type SourceProgress struct {
	Status    string // "done" | "error" | "timeout" | "cancelled" | "skipped"
	Warning   string
	ElapsedMs int64
	Attempts  int
	Count     int
}

// ProgressFunc receives one SourceProgress update per provider outcome.
type ProgressFunc func(provider string, status SourceProgress)

// Search runs the full pipeline of spec §4.5.1.
func (c *Coordinator) Search(ctx context.Context, query string, page, perPage int, filters Filters) (Result, error) {
	return c.search(ctx, query, page, perPage, filters, nil)
}

// SearchWithProgress runs the same pipeline as Search but additionally
// invokes onProgress once per provider as its task settles, letting a caller
// (the search-job facade) maintain a live per-source status map instead of
// only seeing the final aggregated Result.
func (c *Coordinator) SearchWithProgress(ctx context.Context, query string, page, perPage int, filters Filters, onProgress ProgressFunc) (Result, error) {
	return c.search(ctx, query, page, perPage, filters, onProgress)
}

func (c *Coordinator) search(ctx context.Context, query string, page, perPage int, filters Filters, onProgress ProgressFunc) (Result, error) {
	if strings.TrimSpace(query) == "" {
		return Result{SourceWarnings: map[string]string{}, SourceHealth: map[string]SourceHealth{}}, nil
	}

	sig := filters.signature()
	if !filters.CacheBust && c.cache != nil {
		if cached, ok := c.cache.Get(query, page, sig); ok {
			return Result{
				Results:        cached,
				Count:          len(cached),
				Total:          len(cached),
				SourceWarnings: map[string]string{},
				SourceHealth:   c.health.all(),
			}, nil
		}
	}

	if c.bus != nil {
		c.bus.Emit(bus.SearchStarted, map[string]any{"query": query, "page": page})
	}

	candidates := c.selectCandidates(filters.EnabledSources)
	c.orderByRoutingScore(candidates)

	warnings := make(map[string]string)
	now := time.Now()

	var runnable []provider.Provider
	for _, p := range candidates {
		allowed, remaining := c.health.checkCircuit(p.Name(), now)
		if !allowed {
			reason := fmt.Sprintf("Circuit open for %s, retrying in %ds", p.Name(), int(remaining.Seconds())+1)
			warnings[p.Name()] = reason
			if onProgress != nil {
				onProgress(p.Name(), SourceProgress{Status: "skipped", Warning: reason})
			}
			continue
		}
		runnable = append(runnable, p)
	}

	globalDeadline := filters.SourceTimeoutSeconds
	if globalDeadline <= 0 {
		globalDeadline = 15
	}
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(globalDeadline*float64(time.Second)))
	defer cancel()

	outcomes, timedOutOrSkipped := c.dispatch(runCtx, runnable, query, page, filters, onProgress)
	for name, reason := range timedOutOrSkipped {
		warnings[name] = reason
	}

	var all []model.SearchResult
	for _, o := range outcomes {
		all = append(all, o.results...)
		if o.warning != "" {
			warnings[o.provider] = o.warning
		}
	}

	deduped := Dedupe(all)
	aggregated := Aggregate(deduped)
	filtered := applyNumericFilters(aggregated, filters)
	Sort(filtered)

	total := len(filtered)
	pageSlice := paginate(filtered, page, perPage)

	if c.cache != nil {
		_ = c.cache.Put(query, page, sig, pageSlice)
	}

	result := Result{
		Results:        pageSlice,
		Count:          len(pageSlice),
		Total:          total,
		SourceWarnings: warnings,
		SourceHealth:   c.health.all(),
	}
	if c.bus != nil {
		c.bus.Emit(bus.SearchCompleted, result)
	}
	return result, nil
}

// ProviderNames returns the names of the providers that would be selected
// for the given enabled-source filter, in registration order. Callers that
// need to seed a per-source status map (the search-job facade) before
// dispatch use this instead of duplicating the enable-set logic.
func (c *Coordinator) ProviderNames(enabled []string) []string {
	candidates := c.selectCandidates(enabled)
	names := make([]string, len(candidates))
	for i, p := range candidates {
		names[i] = p.Name()
	}
	return names
}

func (c *Coordinator) selectCandidates(enabled []string) []provider.Provider {
	if len(enabled) == 0 {
		return append([]provider.Provider(nil), c.providers...)
	}
	allow := make(map[string]bool, len(enabled))
	for _, name := range enabled {
		allow[name] = true
	}
	var out []provider.Provider
	for _, p := range c.providers {
		if allow[p.Name()] {
			out = append(out, p)
		}
	}
	return out
}

func (c *Coordinator) orderByRoutingScore(providers []provider.Provider) {
	sort.SliceStable(providers, func(i, j int) bool {
		hi := c.health.get(providers[i].Name())
		hj := c.health.get(providers[j].Name())
		return routingScore(hi) > routingScore(hj)
	})
}

// dispatch submits runnable providers to a bounded worker pool, each call
// wrapped in retry/backoff, and consumes completions until fast-return or
// the context deadline. There is no separate per-task timeout: every task
// runs under ctx, so a task is cut off only by ctx's deadline or by
// fast-return cancelling the remaining tasks. It returns completed outcomes
// and a map of provider name to the warning assigned to any task that never
// completed (fast-skipped, timed out, or never started).
func (c *Coordinator) dispatch(ctx context.Context, providers []provider.Provider, query string, page int, filters Filters, onProgress ProgressFunc) ([]taskOutcome, map[string]string) {
	if len(providers) == 0 {
		return nil, nil
	}

	poolSize := len(providers)
	if poolSize > 8 {
		poolSize = 8
	}
	if poolSize < 2 {
		poolSize = 2
	}
	if poolSize > len(providers) {
		poolSize = len(providers)
	}

	taskCtx, cancelTasks := context.WithCancel(ctx)
	defer cancelTasks()

	jobs := make(chan provider.Provider, len(providers))
	for _, p := range providers {
		jobs <- p
	}
	close(jobs)

	completions := make(chan taskOutcome, len(providers))
	var wg sync.WaitGroup
	for i := 0; i < poolSize; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				completions <- c.runWithRetry(taskCtx, p, query, page)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(completions)
	}()

	pending := make(map[string]bool, len(providers))
	for _, p := range providers {
		pending[p.Name()] = true
	}

	start := time.Now()
	var outcomes []taskOutcome
	warnings := make(map[string]string)

	pollInterval := 50 * time.Millisecond
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for len(pending) > 0 {
		select {
		case o, ok := <-completions:
			if !ok {
				pending = map[string]bool{}
				continue
			}
			delete(pending, o.provider)
			outcomes = append(outcomes, o)
			if c.bus != nil {
				c.bus.Emit(bus.SearchProgress, map[string]any{
					"provider": o.provider, "ok": o.ok, "count": len(o.results),
					"elapsed_ms": o.latency.Milliseconds(),
				})
			}
			if onProgress != nil {
				status := "done"
				if !o.ok {
					status = "error"
				}
				onProgress(o.provider, SourceProgress{Status: status, Warning: o.warning, ElapsedMs: o.latency.Milliseconds(), Attempts: o.attempts, Count: len(o.results)})
			}
		case <-ticker.C:
			if c.shouldFastReturn(len(pending), outcomes, pending, start, filters) {
				cancelTasks()
				for name := range pending {
					reason := fmt.Sprintf("%s skipped for fast results", name)
					warnings[name] = reason
					if onProgress != nil {
						onProgress(name, SourceProgress{Status: "skipped", Warning: reason})
					}
				}
				return outcomes, warnings
			}
		case <-ctx.Done():
			for name := range pending {
				reason := fmt.Sprintf("%s timed out after %ds", name, int(time.Since(start).Seconds()))
				warnings[name] = reason
				if onProgress != nil {
					onProgress(name, SourceProgress{Status: "timeout", Warning: reason})
				}
			}
			return outcomes, warnings
		}
	}
	return outcomes, warnings
}

func (c *Coordinator) shouldFastReturn(pendingCount int, outcomes []taskOutcome, pending map[string]bool, start time.Time, filters Filters) bool {
	if filters.WaitForAllSources {
		return false
	}
	if pendingCount == 0 {
		return false
	}
	resultCount := 0
	for _, o := range outcomes {
		resultCount += len(o.results)
	}
	if resultCount < c.cfg.EarlyReturnMinResults {
		return false
	}
	if time.Since(start).Seconds() < c.cfg.EarlyReturnSeconds {
		return false
	}
	for name := range pending {
		if c.cfg.PreferCompletion[name] {
			return false
		}
	}
	return true
}

// runWithRetry executes one provider call with up to maxRetries+1 attempts,
// retrying on error or an "empty-warning" (non-empty LastError with zero
// results), per spec §4.5.5.
func (c *Coordinator) runWithRetry(ctx context.Context, p provider.Provider, query string, page int) taskOutcome {
	var lastErr error
	var results []model.SearchResult
	attempts := 0
	start := time.Now()

	for i := 0; i <= c.cfg.MaxRetries; i++ {
		attempts++
		select {
		case <-ctx.Done():
			return c.finishOutcome(p, nil, "cancelled", attempts, time.Since(start), false)
		default:
		}

		results, lastErr = p.Search(ctx, query, page)
		if lastErr == nil && !(len(results) == 0 && p.LastError() != "") {
			return c.finishOutcome(p, results, "", attempts, time.Since(start), true)
		}
		if i < c.cfg.MaxRetries {
			backoff := time.Duration(c.cfg.RetryBackoffSeconds*float64(time.Second)) * time.Duration(1<<uint(i))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return c.finishOutcome(p, nil, "cancelled", attempts, time.Since(start), false)
			}
		}
	}

	warning := p.LastError()
	if warning == "" && lastErr != nil {
		warning = lastErr.Error()
	}
	return c.finishOutcome(p, results, warning, attempts, time.Since(start), false)
}

func (c *Coordinator) finishOutcome(p provider.Provider, results []model.SearchResult, warning string, attempts int, latency time.Duration, ok bool) taskOutcome {
	c.health.recordOutcome(p.Name(), ok, latency, warning, c.cfg.CircuitFailureThreshold, time.Duration(c.cfg.CircuitCooldownSeconds*float64(time.Second)), time.Now())
	return taskOutcome{
		provider: p.Name(),
		results:  results,
		warning:  warning,
		attempts: attempts,
		latency:  latency,
		ok:       ok,
	}
}

func applyNumericFilters(results []model.SearchResult, filters Filters) []model.SearchResult {
	if filters.MinSeeds <= 0 && filters.SizeMinGB <= 0 && filters.SizeMaxGB <= 0 {
		return results
	}
	out := make([]model.SearchResult, 0, len(results))
	for _, r := range results {
		if filters.MinSeeds > 0 && r.Seeds < filters.MinSeeds {
			continue
		}
		sizeGB := float64(r.Size) / (1000 * 1000 * 1000)
		if filters.SizeMinGB > 0 && sizeGB < filters.SizeMinGB {
			continue
		}
		if filters.SizeMaxGB > 0 && sizeGB > filters.SizeMaxGB {
			continue
		}
		out = append(out, r)
	}
	return out
}

func paginate(results []model.SearchResult, page, perPage int) []model.SearchResult {
	if perPage <= 0 {
		perPage = 20
	}
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * perPage
	if start >= len(results) {
		return []model.SearchResult{}
	}
	end := start + perPage
	if end > len(results) {
		end = len(results)
	}
	return results[start:end]
}

package opendirectory

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"project-tachyon/internal/model"
	"project-tachyon/internal/provider"
)

// Provider is the open-directory crawler search source.
type Provider struct {
	cfg     Config
	fetcher *quirkFetcher

	mu          sync.Mutex
	lastError   string
	hostLimiter map[string]*rate.Limiter
}

// limiterFor returns the shared per-host request limiter, creating one at
// rps the first time host is seen. Recursive subdirectory descent can issue
// many requests to the same seed host in a burst; this keeps them under the
// configured per-host budget.
func (p *Provider) limiterFor(host string, rps float64) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.hostLimiter == nil {
		p.hostLimiter = make(map[string]*rate.Limiter)
	}
	l, ok := p.hostLimiter[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(rps), 1)
		p.hostLimiter[host] = l
	}
	return l
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}

func New(cfg Config) *Provider {
	cfg = cfg.withDefaults()
	return &Provider{cfg: cfg, fetcher: newQuirkFetcher(cfg.InsecureHosts)}
}

func (p *Provider) Name() string { return "opendirectory" }

func (p *Provider) LastError() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastError
}

func (p *Provider) setLastError(msg string) {
	p.mu.Lock()
	p.lastError = msg
	p.mu.Unlock()
}

func (p *Provider) Search(ctx context.Context, query string, page int) ([]model.SearchResult, error) {
	p.setLastError("")
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	limits := p.cfg.Limits
	start := time.Now()

	var results []model.SearchResult
	var warnings []string

	// 1. Targeted plugin-path probes.
	probesDone := 0
	for _, seed := range p.cfg.Seeds {
		if probesDone >= 2 {
			break
		}
		for _, probe := range targetedProbeURLs(seed, query) {
			if probesDone >= 2 {
				break
			}
			probesDone++
			found, err := p.crawlPage(ctx, probe, query, 0, limits)
			if err != nil {
				continue
			}
			results = append(results, found...)
			if len(found) > 0 {
				break
			}
		}
		if len(results) > 0 {
			break
		}
	}

	// 2. Crawl each seed, depth-bounded.
	if len(results) < limits.FastReturnMinResults || time.Since(start).Seconds() < limits.FastReturnSeconds {
		for _, seed := range p.cfg.Seeds {
			found, err := p.crawlPage(ctx, seed, query, limits.MaxDepth, limits)
			if err != nil {
				warnings = append(warnings, err.Error())
				continue
			}
			results = append(results, found...)
			if p.fastReturn(results, start, limits) {
				break
			}
		}
	}

	// 2b. Search-engine discovery.
	if p.cfg.SearchEngineDiscovery && !p.fastReturn(results, start, limits) {
		candidates := p.discover(ctx, query, limits)
		for _, candidate := range candidates {
			found, err := p.crawlPage(ctx, candidate, query, 0, limits)
			if err != nil {
				continue
			}
			results = append(results, found...)
			if p.fastReturn(results, start, limits) {
				break
			}
		}
	}

	if len(warnings) > 0 {
		p.setLastError(strings.Join(warnings, "; "))
	}

	deduped := dedupeByLowercaseURL(results)
	if len(deduped) > limits.MaxResults {
		deduped = deduped[:limits.MaxResults]
	}
	return deduped, nil
}

func (p *Provider) fastReturn(results []model.SearchResult, start time.Time, limits Limits) bool {
	return len(results) >= limits.FastReturnMinResults && time.Since(start).Seconds() >= limits.FastReturnSeconds
}

func (p *Provider) discover(ctx context.Context, query string, limits Limits) []string {
	dork := buildDork(query, p.cfg.FileExtensions)
	var all []string
	for _, template := range p.cfg.SearchEngineTemplates {
		engineURL := strings.ReplaceAll(template, "{query}", dork)
		if err := p.limiterFor(hostOf(engineURL), limits.RequestsPerSecond).Wait(ctx); err != nil {
			continue
		}
		body, err := p.fetcher.fetch(ctx, engineURL, time.Duration(limits.RequestTimeoutSeconds*float64(time.Second)))
		if err != nil {
			continue
		}
		all = append(all, discoverCandidates(body, p.cfg.AllowedDomains, limits.MaxCandidatePages)...)
		if len(all) >= limits.MaxCandidatePages {
			break
		}
	}
	if len(all) > limits.MaxCandidatePages {
		all = all[:limits.MaxCandidatePages]
	}
	return all
}

// crawlPage fetches one directory-listing page and, if depth > 0, recurses
// into discovered subdirectories up to depth levels.
func (p *Provider) crawlPage(ctx context.Context, pageURL, query string, depth int, limits Limits) ([]model.SearchResult, error) {
	if p.excluded(pageURL) {
		return nil, nil
	}
	body, err := p.fetchWithRetry(ctx, pageURL, limits)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	pageTitle := strings.TrimSpace(doc.Find("title").First().Text())

	anchors := classifyAnchors(doc, pageURL, p.cfg.FileExtensions)

	var files []model.SearchResult
	var directories []classifiedAnchor
	for _, a := range anchors {
		switch a.kind {
		case kindFile:
			if p.cfg.SizeCapBytes > 0 && a.size > p.cfg.SizeCapBytes {
				continue
			}
			files = append(files, toSearchResult(a, pageTitle))
		case kindDirectory:
			if queryTokenMatches(query, a.text, pageTitle) || depth > 0 {
				directories = append(directories, a)
			}
		}
	}

	if len(files) == 0 && len(directories) > 0 {
		limit := len(directories)
		if limit > 8 {
			limit = 8
		}
		for _, d := range directories[:limit] {
			files = append(files, model.SearchResult{
				Title:    "Descend into " + d.text,
				Link:     d.url,
				Provider: "opendirectory",
				Category: "directory",
			})
		}
	}

	if depth > 0 {
		limit := len(directories)
		if limit > limits.MaxSubdirsPerPage {
			limit = limits.MaxSubdirsPerPage
		}
		for _, d := range directories[:limit] {
			nested, err := p.crawlPage(ctx, d.url, query, depth-1, limits)
			if err == nil {
				files = append(files, nested...)
			}
		}
	}

	return files, nil
}

func (p *Provider) excluded(rawURL string) bool {
	for _, pattern := range p.cfg.ExcludePathPatterns {
		if pattern != "" && strings.Contains(rawURL, pattern) {
			return true
		}
	}
	return false
}

func (p *Provider) fetchWithRetry(ctx context.Context, rawURL string, limits Limits) (string, error) {
	var lastErr error
	timeout := time.Duration(limits.RequestTimeoutSeconds * float64(time.Second))
	backoff := time.Duration(limits.RetryBackoffSeconds * float64(time.Second))

	for attempt := 0; attempt <= limits.RequestRetries; attempt++ {
		if err := p.limiterFor(hostOf(rawURL), limits.RequestsPerSecond).Wait(ctx); err != nil {
			return "", err
		}
		body, err := p.fetcher.fetch(ctx, rawURL, timeout)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if attempt < limits.RequestRetries {
			select {
			case <-time.After(backoff * time.Duration(attempt+1)):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", lastErr
}

func dedupeByLowercaseURL(results []model.SearchResult) []model.SearchResult {
	seen := make(map[string]bool, len(results))
	out := make([]model.SearchResult, 0, len(results))
	for _, r := range results {
		key := strings.ToLower(r.Link)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

var _ provider.Provider = (*Provider)(nil)

// Package httpscrape implements the HTTP-scraping search provider of spec
// §4.6: template-driven listing/detail crawling, a domain-adapter dispatch,
// redirect-wrapper decoding, a download-link classifier, and an opt-in
// headless-browser fallback hook.
package httpscrape

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"project-tachyon/internal/model"
	"project-tachyon/internal/provider"
)

// HeadlessFetcher is the optional fallback hook of spec §4.6.7. No browser
// automation library ships in this module's dependency set (see DESIGN.md);
// Provider probes for this interface and simply skips the fallback step when
// it is nil, which is exactly the spec's "runtime missing -> auto-disable"
// behavior.
type HeadlessFetcher interface {
	Render(ctx context.Context, rawURL string, timeout time.Duration) (html, finalURL string, err error)
}

// Provider is the HTTP-scraping search source.
type Provider struct {
	cfg       Config
	fetcher   fetcher
	headless  HeadlessFetcher
	health    *healthTable
	cache     *templateCache

	mu          sync.Mutex
	lastError   string
	hostLimiter map[string]*rate.Limiter
}

// limiterFor returns the shared per-host request limiter, creating one at
// rps the first time host is seen. One host can be scraped for both its
// listing page and many detail pages concurrently; this keeps the combined
// rate under the configured per-host budget regardless of which call site
// is asking.
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

// New builds a Provider. headless may be nil (fallback disabled).
func New(cfg Config, headless HeadlessFetcher) *Provider {
	cfg = cfg.withDefaults()
	return &Provider{
		cfg:      cfg,
		fetcher:  newHTTPFetcher(),
		headless: headless,
		health:   newHealthTable(),
		cache:    newTemplateCache(cfg.CacheTTL),
	}
}

func (p *Provider) Name() string { return "httpscrape" }

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

// RuntimeStatus reports per-template health, satisfying
// provider.RuntimeStatusReporter.
func (p *Provider) RuntimeStatus() map[string]any {
	out := make(map[string]any)
	for template, h := range p.health.snapshot() {
		out[template] = h
	}
	return out
}

func (p *Provider) Search(ctx context.Context, query string, page int) ([]model.SearchResult, error) {
	p.setLastError("")
	if !p.cfg.Enabled || strings.TrimSpace(query) == "" || len(p.cfg.Templates) == 0 {
		return nil, nil
	}

	var all []model.SearchResult
	var warnings []string

	for _, template := range p.cfg.Templates {
		results, err := p.searchTemplate(ctx, template, query)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", template, err))
			continue
		}
		all = append(all, results...)
	}

	if len(warnings) > 0 {
		p.setLastError(strings.Join(warnings, "; "))
	}
	return all, nil
}

func (p *Provider) searchTemplate(ctx context.Context, template, query string) ([]model.SearchResult, error) {
	pageURL := strings.ReplaceAll(template, "{query}", url.QueryEscape(query))
	cacheKey := template + "|" + query

	if cached, stale, ok := p.cache.get(cacheKey); ok {
		if !stale {
			return cached, nil
		}
		if p.cfg.AllowStaleCache {
			if p.cfg.BackgroundRefresh {
				go p.refreshTemplate(context.Background(), template, query, cacheKey)
			}
			return cached, nil
		}
	}

	start := time.Now()
	results, err := p.fetchAndParse(ctx, pageURL, query)
	if err != nil {
		p.health.record(template, false, 0, err.Error())
		return nil, err
	}
	p.health.record(template, len(results) > 0, time.Since(start), "")
	p.cache.put(cacheKey, results)
	return results, nil
}

func (p *Provider) refreshTemplate(ctx context.Context, template, query, cacheKey string) {
	pageURL := strings.ReplaceAll(template, "{query}", url.QueryEscape(query))
	if results, err := p.fetchAndParse(ctx, pageURL, query); err == nil {
		p.cache.put(cacheKey, results)
	}
}

func (p *Provider) fetchAndParse(ctx context.Context, pageURL, query string) ([]model.SearchResult, error) {
	host := hostOf(pageURL)
	limits := p.cfg.limitsFor(host)

	if err := p.limiterFor(host, limits.RequestsPerSecond).Wait(ctx); err != nil {
		return nil, err
	}
	body, err := fetchWithRetry(ctx, p.fetcher, pageURL, time.Duration(limits.RequestTimeoutSeconds*float64(time.Second)), p.cfg.RetryBackoff, p.cfg.Retries)
	if err != nil {
		return nil, err
	}
	doc, err := parseHTML(body)
	if err != nil {
		return nil, err
	}

	var results []model.SearchResult
	results = append(results, ExtractMagnetAnchors(doc)...)

	adapter := SelectAdapter(host)
	detailURLs := adapter.ParseListing(doc, pageURL, query, limits.DetailMaxPages*limits.LinksPerDetail)

	detailResults := p.crawlDetails(ctx, adapter, detailURLs, limits)
	results = append(results, detailResults...)

	if len(results) == 0 && DetectGatedContent(doc.Text()) {
		return nil, fmt.Errorf("gated content detected")
	}

	return results, nil
}

func (p *Provider) crawlDetails(ctx context.Context, adapter Adapter, detailURLs []string, limits SourceLimits) []model.SearchResult {
	if len(detailURLs) == 0 {
		return nil
	}
	deadline := time.Now().Add(time.Duration(limits.TimeBudgetSeconds * float64(time.Second)))
	crawlCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	sem := make(chan struct{}, limits.DetailConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var out []model.SearchResult

	for _, detailURL := range detailURLs {
		if crawlCtx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(detailURL string) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := p.limiterFor(hostOf(detailURL), limits.RequestsPerSecond).Wait(crawlCtx); err != nil {
				return
			}
			body, err := fetchWithRetry(crawlCtx, p.fetcher, detailURL, time.Duration(limits.RequestTimeoutSeconds*float64(time.Second)), p.cfg.RetryBackoff, p.cfg.Retries)
			if err != nil {
				return
			}
			doc, err := parseHTML(body)
			if err != nil {
				return
			}
			title, links := adapter.ParseDetail(doc, detailURL)

			if len(links) == 0 && p.headless != nil {
				html, finalURL, err := p.headless.Render(crawlCtx, detailURL, time.Duration(limits.PlaywrightTimeoutSeconds*float64(time.Second)))
				if err == nil {
					if renderedDoc, parseErr := parseHTML(html); parseErr == nil {
						title, links = adapter.ParseDetail(renderedDoc, finalURL)
					}
				}
			}

			mu.Lock()
			for _, link := range links {
				out = append(out, model.SearchResult{
					Title:    title,
					Link:     link,
					Infohash: model.ExtractInfohash(link),
					Provider: "httpscrape",
				})
			}
			mu.Unlock()
		}(detailURL)
	}
	wg.Wait()
	return out
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return parsed.Host
}

var _ provider.RuntimeStatusReporter = (*Provider)(nil)
var _ provider.Provider = (*Provider)(nil)

// Package torrentindex implements a mirror-rotation torrent index search
// source: a JSON API is tried first for reliability, falling back to
// rotating through HTML mirrors when the API is unavailable or empty.
package torrentindex

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"project-tachyon/internal/model"
	"project-tachyon/internal/network"
	"project-tachyon/internal/provider"
)

// Provider is one mirror-rotation torrent index source.
type Provider struct {
	name         string
	mirrors      []string
	apiEndpoints []string
	client       *http.Client
	timeout      time.Duration

	mu         sync.Mutex
	baseURL    string
	lastError  string
	settingsFn SettingsReader
	speedCache *network.SpeedTestCache
}

// SetSpeedCache attaches a shared network speed-test cache. When set,
// RuntimeStatus includes the last measured throughput and triggers a
// background refresh, so operators troubleshooting a slow mirror can see
// whether the bottleneck is local bandwidth rather than this source.
func (p *Provider) SetSpeedCache(c *network.SpeedTestCache) {
	p.mu.Lock()
	p.speedCache = c
	p.mu.Unlock()
}

// SettingsReader reads the custom mirror/API-endpoint overrides for this
// source out of the settings provider.
type SettingsReader func() (customMirrors, customAPI []string)

func New(cfg Config, settingsFn SettingsReader) *Provider {
	cfg = cfg.withDefaults()
	p := &Provider{
		name:         cfg.Name,
		mirrors:      cfg.Mirrors,
		apiEndpoints: cfg.APIEndpoints,
		client:       &http.Client{},
		timeout:      time.Duration(cfg.RequestTimeoutMs) * time.Millisecond,
		settingsFn:   settingsFn,
	}
	if len(cfg.CustomMirrors) > 0 {
		p.mirrors = mergeOrdered(cfg.CustomMirrors, cfg.Mirrors)
	}
	if len(cfg.CustomAPI) > 0 {
		p.apiEndpoints = mergeOrdered(cfg.CustomAPI, cfg.APIEndpoints)
	}
	p.baseURL = p.mirrors[0]
	return p
}

func (p *Provider) Name() string { return p.name }

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

// ReloadFromSettings re-reads custom mirror/API-endpoint overrides and merges
// them ahead of the baseline lists, per the settings provider's "merge
// required source URL lists with persisted custom entries" rule.
func (p *Provider) ReloadFromSettings(ctx context.Context) error {
	if p.settingsFn == nil {
		return nil
	}
	customMirrors, customAPI := p.settingsFn()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mirrors = mergeOrdered(customMirrors, defaultMirrors)
	p.apiEndpoints = mergeOrdered(customAPI, defaultAPIEndpoints)
	found := false
	for _, m := range p.mirrors {
		if m == p.baseURL {
			found = true
			break
		}
	}
	if !found && len(p.mirrors) > 0 {
		p.baseURL = p.mirrors[0]
	}
	return nil
}

func (p *Provider) RuntimeStatus() map[string]any {
	p.mu.Lock()
	status := map[string]any{
		"active_mirror": p.baseURL,
		"mirror_count":  len(p.mirrors),
	}
	cache := p.speedCache
	p.mu.Unlock()

	if cache != nil {
		cache.RefreshAsync()
		if result, err, running := cache.Snapshot(); result != nil || err != nil || running {
			speed := map[string]any{"running": running}
			if result != nil {
				speed["download_mbps"] = result.DownloadSpeed
				speed["upload_mbps"] = result.UploadSpeed
				speed["ping_ms"] = result.Ping
				speed["measured_at"] = result.Timestamp
			}
			if err != nil {
				speed["error"] = err.Error()
			}
			status["network_speed"] = speed
		}
	}
	return status
}

func (p *Provider) Search(ctx context.Context, query string, page int) ([]model.SearchResult, error) {
	p.setLastError("")
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	if results := p.searchViaAPI(ctx, query); len(results) > 0 {
		return results, nil
	}

	pageNum := page - 1
	if pageNum < 0 {
		pageNum = 0
	}
	encodedQuery := url.QueryEscape(query)

	p.mu.Lock()
	mirrorOrder := append([]string{p.baseURL}, filterNot(p.mirrors, p.baseURL)...)
	p.mu.Unlock()

	var lastErr error
	for _, mirror := range mirrorOrder {
		searchURL := fmt.Sprintf("%s/search/%s/%d/99/0", mirror, encodedQuery, pageNum)
		body, err := p.get(ctx, searchURL, "text/html,application/xhtml+xml,application/xml")
		if err != nil {
			lastErr = err
			continue
		}
		if looksBlocked(body) {
			lastErr = fmt.Errorf("mirror %s returned a parked or bot-protection page", mirror)
			continue
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
		if err != nil {
			lastErr = err
			continue
		}
		results := parseHTMLRows(doc, p.name)
		if len(results) > 0 {
			p.mu.Lock()
			p.baseURL = mirror
			p.mu.Unlock()
			return results, nil
		}
	}

	if lastErr != nil {
		p.setLastError(fmt.Sprintf("all %s mirrors failed: %v", p.name, lastErr))
	}
	return nil, nil
}

func (p *Provider) searchViaAPI(ctx context.Context, query string) []model.SearchResult {
	encodedQuery := url.QueryEscape(query)
	p.mu.Lock()
	endpoints := append([]string(nil), p.apiEndpoints...)
	p.mu.Unlock()

	var lastErr error
	for _, base := range endpoints {
		apiURL := fmt.Sprintf("%s/q.php?q=%s", base, encodedQuery)
		body, err := p.get(ctx, apiURL, "application/json,text/plain,*/*")
		if err != nil {
			lastErr = err
			continue
		}
		results := parseAPIRows([]byte(body), p.name)
		if len(results) > 0 {
			return results
		}
	}
	if lastErr != nil {
		p.setLastError(fmt.Sprintf("%s API failed: %v", p.name, lastErr))
	}
	return nil
}

func (p *Provider) get(ctx context.Context, rawURL, accept string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", accept)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("http %d fetching %s", resp.StatusCode, rawURL)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func filterNot(values []string, exclude string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != exclude {
			out = append(out, v)
		}
	}
	return out
}

var _ provider.Provider = (*Provider)(nil)
var _ provider.Reloadable = (*Provider)(nil)
var _ provider.RuntimeStatusReporter = (*Provider)(nil)

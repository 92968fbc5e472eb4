// Package indexeragg implements a search source that queries a locally
// hosted indexer-manager service (a Prowlarr-shaped aggregator sitting in
// front of many indexers) over its JSON API.
package indexeragg

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"project-tachyon/internal/model"
	"project-tachyon/internal/provider"
)

// json is the indexer-manager response decoder. The aggregator's payloads
// are the hottest JSON path in the search fan-out (one decode per query,
// covering the rows of every indexer searched), so this trades the stdlib decoder for json-iterator's
// faster one while keeping an identical Marshal/Unmarshal surface.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config configures the indexer-manager client.
type Config struct {
	Name                 string
	BaseURL              string
	APIKey               string
	TimeoutSeconds       float64
	Limit                int
	IndexerIDs           []int
	CategoryIDs          []int
	AutoFetchAPIKey      bool
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "indexer-aggregator"
	}
	if c.BaseURL == "" {
		c.BaseURL = "http://127.0.0.1:9696"
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 12
	}
	if c.Limit <= 0 {
		c.Limit = 100
	}
	return c
}

// Provider is a JSON client against a local indexer-manager service.
type Provider struct {
	cfg    Config
	client *http.Client

	mu        sync.Mutex
	apiKey    string
	lastError string
}

func New(cfg Config) *Provider {
	cfg = cfg.withDefaults()
	return &Provider{cfg: cfg, client: &http.Client{}, apiKey: cfg.APIKey}
}

func (p *Provider) Name() string { return p.cfg.Name }

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

type indexerRow struct {
	Title           string `json:"title"`
	ReleaseTitle    string `json:"releaseTitle"`
	MagnetURL       string `json:"magnetUrl"`
	GUID            string `json:"guid"`
	DownloadURL     string `json:"downloadUrl"`
	Size            int64  `json:"size"`
	Seeders         int    `json:"seeders"`
	Seed            int    `json:"seed"`
	Leechers        int    `json:"leechers"`
	Leech           int    `json:"leech"`
	Indexer         string `json:"indexer"`
	IndexerName     string `json:"indexerName"`
	CategoryDesc    string `json:"categoryDesc"`
	Category        string `json:"category"`
	PublishDate     string `json:"publishDate"`
	PublishDateUTC  string `json:"publishDateUtc"`
}

func (p *Provider) Search(ctx context.Context, query string, page int) ([]model.SearchResult, error) {
	p.setLastError("")
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	p.mu.Lock()
	baseURL := p.cfg.BaseURL
	p.mu.Unlock()
	if baseURL == "" {
		p.setLastError("indexer aggregator is enabled but no base URL is configured")
		return nil, nil
	}

	apiKey := p.resolveAPIKey(ctx)
	if apiKey == "" {
		p.setLastError("indexer aggregator API key is missing")
		return nil, nil
	}

	if page < 1 {
		page = 1
	}
	offset := (page - 1) * p.cfg.Limit
	limit := p.cfg.Limit
	if limit > 500 {
		limit = 500
	}

	values := url.Values{}
	values.Set("Type", "search")
	values.Set("Query", query)
	values.Set("Offset", strconv.Itoa(offset))
	values.Set("Limit", strconv.Itoa(limit))
	if len(p.cfg.IndexerIDs) > 0 {
		values.Set("IndexerIds", joinInts(p.cfg.IndexerIDs))
	}
	if len(p.cfg.CategoryIDs) > 0 {
		values.Set("Categories", joinInts(p.cfg.CategoryIDs))
	}

	reqURL := baseURL + "/api/v1/search?" + values.Encode()
	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(p.cfg.TimeoutSeconds*float64(time.Second)))
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		p.setLastError(err.Error())
		return nil, nil
	}
	req.Header.Set("X-Api-Key", apiKey)
	req.Header.Set("Accept", "application/json,text/plain,*/*")

	resp, err := p.client.Do(req)
	if err != nil {
		p.setLastError(fmt.Sprintf("request failed: %v", err))
		return nil, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		p.setLastError("auth failed")
		return nil, nil
	}
	if resp.StatusCode >= 400 {
		p.setLastError(fmt.Sprintf("request failed: http %d", resp.StatusCode))
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.setLastError(err.Error())
		return nil, nil
	}

	var rows []indexerRow
	if err := json.Unmarshal(body, &rows); err != nil {
		p.setLastError("unexpected response shape")
		return nil, nil
	}
	return mapRows(rows, p.cfg.Name), nil
}

func mapRows(rows []indexerRow, providerName string) []model.SearchResult {
	out := make([]model.SearchResult, 0, len(rows))
	for _, row := range rows {
		title := strings.TrimSpace(firstNonEmpty(row.Title, row.ReleaseTitle))
		if title == "" {
			continue
		}
		magnet := strings.TrimSpace(row.MagnetURL)
		guid := strings.TrimSpace(row.GUID)
		downloadURL := strings.TrimSpace(row.DownloadURL)
		primary := firstNonEmpty(magnet, guid, downloadURL)
		if primary == "" {
			continue
		}

		var candidates []model.LinkCandidate
		for _, cand := range []string{magnet, guid, downloadURL} {
			if cand == "" {
				continue
			}
			candidates = append(candidates, model.LinkCandidate{URL: cand, Source: providerName})
		}

		indexer := firstNonEmpty(row.Indexer, row.IndexerName)
		var aggregated []string
		if indexer != "" {
			aggregated = []string{indexer}
		}

		category := firstNonEmpty(row.CategoryDesc, row.Category)
		if category == "" {
			category = "software"
		}

		infohash := ""
		if strings.HasPrefix(strings.ToLower(primary), "magnet:") {
			infohash = model.ExtractInfohash(primary)
		}

		out = append(out, model.SearchResult{
			Title:             title,
			Link:              primary,
			Size:              row.Size,
			Seeds:             maxInt(row.Seeders, row.Seed),
			Leeches:           maxInt(row.Leechers, row.Leech),
			Provider:          providerName,
			Infohash:          infohash,
			Category:          category,
			UploadDate:        firstNonEmpty(row.PublishDate, row.PublishDateUTC),
			LinkCandidates:    candidates,
			AggregatedSources: aggregated,
		})
	}
	return out
}

// resolveAPIKey returns the configured key, or — when auto-fetch is enabled
// and none is set — probes the manager's unauthenticated initialize.json
// endpoint, a convenience for local installs running without auth.
func (p *Provider) resolveAPIKey(ctx context.Context) string {
	p.mu.Lock()
	key := p.apiKey
	autoFetch := p.cfg.AutoFetchAPIKey
	baseURL := p.cfg.BaseURL
	p.mu.Unlock()
	if key != "" || !autoFetch {
		return key
	}

	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(p.cfg.TimeoutSeconds*float64(time.Second)))
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, baseURL+"/initialize.json", nil)
	if err != nil {
		return ""
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return ""
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ""
	}
	var payload struct {
		APIKey string `json:"apiKey"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.APIKey == "" {
		return ""
	}
	p.mu.Lock()
	p.apiKey = payload.APIKey
	p.mu.Unlock()
	return payload.APIKey
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

var _ provider.Provider = (*Provider)(nil)

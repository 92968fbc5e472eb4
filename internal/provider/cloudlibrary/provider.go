// Package cloudlibrary implements a search source over a user's own remote
// premium-host library: it does not crawl the web, it filters the torrents
// the user already owns in their account.
package cloudlibrary

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"project-tachyon/internal/model"
	"project-tachyon/internal/provider"
)

// LibraryItem is one entry returned by the remote library's list call.
type LibraryItem struct {
	ID               string
	Filename         string
	OriginalFilename string
	Links            []string
	Bytes            int64
	Status           string
}

// LibraryClient is the authenticated REST client against the user's remote
// library. It is the same client the premium-link resolver uses for
// unrestrict calls, kept narrow here to what this source needs.
type LibraryClient interface {
	IsAuthenticated() bool
	ListLibrary(ctx context.Context, page, limit int) ([]LibraryItem, error)
}

// Config configures the cloud-library source.
type Config struct {
	Name    string
	Enabled bool
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "cloud-library"
	}
	return c
}

// Provider queries the user's remote library and filters entries by a
// case-insensitive substring match of the search query.
type Provider struct {
	cfg    Config
	client LibraryClient

	mu        sync.Mutex
	lastError string
}

func New(cfg Config, client LibraryClient) *Provider {
	return &Provider{cfg: cfg.withDefaults(), client: client}
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

func (p *Provider) Search(ctx context.Context, query string, page int) ([]model.SearchResult, error) {
	p.setLastError("")
	if !p.cfg.Enabled {
		return nil, nil
	}
	if p.client == nil || !p.client.IsAuthenticated() {
		p.setLastError(p.cfg.Name + " source is enabled but the account is not authenticated")
		return nil, nil
	}

	if page < 1 {
		page = 1
	}
	items, err := p.client.ListLibrary(ctx, page, 100)
	if err != nil {
		p.setLastError(fmt.Sprintf("%s error: %v", p.cfg.Name, err))
		return nil, nil
	}

	needle := strings.ToLower(strings.TrimSpace(query))
	results := make([]model.SearchResult, 0, len(items))
	for _, item := range items {
		name := strings.TrimSpace(firstNonEmpty(item.Filename, item.OriginalFilename))
		if name == "" {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(name), needle) {
			continue
		}

		var directLink string
		if len(item.Links) > 0 {
			directLink = item.Links[0]
		}

		title := name
		if item.Status != "" {
			title = fmt.Sprintf("%s [%s]", name, item.Status)
		}

		results = append(results, model.SearchResult{
			Title:    title,
			Link:     directLink,
			Size:     item.Bytes,
			Provider: p.cfg.Name,
		})
	}
	return results, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

var _ provider.Provider = (*Provider)(nil)

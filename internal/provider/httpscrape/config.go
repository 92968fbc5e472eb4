package httpscrape

import (
	"strings"
	"time"
)

// SourceLimits are the per-template override knobs of spec §4.6.1, keyed by
// host substring in Config.Overrides.
type SourceLimits struct {
	DetailMaxPages               int
	LinksPerDetail                int
	RequestTimeoutSeconds         float64
	TimeBudgetSeconds             float64
	DetailConcurrency             int
	RequestsPerSecond             float64
	PlaywrightEnabled             bool
	PlaywrightTimeoutSeconds      float64
	PlaywrightExpandDynamic       bool
	PlaywrightMaxExpandCycles     int
}

var defaultLimits = SourceLimits{
	DetailMaxPages:           2,
	LinksPerDetail:           10,
	RequestTimeoutSeconds:    10,
	TimeBudgetSeconds:        12,
	DetailConcurrency:        4,
	RequestsPerSecond:        2,
	PlaywrightEnabled:        false,
	PlaywrightTimeoutSeconds: 8,
}

// Config is the HTTP-scraping provider's configuration, per spec §4.6.1.
type Config struct {
	Templates           []string
	Enabled             bool
	Overrides           map[string]SourceLimits
	CacheTTL            time.Duration
	AllowStaleCache     bool
	BackgroundRefresh   bool
	Retries             int
	RetryBackoff        time.Duration
	RedirectTimeout     time.Duration
	PrimaryDiscovery    bool
	SearchEngineDork    string
}

func (c Config) withDefaults() Config {
	if c.CacheTTL <= 0 {
		c.CacheTTL = 10 * time.Minute
	}
	if c.Retries <= 0 {
		c.Retries = 2
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.RedirectTimeout <= 0 {
		c.RedirectTimeout = 5 * time.Second
	}
	return c
}

func (c Config) limitsFor(host string) SourceLimits {
	for substr, override := range c.Overrides {
		if substr != "" && strings.Contains(host, substr) {
			return mergeLimits(defaultLimits, override)
		}
	}
	return defaultLimits
}

func mergeLimits(base, override SourceLimits) SourceLimits {
	if override.DetailMaxPages > 0 {
		base.DetailMaxPages = override.DetailMaxPages
	}
	if override.LinksPerDetail > 0 {
		base.LinksPerDetail = override.LinksPerDetail
	}
	if override.RequestTimeoutSeconds > 0 {
		base.RequestTimeoutSeconds = override.RequestTimeoutSeconds
	}
	if override.TimeBudgetSeconds > 0 {
		base.TimeBudgetSeconds = override.TimeBudgetSeconds
	}
	if override.DetailConcurrency > 0 {
		base.DetailConcurrency = override.DetailConcurrency
	}
	if override.RequestsPerSecond > 0 {
		base.RequestsPerSecond = override.RequestsPerSecond
	}
	if override.PlaywrightEnabled {
		base.PlaywrightEnabled = true
		base.PlaywrightTimeoutSeconds = override.PlaywrightTimeoutSeconds
		base.PlaywrightExpandDynamic = override.PlaywrightExpandDynamic
		base.PlaywrightMaxExpandCycles = override.PlaywrightMaxExpandCycles
	}
	return base
}

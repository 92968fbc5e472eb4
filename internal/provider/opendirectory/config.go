// Package opendirectory implements the open-directory crawler search
// provider of spec §4.7: targeted plugin-path probes, depth-bounded seed
// crawling, optional search-engine discovery, directory/file anchor
// classification with size extraction, and per-host TLS quirks.
package opendirectory

import "time"

// Limits are the crawl bounds of spec §4.7.1.
type Limits struct {
	MaxResults           int
	MaxCandidatePages    int
	MaxDepth             int
	MaxSubdirsPerPage    int
	FastReturnMinResults int
	FastReturnSeconds    float64
	RequestTimeoutSeconds float64
	RequestRetries       int
	RetryBackoffSeconds  float64
	RequestsPerSecond    float64
}

func (l Limits) withDefaults() Limits {
	if l.MaxResults <= 0 {
		l.MaxResults = 50
	}
	if l.MaxCandidatePages <= 0 {
		l.MaxCandidatePages = 10
	}
	if l.MaxDepth <= 0 {
		l.MaxDepth = 3
	}
	if l.MaxSubdirsPerPage <= 0 {
		l.MaxSubdirsPerPage = 20
	}
	if l.FastReturnMinResults <= 0 {
		l.FastReturnMinResults = 10
	}
	if l.FastReturnSeconds <= 0 {
		l.FastReturnSeconds = 3
	}
	if l.RequestTimeoutSeconds <= 0 {
		l.RequestTimeoutSeconds = 8
	}
	if l.RequestRetries <= 0 {
		l.RequestRetries = 1
	}
	if l.RetryBackoffSeconds <= 0 {
		l.RetryBackoffSeconds = 0.5
	}
	if l.RequestsPerSecond <= 0 {
		l.RequestsPerSecond = 2
	}
	return l
}

// Config is the provider's full configuration, per spec §4.7.1.
type Config struct {
	Seeds                []string
	SearchEngineDiscovery bool
	SearchEngineTemplates []string
	FileExtensions       []string
	Limits               Limits
	AllowedDomains       []string
	ExcludePathPatterns  []string
	SizeCapBytes         int64
	InsecureHosts        map[string]bool
}

// InsecureHosts is the default set of hostnames known to present bad/expired
// TLS certificates, rewritten HTTPS->HTTP before the allowlisted-insecure-TLS
// fallback, per spec §4.7.2. Exported so an embedder can extend it (the
// fuzzy-merge threshold and host-weight table in the coordinator are tunable
// for the same reason).
var InsecureHosts = map[string]bool{
	"suhr.ir": true,
}

func (c Config) withDefaults() Config {
	c.Limits = c.Limits.withDefaults()
	if c.InsecureHosts == nil {
		c.InsecureHosts = InsecureHosts
	}
	if len(c.FileExtensions) == 0 {
		c.FileExtensions = []string{".zip", ".rar", ".7z", ".exe", ".dmg", ".pkg", ".iso"}
	}
	return c
}

const defaultRequestTimeout = 8 * time.Second

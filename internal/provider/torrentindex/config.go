package torrentindex

import "strings"

// defaultMirrors and defaultAPIEndpoints are the baseline mirror/API lists
// for a PirateBay-shaped torrent index, used whenever a deployment has no
// custom overrides.
var defaultMirrors = []string{
	"https://www.piratebay.org",
	"https://tpb.party",
	"https://thepiratebay.zone",
	"https://pirateproxylive.org",
	"https://thepiratebay.org",
}

var defaultAPIEndpoints = []string{
	"https://apibay.org",
}

// Config configures one mirror-rotation torrent index.
type Config struct {
	Name             string
	Mirrors          []string
	APIEndpoints     []string
	CustomMirrors    []string
	CustomAPI        []string
	RequestTimeoutMs int
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "torrent-index"
	}
	if len(c.Mirrors) == 0 {
		c.Mirrors = defaultMirrors
	}
	if len(c.APIEndpoints) == 0 {
		c.APIEndpoints = defaultAPIEndpoints
	}
	if c.RequestTimeoutMs == 0 {
		c.RequestTimeoutMs = 15000
	}
	return c
}

// mergeOrdered prepends custom entries (deduped, trailing-slash trimmed) onto
// the baseline list, preserving baseline order for anything not overridden.
func mergeOrdered(custom, baseline []string) []string {
	if len(custom) == 0 {
		return append([]string(nil), baseline...)
	}
	seen := make(map[string]bool)
	out := make([]string, 0, len(custom)+len(baseline))
	for _, v := range append(append([]string(nil), custom...), baseline...) {
		v = strings.TrimSuffix(v, "/")
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

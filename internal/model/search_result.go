// Package model defines the search-result and download-job value types shared
// across providers, the coordinator, and the download manager.
package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// LinkCandidate is one of possibly many URLs attached to a unified result.
type LinkCandidate struct {
	URL     string `json:"url"`
	Source  string `json:"source"`
	Quality int    `json:"quality"`
	Seeds   int    `json:"seeds"`
	Leeches int    `json:"leeches"`
	Size    int64  `json:"size"`
}

// SearchResult is the unified candidate item produced by a provider and
// merged across providers by the coordinator.
//
// Identity is the infohash for torrents and the primary link (falling back to
// the title) for everything else. The first LinkCandidate is always the
// highest-quality candidate and matches (Link, LinkQuality).
type SearchResult struct {
	Title            string          `json:"title"`
	Link             string          `json:"link"`
	Size             int64           `json:"size"`
	Seeds            int             `json:"seeds"`
	Leeches          int             `json:"leeches"`
	Provider         string          `json:"provider"`
	Infohash         string          `json:"infohash"`
	Category         string          `json:"category,omitempty"`
	UploadDate       string          `json:"upload_date,omitempty"`
	LinkCandidates   []LinkCandidate `json:"link_candidates"`
	AggregatedSources []string       `json:"aggregated_sources"`
	LinkQuality      int             `json:"link_quality"`
}

// IdentityKey returns the deduplication key for this result: the uppercase
// infohash for torrents, or the lowercased URL (falling back to the
// lowercased title) for everything else.
func (r SearchResult) IdentityKey() string {
	if r.Infohash != "" {
		return strings.ToUpper(r.Infohash)
	}
	if r.Link != "" {
		return strings.ToLower(r.Link)
	}
	return strings.ToLower(r.Title)
}

var magnetHashPattern = regexp.MustCompile(`(?i)btih:([A-Fa-f0-9]{40})`)

// ExtractInfohash pulls the 40-hex infohash out of a magnet URI, returning it
// uppercased, or "" if the URI is not magnet-shaped.
func ExtractInfohash(magnetURI string) string {
	m := magnetHashPattern.FindStringSubmatch(magnetURI)
	if len(m) != 2 {
		return ""
	}
	return strings.ToUpper(m[1])
}

// wellKnownTrackers are embedded into synthesized magnet links for
// API-only torrent indexers that return a bare infohash and title.
var wellKnownTrackers = []string{
	"udp://tracker.opentrackr.org:1337/announce",
	"udp://open.tracker.cl:1337/announce",
	"udp://tracker.openbittorrent.com:6969/announce",
	"udp://exodus.desync.com:6969/announce",
}

// SynthesizeMagnet builds a magnet URI from an infohash and a display title
// for providers whose API returns identifiers without a ready-made magnet
// link.
func SynthesizeMagnet(infohash, title string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "magnet:?xt=urn:btih:%s", strings.ToUpper(infohash))
	if title != "" {
		b.WriteString("&dn=" + urlEncode(title))
	}
	for _, tr := range wellKnownTrackers {
		b.WriteString("&tr=" + urlEncode(tr))
	}
	return b.String()
}

// torrentRefMarkers are substrings of URLs that reference a torrent indirectly (detail
// pages, legacy phpBB-style forum attachment links) rather than a magnet or a
// direct file.
var torrentRefMarkers = []string{
	".torrent",
	"/dl.php?t=",
	"download.php?id=",
	"viewtopic.php?t=",
}

// IsTorrentReference reports whether a direct URL should be routed through
// the premium-link resolver instead of downloaded directly.
func IsTorrentReference(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, marker := range torrentRefMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

var sizeUnitPattern = regexp.MustCompile(`(?i)^\s*([\d.]+)\s*([a-z]+)?\s*$`)

var decimalUnits = map[string]int64{
	"b": 1, "": 1,
	"kb": 1000, "mb": 1000 * 1000, "gb": 1000 * 1000 * 1000, "tb": 1000 * 1000 * 1000 * 1000,
}

var binaryUnits = map[string]int64{
	"kib": 1024, "mib": 1024 * 1024, "gib": 1024 * 1024 * 1024, "tib": 1024 * 1024 * 1024 * 1024,
}

// NormalizeSize parses a human size string ("1.5 GiB", "1.5 GB", a bare
// integer byte count) into a byte count. Unrecognized input yields 0.
func NormalizeSize(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	m := sizeUnitPattern.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	unit := strings.ToLower(m[2])
	if factor, ok := binaryUnits[unit]; ok {
		return int64(value * float64(factor))
	}
	if factor, ok := decimalUnits[unit]; ok {
		return int64(value * float64(factor))
	}
	return 0
}

var sizeFormatUnits = []string{"B", "KB", "MB", "GB", "TB", "PB"}

// FormatSize renders a byte count as "<value><unit>" dividing by 1024 until
// the value drops below 1024, with two decimal places.
func FormatSize(bytes int64) string {
	value := float64(bytes)
	unit := 0
	for value >= 1024 && unit < len(sizeFormatUnits)-1 {
		value /= 1024
		unit++
	}
	return fmt.Sprintf("%.2f%s", value, sizeFormatUnits[unit])
}

func urlEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-' || c == '_' || c == '.' || c == '~':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

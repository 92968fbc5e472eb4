package opendirectory

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// buildDork constructs the "index of" search-engine query string of spec
// §4.7.4.
func buildDork(query string, extensions []string) string {
	extClauses := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		extClauses = append(extClauses, "ext:"+strings.TrimPrefix(ext, "."))
	}
	return fmt.Sprintf(
		`intitle:"index of" "%s" (windows OR macos OR vst OR plugin OR installer OR portable) (%s) -inurl:(jsp|pl|php|asp|aspx)`,
		query, strings.Join(extClauses, " OR "),
	)
}

var searchNoiseHosts = map[string]bool{
	"google.com": true, "bing.com": true, "duckduckgo.com": true, "yahoo.com": true,
	"yandex.com": true, "startpage.com": true,
}

// discoverCandidates parses one fetched search-engine result page, extracts
// result anchors, and filters per spec §4.7.4; discover does the fetching.
func discoverCandidates(html string, allowedDomains []string, cap int) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var out []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		if len(out) >= cap {
			return
		}
		href, _ := sel.Attr("href")
		if href == "" {
			return
		}
		if idx := strings.Index(href, "/l/?uddg="); idx != -1 {
			tail := href[idx+len("/l/?uddg="):]
			if decoded, err := url.QueryUnescape(tail); err == nil {
				href = decoded
			}
		}
		parsed, err := url.Parse(href)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return
		}
		if searchNoiseHosts[strings.TrimPrefix(parsed.Host, "www.")] {
			return
		}
		if len(allowedDomains) > 0 && !hostAllowed(parsed.Host, allowedDomains) {
			return
		}
		if seen[href] {
			return
		}
		seen[href] = true
		out = append(out, href)
	})
	return out
}

func hostAllowed(host string, allowed []string) bool {
	for _, domain := range allowed {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// targetedProbeURLs builds the plugin-path probe candidates of spec
// §4.7.3 step 1 for a seed whose path begins "/plugin/...".
func targetedProbeURLs(seed, query string) []string {
	parsed, err := url.Parse(seed)
	if err != nil || !strings.HasPrefix(parsed.Path, "/plugin/") {
		return nil
	}
	token := firstTokenAtLeast(query, 3)
	if token == "" {
		return nil
	}
	base := strings.TrimSuffix(seed, "/")
	return []string{
		base + "/mac/" + token + "/",
		base + "/windows/" + token + "/",
		base + "/win.mac/" + token + "/",
		base + "/" + token + "/",
	}
}

func firstTokenAtLeast(query string, minLen int) string {
	for _, tok := range strings.Fields(query) {
		if len(tok) >= minLen {
			return tok
		}
	}
	return ""
}

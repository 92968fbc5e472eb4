package httpscrape

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"project-tachyon/internal/model"
)

// Adapter knows how to pull candidate detail-page URLs and download links out
// of a given site's HTML shape. A host-matching predicate lets the dispatcher
// pick a specialized adapter and fall back to genericAdapter otherwise, per
// spec §4.6.3's "tagged union of adapters" design.
type Adapter interface {
	Matches(host string) bool
	ParseListing(doc *goquery.Document, pageURL, query string, limit int) []string
	ParseDetail(doc *goquery.Document, pageURL string) (title string, links []string)
}

var adapters []Adapter

func init() {
	adapters = []Adapter{genericAdapter{}}
}

// SelectAdapter returns the first adapter matching host, falling back to the
// generic adapter.
func SelectAdapter(host string) Adapter {
	for _, a := range adapters {
		if a.Matches(host) {
			return a
		}
	}
	return genericAdapter{}
}

// genericAdapter implements the selector-heuristic listing scan and
// attribute-scrape detail parse that spec §4.6.3 describes as the fallback
// path every site without a bespoke adapter uses.
type genericAdapter struct{}

func (genericAdapter) Matches(string) bool { return true }

var detailPathMarker = regexp.MustCompile(`/\d{3,}`)

func (genericAdapter) ParseListing(doc *goquery.Document, pageURL, query string, limit int) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	queryTokens := strings.Fields(strings.ToLower(query))

	type scored struct {
		url   string
		score int
	}
	var candidates []scored
	seen := make(map[string]bool)

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if href == "" {
			return
		}
		if strings.HasPrefix(strings.ToLower(href), "magnet:") {
			return
		}
		resolved, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(resolved).String()
		if seen[abs] {
			return
		}

		score := 0
		lowerHref := strings.ToLower(abs)
		if detailPathMarker.MatchString(lowerHref) {
			score += 2
		}
		if rel, _ := sel.Attr("rel"); strings.Contains(rel, "bookmark") {
			score += 2
		}
		text := strings.ToLower(sel.Text())
		for _, tok := range queryTokens {
			if tok != "" && strings.Contains(text, tok) {
				score++
			}
		}
		if resolved.Host == "" || resolved.Host == base.Host {
			score++
		}
		if score <= 0 {
			return
		}
		seen[abs] = true
		candidates = append(candidates, scored{url: abs, score: score})
	})

	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].score > candidates[i].score {
				candidates[i], candidates[j] = candidates[j], candidates[i]
			}
		}
	}

	if limit <= 0 || limit > len(candidates) {
		limit = len(candidates)
	}
	out := make([]string, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, candidates[i].url)
	}
	return out
}

var onclickURLPattern = regexp.MustCompile(`https?://[^\s'"()]+`)

func (genericAdapter) ParseDetail(doc *goquery.Document, pageURL string) (string, []string) {
	title := strings.TrimSpace(doc.Find("h1").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && title == "" {
		title = strings.TrimSpace(og)
	}

	var raw []string
	doc.Find("a, button").Each(func(_ int, sel *goquery.Selection) {
		for _, attr := range []string{"href", "data-href", "data-url"} {
			if v, ok := sel.Attr(attr); ok && v != "" {
				raw = append(raw, v)
			}
		}
		if onclick, ok := sel.Attr("onclick"); ok {
			raw = append(raw, onclickURLPattern.FindAllString(onclick, -1)...)
		}
	})

	seen := make(map[string]bool)
	var links []string
	for _, href := range raw {
		normalized := NormalizeRedirectLink(href, pageURL)
		if !IsDownloadLink(normalized) {
			continue
		}
		if seen[normalized] {
			continue
		}
		seen[normalized] = true
		links = append(links, normalized)
	}
	return title, links
}

// ExtractMagnetAnchors pulls every magnet anchor directly off a listing page,
// per spec §4.6.3's magnet-anchor rule (tried before the scored-anchor
// heuristic).
func ExtractMagnetAnchors(doc *goquery.Document) []model.SearchResult {
	var results []model.SearchResult
	doc.Find("a[href^='magnet:' i]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		title := strings.TrimSpace(sel.Text())
		if title == "" {
			title = strings.TrimSpace(sel.Parent().Text())
		}
		results = append(results, model.SearchResult{
			Title:    title,
			Link:     href,
			Infohash: model.ExtractInfohash(href),
		})
	})
	return results
}

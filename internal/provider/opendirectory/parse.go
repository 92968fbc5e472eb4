package opendirectory

import (
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"project-tachyon/internal/model"
)

var sizeWithUnitPattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*([KMGTP])(i?)B`)
var bareByteCountPattern = regexp.MustCompile(`\b\d{7,12}\b`)

// extractSize pulls a byte count out of a parent row's text per spec §4.7.5.
func extractSize(rowText string) int64 {
	if m := sizeWithUnitPattern.FindStringSubmatch(rowText); m != nil {
		value, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0
		}
		unit := strings.ToUpper(m[2])
		binary := m[3] != ""
		return int64(value * unitMultiplier(unit, binary))
	}
	if m := bareByteCountPattern.FindString(rowText); m != "" {
		n, err := strconv.ParseInt(m, 10, 64)
		if err == nil {
			return n
		}
	}
	return 0
}

func unitMultiplier(unit string, binary bool) float64 {
	base := 1000.0
	if binary {
		base = 1024.0
	}
	switch unit {
	case "K":
		return base
	case "M":
		return base * base
	case "G":
		return base * base * base
	case "T":
		return base * base * base * base
	case "P":
		return base * base * base * base * base
	}
	return 1
}

type anchorKind int

const (
	kindFile anchorKind = iota
	kindDirectory
)

type classifiedAnchor struct {
	kind anchorKind
	url  string
	size int64
	text string
}

// classifyAnchors walks every anchor on a directory-listing page and buckets
// it into a file or directory candidate per spec §4.7.5.
func classifyAnchors(doc *goquery.Document, pageURL string, extensions []string) []classifiedAnchor {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	var out []classifiedAnchor
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if href == "" || strings.HasPrefix(href, "?") || strings.HasPrefix(href, "../") && href == "../" {
			return
		}
		resolved, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(resolved)
		if abs.Host != base.Host {
			return
		}

		rowText := sel.Closest("tr, li").Text()
		if rowText == "" {
			rowText = sel.Parent().Text()
		}

		text := sel.Text()
		p := abs.Path
		isDirectory := strings.HasSuffix(p, "/") || path.Ext(p) == ""

		if isDirectory {
			out = append(out, classifiedAnchor{kind: kindDirectory, url: abs.String(), text: text})
			return
		}

		lowerPath := strings.ToLower(p)
		for _, ext := range extensions {
			if strings.HasSuffix(lowerPath, strings.ToLower(ext)) {
				out = append(out, classifiedAnchor{
					kind: kindFile,
					url:  abs.String(),
					size: extractSize(rowText),
					text: text,
				})
				return
			}
		}
	})
	return out
}

// queryTokenMatches reports whether any token of the query (case-insensitive)
// appears in the anchor text or surrounding context.
func queryTokenMatches(query, anchorText, context string) bool {
	haystack := strings.ToLower(anchorText + " " + context)
	for _, tok := range strings.Fields(strings.ToLower(query)) {
		if len(tok) >= 2 && strings.Contains(haystack, tok) {
			return true
		}
	}
	return false
}

func toSearchResult(a classifiedAnchor, pageTitle string) model.SearchResult {
	return model.SearchResult{
		Title:    strings.TrimSpace(firstNonEmpty(a.text, pageTitle)),
		Link:     a.url,
		Size:     a.size,
		Provider: "opendirectory",
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

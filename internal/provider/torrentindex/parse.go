package torrentindex

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"project-tachyon/internal/model"
)

var blockedPageSignals = []string{
	"fastpanel",
	"view more possible reasons",
	"cloudflare",
	"captcha",
	"just a moment",
	"ddos protection",
}

// looksBlocked reports whether a mirror response is a parked domain or a
// bot-protection interstitial rather than a real search result page.
func looksBlocked(html string) bool {
	lower := strings.ToLower(html)
	for _, sig := range blockedPageSignals {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// apiRow is one entry of the JSON API response shape (apibay-style: bare
// infohash + counts, no ready-made magnet link).
type apiRow struct {
	Name     string `json:"name"`
	InfoHash string `json:"info_hash"`
	Size     string `json:"size"`
	Seeders  string `json:"seeders"`
	Leechers string `json:"leechers"`
}

var zeroInfohash = strings.Repeat("0", 40)

// parseAPIRows decodes a JSON array of API rows into unified results,
// synthesizing a magnet URI from the bare infohash.
func parseAPIRows(body []byte, providerName string) []model.SearchResult {
	var rows []apiRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil
	}
	results := make([]model.SearchResult, 0, len(rows))
	for _, row := range rows {
		name := strings.TrimSpace(row.Name)
		infohash := strings.ToUpper(strings.TrimSpace(row.InfoHash))
		if name == "" || len(infohash) != 40 || infohash == zeroInfohash {
			continue
		}
		results = append(results, model.SearchResult{
			Title:    name,
			Link:     model.SynthesizeMagnet(infohash, name),
			Size:     parseIntSafe(row.Size),
			Seeds:    int(parseIntSafe(row.Seeders)),
			Leeches:  int(parseIntSafe(row.Leechers)),
			Provider: providerName,
			Infohash: infohash,
		})
	}
	return results
}

func parseIntSafe(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	if n < 0 {
		return 0
	}
	return n
}

// parseHTMLRows walks a classic torrent-index search-result table: one <tr>
// per torrent, a magnet anchor embedded directly in the row (no detail-page
// visit required), and layout-dependent seed/leech/size columns.
func parseHTMLRows(doc *goquery.Document, providerName string) []model.SearchResult {
	var results []model.SearchResult
	doc.Find("#searchResult tr").Each(func(_ int, row *goquery.Selection) {
		if row.Find("td").Length() == 0 {
			return
		}
		titleSel := row.Find(".detName a").First()
		if titleSel.Length() == 0 {
			titleSel = row.Find(`td:nth-of-type(2) a[href*="/torrent/"]`).First()
		}
		if titleSel.Length() == 0 {
			return
		}
		title := strings.TrimSpace(titleSel.Text())

		magnetSel := row.Find(`a[href^="magnet:"]`).First()
		if magnetSel.Length() == 0 {
			return
		}
		magnet, _ := magnetSel.Attr("href")
		infohash := model.ExtractInfohash(magnet)
		if infohash == "" {
			return
		}

		seeds := firstIntColumn(row, []string{"td:nth-of-type(6)", "td:nth-of-type(3)"})
		leeches := firstIntColumn(row, []string{"td:nth-of-type(7)", "td:nth-of-type(4)"})

		var size int64
		if desc := row.Find(".detDesc").First(); desc.Length() > 0 {
			text := desc.Text()
			if idx := strings.Index(text, "Size"); idx != -1 {
				rest := text[idx+len("Size"):]
				if comma := strings.Index(rest, ","); comma != -1 {
					rest = rest[:comma]
				}
				size = model.NormalizeSize(strings.TrimSpace(rest))
			}
		} else if sizeSel := row.Find("td:nth-of-type(5)").First(); sizeSel.Length() > 0 {
			size = model.NormalizeSize(strings.TrimSpace(sizeSel.Text()))
		}

		results = append(results, model.SearchResult{
			Title:    title,
			Link:     magnet,
			Size:     size,
			Seeds:    seeds,
			Leeches:  leeches,
			Provider: providerName,
			Infohash: infohash,
		})
	})
	return results
}

func firstIntColumn(row *goquery.Selection, selectors []string) int {
	for _, sel := range selectors {
		text := strings.ReplaceAll(strings.TrimSpace(row.Find(sel).First().Text()), ",", "")
		if text == "" {
			continue
		}
		if n, err := strconv.Atoi(text); err == nil {
			return n
		}
	}
	return 0
}

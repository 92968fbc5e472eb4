package torrentindex

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"project-tachyon/internal/model"
)

func TestParseAPIRowsSkipsZeroInfohash(t *testing.T) {
	body := `[
		{"name":"Acme Synth v2","info_hash":"0123456789ABCDEF0123456789ABCDEF01234567","size":"1048576","seeders":"12","leechers":"3"},
		{"name":"Junk","info_hash":"0000000000000000000000000000000000000000","size":"1","seeders":"0","leechers":"0"},
		{"name":"","info_hash":"ABCDEF0123456789ABCDEF0123456789ABCDEF01","size":"1","seeders":"0","leechers":"0"}
	]`
	results := parseAPIRows([]byte(body), "PirateBay")
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	r := results[0]
	if r.Infohash != "0123456789ABCDEF0123456789ABCDEF01234567" {
		t.Fatalf("unexpected infohash %q", r.Infohash)
	}
	if !strings.HasPrefix(r.Link, "magnet:?xt=urn:btih:"+r.Infohash) {
		t.Fatalf("expected synthesized magnet, got %q", r.Link)
	}
	if r.Seeds != 12 || r.Leeches != 3 || r.Size != 1048576 {
		t.Fatalf("unexpected counts: %+v", r)
	}
}

func TestParseAPIRowsInvalidJSON(t *testing.T) {
	if results := parseAPIRows([]byte("not json"), "PirateBay"); results != nil {
		t.Fatalf("expected nil on invalid JSON, got %v", results)
	}
}

func TestLooksBlocked(t *testing.T) {
	if !looksBlocked("<html>Please complete the captcha to continue</html>") {
		t.Fatal("expected captcha page to be detected as blocked")
	}
	if looksBlocked("<html><body>normal search results</body></html>") {
		t.Fatal("expected normal page to not be flagged as blocked")
	}
}

func TestParseHTMLRows(t *testing.T) {
	html := `
	<table id="searchResult">
	<tr><th>Name</th></tr>
	<tr>
		<td class="vertTh"></td>
		<td>
			<div class="detName"><a href="/torrent/1">Acme Synth v2</a></div>
			<a href="magnet:?xt=urn:btih:0123456789ABCDEF0123456789ABCDEF01234567&dn=Acme">magnet</a>
			<div class="detDesc">Uploaded 01-01, Size 1.5 GiB, ULed by x</div>
		</td>
		<td>150</td>
		<td>10</td>
		<td>500</td>
		<td>150</td>
		<td>10</td>
	</tr>
	</table>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	results := parseHTMLRows(doc, "PirateBay")
	if len(results) != 1 {
		t.Fatalf("expected 1 row, got %d", len(results))
	}
	r := results[0]
	if r.Title != "Acme Synth v2" {
		t.Fatalf("unexpected title %q", r.Title)
	}
	if r.Infohash != "0123456789ABCDEF0123456789ABCDEF01234567" {
		t.Fatalf("unexpected infohash %q", r.Infohash)
	}
	if r.Size != model.NormalizeSize("1.5 GiB") {
		t.Fatalf("unexpected size %d", r.Size)
	}
}

func TestParseHTMLRowsSkipsHeaderRow(t *testing.T) {
	html := `<table id="searchResult"><tr><th>Name</th><th>SE</th></tr></table>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if results := parseHTMLRows(doc, "PirateBay"); len(results) != 0 {
		t.Fatalf("expected 0 rows from header-only table, got %d", len(results))
	}
}

func TestMergeOrderedPrependsCustom(t *testing.T) {
	merged := mergeOrdered([]string{"https://custom.example/"}, []string{"https://a.example", "https://b.example"})
	want := []string{"https://custom.example", "https://a.example", "https://b.example"}
	if len(merged) != len(want) {
		t.Fatalf("got %v", merged)
	}
	for i := range want {
		if merged[i] != want[i] {
			t.Fatalf("got %v, want %v", merged, want)
		}
	}
}

func TestMergeOrderedNoCustomReturnsBaseline(t *testing.T) {
	baseline := []string{"https://a.example", "https://b.example"}
	merged := mergeOrdered(nil, baseline)
	if len(merged) != 2 || merged[0] != baseline[0] || merged[1] != baseline[1] {
		t.Fatalf("got %v", merged)
	}
}

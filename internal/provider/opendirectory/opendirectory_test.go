package opendirectory

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"project-tachyon/internal/model"
)

func TestCanonicalizeRewritesInsecureHost(t *testing.T) {
	got := canonicalize("https://suhr.ir/path", InsecureHosts)
	if got != "http://suhr.ir/path" {
		t.Fatalf("expected HTTP rewrite, got %q", got)
	}
	untouched := canonicalize("https://example.com/path", InsecureHosts)
	if untouched != "https://example.com/path" {
		t.Fatalf("expected untouched host, got %q", untouched)
	}
}

func TestExtractSizeWithUnit(t *testing.T) {
	if got := extractSize("file.zip 1.5 GB"); got != int64(1.5*1000*1000*1000) {
		t.Fatalf("got %d", got)
	}
	if got := extractSize("file.zip 1.5 GiB"); got != int64(1.5*1024*1024*1024) {
		t.Fatalf("got %d", got)
	}
}

func TestExtractSizeBareByteCount(t *testing.T) {
	if got := extractSize("file.zip 123456789"); got != 123456789 {
		t.Fatalf("got %d", got)
	}
}

func TestExtractSizeNoMatch(t *testing.T) {
	if got := extractSize("no size here"); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestClassifyAnchorsFileAndDirectory(t *testing.T) {
	html := `
	<html><body>
	<table>
	<tr><td><a href="subdir/">subdir/</a></td></tr>
	<tr><td><a href="Acme.Synth.v2.zip">Acme.Synth.v2.zip</a></td><td>1.2 GB</td></tr>
	</table>
	</body></html>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	anchors := classifyAnchors(doc, "http://example.com/dir/", []string{".zip"})
	var files, dirs int
	for _, a := range anchors {
		if a.kind == kindFile {
			files++
		} else {
			dirs++
		}
	}
	if files != 1 || dirs != 1 {
		t.Fatalf("expected 1 file and 1 directory, got files=%d dirs=%d", files, dirs)
	}
}

func TestBuildDork(t *testing.T) {
	dork := buildDork("acme synth", []string{".zip", ".rar"})
	if !strings.Contains(dork, `"acme synth"`) || !strings.Contains(dork, "ext:zip") || !strings.Contains(dork, "ext:rar") {
		t.Fatalf("unexpected dork: %s", dork)
	}
}

func TestTargetedProbeURLs(t *testing.T) {
	probes := targetedProbeURLs("https://example.com/plugin/acme", "acme synth")
	if len(probes) != 4 {
		t.Fatalf("expected 4 probe URLs, got %d", len(probes))
	}
	if probes[0] != "https://example.com/plugin/acme/mac/acme/" {
		t.Fatalf("unexpected probe: %s", probes[0])
	}
}

func TestTargetedProbeURLsNonPluginSeed(t *testing.T) {
	if probes := targetedProbeURLs("https://example.com/files/", "acme"); probes != nil {
		t.Fatalf("expected no probes for non-plugin seed, got %v", probes)
	}
}

func TestDedupeByLowercaseURL(t *testing.T) {
	results := []model.SearchResult{
		{Link: "HTTP://Example.com/a.zip"},
		{Link: "http://example.com/A.ZIP"},
	}
	out := dedupeByLowercaseURL(results)
	if len(out) != 1 {
		t.Fatalf("expected case-insensitive dedupe to collapse to 1, got %d", len(out))
	}
}

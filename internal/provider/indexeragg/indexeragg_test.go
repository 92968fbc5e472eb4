package indexeragg

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMapRowsPrefersMagnetOverGUIDAndDownloadURL(t *testing.T) {
	rows := []indexerRow{
		{Title: "Acme Synth v2", MagnetURL: "magnet:?xt=urn:btih:0123456789ABCDEF0123456789ABCDEF01234567", GUID: "guid-1", DownloadURL: "https://x/download", Seeders: 5, Indexer: "1337x"},
	}
	out := mapRows(rows, "indexer-aggregator")
	if len(out) != 1 {
		t.Fatalf("expected 1 result, got %d", len(out))
	}
	r := out[0]
	if !strings.HasPrefix(r.Link, "magnet:") {
		t.Fatalf("expected magnet to win as primary link, got %q", r.Link)
	}
	if len(r.LinkCandidates) != 3 {
		t.Fatalf("expected 3 link candidates, got %d", len(r.LinkCandidates))
	}
	if r.Infohash == "" {
		t.Fatal("expected infohash extracted from magnet primary link")
	}
	if len(r.AggregatedSources) != 1 || r.AggregatedSources[0] != "1337x" {
		t.Fatalf("unexpected aggregated sources: %v", r.AggregatedSources)
	}
}

func TestMapRowsFallsBackToGUIDThenDownloadURL(t *testing.T) {
	rows := []indexerRow{
		{Title: "No Magnet Release", GUID: "guid-only"},
		{ReleaseTitle: "Download Only Release", DownloadURL: "https://x/file.zip"},
	}
	out := mapRows(rows, "indexer-aggregator")
	if len(out) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out))
	}
	if out[0].Link != "guid-only" {
		t.Fatalf("expected guid fallback, got %q", out[0].Link)
	}
	if out[1].Link != "https://x/file.zip" {
		t.Fatalf("expected download url fallback, got %q", out[1].Link)
	}
}

func TestMapRowsSkipsRowsWithNoTitleOrNoLink(t *testing.T) {
	rows := []indexerRow{
		{Title: "", MagnetURL: "magnet:?xt=urn:btih:0123456789ABCDEF0123456789ABCDEF01234567"},
		{Title: "Has Title But No Link"},
	}
	if out := mapRows(rows, "indexer-aggregator"); len(out) != 0 {
		t.Fatalf("expected 0 results, got %d", len(out))
	}
}

func TestSearchReturns401SetsAuthFailedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, APIKey: "bad-key"})
	results, err := p.Search(context.Background(), "acme", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
	if p.LastError() != "auth failed" {
		t.Fatalf("expected \"auth failed\", got %q", p.LastError())
	}
}

func TestSearchEmptyQueryShortCircuits(t *testing.T) {
	p := New(Config{BaseURL: "http://127.0.0.1:1", APIKey: "key"})
	results, err := p.Search(context.Background(), "   ", 1)
	if err != nil || results != nil {
		t.Fatalf("expected nil, nil, got %v, %v", results, err)
	}
}

func TestSearchMissingAPIKeyNoAutoFetch(t *testing.T) {
	p := New(Config{BaseURL: "http://127.0.0.1:1", AutoFetchAPIKey: false})
	results, err := p.Search(context.Background(), "acme", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results != nil {
		t.Fatalf("expected nil results, got %v", results)
	}
	if p.LastError() == "" {
		t.Fatal("expected lastError to be set when API key is missing")
	}
}

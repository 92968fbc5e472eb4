package httpscrape

import (
	"context"
	"testing"
	"time"
)

func TestNormalizeRedirectLinkQueryParam(t *testing.T) {
	got := NormalizeRedirectLink("/go?url=https%3A%2F%2Ffiles.example.com%2Fpack.zip", "https://x.test/post/1")
	want := "https://files.example.com/pack.zip"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestNormalizeRedirectLinkFragment(t *testing.T) {
	got := NormalizeRedirectLink("https://redir/path#url=https%3A%2F%2Ffiles.example.com%2Fa.torrent", "https://x.test/post/1")
	want := "https://files.example.com/a.torrent"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestIsDownloadLinkClassifier(t *testing.T) {
	cases := map[string]bool{
		"magnet:?xt=urn:btih:abc":             true,
		"https://example.com/file/abc.zip":    true,
		"https://rapidgator.net/file/xyz":     true,
		"https://example.com/login":           false,
		"https://example.com/terms":           false,
		"ftp://example.com/file.zip":          false,
		"https://example.com/about":           false,
	}
	for link, want := range cases {
		if got := IsDownloadLink(link); got != want {
			t.Errorf("IsDownloadLink(%q) = %v, want %v", link, got, want)
		}
	}
}

func TestDetectGatedContent(t *testing.T) {
	if !DetectGatedContent("Please Login to view links for this post.") {
		t.Fatal("expected gated content to be detected")
	}
	if DetectGatedContent("Here are your download links: a, b, c") {
		t.Fatal("did not expect gated content")
	}
}

type fakeFetcher struct {
	body   string
	status int
	err    error
	calls  int
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string, timeout time.Duration) (string, int, error) {
	f.calls++
	return f.body, f.status, f.err
}

func TestFetchWithRetryRetriesOn5xx(t *testing.T) {
	f := &fakeFetcher{body: "", status: 503}
	_, err := fetchWithRetry(context.Background(), f, "https://x.test", time.Second, time.Millisecond, 2)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 attempts (retries+1), got %d", f.calls)
	}
}

func TestFetchWithRetrySucceedsAfterTransientFailure(t *testing.T) {
	f := &fakeFetcher{body: "<html>ok</html>", status: 200}
	body, err := fetchWithRetry(context.Background(), f, "https://x.test", time.Second, time.Millisecond, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body != "<html>ok</html>" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestSearchDisabledReturnsNil(t *testing.T) {
	p := New(Config{Enabled: false, Templates: []string{"https://x.test/?q={query}"}}, nil)
	results, err := p.Search(context.Background(), "acme", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results when disabled, got %d", len(results))
	}
}

func TestSearchEmptyQueryReturnsNil(t *testing.T) {
	p := New(Config{Enabled: true, Templates: []string{"https://x.test/?q={query}"}}, nil)
	results, err := p.Search(context.Background(), "", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results for empty query, got %d", len(results))
	}
}

func TestSearchParsesMagnetAnchor(t *testing.T) {
	html := `<html><body><a href="magnet:?xt=urn:btih:AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA">Acme Synth 2024</a></body></html>`
	p := New(Config{Enabled: true, Templates: []string{"https://x.test/?q={query}"}}, nil)
	p.fetcher = &fakeFetcher{body: html, status: 200}

	results, err := p.Search(context.Background(), "acme synth", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 magnet result, got %d: %+v", len(results), results)
	}
	if results[0].Infohash == "" {
		t.Fatalf("expected infohash to be extracted")
	}
}

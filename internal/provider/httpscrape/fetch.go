package httpscrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// fetcher is the narrow HTTP capability the provider needs; tests substitute
// a fake implementation so no network call happens in unit tests.
type fetcher interface {
	Fetch(ctx context.Context, rawURL string, timeout time.Duration) (body string, statusCode int, err error)
}

type httpFetcher struct {
	client *http.Client
}

func newHTTPFetcher() *httpFetcher {
	return &httpFetcher{client: &http.Client{}}
}

func (f *httpFetcher) Fetch(ctx context.Context, rawURL string, timeout time.Duration) (string, int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; tachyon-search/1.0)")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, err
	}
	return string(body), resp.StatusCode, nil
}

// fetchWithRetry implements spec §4.6.4: retries+1 attempts, retrying on
// network errors and HTTP >=500, with linear backoff backoff*(attempt+1).
func fetchWithRetry(ctx context.Context, f fetcher, rawURL string, timeout, backoff time.Duration, retries int) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		body, status, err := f.Fetch(ctx, rawURL, timeout)
		if err == nil && status < 500 {
			return body, nil
		}
		if err == nil {
			lastErr = fmt.Errorf("fetch %s: server error %d", rawURL, status)
		} else {
			lastErr = err
		}
		if attempt < retries {
			select {
			case <-time.After(backoff * time.Duration(attempt+1)):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", lastErr
}

func parseHTML(body string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(body))
}

package opendirectory

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// canonicalize rewrites HTTPS to HTTP for a known bad-TLS host, per spec
// §4.7.2.
func canonicalize(rawURL string, insecureHosts map[string]bool) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if parsed.Scheme == "https" && insecureHosts[parsed.Host] {
		parsed.Scheme = "http"
		return parsed.String()
	}
	return rawURL
}

type quirkFetcher struct {
	client         *http.Client
	insecureClient *http.Client
	insecureHosts  map[string]bool
}

func newQuirkFetcher(insecureHosts map[string]bool) *quirkFetcher {
	return &quirkFetcher{
		client: &http.Client{},
		insecureClient: &http.Client{
			Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}},
		},
		insecureHosts: insecureHosts,
	}
}

// fetch implements the TLS-error fallback chain of spec §4.7.2: canonicalize
// known-bad hosts up front; on any TLS failure fetching HTTPS, retry the same
// resource over HTTP once; if the host is in the insecure-hosts allowlist,
// retry once more with certificate verification disabled.
func (f *quirkFetcher) fetch(ctx context.Context, rawURL string, timeout time.Duration) (string, error) {
	rawURL = canonicalize(rawURL, f.insecureHosts)

	body, err := f.get(ctx, f.client, rawURL, timeout)
	if err == nil {
		return body, nil
	}
	if !isTLSError(err) {
		return "", err
	}

	parsed, parseErr := url.Parse(rawURL)
	if parseErr != nil {
		return "", err
	}
	if parsed.Scheme == "https" {
		parsed.Scheme = "http"
		if body, httpErr := f.get(ctx, f.client, parsed.String(), timeout); httpErr == nil {
			return body, nil
		}
	}

	if f.insecureHosts[parsed.Host] {
		return f.get(ctx, f.insecureClient, rawURL, timeout)
	}
	return "", err
}

func (f *quirkFetcher) get(ctx context.Context, client *http.Client, rawURL string, timeout time.Duration) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("server error %d fetching %s", resp.StatusCode, rawURL)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func isTLSError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "tls") || strings.Contains(msg, "x509") || strings.Contains(msg, "certificate")
}

package httpscrape

import (
	"encoding/base64"
	"net/url"
	"strings"
)

var wrapperMarkers = []string{
	"/ads/", "/go/", "/goto/", "/redirect", "redirect=", "url=", "target=", "out=", "href.li/",
}

// looksLikeWrapper reports whether raw still carries one of the known
// redirect-wrapper shapes after the decode passes have run.
func looksLikeWrapper(raw string) bool {
	lower := strings.ToLower(raw)
	for _, marker := range wrapperMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func base64DecodeCandidate(segment string) (string, bool) {
	if pad := len(segment) % 4; pad != 0 {
		segment += strings.Repeat("=", 4-pad)
	}
	decoded, err := base64.URLEncoding.DecodeString(segment)
	if err != nil {
		decoded, err = base64.StdEncoding.DecodeString(segment)
	}
	if err != nil {
		return "", false
	}
	s := string(decoded)
	if strings.HasPrefix(s, "http") || strings.HasPrefix(s, "magnet:") {
		return s, true
	}
	return "", false
}

var wrapperQueryKeys = []string{"url", "u", "target", "to", "r"}

// decodeWrapperTarget tries each decode rule of spec §4.6.5 against a
// resolved href, returning the first target it can recover. href must
// already be absolute (resolved against the page base).
func decodeWrapperTarget(href string) string {
	parsed, err := url.Parse(href)
	if err != nil {
		return href
	}

	if strings.Contains(parsed.Path, "/ads/") {
		segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
		if len(segments) > 0 {
			if decoded, ok := base64DecodeCandidate(segments[len(segments)-1]); ok {
				return decoded
			}
		}
	}

	if target, ok := decodeFromValues(parsed.Query()); ok {
		return target
	}

	if parsed.Fragment != "" {
		if fragValues, err := url.ParseQuery(parsed.Fragment); err == nil {
			if target, ok := decodeFromValues(fragValues); ok {
				return target
			}
		}
	}

	if idx := strings.Index(href, "href.li/?"); idx != -1 {
		tail := href[idx+len("href.li/?"):]
		if decodedTail, err := url.QueryUnescape(tail); err == nil {
			return decodedTail
		}
		return tail
	}

	return href
}

func decodeFromValues(values url.Values) (string, bool) {
	for _, key := range wrapperQueryKeys {
		raw := values.Get(key)
		if raw == "" {
			continue
		}
		decoded, err := url.QueryUnescape(raw)
		if err != nil {
			decoded = raw
		}
		if strings.HasPrefix(decoded, "http") || strings.HasPrefix(decoded, "magnet:") {
			return decoded, true
		}
		if b64, ok := base64DecodeCandidate(decoded); ok {
			return b64, true
		}
	}
	return "", false
}

// NormalizeRedirectLink resolves href against base and runs it through the
// redirect-wrapper decode pipeline. It does not perform the final
// redirect-follow network step (§4.6.5 step 6) — that is the caller's job,
// since it requires an HTTP client and a timeout budget.
func NormalizeRedirectLink(href, base string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	refURL, err := url.Parse(href)
	if err != nil {
		return href
	}
	resolved := baseURL.ResolveReference(refURL).String()
	return decodeWrapperTarget(resolved)
}

// NeedsRedirectFollow reports whether a normalized link still looks like an
// unresolved wrapper and should go through a bounded HEAD/GET redirect
// follow.
func NeedsRedirectFollow(normalized string) bool {
	return looksLikeWrapper(normalized)
}

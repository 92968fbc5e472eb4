package httpscrape

import (
	"net/url"
	"strings"
)

var directDownloadExtensions = []string{
	".torrent", ".zip", ".rar", ".7z", ".dmg", ".pkg", ".exe", ".msi", ".deb", ".rpm", ".iso", ".apk", ".mpkg",
}

var knownFileHosts = []string{
	"rapidgator.net", "nitroflare.com", "katfile.com", "ddownload.com", "turbobit.net",
	"uploadgig.com", "mega.nz", "mediafire.com", "pixeldrain.com", "workupload.com",
}

var pathIndicators = []string{"/download", "/dl/", "/get/", "/file/", "/attachment/"}

var queryIndicators = []string{"download=1", "attachment=", "filename=", "file=", "torrent="}

var excludedPathMarkers = []string{
	"/affiliate", "/login", "/signin", "/signup", "/privacy", "/terms", "/tos", "/register",
}

// IsDownloadLink classifies a normalized, absolute URL per spec §4.6.6.
func IsDownloadLink(raw string) bool {
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "magnet:") {
		return true
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}

	for _, marker := range excludedPathMarkers {
		if strings.Contains(lower, marker) {
			return false
		}
	}

	path := strings.ToLower(parsed.Path)
	for _, ext := range directDownloadExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	host := strings.ToLower(parsed.Host)
	for _, known := range knownFileHosts {
		if strings.Contains(host, known) {
			return true
		}
	}
	for _, marker := range pathIndicators {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	for _, marker := range queryIndicators {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

var gatedContentPhrases = []string{
	"click to show download links", "show download links", "links are hidden",
	"you must be registered", "login to view links", "guest cannot", "captcha", "recaptcha",
}

// DetectGatedContent reports whether page text indicates the download links
// are hidden behind a login/registration/captcha wall.
func DetectGatedContent(pageText string) bool {
	lower := strings.ToLower(pageText)
	for _, phrase := range gatedContentPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

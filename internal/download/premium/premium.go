// Package premium is the premium-link resolver (§4.10.2): a REST client
// against a RealDebrid-shaped host that turns a magnet link or a torrent-file
// URL into direct, unrestricted download URLs. It also doubles as the
// account's library client for the cloud-library search source.
package premium

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"project-tachyon/internal/provider/cloudlibrary"
	"project-tachyon/internal/session"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"
)

const (
	defaultBaseURL  = "https://api.real-debrid.com/rest/1.0"
	defaultOAuthURL = "https://api.real-debrid.com/oauth/v2"
	// defaultPublicClientID is RealDebrid's well-known open-source client id
	// used for the device-auth flow when the account hasn't bound its own.
	defaultPublicClientID = "X245A4XAIBGVM"

	pollInterval = 2 * time.Second
	pollTimeout  = 180 * time.Second

	keyAccessToken     = "rd_access_token"
	keyRefreshToken    = "rd_refresh_token"
	keyClientID        = "rd_client_id"
	keyClientSecret    = "rd_client_secret"
	keyPublicClientID  = "rd_public_client_id"
	keyRequestTimeout  = "rd_request_timeout_seconds"
)

// terminalStatuses are the torrent statuses the resolver will never recover
// from; waiting further is pointless.
var terminalStatuses = map[string]bool{
	"error":        true,
	"magnet_error": true,
	"virus":        true,
	"dead":         true,
}

// SettingsStore is the narrow settings surface the resolver needs: reading
// and writing the rd_* credential keys scoped to the calling session.
// *settings.Provider satisfies this directly.
type SettingsStore interface {
	Get(sc session.Context, key string) (string, error)
	Set(sc session.Context, key, value string) error
}

// StatusFunc receives human-readable progress updates while a resolution is
// in flight ("Submitting magnet...", "RealDebrid: downloading (42%)", ...).
type StatusFunc func(message string)

// Client is the authenticated REST client against the premium host. All
// methods derive the caller's session scope from ctx via session.Snapshot,
// so a single Client instance serves every profile.
type Client struct {
	settings   SettingsStore
	httpClient *http.Client

	// baseURL/oauthURL default to the real host; overridable for tests.
	baseURL  string
	oauthURL string
}

// New wraps a settings store with an HTTP client configured for the
// resolver's REST and OAuth calls.
func New(settings SettingsStore) *Client {
	return &Client{
		settings:   settings,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		oauthURL:   defaultOAuthURL,
	}
}

// WithEndpoints overrides the REST/OAuth base URLs, for pointing the client
// at a fake server in tests.
func (c *Client) WithEndpoints(baseURL, oauthURL string) *Client {
	c.baseURL = baseURL
	c.oauthURL = oauthURL
	return c
}

func (c *Client) setting(sc session.Context, key, fallback string) string {
	val, err := c.settings.Get(sc, key)
	if err != nil || strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}

func (c *Client) timeout(sc session.Context) time.Duration {
	raw := c.setting(sc, keyRequestTimeout, "")
	if raw == "" {
		return 12 * time.Second
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || secs <= 0 {
		return 12 * time.Second
	}
	return time.Duration(secs * float64(time.Second))
}

func (c *Client) accessToken(sc session.Context) string  { return c.setting(sc, keyAccessToken, "") }
func (c *Client) refreshToken(sc session.Context) string { return c.setting(sc, keyRefreshToken, "") }
func (c *Client) clientSecret(sc session.Context) string { return c.setting(sc, keyClientSecret, "") }
func (c *Client) clientID(sc session.Context) string {
	return c.setting(sc, keyClientID, defaultPublicClientID)
}
func (c *Client) publicClientID(sc session.Context) string {
	return c.setting(sc, keyPublicClientID, defaultPublicClientID)
}

func (c *Client) saveTokens(sc session.Context, access, refresh string) {
	c.settings.Set(sc, keyAccessToken, access)
	c.settings.Set(sc, keyRefreshToken, refresh)
}

// IsAuthenticated reports whether the process-wide account holds an access
// token. It takes no session.Context (the cloudlibrary.LibraryClient
// interface it satisfies is scope-agnostic); resolution calls that need a
// specific profile's token use the ctx-carrying methods below instead.
func (c *Client) IsAuthenticated() bool {
	return c.accessToken(session.Context{}) != ""
}

// tokenNearExpiry best-effort decodes the access token's exp claim (when the
// token is JWT-shaped) to trigger a proactive refresh; a token that fails
// to parse is treated as not-near-expiry, since apiRequest falls back to a
// reactive 401 refresh regardless.
func tokenNearExpiry(token string) bool {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return false
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return false
	}
	expRaw, ok := claims["exp"].(float64)
	if !ok {
		return false
	}
	expiresAt := time.Unix(int64(expRaw), 0)
	return time.Until(expiresAt) < 60*time.Second
}

// refreshAccessToken performs a device-grant refresh using the stored
// refresh token; it requires a bound client secret and returns false without
// one, matching the host's device-flow requirements.
func (c *Client) refreshAccessToken(ctx context.Context, sc session.Context) bool {
	refresh := c.refreshToken(sc)
	secret := c.clientSecret(sc)
	if refresh == "" || secret == "" {
		return false
	}

	form := url.Values{
		"client_id":     {c.clientID(sc)},
		"client_secret": {secret},
		"code":          {refresh},
		"grant_type":    {"http://oauth.net/grant_type/device/1.0"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.oauthURL+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return false
	}

	var data struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return false
	}
	if data.AccessToken == "" || data.RefreshToken == "" {
		return false
	}
	c.saveTokens(sc, data.AccessToken, data.RefreshToken)
	return true
}

// apiRequest issues an authenticated call against the REST API, proactively
// refreshing a near-expiry token and reactively retrying once on a 401.
func (c *Client) apiRequest(ctx context.Context, sc session.Context, method, endpoint string, body io.Reader, contentType string) (*http.Response, error) {
	access := c.accessToken(sc)
	if access == "" {
		return nil, errors.New("not authenticated")
	}
	if tokenNearExpiry(access) {
		if c.refreshAccessToken(ctx, sc) {
			access = c.accessToken(sc)
		}
	}

	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = io.ReadAll(body)
		if err != nil {
			return nil, errors.Wrap(err, "read request body")
		}
	}

	do := func(token string) (*http.Response, error) {
		var reqBody io.Reader
		if bodyBytes != nil {
			reqBody = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+endpoint, reqBody)
		if err != nil {
			return nil, errors.Wrap(err, "build request")
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		return c.httpClient.Do(req)
	}

	resp, err := do(access)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, endpoint)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		if c.refreshAccessToken(ctx, sc) {
			resp, err = do(c.accessToken(sc))
			if err != nil {
				return nil, errors.Wrapf(err, "%s %s (after refresh)", method, endpoint)
			}
		}
	}
	return resp, nil
}

func decodeJSON(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return errors.Errorf("request failed (%d): %s", resp.StatusCode, truncate(string(raw), 200))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n]
	}
	return s
}

func emit(cb StatusFunc, message string) {
	if cb != nil {
		cb(message)
	}
}

// ResolveMagnet submits a magnet link, selects every file, waits for the
// host to prepare it, and unrestricts each resulting link into a direct
// download URL.
func (c *Client) ResolveMagnet(ctx context.Context, magnet string, cb StatusFunc) ([]string, error) {
	sc := session.Snapshot(ctx)

	emit(cb, "Submitting magnet to RealDebrid...")
	form := url.Values{"magnet": {magnet}}
	resp, err := c.apiRequest(ctx, sc, http.MethodPost, "torrents/addMagnet", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return nil, err
	}
	var added struct {
		ID string `json:"id"`
	}
	if err := decodeJSON(resp, &added); err != nil {
		return nil, errors.Wrap(err, "add magnet")
	}
	if added.ID == "" {
		return nil, errors.New("failed to add magnet")
	}

	return c.finishTorrent(ctx, sc, added.ID, cb)
}

// ResolveTorrentURL fetches the .torrent bytes from torrentURL, uploads them,
// selects every file, waits, and unrestricts the resulting links.
func (c *Client) ResolveTorrentURL(ctx context.Context, torrentURL string, cb StatusFunc) ([]string, error) {
	sc := session.Snapshot(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, torrentURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build torrent fetch request")
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	fetchResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch torrent file")
	}
	defer fetchResp.Body.Close()
	if fetchResp.StatusCode >= 400 {
		return nil, errors.Errorf("fetch torrent file failed (%d)", fetchResp.StatusCode)
	}
	content, err := io.ReadAll(fetchResp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read torrent file")
	}
	if len(content) == 0 {
		return nil, errors.New("empty torrent file response")
	}

	emit(cb, "Uploading torrent file to RealDebrid...")
	resp, err := c.apiRequest(ctx, sc, http.MethodPut, "torrents/addTorrent", bytes.NewReader(content), "application/x-bittorrent")
	if err != nil {
		return nil, err
	}
	var added struct {
		ID string `json:"id"`
	}
	if err := decodeJSON(resp, &added); err != nil {
		return nil, errors.Wrap(err, "add torrent file")
	}
	if added.ID == "" {
		return nil, errors.New("failed to add torrent file")
	}

	return c.finishTorrent(ctx, sc, added.ID, cb)
}

// finishTorrent is the shared tail of both resolution paths: select all
// files, poll until links are ready, then unrestrict every link.
func (c *Client) finishTorrent(ctx context.Context, sc session.Context, torrentID string, cb StatusFunc) ([]string, error) {
	emit(cb, "Selecting files...")
	form := url.Values{"files": {"all"}}
	resp, err := c.apiRequest(ctx, sc, http.MethodPost, "torrents/selectFiles/"+torrentID, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return nil, err
	}
	resp.Body.Close()

	links, err := c.waitForLinks(ctx, sc, torrentID, cb)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, errors.New("no download links available")
	}

	urls := make([]string, 0, len(links))
	for _, link := range links {
		emit(cb, "Unrestricting links...")
		uform := url.Values{"link": {link}}
		uresp, err := c.apiRequest(ctx, sc, http.MethodPost, "unrestrict/link", strings.NewReader(uform.Encode()), "application/x-www-form-urlencoded")
		if err != nil {
			return nil, err
		}
		var unrestricted struct {
			Download string `json:"download"`
		}
		if err := decodeJSON(uresp, &unrestricted); err != nil {
			return nil, errors.Wrap(err, "unrestrict link")
		}
		if unrestricted.Download != "" {
			urls = append(urls, unrestricted.Download)
		}
	}
	return urls, nil
}

// waitForLinks polls torrent info every pollInterval, up to pollTimeout,
// until links are populated or the torrent reaches a terminal status.
func (c *Client) waitForLinks(ctx context.Context, sc session.Context, torrentID string, cb StatusFunc) ([]string, error) {
	deadline := time.Now().Add(pollTimeout)
	lastStatus := ""

	for time.Now().Before(deadline) {
		resp, err := c.apiRequest(ctx, sc, http.MethodGet, "torrents/info/"+torrentID, nil, "")
		if err != nil {
			return nil, err
		}
		var info struct {
			Status   string   `json:"status"`
			Links    []string `json:"links"`
			Progress int      `json:"progress"`
		}
		if err := decodeJSON(resp, &info); err != nil {
			return nil, errors.Wrap(err, "poll torrent info")
		}

		if info.Status != lastStatus {
			emit(cb, fmt.Sprintf("RealDebrid: %s (%d%%)", orProcessing(info.Status), info.Progress))
			lastStatus = info.Status
		}

		if len(info.Links) > 0 {
			return info.Links, nil
		}
		if terminalStatuses[info.Status] {
			return nil, errors.Errorf("RealDebrid status: %s", info.Status)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	return nil, errors.New("timed out waiting for RealDebrid to prepare links")
}

func orProcessing(status string) string {
	if strings.TrimSpace(status) == "" {
		return "processing"
	}
	return status
}

// ListLibrary satisfies cloudlibrary.LibraryClient: it lists the account's
// torrents as library items for the cloud-library search source.
func (c *Client) ListLibrary(ctx context.Context, page, limit int) ([]cloudlibrary.LibraryItem, error) {
	sc := session.Snapshot(ctx)
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}

	endpoint := fmt.Sprintf("torrents?page=%d&limit=%d", page, limit)
	resp, err := c.apiRequest(ctx, sc, http.MethodGet, endpoint, nil, "")
	if err != nil {
		return nil, err
	}

	var rows []struct {
		ID       string   `json:"id"`
		Filename string   `json:"filename"`
		Links    []string `json:"links"`
		Bytes    int64    `json:"bytes"`
		Status   string   `json:"status"`
	}
	if err := decodeJSON(resp, &rows); err != nil {
		return nil, errors.Wrap(err, "list library")
	}

	items := make([]cloudlibrary.LibraryItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, cloudlibrary.LibraryItem{
			ID:               r.ID,
			Filename:         r.Filename,
			OriginalFilename: r.Filename,
			Links:            r.Links,
			Bytes:            r.Bytes,
			Status:           r.Status,
		})
	}
	return items, nil
}

var _ cloudlibrary.LibraryClient = (*Client)(nil)

package premium

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"project-tachyon/internal/session"
)

// memStore is a minimal in-memory SettingsStore for tests.
type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStore(seed map[string]string) *memStore {
	data := make(map[string]string, len(seed))
	for k, v := range seed {
		data[k] = v
	}
	return &memStore{data: data}
}

func (m *memStore) Get(sc session.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memStore) Set(sc session.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func TestResolveMagnetHappyPath(t *testing.T) {
	var statuses []string
	mux := http.NewServeMux()
	mux.HandleFunc("/torrents/addMagnet", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "tid1"})
	})
	mux.HandleFunc("/torrents/selectFiles/tid1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/torrents/info/tid1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":   "downloaded",
			"progress": 100,
			"links":    []string{"https://host/restricted/abc"},
		})
	})
	mux.HandleFunc("/unrestrict/link", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"download": "https://host/direct/abc"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store := newMemStore(map[string]string{"rd_access_token": "tok"})
	client := New(store).WithEndpoints(server.URL, server.URL)

	urls, err := client.ResolveMagnet(context.Background(), "magnet:?xt=urn:btih:abc", func(msg string) {
		statuses = append(statuses, msg)
	})
	if err != nil {
		t.Fatalf("ResolveMagnet: %v", err)
	}
	if len(urls) != 1 || urls[0] != "https://host/direct/abc" {
		t.Errorf("unexpected urls: %v", urls)
	}
	if len(statuses) == 0 {
		t.Error("expected at least one status callback invocation")
	}
}

func TestResolveMagnetTerminalStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/torrents/addMagnet", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "tid1"})
	})
	mux.HandleFunc("/torrents/selectFiles/tid1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/torrents/info/tid1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "dead",
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store := newMemStore(map[string]string{"rd_access_token": "tok"})
	client := New(store).WithEndpoints(server.URL, server.URL)

	_, err := client.ResolveMagnet(context.Background(), "magnet:?xt=urn:btih:abc", nil)
	if err == nil {
		t.Fatal("expected an error for a dead torrent")
	}
}

func TestApiRequestRefreshesOn401(t *testing.T) {
	var secondAttemptAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"access_token":  "new-token",
			"refresh_token": "new-refresh",
		})
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth == "Bearer stale-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		secondAttemptAuth = auth
		json.NewEncoder(w).Encode(map[string]string{"username": "someone"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store := newMemStore(map[string]string{
		"rd_access_token":  "stale-token",
		"rd_refresh_token": "refresh-token",
		"rd_client_secret": "secret",
	})
	client := New(store)
	client.baseURL = server.URL
	client.oauthURL = server.URL + "/oauth"

	resp, err := client.apiRequest(context.Background(), session.Context{}, http.MethodGet, "user", nil, "")
	if err != nil {
		t.Fatalf("apiRequest: %v", err)
	}
	resp.Body.Close()

	if secondAttemptAuth != "Bearer new-token" {
		t.Errorf("expected retry with refreshed token, got %q", secondAttemptAuth)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 after refresh+retry, got %d", resp.StatusCode)
	}
}

func TestIsAuthenticated(t *testing.T) {
	store := newMemStore(nil)
	client := New(store)
	if client.IsAuthenticated() {
		t.Error("expected unauthenticated with no token")
	}
	store.Set(session.Context{}, "rd_access_token", "tok")
	if !client.IsAuthenticated() {
		t.Error("expected authenticated once a token is stored")
	}
}

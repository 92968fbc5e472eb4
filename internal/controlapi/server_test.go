package controlapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"project-tachyon/internal/bus"
	"project-tachyon/internal/coordinator"
	"project-tachyon/internal/download"
	"project-tachyon/internal/download/backend"
	"project-tachyon/internal/searchjob"
	"project-tachyon/internal/storage"
)

type fakeBackend struct{}

func (fakeBackend) Name() string     { return "fake" }
func (fakeBackend) Available() bool  { return true }
func (fakeBackend) Download(ctx context.Context, params backend.Params, cb backend.Callbacks) error {
	cb.EmitProgress(10, 10, 100)
	return nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	b := bus.New(nil)

	cache, err := coordinator.NewSearchCache(10, time.Minute)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	coord := coordinator.New(nil, b, cache, coordinator.Config{})
	sjm := searchjob.NewManager(nil, coord)
	t.Cleanup(sjm.Close)

	dm, err := download.New(download.Config{
		Storage:        store,
		Bus:            b,
		Backends:       map[string]backend.Backend{"fake": fakeBackend{}},
		DefaultBackend: "fake",
	})
	if err != nil {
		t.Fatalf("new download manager: %v", err)
	}

	return New(Config{
		SearchJobs: sjm,
		Downloads:  dm,
		Token:      "",
	})
}

func doRequest(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "127.0.0.1:5555"
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestNonLoopbackRejected(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.RemoteAddr = "10.0.0.5:1234"
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-loopback, got %d", rec.Code)
	}
}

func TestQueueAndGetDownload(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/v1/downloads", QueueDownloadRequest{
		Title:      "example file",
		OutputPath: "/tmp/example.bin",
		DirectURL:  "https://example.com/example.bin",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	id := resp["id"]
	if id == "" {
		t.Fatal("expected a job id")
	}

	time.Sleep(50 * time.Millisecond)

	rec = doRequest(t, s, http.MethodGet, "/v1/downloads/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestTokenAuthRejectsMismatch(t *testing.T) {
	s := newTestServer(t)
	s.cfg.Token = "secret"

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	req.Header.Set("X-Tachyon-Token", "secret")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with correct token, got %d", rec.Code)
	}
}

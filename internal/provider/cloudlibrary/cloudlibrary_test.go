package cloudlibrary

import (
	"context"
	"errors"
	"testing"
)

type fakeClient struct {
	authenticated bool
	items         []LibraryItem
	err           error
}

func (f *fakeClient) IsAuthenticated() bool { return f.authenticated }
func (f *fakeClient) ListLibrary(ctx context.Context, page, limit int) ([]LibraryItem, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.items, nil
}

func TestSearchDisabledReturnsNil(t *testing.T) {
	p := New(Config{Enabled: false}, &fakeClient{authenticated: true})
	results, err := p.Search(context.Background(), "acme", 1)
	if err != nil || results != nil {
		t.Fatalf("expected nil, nil, got %v, %v", results, err)
	}
}

func TestSearchNotAuthenticatedSetsLastError(t *testing.T) {
	p := New(Config{Enabled: true}, &fakeClient{authenticated: false})
	results, err := p.Search(context.Background(), "acme", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results != nil {
		t.Fatalf("expected nil results, got %v", results)
	}
	if p.LastError() == "" {
		t.Fatal("expected lastError to explain the unauthenticated state")
	}
}

func TestSearchFiltersByCaseInsensitiveSubstring(t *testing.T) {
	client := &fakeClient{
		authenticated: true,
		items: []LibraryItem{
			{Filename: "Acme.Synth.v2.zip", Bytes: 100, Status: "downloaded"},
			{Filename: "Other.Tool.zip", Bytes: 200, Status: "downloaded"},
		},
	}
	p := New(Config{Enabled: true}, client)
	results, err := p.Search(context.Background(), "ACME", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 filtered result, got %d", len(results))
	}
	if results[0].Title != "Acme.Synth.v2.zip [downloaded]" {
		t.Fatalf("expected status-tagged title, got %q", results[0].Title)
	}
}

func TestSearchEmptyQueryReturnsAllItems(t *testing.T) {
	client := &fakeClient{
		authenticated: true,
		items: []LibraryItem{
			{Filename: "A.zip"},
			{Filename: "B.zip"},
		},
	}
	p := New(Config{Enabled: true}, client)
	results, err := p.Search(context.Background(), "", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
}

func TestSearchClientErrorSetsLastError(t *testing.T) {
	client := &fakeClient{authenticated: true, err: errors.New("connection refused")}
	p := New(Config{Enabled: true}, client)
	results, err := p.Search(context.Background(), "acme", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results != nil {
		t.Fatalf("expected nil results, got %v", results)
	}
	if p.LastError() == "" {
		t.Fatal("expected lastError to be set on client failure")
	}
}

func TestSearchUsesFirstLinkAsDirectLink(t *testing.T) {
	client := &fakeClient{
		authenticated: true,
		items: []LibraryItem{
			{Filename: "Acme.zip", Links: []string{"https://host/a", "https://host/b"}},
		},
	}
	p := New(Config{Enabled: true}, client)
	results, err := p.Search(context.Background(), "acme", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Link != "https://host/a" {
		t.Fatalf("unexpected results: %+v", results)
	}
}

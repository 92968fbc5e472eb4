package searchjob

import (
	"context"
	"testing"
	"time"

	"project-tachyon/internal/coordinator"
	"project-tachyon/internal/model"
	"project-tachyon/internal/provider"
)

type fakeProvider struct {
	name    string
	results []model.SearchResult
	delay   time.Duration
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) Search(ctx context.Context, query string, page int) ([]model.SearchResult, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.results, nil
}
func (f *fakeProvider) LastError() string { return "" }

func newTestManager(t *testing.T, providers ...provider.Provider) *Manager {
	t.Helper()
	cache, err := coordinator.NewSearchCache(10, time.Minute)
	if err != nil {
		t.Fatalf("NewSearchCache: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })
	coord := coordinator.New(providers, nil, cache, coordinator.Config{})
	m := NewManager(nil, coord)
	t.Cleanup(m.Close)
	return m
}

func waitForTerminal(t *testing.T, m *Manager, id string, timeout time.Duration) Snapshot {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		snap, ok := m.GetJob(id)
		if !ok {
			t.Fatalf("job %s disappeared", id)
		}
		if snap.Status == StatusDone || snap.Status == StatusError || snap.Status == StatusCancelled {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s did not reach a terminal state in time, last status %s", id, snap.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCreateJobRequiresQuery(t *testing.T) {
	m := newTestManager(t, &fakeProvider{name: "p1"})
	if _, err := m.CreateJob(context.Background(), CreateJobRequest{Query: "  "}); err == nil {
		t.Fatal("expected error for empty query")
	}
}

func TestCreateJobRunsToCompletion(t *testing.T) {
	m := newTestManager(t, &fakeProvider{name: "p1", results: []model.SearchResult{{Title: "Acme Synth", Link: "https://x/a.zip", Seeds: 1}}})
	id, err := m.CreateJob(context.Background(), CreateJobRequest{Query: "acme", Mode: ModeDeep})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	snap := waitForTerminal(t, m, id, 2*time.Second)
	if snap.Status != StatusDone {
		t.Fatalf("expected done, got %s: %s", snap.Status, snap.Message)
	}
	if len(snap.Result.Groups) != 1 {
		t.Fatalf("expected 1 result group, got %d", len(snap.Result.Groups))
	}
	if snap.Progress.FirstResultAt == nil {
		t.Fatal("expected firstResultAt to be set")
	}
	if status, ok := snap.Sources["p1"]; !ok || status.Status != SourceDone {
		t.Fatalf("expected p1 source status done, got %+v", snap.Sources)
	}
}

func TestFastModeRestrictsToScrapingFriendlySources(t *testing.T) {
	m := newTestManager(t,
		&fakeProvider{name: "httpscrape", results: []model.SearchResult{{Title: "A", Link: "https://x/a.zip"}}},
		&fakeProvider{name: "cloud-library", results: []model.SearchResult{{Title: "B", Link: "https://x/b.zip"}}},
	)
	id, err := m.CreateJob(context.Background(), CreateJobRequest{Query: "acme", Mode: ModeFast})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	snap := waitForTerminal(t, m, id, 2*time.Second)
	if _, ok := snap.Sources["cloud-library"]; ok {
		t.Fatalf("expected cloud-library excluded from fast mode, got sources %+v", snap.Sources)
	}
	if _, ok := snap.Sources["httpscrape"]; !ok {
		t.Fatalf("expected httpscrape included in fast mode, got sources %+v", snap.Sources)
	}
}

func TestCancelJobTransitionsToCancelled(t *testing.T) {
	m := newTestManager(t, &fakeProvider{name: "slow", delay: 2 * time.Second})
	id, err := m.CreateJob(context.Background(), CreateJobRequest{Query: "acme", Mode: ModeDeep})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if !m.CancelJob(id) {
		t.Fatal("expected cancel to be accepted")
	}
	snap := waitForTerminal(t, m, id, 2*time.Second)
	if snap.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", snap.Status)
	}
}

func TestCancelJobUnknownIDReturnsFalse(t *testing.T) {
	m := newTestManager(t, &fakeProvider{name: "p1"})
	if m.CancelJob("does-not-exist") {
		t.Fatal("expected false for unknown job id")
	}
}

func TestGetJobUnknownIDReturnsFalse(t *testing.T) {
	m := newTestManager(t, &fakeProvider{name: "p1"})
	if _, ok := m.GetJob("does-not-exist"); ok {
		t.Fatal("expected false for unknown job id")
	}
}

func TestRePaginateSlicesWithinFetchedSet(t *testing.T) {
	res := coordinator.Result{Results: []model.SearchResult{{Title: "a"}, {Title: "b"}, {Title: "c"}}, Total: 3}
	paged := rePaginate(res, 2, 2)
	if len(paged.Results) != 1 || paged.Results[0].Title != "c" {
		t.Fatalf("unexpected page 2: %+v", paged.Results)
	}
}

func TestRePaginatePastEndReturnsEmpty(t *testing.T) {
	res := coordinator.Result{Results: []model.SearchResult{{Title: "a"}}, Total: 1}
	paged := rePaginate(res, 5, 10)
	if len(paged.Results) != 0 {
		t.Fatalf("expected empty page, got %+v", paged.Results)
	}
}

package bus

import (
	"sync"
	"testing"
)

func TestSubscribeEmit(t *testing.T) {
	b := New(nil)
	var got any
	var mu sync.Mutex
	b.Subscribe(SearchStarted, func(payload any) {
		mu.Lock()
		defer mu.Unlock()
		got = payload
	})

	b.Emit(SearchStarted, "hello")

	mu.Lock()
	defer mu.Unlock()
	if got != "hello" {
		t.Errorf("expected handler to receive payload, got %v", got)
	}
}

func TestEmitIsolatesPanickingHandler(t *testing.T) {
	b := New(nil)
	var secondCalled bool

	b.Subscribe(DownloadError, func(payload any) {
		panic("boom")
	})
	b.Subscribe(DownloadError, func(payload any) {
		secondCalled = true
	})

	b.Emit(DownloadError, nil) // must not panic the test

	if !secondCalled {
		t.Error("second handler should still run after first handler panics")
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New(nil)
	calls := 0
	unsubscribe := b.Subscribe(SourcesReloaded, func(payload any) { calls++ })

	b.Emit(SourcesReloaded, nil)
	unsubscribe()
	b.Emit(SourcesReloaded, nil)

	if calls != 1 {
		t.Errorf("expected 1 call after unsubscribe, got %d", calls)
	}
}

func TestClear(t *testing.T) {
	b := New(nil)
	calls := 0
	b.Subscribe(SettingsChanged, func(payload any) { calls++ })
	b.Clear()
	b.Emit(SettingsChanged, nil)

	if calls != 0 {
		t.Errorf("expected 0 calls after Clear, got %d", calls)
	}
}

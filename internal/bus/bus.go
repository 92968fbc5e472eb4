// Package bus provides a thread-safe, in-process publish/subscribe dispatcher
// keyed by string event type. It replaces the ad-hoc event emission the
// teacher wired straight into its UI runtime: every component that used to
// call that runtime directly now publishes through a Bus instead.
package bus

import (
	"log/slog"
	"sync"
)

// Stable event names emitted by the search and download engines.
const (
	SearchStarted   = "SEARCH_STARTED"
	SearchProgress  = "SEARCH_PROGRESS"
	SearchCompleted = "SEARCH_COMPLETED"
	SearchError     = "SEARCH_ERROR"

	DownloadQueued    = "DOWNLOAD_QUEUED"
	DownloadStarted   = "DOWNLOAD_STARTED"
	DownloadProgress  = "DOWNLOAD_PROGRESS"
	DownloadPaused    = "DOWNLOAD_PAUSED"
	DownloadResumed   = "DOWNLOAD_RESUMED"
	DownloadCompleted = "DOWNLOAD_COMPLETED"
	DownloadCancelled = "DOWNLOAD_CANCELLED"
	DownloadDeleted   = "DOWNLOAD_DELETED"
	DownloadError     = "DOWNLOAD_ERROR"

	SettingsChanged = "SETTINGS_CHANGED"
	SourcesReloaded = "SOURCES_RELOADED"
)

// Handler receives an event payload. Handlers must not block for long;
// they run synchronously on the emitting goroutine.
type Handler func(payload any)

// Bus is a mutex-guarded map of event name to subscriber list.
type Bus struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string][]*subscription
}

type subscription struct {
	id int
	fn Handler
}

// New creates an empty Bus. logger is used only to report handler panics;
// it may be nil.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:   logger,
		handlers: make(map[string][]*subscription),
	}
}

// Subscribe registers handler for event and returns an unsubscribe function.
// Every call adds a new registration: registrations are not de-duplicated,
// so a handler subscribed twice to the same event runs twice per Emit. The
// returned function removes only the registration this call added.
func (b *Bus) Subscribe(event string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := len(b.handlers[event])
	sub := &subscription{id: id, fn: handler}
	b.handlers[event] = append(b.handlers[event], sub)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.handlers[event]
		for i, s := range subs {
			if s == sub {
				b.handlers[event] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Emit invokes every subscriber of event with payload. A handler panic or
// the handler simply misbehaving is isolated: it is logged and the
// remaining subscribers still run.
func (b *Bus) Emit(event string, payload any) {
	b.mu.RLock()
	subs := make([]*subscription, len(b.handlers[event]))
	copy(subs, b.handlers[event])
	b.mu.RUnlock()

	for _, sub := range subs {
		b.safeInvoke(event, sub.fn, payload)
	}
}

func (b *Bus) safeInvoke(event string, fn Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "event", event, "panic", r)
		}
	}()
	fn(payload)
}

// Clear drops every subscription for every event type.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[string][]*subscription)
}

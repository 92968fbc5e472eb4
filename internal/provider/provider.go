// Package provider defines the narrow capability set every search source
// implements, and the small optional interfaces the coordinator probes for
// with a type assertion — Go's idiomatic substitute for the teacher's
// duck-typed dispatch.
package provider

import (
	"context"

	"project-tachyon/internal/model"
)

// Provider is the mandatory capability every search source implements: a
// stable Name, and Search which must not return an error for transient or
// empty conditions — it should return an empty slice and record the
// explanation via LastError instead.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, page int) ([]model.SearchResult, error)
	LastError() string
}

// Reloadable is implemented by providers whose configuration can change at
// runtime (source URL lists, enable flags). ReloadFromSettings must be
// idempotent.
type Reloadable interface {
	ReloadFromSettings(ctx context.Context) error
}

// Health is the outcome of a provider healthcheck.
type Health struct {
	Name       string `json:"name"`
	OK         bool   `json:"ok"`
	LastError  string `json:"last_error"`
	APIVersion string `json:"api_version,omitempty"`
}

// Healthchecker is implemented by providers that can self-report liveness
// independent of a real search (e.g. an API version probe).
type Healthchecker interface {
	Healthcheck(ctx context.Context) Health
}

// RuntimeStatusReporter is implemented by providers that expose free-form
// operational status (e.g. active network diagnostics, headless-browser
// availability) for operator troubleshooting.
type RuntimeStatusReporter interface {
	RuntimeStatus() map[string]any
}

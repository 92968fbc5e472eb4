// Package backend implements the pluggable download backends: a native
// resume-aware ranged-GET client and an external-subprocess driver. Each
// backend is keyed by name and selected by the owning manager, which falls
// back to native when the requested backend reports itself unavailable.
package backend

import "context"

// Callbacks lets a backend report progress and cooperate with pause/cancel
// without depending on the owning job type.
type Callbacks struct {
	// EmitProgress is invoked with the current downloaded/total byte counts
	// and instantaneous speed in KB/s. Backends call this at >=500ms
	// cadence, never on every chunk.
	EmitProgress func(downloaded, total int64, speedKBps float64)
	// IsCancelled reports whether the job has been asked to stop entirely.
	IsCancelled func() bool
	// IsPaused reports whether the job has been asked to pause. A backend
	// observing true sleeps briefly and rechecks rather than exiting.
	IsPaused func() bool
}

// Params describes one download attempt.
type Params struct {
	URL        string
	OutputPath string
	Headers    map[string]string
}

// Backend downloads a single URL to a file, honouring Callbacks for
// progress reporting and cooperative pause/cancel.
type Backend interface {
	// Name identifies the backend for job.Backend and setBackend/getBackend.
	Name() string
	// Available reports whether the backend can run on this host right now
	// (e.g. an external binary is on PATH). The manager falls back to the
	// native backend when this is false.
	Available() bool
	// Download runs until completion, cancellation, or unrecoverable error.
	// Returning nil means the file is fully written. ctx carries the job's
	// session context and is cancelled when the caller wants a hard stop.
	Download(ctx context.Context, params Params, cb Callbacks) error
}

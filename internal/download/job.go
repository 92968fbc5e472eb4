// Package download implements the download manager (§4.10): queueing,
// backend dispatch, pause/resume/cancel, and premium-link resolution for
// magnet and torrent-reference sources.
package download

import (
	"sync"

	"project-tachyon/internal/model"
)

// job wraps a model.DownloadJob with the control state its worker goroutine
// needs: a cancel switch for the backend loop and a mutex guarding every
// field, since the manager's control calls and the worker goroutine touch it
// concurrently.
type job struct {
	mu sync.Mutex
	model.DownloadJob
}

// snapshot returns a copy of the job state safe to hand to a caller.
func (j *job) snapshot() model.DownloadJob {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.DownloadJob.Snapshot()
}

func (j *job) setStatus(status model.DownloadStatus) {
	j.mu.Lock()
	j.Status = status
	j.mu.Unlock()
}

func (j *job) setError(status model.DownloadStatus, message string) {
	j.mu.Lock()
	j.Status = status
	j.Error = message
	j.mu.Unlock()
}

func (j *job) requestPause() {
	j.mu.Lock()
	j.PauseRequested = true
	j.mu.Unlock()
}

func (j *job) requestResume() {
	j.mu.Lock()
	j.PauseRequested = false
	j.mu.Unlock()
}

func (j *job) requestCancel() {
	j.mu.Lock()
	j.CancelRequested = true
	j.mu.Unlock()
}

func (j *job) isPaused() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.PauseRequested
}

func (j *job) isCancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.CancelRequested
}

// updateProgress applies a backend progress callback to the job, recomputing
// Progress from the invariant progress = floor(downloaded/total*100).
func (j *job) updateProgress(downloaded, total int64, speedKBps float64) {
	j.mu.Lock()
	j.DownloadedBytes = downloaded
	if total >= 0 {
		j.TotalBytes = total
	}
	j.SpeedKBps = speedKBps
	j.RecomputeProgress()
	j.mu.Unlock()
}

package model

import "time"

// DownloadStatus enumerates the download-job state machine:
//
//	queued -> resolving? -> downloading <-> paused -> completed | cancelled | error
type DownloadStatus string

const (
	StatusQueued      DownloadStatus = "queued"
	StatusResolving   DownloadStatus = "resolving"
	StatusDownloading DownloadStatus = "downloading"
	StatusPaused      DownloadStatus = "paused"
	StatusCompleted   DownloadStatus = "completed"
	StatusCancelled   DownloadStatus = "cancelled"
	StatusError       DownloadStatus = "error"
)

// DownloadJob tracks one managed download from selection through completion.
// It is created by the manager and mutated only by its owning worker and by
// the manager's control calls, which flip PauseRequested/CancelRequested,
// unlink the record, or (Retry) reset its status, error, progress, byte
// counts and timestamps before a fresh worker starts.
type DownloadJob struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	OutputPath      string         `json:"output_path"`
	MagnetSource    string         `json:"magnet_source,omitempty"`
	DirectURL       string         `json:"direct_url,omitempty"`
	Status          DownloadStatus `json:"status"`
	Progress        int            `json:"progress"` // 0-100
	DownloadedBytes int64          `json:"downloaded_bytes"`
	TotalBytes      int64          `json:"total_bytes"` // 0 if unknown
	SpeedKBps       float64        `json:"speed_kbps"`
	Error           string         `json:"error,omitempty"`
	StatusDetail    string         `json:"status_detail,omitempty"`
	StartTime       time.Time      `json:"start_time"`
	EndTime         *time.Time     `json:"end_time,omitempty"`

	PauseRequested  bool `json:"-"`
	CancelRequested bool `json:"-"`

	Backend string `json:"backend"`

	// ExpectedChecksum, when set, is a sha256 hex digest the caller already
	// knows (e.g. published alongside a release) that the completed file
	// must match; a mismatch fails the job instead of completing it.
	ExpectedChecksum string `json:"expected_checksum,omitempty"`
	// Checksum is the sha256 hex digest computed once the file is
	// completed, independent of whether ExpectedChecksum was supplied.
	Checksum string `json:"checksum,omitempty"`
}

// RecomputeProgress derives Progress from DownloadedBytes/TotalBytes,
// matching the invariant progress = floor(downloaded/total*100).
func (j *DownloadJob) RecomputeProgress() {
	if j.TotalBytes <= 0 {
		return
	}
	p := int(float64(j.DownloadedBytes) / float64(j.TotalBytes) * 100)
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	j.Progress = p
}

// Snapshot returns a copy safe to hand across goroutine boundaries.
func (j *DownloadJob) Snapshot() DownloadJob {
	cp := *j
	if j.EndTime != nil {
		t := *j.EndTime
		cp.EndTime = &t
	}
	return cp
}

// Package searchjob implements the asynchronous search-job facade: a client
// creates a job, polls its snapshot for partial/streaming progress, and may
// cancel it mid-flight, while the coordinator's synchronous Search runs on a
// background goroutine per job.
package searchjob

import (
	"strings"
	"sync"
	"time"

	"project-tachyon/internal/coordinator"
)

// Mode selects the provider subset and timeout budget for a job.
type Mode string

const (
	ModeFast Mode = "fast"
	ModeDeep Mode = "deep"
)

// scrapingFriendlySources is the provider subset fast mode restricts to —
// sources cheap enough to answer within a tight timeout.
var scrapingFriendlySources = []string{"httpscrape", "opendirectory", "torrent-index"}

// Status values for Job.Status.
const (
	StatusRunning   = "running"
	StatusCancelling = "cancelling"
	StatusCancelled = "cancelled"
	StatusDone      = "done"
	StatusError     = "error"
)

// Phase values for Job.Phase.
const (
	PhaseInit     = "init"
	PhaseQuerying = "querying"
	PhaseRanking  = "ranking"
	PhaseDone     = "done"
)

// Per-source status values.
const (
	SourcePending   = "pending"
	SourceRunning   = "running"
	SourceDone      = "done"
	SourceError     = "error"
	SourceSkipped   = "skipped"
	SourceCancelled = "cancelled"
	SourceTimeout   = "timeout"
)

// CreateJobRequest mirrors the job-creation body of spec §4.9.
type CreateJobRequest struct {
	Query                string
	Page                 int
	PerPage              int
	Mode                 Mode
	SourceTimeoutSeconds float64
	EnabledSources       []string
	IncludeMedia         bool
	IncludeCustom        bool
	CacheBust            bool
}

// SourceStatus is one entry of a job's per-source status map.
type SourceStatus struct {
	Status    string
	Warning   string
	ElapsedMs int64
	Attempts  int
}

// Progress tracks how many of the selected providers have settled, and when
// the first non-empty result arrived.
type Progress struct {
	TotalSources     int
	CompletedSources int
	FirstResultAt    *time.Time
}

// Timings tracks wall-clock duration for a job. CpuMs and NetWaitMs are
// always 0: there is no per-goroutine CPU accounting without additional
// runtime instrumentation, and no network-wait time is measured, so both
// fields are carried for API parity and left unpopulated.
type Timings struct {
	WallMs      int64
	CpuMs       int64
	NetWaitMs   int64
	startedMono time.Time
}

// ResultSnapshot is the paginated result set accumulated so far.
type ResultSnapshot struct {
	Groups  []coordinator.Result
	Page    int
	PerPage int
	HasMore bool
}

// Job is one asynchronous search run. All mutable fields are guarded by mu;
// callers must use the accessor methods, never read fields directly.
type Job struct {
	ID        string
	Query     string
	Mode      Mode
	CreatedAt time.Time

	mu              sync.Mutex
	status          string
	phase           string
	updatedAt       time.Time
	message         string
	partial         bool
	progress        Progress
	timings         Timings
	sources         map[string]SourceStatus
	result          ResultSnapshot
	cancelRequested bool
}

func newJob(id, query string, mode Mode, totalSources int) *Job {
	now := time.Now()
	return &Job{
		ID:        id,
		Query:     query,
		Mode:      mode,
		CreatedAt: now,
		status:    StatusRunning,
		phase:     PhaseInit,
		updatedAt: now,
		partial:   true,
		progress:  Progress{TotalSources: totalSources},
		timings:   Timings{startedMono: now},
		sources:   make(map[string]SourceStatus, totalSources),
	}
}

// Snapshot is the immutable view returned by getJob.
type Snapshot struct {
	ID        string
	Query     string
	Status    string
	Phase     string
	Mode      Mode
	CreatedAt time.Time
	UpdatedAt time.Time
	Message   string
	Partial   bool
	Progress  Progress
	Timings   Timings
	Sources   map[string]SourceStatus
	Result    ResultSnapshot
}

func (j *Job) snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	sources := make(map[string]SourceStatus, len(j.sources))
	for k, v := range j.sources {
		sources[k] = v
	}
	j.timings.WallMs = time.Since(j.timings.startedMono).Milliseconds()
	return Snapshot{
		ID:        j.ID,
		Query:     j.Query,
		Status:    j.status,
		Phase:     j.phase,
		Mode:      j.Mode,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.updatedAt,
		Message:   j.message,
		Partial:   j.partial,
		Progress:  j.progress,
		Timings:   j.timings,
		Sources:   sources,
		Result:    j.result,
	}
}

func (j *Job) setPhase(phase string) {
	j.mu.Lock()
	j.phase = phase
	j.updatedAt = time.Now()
	j.mu.Unlock()
}

func (j *Job) setSourcePending(names []string) {
	j.mu.Lock()
	for _, name := range names {
		j.sources[name] = SourceStatus{Status: SourcePending}
	}
	j.mu.Unlock()
}

// recordSourceProgress applies one coordinator.SourceProgress update,
// translating its status vocabulary into the job's, and stamps
// progress.firstResultAt the first time a provider settles with results.
func (j *Job) recordSourceProgress(name string, status coordinator.SourceProgress, resultCount int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.sources[name] = SourceStatus{
		Status:    mapSourceStatus(status.Status),
		Warning:   status.Warning,
		ElapsedMs: status.ElapsedMs,
		Attempts:  status.Attempts,
	}
	j.progress.CompletedSources++
	if resultCount > 0 && j.progress.FirstResultAt == nil {
		now := time.Now()
		j.progress.FirstResultAt = &now
	}
	j.updatedAt = time.Now()
}

func mapSourceStatus(coordStatus string) string {
	switch coordStatus {
	case "done":
		return SourceDone
	case "error":
		return SourceError
	case "skipped":
		return SourceSkipped
	case "timeout":
		return SourceTimeout
	case "cancelled":
		return SourceCancelled
	default:
		return SourceRunning
	}
}

func (j *Job) applyResult(res coordinator.Result, page, perPage int, partial bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.result = ResultSnapshot{
		Groups:  res.Results,
		Page:    page,
		PerPage: perPage,
		HasMore: res.Total > page*perPage,
	}
	j.partial = partial
	j.updatedAt = time.Now()
}

func (j *Job) finish(status, message string) {
	j.mu.Lock()
	j.status = status
	j.phase = PhaseDone
	j.message = message
	j.partial = false
	j.updatedAt = time.Now()
	j.mu.Unlock()
}

func (j *Job) requestCancel() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == StatusDone || j.status == StatusError || j.status == StatusCancelled {
		return false
	}
	j.cancelRequested = true
	j.status = StatusCancelling
	j.updatedAt = time.Now()
	return true
}

func (j *Job) isCancelRequested() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelRequested
}

// resolveEnabledSources applies fast-mode's scraping-friendly restriction
// unless the caller explicitly narrowed the source set.
func resolveEnabledSources(mode Mode, explicit []string) []string {
	if len(explicit) > 0 {
		return explicit
	}
	if mode == ModeFast {
		return append([]string(nil), scrapingFriendlySources...)
	}
	return nil
}

func normalizeMode(mode Mode) Mode {
	if mode == ModeDeep {
		return ModeDeep
	}
	return ModeFast
}

func sourceTimeoutFor(mode Mode, explicit float64) float64 {
	if explicit > 0 {
		return explicit
	}
	if mode == ModeDeep {
		return 20
	}
	return 10
}

// perPageFetchLimit is the internal fetch size the worker requests from the
// coordinator, independent of the page size the caller asked for, so a
// narrow perPage still lets ranking see enough candidates.
func perPageFetchLimit(page, perPage int) int {
	if perPage <= 0 {
		perPage = 20
	}
	limit := page * perPage * 3
	if limit < 120 {
		limit = 120
	}
	if limit > 600 {
		limit = 600
	}
	return limit
}

func cleanQuery(q string) string { return strings.TrimSpace(q) }

// rePaginate slices the coordinator's ranked fetch-limit-bounded result set
// down to the page/perPage the caller actually asked for. The coordinator
// was asked for one large page (see perPageFetchLimit) so ranking sees
// enough candidates; this applies the caller's real window on top.
func rePaginate(res coordinator.Result, page, perPage int) coordinator.Result {
	start := (page - 1) * perPage
	if start < 0 {
		start = 0
	}
	if start >= len(res.Results) {
		res.Results = nil
		return res
	}
	end := start + perPage
	if end > len(res.Results) {
		end = len(res.Results)
	}
	res.Results = res.Results[start:end]
	return res
}

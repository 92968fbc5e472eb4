package searchjob

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teris-io/shortid"

	"project-tachyon/internal/coordinator"
	"project-tachyon/internal/session"
)

const (
	defaultCapacity = 80
	defaultTTL      = 45 * time.Minute
	gcInterval      = 5 * time.Minute
)

// Manager owns the in-memory job table: creation, snapshot reads,
// cancellation, and capacity/TTL garbage collection.
type Manager struct {
	logger      *slog.Logger
	coordinator *coordinator.Coordinator

	mu       sync.Mutex
	jobs     map[string]*Job
	order    []string // least recently created or read (GetJob) first, for LRU-at-capacity eviction
	capacity int
	ttl      time.Duration

	stopGC chan struct{}
}

// NewManager builds a Manager backed by coord. It starts a background
// goroutine that garbage-collects jobs older than the TTL every gcInterval;
// callers must call Close to stop it.
func NewManager(logger *slog.Logger, coord *coordinator.Coordinator) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		logger:      logger,
		coordinator: coord,
		jobs:        make(map[string]*Job),
		capacity:    defaultCapacity,
		ttl:         defaultTTL,
		stopGC:      make(chan struct{}),
	}
	go m.gcLoop()
	return m
}

// Close stops the background GC loop.
func (m *Manager) Close() {
	close(m.stopGC)
}

func (m *Manager) gcLoop() {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.evictExpired()
		case <-m.stopGC:
			return
		}
	}
}

func (m *Manager) evictExpired() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.order[:0]
	for _, id := range m.order {
		job, ok := m.jobs[id]
		if !ok {
			continue
		}
		if now.Sub(job.CreatedAt) > m.ttl {
			delete(m.jobs, id)
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
}

func (m *Manager) evictOverCapacityLocked() {
	for len(m.order) > m.capacity {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.jobs, oldest)
	}
}

// CreateJob starts a new job in the background and returns its id
// immediately.
func (m *Manager) CreateJob(ctx context.Context, req CreateJobRequest) (string, error) {
	query := cleanQuery(req.Query)
	if query == "" {
		return "", fmt.Errorf("query is required")
	}
	mode := normalizeMode(req.Mode)
	page := req.Page
	if page < 1 {
		page = 1
	}
	perPage := req.PerPage
	if perPage <= 0 {
		perPage = 20
	}

	enabled := resolveEnabledSources(mode, req.EnabledSources)
	sourceNames := m.coordinator.ProviderNames(enabled)

	id, err := shortid.Generate()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	job := newJob(id, query, mode, len(sourceNames))
	job.setSourcePending(sourceNames)

	m.mu.Lock()
	m.jobs[id] = job
	m.order = append(m.order, id)
	m.evictOverCapacityLocked()
	m.mu.Unlock()

	sessionSnapshot := session.Snapshot(ctx)
	go m.run(job, req, page, perPage, enabled, sessionSnapshot)

	return id, nil
}

func (m *Manager) run(job *Job, req CreateJobRequest, page, perPage int, enabled []string, sess session.Context) {
	ctx := session.WithContext(context.Background(), sess)

	job.setPhase(PhaseQuerying)

	timeoutSeconds := sourceTimeoutFor(job.Mode, req.SourceTimeoutSeconds)
	deadline := timeoutSeconds + 5 // small margin over the per-source budget for aggregation/ranking
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(deadline*float64(time.Second)))
	defer cancel()

	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if job.isCancelRequested() {
					cancel()
					return
				}
			}
		}
	}()

	filters := coordinator.Filters{
		EnabledSources:       enabled,
		WaitForAllSources:    job.Mode == ModeDeep,
		SourceTimeoutSeconds: timeoutSeconds,
		CacheBust:            req.CacheBust,
	}

	fetchLimit := perPageFetchLimit(page, perPage)

	result, err := m.coordinator.SearchWithProgress(runCtx, job.Query, 1, fetchLimit, filters, func(name string, status coordinator.SourceProgress) {
		job.recordSourceProgress(name, status, status.Count)
	})

	job.setPhase(PhaseRanking)

	if job.isCancelRequested() {
		job.finish(StatusCancelled, "search cancelled")
		return
	}
	if err != nil {
		m.logger.Error("search job failed", "job_id", job.ID, "query", job.Query, "error", err)
		job.finish(StatusError, err.Error())
		return
	}

	job.applyResult(rePaginate(result, page, perPage), page, perPage, false)
	job.finish(StatusDone, "")
}

// GetJob returns a point-in-time snapshot of the job, or false if it does
// not exist (never created, or already garbage-collected).
func (m *Manager) GetJob(id string) (Snapshot, bool) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if ok {
		for i, oid := range m.order {
			if oid == id {
				m.order = append(m.order[:i], m.order[i+1:]...)
				m.order = append(m.order, id)
				break
			}
		}
	}
	m.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return job.snapshot(), true
}

// CancelJob requests cancellation of a running job. It is a no-op (returns
// false) if the job does not exist or has already reached a terminal state.
func (m *Manager) CancelJob(id string) bool {
	m.mu.Lock()
	job, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	return job.requestCancel()
}

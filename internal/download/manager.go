package download

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"project-tachyon/internal/analytics"
	"project-tachyon/internal/bus"
	"project-tachyon/internal/download/backend"
	"project-tachyon/internal/download/premium"
	"project-tachyon/internal/filesystem"
	"project-tachyon/internal/integrity"
	"project-tachyon/internal/model"
	"project-tachyon/internal/security"
	"project-tachyon/internal/session"
	"project-tachyon/internal/storage"

	"github.com/google/uuid"
)

const defaultMaxConcurrent = 3

// Resolver is the premium-link resolver seam: given a magnet or a
// torrent-reference URL, it returns direct download URLs.
// *premium.Client satisfies this.
type Resolver interface {
	ResolveMagnet(ctx context.Context, magnet string, statusCb premium.StatusFunc) ([]string, error)
	ResolveTorrentURL(ctx context.Context, torrentURL string, statusCb premium.StatusFunc) ([]string, error)
}

// Config wires the manager's collaborators. Allocator, Scanner, Organizer,
// Stats, and Resolver may be nil to disable the corresponding step;
// Backends must contain the DefaultBackend entry ("native" when
// DefaultBackend is empty).
type Config struct {
	Storage        *storage.Storage
	Bus            *bus.Bus
	Logger         *slog.Logger
	Backends       map[string]backend.Backend
	DefaultBackend string
	Resolver       Resolver
	Allocator      *filesystem.Allocator
	Scanner        security.Scanner
	Organizer      *filesystem.SmartOrganizer
	Stats          *analytics.StatsManager
	MaxConcurrent  int
}

// Manager owns the in-memory job table, the concurrency-bounding semaphore,
// and the worker lifecycle of §4.10: queue, resolve, download, complete.
type Manager struct {
	storage   *storage.Storage
	bus       *bus.Bus
	logger    *slog.Logger
	backends  map[string]backend.Backend
	defaultBackend string
	resolver  Resolver
	allocator *filesystem.Allocator
	scanner   security.Scanner
	organizer *filesystem.SmartOrganizer
	stats     *analytics.StatsManager
	verifier  *integrity.FileVerifier

	sem *semaphore

	mu      sync.RWMutex
	jobs    map[string]*job
	cancels map[string]context.CancelFunc
}

// New builds a Manager from cfg. It loads any persisted download records
// from storage back into the in-memory table, re-queuing anything that was
// left mid-flight (downloading/resolving/queued) at process exit as queued
// so it can be retried; completed/cancelled/error jobs are restored as-is.
func New(cfg Config) (*Manager, error) {
	if cfg.Storage == nil {
		return nil, fmt.Errorf("download manager requires storage")
	}
	if cfg.Bus == nil {
		cfg.Bus = bus.New(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DefaultBackend == "" {
		cfg.DefaultBackend = "native"
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if _, ok := cfg.Backends[cfg.DefaultBackend]; !ok {
		return nil, fmt.Errorf("default backend %q not registered", cfg.DefaultBackend)
	}

	m := &Manager{
		storage:        cfg.Storage,
		bus:            cfg.Bus,
		logger:         cfg.Logger,
		backends:       cfg.Backends,
		defaultBackend: cfg.DefaultBackend,
		resolver:       cfg.Resolver,
		allocator:      cfg.Allocator,
		scanner:        cfg.Scanner,
		organizer:      cfg.Organizer,
		stats:          cfg.Stats,
		verifier:       integrity.NewFileVerifier(),
		sem:            newSemaphore(cfg.MaxConcurrent),
		jobs:           make(map[string]*job),
		cancels:        make(map[string]context.CancelFunc),
	}

	if err := m.restore(); err != nil {
		return nil, fmt.Errorf("restore persisted downloads: %w", err)
	}
	return m, nil
}

func (m *Manager) restore() error {
	recs, err := m.storage.GetAllDownloads()
	if err != nil {
		return err
	}
	for _, rec := range recs {
		j := &job{DownloadJob: rec.ToJob()}
		switch j.Status {
		case model.StatusDownloading, model.StatusResolving, model.StatusQueued:
			j.Status = model.StatusQueued
			j.PauseRequested = false
			j.CancelRequested = false
		}
		m.jobs[j.ID] = j
	}
	return nil
}

// resolveBackend returns the named backend (the default when name is
// empty). When that backend is unregistered or reports itself unavailable,
// it falls back to the native backend if one is registered, else to the
// default.
func (m *Manager) resolveBackend(name string) backend.Backend {
	if name == "" {
		name = m.defaultBackend
	}
	if b, ok := m.backends[name]; ok && b.Available() {
		return b
	}
	if b, ok := m.backends["native"]; ok {
		return b
	}
	return m.backends[m.defaultBackend]
}

// Queue creates a new job and starts its worker on a background goroutine;
// it returns the job id immediately. The worker inherits ctx's session.
// expectedChecksum, when non-empty, is a sha256 hex digest the completed
// file must match; a mismatch fails the job instead of completing it.
func (m *Manager) Queue(ctx context.Context, title, outputPath, magnetSource, directURL, expectedChecksum string) (string, error) {
	if strings.TrimSpace(title) == "" {
		return "", fmt.Errorf("title is required")
	}
	if strings.TrimSpace(outputPath) == "" {
		return "", fmt.Errorf("output path is required")
	}
	if strings.TrimSpace(magnetSource) == "" && strings.TrimSpace(directURL) == "" {
		return "", fmt.Errorf("one of magnet source or direct URL is required")
	}

	j := &job{DownloadJob: model.DownloadJob{
		ID:               uuid.NewString(),
		Title:            title,
		OutputPath:       outputPath,
		MagnetSource:     magnetSource,
		DirectURL:        directURL,
		Status:           model.StatusQueued,
		Backend:          m.GetBackend(),
		StartTime:        time.Now(),
		ExpectedChecksum: strings.ToLower(strings.TrimSpace(expectedChecksum)),
	}}

	m.mu.Lock()
	m.jobs[j.ID] = j
	m.mu.Unlock()

	m.persist(j)
	m.bus.Emit(bus.DownloadQueued, j.snapshot())

	sc := session.Snapshot(ctx)
	workerCtx, cancel := context.WithCancel(session.WithContext(context.Background(), sc))
	m.mu.Lock()
	m.cancels[j.ID] = cancel
	m.mu.Unlock()

	go m.runWorker(workerCtx, j)

	return j.ID, nil
}

func (m *Manager) persist(j *job) {
	rec := storage.FromJob(j.snapshot())
	if err := m.storage.SaveDownload(rec); err != nil {
		m.logger.Error("failed to persist download record", "id", j.ID, "error", err)
	}
}

// runWorker executes the full lifecycle for one queued job: acquire a
// concurrency slot, resolve if necessary, download, then finalize.
func (m *Manager) runWorker(ctx context.Context, j *job) {
	m.sem.Acquire()
	defer m.sem.Release()
	defer m.clearCancel(j.ID)

	if j.isCancelled() {
		m.finishCancelled(j)
		return
	}

	source := j.MagnetSource
	isMagnet := source != ""
	needsResolve := isMagnet || model.IsTorrentReference(j.DirectURL)

	directURL := j.DirectURL
	if needsResolve {
		if m.resolver == nil {
			m.finishError(j, "no premium-link resolver configured for a torrent source")
			return
		}
		j.setStatus(model.StatusResolving)
		m.persist(j)
		m.bus.Emit(bus.DownloadStarted, j.snapshot())

		statusCb := func(message string) {
			j.mu.Lock()
			j.StatusDetail = message
			j.mu.Unlock()
		}

		var urls []string
		var err error
		if isMagnet {
			urls, err = m.resolver.ResolveMagnet(ctx, source, statusCb)
		} else {
			urls, err = m.resolver.ResolveTorrentURL(ctx, j.DirectURL, statusCb)
		}
		if err != nil {
			m.finishError(j, fmt.Sprintf("resolve failed: %v", err))
			return
		}
		if len(urls) == 0 {
			m.finishError(j, "resolver returned no direct links")
			return
		}
		directURL = urls[0]
	}

	if j.isCancelled() {
		m.finishCancelled(j)
		return
	}

	j.setStatus(model.StatusDownloading)
	m.persist(j)
	m.bus.Emit(bus.DownloadStarted, j.snapshot())

	m.maybeAllocate(directURL, j.OutputPath)

	selected := j.Backend
	b := m.resolveBackend(selected)

	lastPersist := time.Now()
	err := b.Download(ctx, backend.Params{URL: directURL, OutputPath: j.OutputPath}, backend.Callbacks{
		EmitProgress: func(downloaded, total int64, speedKBps float64) {
			j.updateProgress(downloaded, total, speedKBps)
			m.bus.Emit(bus.DownloadProgress, j.snapshot())
			if time.Since(lastPersist) > 2*time.Second {
				m.persist(j)
				lastPersist = time.Now()
			}
		},
		IsCancelled: j.isCancelled,
		IsPaused:    j.isPaused,
	})

	switch {
	case j.isCancelled():
		m.finishCancelled(j)
	case err == context.Canceled:
		m.finishCancelled(j)
	case err != nil:
		m.finishError(j, err.Error())
	default:
		m.finishCompleted(j)
	}
}

// maybeAllocate best-effort HEAD-probes url for a content length and, if
// known, pre-allocates the output file to that size.
func (m *Manager) maybeAllocate(url, outputPath string) {
	if m.allocator == nil {
		return
	}
	req, err := http.NewRequest(http.MethodHead, url, nil)
	if err != nil {
		return
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return
	}
	resp.Body.Close()
	if resp.ContentLength <= 0 {
		return
	}
	if err := m.allocator.AllocateFile(outputPath, resp.ContentLength); err != nil {
		m.logger.Warn("pre-allocation failed, continuing without it", "path", outputPath, "error", err)
	}
}

func (m *Manager) finishCancelled(j *job) {
	j.setStatus(model.StatusCancelled)
	m.stampEnd(j)
	m.persist(j)
	m.bus.Emit(bus.DownloadCancelled, j.snapshot())
}

func (m *Manager) finishError(j *job, message string) {
	j.setError(model.StatusError, message)
	m.stampEnd(j)
	m.persist(j)
	m.bus.Emit(bus.DownloadError, j.snapshot())
}

func (m *Manager) finishCompleted(j *job) {
	j.mu.Lock()
	outputPath := j.OutputPath
	expected := j.ExpectedChecksum
	j.mu.Unlock()

	if expected != "" {
		if err := m.verifier.Verify(outputPath, "sha256", expected); err != nil {
			m.finishError(j, err.Error())
			return
		}
		j.mu.Lock()
		j.Checksum = expected
		j.mu.Unlock()
	} else if checksum, err := integrity.CalculateHash(outputPath, "sha256"); err == nil {
		j.mu.Lock()
		j.Checksum = checksum
		j.mu.Unlock()
	} else {
		m.logger.Warn("checksum computation failed", "id", j.ID, "path", outputPath, "error", err)
	}

	if m.scanner != nil {
		if err := m.scanner.ScanFile(context.Background(), outputPath); err != nil {
			m.logger.Warn("AV scan warning", "id", j.ID, "path", outputPath, "error", err)
		}
	}

	if m.organizer != nil {
		if newPath, err := m.organizer.OrganizeFile(outputPath); err != nil {
			m.logger.Warn("smart-organize failed, leaving file in place", "id", j.ID, "error", err)
		} else {
			j.mu.Lock()
			j.OutputPath = newPath
			j.mu.Unlock()
		}
	}

	j.mu.Lock()
	j.Status = model.StatusCompleted
	j.Progress = 100
	if j.TotalBytes > 0 {
		j.DownloadedBytes = j.TotalBytes
	}
	j.mu.Unlock()
	m.stampEnd(j)
	m.persist(j)

	if m.stats != nil {
		m.stats.TrackFileCompleted()
		snap := j.snapshot()
		m.stats.TrackDownloadBytes(snap.DownloadedBytes)
	}

	m.bus.Emit(bus.DownloadCompleted, j.snapshot())
}

func (m *Manager) stampEnd(j *job) {
	j.mu.Lock()
	now := time.Now()
	j.EndTime = &now
	j.mu.Unlock()
}

func (m *Manager) clearCancel(id string) {
	m.mu.Lock()
	delete(m.cancels, id)
	m.mu.Unlock()
}

// Pause requests a cooperative pause; the worker observes it at the
// backend's next chunk/poll boundary.
func (m *Manager) Pause(id string) error {
	j, err := m.find(id)
	if err != nil {
		return err
	}
	if j.snapshot().Status != model.StatusDownloading {
		return fmt.Errorf("job %s is not downloading", id)
	}
	j.requestPause()
	j.setStatus(model.StatusPaused)
	m.persist(j)
	m.bus.Emit(bus.DownloadPaused, j.snapshot())
	return nil
}

// Resume clears the pause flag, re-entering the downloading state.
func (m *Manager) Resume(id string) error {
	j, err := m.find(id)
	if err != nil {
		return err
	}
	if j.snapshot().Status != model.StatusPaused {
		return fmt.Errorf("job %s is not paused", id)
	}
	j.requestResume()
	j.setStatus(model.StatusDownloading)
	m.persist(j)
	m.bus.Emit(bus.DownloadResumed, j.snapshot())
	return nil
}

// Cancel requests a hard stop; the worker's backend returns as soon as it
// next checks IsCancelled.
func (m *Manager) Cancel(id string) error {
	j, err := m.find(id)
	if err != nil {
		return err
	}
	j.requestCancel()

	m.mu.RLock()
	cancel, ok := m.cancels[id]
	m.mu.RUnlock()
	if ok {
		cancel()
	}
	return nil
}

// Retry re-queues a cancelled or errored job from scratch, on a fresh
// worker goroutine, preserving its title/paths/sources.
func (m *Manager) Retry(ctx context.Context, id string) error {
	j, err := m.find(id)
	if err != nil {
		return err
	}
	snap := j.snapshot()
	if snap.Status != model.StatusError && snap.Status != model.StatusCancelled {
		return fmt.Errorf("job %s is not in a retryable state", id)
	}

	j.mu.Lock()
	j.Status = model.StatusQueued
	j.Error = ""
	j.StatusDetail = ""
	j.Progress = 0
	j.DownloadedBytes = 0
	j.TotalBytes = 0
	j.EndTime = nil
	j.PauseRequested = false
	j.CancelRequested = false
	j.StartTime = time.Now()
	j.mu.Unlock()

	m.persist(j)
	m.bus.Emit(bus.DownloadQueued, j.snapshot())

	sc := session.Snapshot(ctx)
	workerCtx, cancel := context.WithCancel(session.WithContext(context.Background(), sc))
	m.mu.Lock()
	m.cancels[id] = cancel
	m.mu.Unlock()

	go m.runWorker(workerCtx, j)
	return nil
}

// Delete removes a job from the table and, optionally, its output file. A
// still-running job is cancelled first.
func (m *Manager) Delete(id string, deleteFile bool) error {
	j, err := m.find(id)
	if err != nil {
		return err
	}
	snap := j.snapshot()
	if snap.Status == model.StatusDownloading || snap.Status == model.StatusResolving || snap.Status == model.StatusPaused {
		m.Cancel(id)
	}

	m.mu.Lock()
	delete(m.jobs, id)
	m.mu.Unlock()

	if err := m.storage.DeleteDownload(id); err != nil {
		m.logger.Error("failed to delete persisted download record", "id", id, "error", err)
	}
	if deleteFile && snap.OutputPath != "" {
		if err := os.Remove(snap.OutputPath); err != nil && !os.IsNotExist(err) {
			m.logger.Warn("failed to delete output file", "id", id, "path", snap.OutputPath, "error", err)
		}
	}

	m.bus.Emit(bus.DownloadDeleted, map[string]string{"id": id})
	return nil
}

// Get returns a snapshot of one job.
func (m *Manager) Get(id string) (model.DownloadJob, error) {
	j, err := m.find(id)
	if err != nil {
		return model.DownloadJob{}, err
	}
	return j.snapshot(), nil
}

// GetAll returns a snapshot of every job.
func (m *Manager) GetAll() []model.DownloadJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.DownloadJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j.snapshot())
	}
	return out
}

// SetMaxConcurrent changes the semaphore capacity; already-running jobs keep
// their slot, only subsequently queued jobs observe the new limit.
func (m *Manager) SetMaxConcurrent(n int) {
	m.sem.SetCapacity(n)
}

// SetBackend changes the manager's default backend for newly queued jobs
// that don't request one explicitly.
func (m *Manager) SetBackend(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.backends[name]; !ok {
		return fmt.Errorf("backend %q is not registered", name)
	}
	m.defaultBackend = name
	return nil
}

// GetBackend returns the manager's current default backend name.
func (m *Manager) GetBackend() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultBackend
}

func (m *Manager) find(id string) (*job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s not found", id)
	}
	return j, nil
}

// Package metrics is the process's operational instrumentation: provider
// attempt/outcome counters, fan-out latency, and download throughput,
// exposed as a Prometheus registry for the control API's /metrics route.
// This is separate from any durable per-action audit trail, which is an
// external collaborator's concern, not this process's.
package metrics

import (
	"project-tachyon/internal/bus"
	"project-tachyon/internal/model"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry owns every metric this process exports and the bus
// subscriptions that keep them current.
type Registry struct {
	registry *prometheus.Registry

	providerAttempts *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	searchesTotal    prometheus.Counter

	downloadsActive     prometheus.Gauge
	downloadThroughput  *prometheus.GaugeVec
	downloadBytesTotal  prometheus.Counter
	downloadOutcomes    *prometheus.CounterVec
}

// New builds a Registry with its own prometheus.Registry (not the global
// default one, so multiple processes in the same test binary don't
// collide on duplicate registration).
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
		providerAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tachyon_provider_attempts_total",
			Help: "Search provider task outcomes by provider and status.",
		}, []string{"provider", "status"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tachyon_provider_latency_seconds",
			Help:    "Per-provider fan-out task latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		searchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tachyon_searches_total",
			Help: "Search jobs started.",
		}),
		downloadsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tachyon_downloads_active",
			Help: "Downloads currently in the downloading state.",
		}),
		downloadThroughput: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tachyon_download_throughput_kbps",
			Help: "Most recent reported speed per active download job.",
		}, []string{"job_id"}),
		downloadBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tachyon_download_bytes_total",
			Help: "Cumulative bytes downloaded across completed jobs.",
		}),
		downloadOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tachyon_download_outcomes_total",
			Help: "Download jobs by terminal outcome.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		r.providerAttempts,
		r.providerLatency,
		r.searchesTotal,
		r.downloadsActive,
		r.downloadThroughput,
		r.downloadBytesTotal,
		r.downloadOutcomes,
	)
	return r
}

// Gatherer exposes the underlying prometheus.Gatherer for a /metrics handler.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Attach subscribes the registry to every bus event it instruments. It
// returns an unsubscribe function that detaches all of them.
func (r *Registry) Attach(b *bus.Bus) (detach func()) {
	var unsubs []func()

	unsubs = append(unsubs, b.Subscribe(bus.SearchStarted, func(payload any) {
		r.searchesTotal.Inc()
	}))

	unsubs = append(unsubs, b.Subscribe(bus.SearchProgress, func(payload any) {
		data, ok := payload.(map[string]any)
		if !ok {
			return
		}
		provider, _ := data["provider"].(string)
		if provider == "" {
			return
		}
		status := "error"
		if okVal, _ := data["ok"].(bool); okVal {
			status = "done"
		}
		r.providerAttempts.WithLabelValues(provider, status).Inc()

		if elapsedMs, ok := data["elapsed_ms"].(int64); ok {
			r.providerLatency.WithLabelValues(provider).Observe(float64(elapsedMs) / 1000)
		}
	}))

	unsubs = append(unsubs, b.Subscribe(bus.DownloadStarted, func(payload any) {
		job, ok := payload.(model.DownloadJob)
		if !ok || job.Status != model.StatusDownloading {
			return
		}
		r.downloadsActive.Inc()
	}))

	unsubs = append(unsubs, b.Subscribe(bus.DownloadProgress, func(payload any) {
		job, ok := payload.(model.DownloadJob)
		if !ok {
			return
		}
		r.downloadThroughput.WithLabelValues(job.ID).Set(job.SpeedKBps)
	}))

	finish := func(payload any, status string) {
		job, ok := payload.(model.DownloadJob)
		if !ok {
			return
		}
		r.downloadsActive.Dec()
		r.downloadThroughput.DeleteLabelValues(job.ID)
		r.downloadOutcomes.WithLabelValues(status).Inc()
		if status == "completed" {
			r.downloadBytesTotal.Add(float64(job.DownloadedBytes))
		}
	}
	unsubs = append(unsubs, b.Subscribe(bus.DownloadCompleted, func(payload any) { finish(payload, "completed") }))
	unsubs = append(unsubs, b.Subscribe(bus.DownloadCancelled, func(payload any) { finish(payload, "cancelled") }))
	unsubs = append(unsubs, b.Subscribe(bus.DownloadError, func(payload any) { finish(payload, "error") }))

	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

package worker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WorkerMetrics contains worker counters
type WorkerMetrics struct {
	Processed int64 `json:"processed"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}

// Metrics tracks job outcomes in memory and as prometheus collectors
type Metrics struct {
	mu        sync.RWMutex
	processed int64
	succeeded int64
	failed    int64

	jobs        *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	documents   *prometheus.CounterVec
	pages       *prometheus.CounterVec
	pollErrors  prometheus.Counter
}

// NewMetrics creates the worker metrics and registers them with reg when it is not nil
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sheetworks",
			Subsystem: "worker",
			Name:      "jobs_total",
			Help:      "Jobs finished by the worker, by type and terminal status.",
		}, []string{"type", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sheetworks",
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "Wall time from claim to terminal status.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"type"}),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sheetworks",
			Subsystem: "worker",
			Name:      "documents_total",
			Help:      "Documents processed, by outcome.",
		}, []string{"status"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sheetworks",
			Subsystem: "worker",
			Name:      "pages_total",
			Help:      "Pages processed, by outcome.",
		}, []string{"status"}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sheetworks",
			Subsystem: "worker",
			Name:      "poll_errors_total",
			Help:      "Failed queries or claims against the jobs table.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.jobs, m.jobDuration, m.documents, m.pages, m.pollErrors)
	}
	return m
}

func (m *Metrics) jobFinished(jobType string, ok bool, elapsed time.Duration) {
	status := "succeeded"
	m.mu.Lock()
	m.processed++
	if ok {
		m.succeeded++
	} else {
		m.failed++
		status = "failed"
	}
	m.mu.Unlock()

	m.jobs.WithLabelValues(jobType, status).Inc()
	m.jobDuration.WithLabelValues(jobType).Observe(elapsed.Seconds())
}

func (m *Metrics) packageRendered(r *PackageResult) {
	for _, d := range r.Documents {
		if d.Err != nil {
			m.documents.WithLabelValues("failed").Inc()
		} else {
			m.documents.WithLabelValues("processed").Inc()
		}
		for _, p := range d.Pages {
			m.pages.WithLabelValues(string(p.Status)).Inc()
		}
	}
}

func (m *Metrics) pollFailed() {
	m.pollErrors.Inc()
}

// Snapshot returns the current counters
func (m *Metrics) Snapshot() WorkerMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return WorkerMetrics{
		Processed: m.processed,
		Succeeded: m.succeeded,
		Failed:    m.failed,
	}
}

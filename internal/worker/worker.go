// Package worker runs the job scheduler: it polls the jobs table, claims pending
// jobs and drives them to a terminal status through the registered processors.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/sheetworks/internal/domain"
	"github.com/cuongbtq/sheetworks/shared/logger"
)

// JobProcessor executes one claimed job. A nil return marks the job succeeded.
type JobProcessor interface {
	Handle(ctx context.Context, job *domain.Job) error
}

// JobProcessorFunc adapts a function to JobProcessor
type JobProcessorFunc func(ctx context.Context, job *domain.Job) error

// Handle implements JobProcessor
func (f JobProcessorFunc) Handle(ctx context.Context, job *domain.Job) error {
	return f(ctx, job)
}

// Config holds worker configuration
type Config struct {
	Logger      *slog.Logger
	Store       Store
	Blobs       BlobStore
	Rasterizer  Rasterizer
	Thumbnailer Thumbnailer
	// Events is optional; without it no lifecycle events are published.
	Events  EventPublisher
	Metrics *Metrics

	PollInterval         time.Duration
	Concurrency          int
	JobTimeout           time.Duration
	ShutdownTimeout      time.Duration
	PollTypes            []domain.JobType
	RequireRenderedSheet bool
	RecoverStaleAfter    time.Duration
}

// Worker represents the background job worker
type Worker struct {
	logger            *slog.Logger
	store             JobStore
	packages          PackageStore
	events            *eventEmitter
	metrics           *Metrics
	processors        map[domain.JobType]JobProcessor
	pollInterval      time.Duration
	pollTypes         []domain.JobType
	concurrency       int
	jobTimeout        time.Duration
	shutdownTimeout   time.Duration
	recoverStaleAfter time.Duration

	wake chan struct{}

	mu        sync.Mutex
	running   bool
	wg        sync.WaitGroup
	stopChan  chan struct{}
	jobCtx    context.Context
	cancelJob context.CancelFunc
}

// NewWorker creates a new worker instance with the render_package processor registered
func NewWorker(cfg *Config) *Worker {
	log := cfg.Logger.With(logger.Component("worker"))

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = domain.DefaultPollInterval
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	pollTypes := cfg.PollTypes
	if len(pollTypes) == 0 {
		pollTypes = []domain.JobType{domain.JobTypeRenderPackage}
	}

	events := &eventEmitter{publisher: cfg.Events, logger: log}

	w := &Worker{
		logger:            log,
		store:             cfg.Store,
		packages:          cfg.Store,
		events:            events,
		metrics:           metrics,
		processors:        make(map[domain.JobType]JobProcessor),
		pollInterval:      pollInterval,
		pollTypes:         pollTypes,
		concurrency:       concurrency,
		jobTimeout:        cfg.JobTimeout,
		shutdownTimeout:   shutdownTimeout,
		recoverStaleAfter: cfg.RecoverStaleAfter,
		wake:              make(chan struct{}, 1),
	}
	w.jobCtx, w.cancelJob = context.WithCancel(context.Background())

	docs := NewDocumentProcessor(cfg.Store, cfg.Blobs, cfg.Rasterizer, cfg.Thumbnailer, cfg.Logger)
	pkgs := NewPackageProcessor(cfg.Store, cfg.Store, docs, cfg.Logger)
	pkgs.events = events
	pkgs.metrics = metrics
	pkgs.requireRenderedSheet = cfg.RequireRenderedSheet

	w.Register(domain.JobTypeRenderPackage, pkgs)

	return w
}

// Register sets the processor for a job type, replacing any previous one
func (w *Worker) Register(jobType domain.JobType, p JobProcessor) {
	w.processors[jobType] = p
}

// Start recovers stale jobs and spawns the poll loops. It returns immediately.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("worker already running")
	}
	w.running = true
	w.stopChan = make(chan struct{})
	w.cancelJob()
	// jobs outlive the poll context so Stop can let them finish
	w.jobCtx, w.cancelJob = context.WithCancel(context.WithoutCancel(ctx))
	w.mu.Unlock()

	w.logger.Info("Starting worker",
		slog.Int("concurrency", w.concurrency),
		slog.Duration("poll_interval", w.pollInterval),
		slog.Duration("job_timeout", w.jobTimeout),
		slog.Any("poll_types", w.pollTypes),
	)

	if w.recoverStaleAfter > 0 {
		n, err := w.store.RecoverStaleJobs(ctx, w.recoverStaleAfter)
		if err != nil {
			w.logger.Warn("Failed to recover stale jobs", logger.Err(err))
		} else if n > 0 {
			w.logger.Info("Recovered stale jobs", slog.Int64("count", n))
		}
	}

	w.spawnPollLoops(ctx)
	return nil
}

// Run starts the worker and blocks until ctx is cancelled, then stops it
func (w *Worker) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.shutdownTimeout)
	defer cancel()
	return w.Stop(stopCtx)
}

// Stop stops polling and waits for in-flight jobs. When ctx expires first the
// jobs are cancelled and recorded as failed.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopChan)
	w.mu.Unlock()

	w.logger.Info("Stopping worker...")

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.cancelJob()
		w.logger.Info("Worker stopped")
		return nil
	case <-ctx.Done():
		w.logger.Warn("Worker stop timeout, cancelling in-flight jobs")
		w.cancelJob()
		<-done
		return fmt.Errorf("worker stop: %w", ctx.Err())
	}
}

// Notify wakes one idle poll loop. Extra notifications are dropped.
func (w *Worker) Notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Metrics returns current worker counters
func (w *Worker) Metrics() WorkerMetrics {
	return w.metrics.Snapshot()
}

// IsRunning reports whether the poll loops are active
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/cuongbtq/sheetworks/internal/domain"
	"github.com/cuongbtq/sheetworks/shared/logger"
)

const statusWriteTimeout = 10 * time.Second

// runJob drives a claimed job to succeeded or failed
func (w *Worker) runJob(job *domain.Job) {
	start := time.Now()
	log := w.logger.With(
		slog.String("job_id", job.ID),
		slog.String("job_type", string(job.Type)),
	)

	ctx := w.jobCtx
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	log.Info("Processing job")
	w.events.emit(ctx, domain.EventJobClaimed, job, 0, nil)

	stopHeartbeat := w.heartbeat(ctx, job.ID, log)
	err := w.execute(ctx, job)
	stopHeartbeat()

	// terminal writes must land even when the job context is done
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()

	if err == nil {
		if updateErr := w.store.CompleteJob(writeCtx, job.ID); updateErr != nil {
			log.Error("Failed to mark job succeeded", logger.Err(updateErr))
		}
		w.metrics.jobFinished(string(job.Type), true, time.Since(start))
		w.events.emit(writeCtx, domain.EventJobSucceeded, job, 1, nil)
		log.Info("Job succeeded", slog.Duration("elapsed", time.Since(start)))
		return
	}

	log.Error("Job failed", logger.Err(err))

	if updateErr := w.store.FailJob(writeCtx, job.ID, err.Error()); updateErr != nil {
		log.Error("Failed to mark job failed", logger.Err(updateErr))
	}

	if packageID, ok := job.Payload.PackageID(); ok && failsPackage(err) {
		if updateErr := w.packages.SetPackageStatus(writeCtx, packageID, domain.PackageStatusFailed); updateErr != nil {
			log.Error("Failed to mark package failed",
				slog.String("package_id", packageID),
				logger.Err(updateErr),
			)
		}
	}

	w.metrics.jobFinished(string(job.Type), false, time.Since(start))
	w.events.emit(writeCtx, domain.EventJobFailed, job, 0, err)
}

// heartbeat refreshes the job's updated_at every third of the stale threshold
// until the returned stop function is called. It is a no-op when stale recovery is off.
func (w *Worker) heartbeat(ctx context.Context, jobID string, log *slog.Logger) (stop func()) {
	if w.recoverStaleAfter <= 0 {
		return func() {}
	}

	interval := w.recoverStaleAfter / 3
	if interval <= 0 {
		interval = w.recoverStaleAfter
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.store.TouchJob(ctx, jobID); err != nil && ctx.Err() == nil {
					log.Warn("Failed to refresh job heartbeat", logger.Err(err))
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// execute dispatches the job to its processor, converting a panic into an error
func (w *Worker) execute(ctx context.Context, job *domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
			w.logger.Error("Recovered panic in job processor",
				slog.String("job_id", job.ID),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	p, ok := w.processors[job.Type]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownJobType, job.Type)
	}

	return p.Handle(ctx, job)
}

// failsPackage reports whether a job failure should be reflected on its package.
// A package that was never found, or an id that is not one, cannot be updated.
func failsPackage(err error) bool {
	return !errors.Is(err, domain.ErrPackageNotFound) && !errors.Is(err, domain.ErrInvalidPayload)
}

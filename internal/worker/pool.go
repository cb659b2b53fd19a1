package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/sheetworks/internal/domain"
	"github.com/cuongbtq/sheetworks/shared/logger"
)

// spawnPollLoops starts one poll loop per configured concurrency slot
func (w *Worker) spawnPollLoops(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.pollLoop(ctx, i)
	}

	w.logger.Info("Poll loops spawned", slog.Int("count", w.concurrency))
}

// pollLoop claims and runs jobs until the worker stops. It only sleeps when the
// queue is empty or the store could not be reached.
func (w *Worker) pollLoop(ctx context.Context, loopNum int) {
	defer w.wg.Done()

	log := w.logger.With(slog.Int("loop", loopNum))
	log.Debug("Poll loop started")

	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()

	for {
		select {
		case <-w.stopChan:
			log.Debug("Poll loop stopping - worker stopped")
			return
		case <-ctx.Done():
			log.Debug("Poll loop stopping - context canceled")
			return
		default:
		}

		if w.pollOnce(ctx, log) {
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(w.pollInterval)

		select {
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		case <-w.wake:
			log.Debug("Poll loop woken by job notification")
		case <-timer.C:
		}
	}
}

// pollOnce looks for one pending job and runs it. It reports whether the loop
// should poll again without sleeping.
func (w *Worker) pollOnce(ctx context.Context, log *slog.Logger) bool {
	job, err := w.store.NextPendingJob(ctx, w.pollTypes)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) || ctx.Err() != nil {
			return false
		}
		w.metrics.pollFailed()
		logPollError(log, "Failed to query pending jobs", err)
		return false
	}

	claimed, err := w.store.ClaimJob(ctx, job.ID)
	if err != nil {
		if errors.Is(err, domain.ErrJobAlreadyClaimed) {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		w.metrics.pollFailed()
		logPollError(log.With(slog.String("job_id", job.ID)), "Failed to claim job", err)
		return false
	}

	w.runJob(claimed)
	return true
}

func logPollError(log *slog.Logger, msg string, err error) {
	if domain.IsRetryable(err) {
		log.Warn(msg, logger.Err(err))
		return
	}
	log.Error(msg, logger.Err(err))
}

package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cuongbtq/sheetworks/internal/domain"
	"github.com/cuongbtq/sheetworks/shared/logger"
)

const publishTimeout = 5 * time.Second

// EventPublisher sends job lifecycle events to the event bus
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// eventEmitter publishes job events. Failures are logged and never change job state.
type eventEmitter struct {
	publisher EventPublisher
	logger    *slog.Logger
}

func (e *eventEmitter) emit(ctx context.Context, event string, job *domain.Job, progress float64, jobErr error) {
	if e == nil || e.publisher == nil {
		return
	}

	msg := domain.JobMessage{
		Event:      event,
		JobID:      job.ID,
		JobType:    job.Type,
		Progress:   progress,
		OccurredAt: time.Now().UTC(),
	}
	if pkgID, ok := job.Payload.PackageID(); ok {
		msg.PackageID = pkgID
	}
	switch event {
	case domain.EventJobSucceeded:
		msg.Status = domain.JobStatusSucceeded
	case domain.EventJobFailed:
		msg.Status = domain.JobStatusFailed
	default:
		msg.Status = domain.JobStatusRunning
	}
	if jobErr != nil {
		msg.Error = jobErr.Error()
	}

	body, err := json.Marshal(msg)
	if err != nil {
		e.logger.Warn("Failed to encode job event", slog.String("event", event), logger.Err(err))
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := e.publisher.Publish(pubCtx, event, body, "application/json"); err != nil {
		e.logger.Warn("Failed to publish job event",
			slog.String("event", event),
			slog.String("job_id", job.ID),
			logger.Err(err),
		)
	}
}

package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/sheetworks/internal/domain"
	"github.com/cuongbtq/sheetworks/shared/logger"
)

// ListenForWakeups turns job.enqueued events into poll wake-ups until ctx is
// cancelled or the delivery channel closes. The jobs table stays the source of
// truth: a delivery only shortens the idle sleep.
func (w *Worker) ListenForWakeups(ctx context.Context, deliveries <-chan amqp.Delivery) {
	w.logger.Info("Wake-up listener started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Wake-up listener stopped - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			var msg domain.JobMessage
			if err := json.Unmarshal(delivery.Body, &msg); err != nil {
				w.logger.Warn("Discarding malformed job event",
					logger.Err(err),
					slog.Int("body_size", len(delivery.Body)),
				)
				if err := delivery.Nack(false, false); err != nil {
					w.logger.Warn("Failed to NACK malformed message", logger.Err(err))
				}
				continue
			}

			if msg.Event == domain.EventJobEnqueued {
				w.logger.Debug("Job enqueued notification",
					slog.String("job_id", msg.JobID),
					slog.String("package_id", msg.PackageID),
				)
				w.Notify()
			}

			if err := delivery.Ack(false); err != nil {
				w.logger.Warn("Failed to ACK message", logger.Err(err))
			}
		}
	}
}

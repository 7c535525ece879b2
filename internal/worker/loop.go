package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/transcriptomics-atlas/internal/worker/domain"
)

// loop polls the source until ctx is done. One job is in flight at a time.
func (w *Worker) loop(ctx context.Context) {
	for ctx.Err() == nil {
		jobs, err := w.source.Receive(ctx, w.maxMessages)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("Failed to receive messages",
				slog.Any("error", err),
				slog.Duration("retry_after", w.receiveBackoff),
			)
			if !sleep(ctx, w.receiveBackoff) {
				return
			}
			continue
		}

		for i, job := range jobs {
			if ctx.Err() != nil {
				for _, pending := range jobs[i:] {
					w.release(ctx, pending)
				}
				return
			}
			w.handle(ctx, job)
		}
	}
}

// handle processes one job and acknowledges it only when it completed or was skipped
func (w *Worker) handle(ctx context.Context, job domain.Job) {
	w.logger.Info("Received message",
		slog.String("job_id", job.ID),
	)

	outcome, err := w.processor.Process(ctx, job)
	if err != nil {
		w.logger.Error("Job processing failed, releasing message for redelivery",
			slog.String("job_id", job.ID),
			slog.String("outcome", string(outcome)),
			slog.Any("error", err),
		)
		w.release(ctx, job)
		return
	}

	// A finished job is acknowledged even when shutdown began while it ran
	if err := w.source.Acknowledge(context.WithoutCancel(ctx), job); err != nil {
		var ackErr *domain.AcknowledgeError
		if errors.As(err, &ackErr) {
			w.logger.Warn("Acknowledgement rejected, job will be redelivered",
				slog.String("job_id", job.ID),
				slog.Any("error", err),
			)
			return
		}
		w.logger.Error("Failed to acknowledge message",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
		return
	}

	w.logger.Info("Message acknowledged",
		slog.String("job_id", job.ID),
		slog.String("outcome", string(outcome)),
	)
}

// release returns an unfinished job to the queue. A failed release still ends in
// redelivery once the receipt expires.
func (w *Worker) release(ctx context.Context, job domain.Job) {
	if err := w.source.Release(context.WithoutCancel(ctx), job); err != nil {
		w.logger.Warn("Failed to release message",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
	}
}

// sleep waits for d or until ctx is done. It reports whether the full duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

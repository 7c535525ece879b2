package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/transcriptomics-atlas/internal/worker/domain"
)

// JobSource delivers jobs and takes acknowledgements. Release hands a failed job back
// to the queue for redelivery.
type JobSource interface {
	Receive(ctx context.Context, maxMessages int) ([]domain.Job, error)
	Acknowledge(ctx context.Context, job domain.Job) error
	Release(ctx context.Context, job domain.Job) error
}

// JobProcessor runs one job to a terminal outcome
type JobProcessor interface {
	Process(ctx context.Context, job domain.Job) (domain.Outcome, error)
}

// Config holds worker configuration
type Config struct {
	Logger         *slog.Logger
	Source         JobSource
	Processor      JobProcessor
	MaxMessages    int
	ReceiveBackoff time.Duration
	WorkerID       string
}

// Worker pulls jobs one at a time and acknowledges the ones that succeed
type Worker struct {
	logger         *slog.Logger
	source         JobSource
	processor      JobProcessor
	maxMessages    int
	receiveBackoff time.Duration
	workerID       string

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = uuid.NewString()
	}
	maxMessages := cfg.MaxMessages
	if maxMessages <= 0 {
		maxMessages = 1
	}

	return &Worker{
		logger:         cfg.Logger.With(slog.String("worker_id", workerID)),
		source:         cfg.Source,
		processor:      cfg.Processor,
		maxMessages:    maxMessages,
		receiveBackoff: cfg.ReceiveBackoff,
		workerID:       workerID,
		stopChan:       make(chan struct{}),
	}
}

// ID returns the worker id
func (w *Worker) ID() string {
	return w.workerID
}

// Start runs the receive loop until ctx is cancelled or Stop is called
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Awaiting messages",
		slog.Int("max_messages", w.maxMessages),
		slog.Duration("receive_backoff", w.receiveBackoff),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		select {
		case <-w.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	w.wg.Add(1)
	defer w.wg.Done()

	w.loop(ctx)

	w.logger.Info("Worker context canceled, stopping...")
	return nil
}

// Stop interrupts the loop and waits for the in-flight job to return
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}

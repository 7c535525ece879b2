package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/transcriptomics-atlas/internal/config"
	"github.com/cuongbtq/transcriptomics-atlas/internal/ledger"
	"github.com/cuongbtq/transcriptomics-atlas/internal/worker/command"
	"github.com/cuongbtq/transcriptomics-atlas/internal/worker/domain"
)

const recordTimeout = 30 * time.Second

// ResultStore holds the artifacts that mark a sample as done
type ResultStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Upload(ctx context.Context, localPath, key string) error
	Bucket() string
}

// ProcessorConfig holds processor dependencies and settings
type ProcessorConfig struct {
	Logger   *slog.Logger
	Store    ResultStore
	Runner   command.Runner
	Recorder ledger.Recorder
	Pipeline config.PipelineConfig

	KeyPrefix     string
	ExecutionMode string
	InstanceID    string
}

// Processor runs the per-sample pipeline
type Processor struct {
	logger   *slog.Logger
	store    ResultStore
	runner   command.Runner
	recorder ledger.Recorder
	pipeline config.PipelineConfig

	keyPrefix     string
	executionMode string
	instanceID    string
}

// NewProcessor creates a processor
func NewProcessor(cfg *ProcessorConfig) *Processor {
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = ledger.Nop{}
	}
	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = domain.DefaultArtifactPrefix
	}

	return &Processor{
		logger:        cfg.Logger,
		store:         cfg.Store,
		runner:        cfg.Runner,
		recorder:      recorder,
		pipeline:      cfg.Pipeline,
		keyPrefix:     keyPrefix,
		executionMode: cfg.ExecutionMode,
		instanceID:    cfg.InstanceID,
	}
}

// Process runs every stage for one job. A nil error means the job may be acknowledged.
// Working directories are cleaned whenever FETCH was entered, whatever the outcome.
func (p *Processor) Process(ctx context.Context, job domain.Job) (domain.Outcome, error) {
	logger := p.logger.With(slog.String("job_id", job.ID))
	if err := domain.ValidateJobID(job.ID); err != nil {
		logger.Error("Refusing job", slog.Any("error", err))
		return domain.OutcomeFailed, err
	}
	key := domain.ArtifactKeyWithPrefix(p.keyPrefix, job.ID)

	logger.Info("Checking if the pipeline has already been run",
		slog.String("stage", string(domain.StageSkipCheck)),
		slog.String("key", key),
	)

	exists, err := p.store.Exists(ctx, key)
	if err != nil {
		logger.Error("Existence check failed",
			slog.String("stage", string(domain.StageSkipCheck)),
			slog.Any("error", err),
		)
		return domain.OutcomeFailed, fmt.Errorf("failed to check artifact %s: %w", key, err)
	}
	if exists {
		logger.Info("Artifact already exists, skipping",
			slog.String("key", key),
		)
		return domain.OutcomeSkipped, nil
	}

	logger.Info("Artifact not found, starting the pipeline")

	dirs := resolveDirs(p.pipeline.Directories, job.ID)
	defer p.cleanup(logger, dirs)

	run := &ledger.SampleRun{
		SRRID:         job.ID,
		Bucket:        p.store.Bucket(),
		ExecutionMode: p.executionMode,
		InstanceID:    p.instanceID,
	}

	start := time.Now()
	err = p.runStages(ctx, logger, job, dirs, key, run)

	p.collectMetrics(logger, job.ID, dirs, run)
	run.ErrorType = errorType(err)
	p.record(ctx, logger, run)

	if err != nil {
		stage, _ := domain.FailedStage(err)
		logger.Error("Job failed",
			slog.String("stage", string(stage)),
			slog.Duration("duration", time.Since(start)),
			slog.Any("error", err),
		)
		return domain.OutcomeFailed, err
	}

	logger.Info("Job completed",
		slog.String("key", key),
		slog.Duration("duration", time.Since(start)),
	)
	return domain.OutcomeCompleted, nil
}

// record saves the run on a context that survives shutdown; failures never fail the job
func (p *Processor) record(ctx context.Context, logger *slog.Logger, run *ledger.SampleRun) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err := p.recorder.SaveRun(ctx, run); err != nil {
		logger.Warn("Failed to record sample run",
			slog.Any("error", err),
		)
	}
}

func errorType(err error) string {
	if err == nil {
		return ""
	}

	var timeoutErr *domain.StageTimeoutError
	if errors.As(err, &timeoutErr) {
		return "timeout:" + string(timeoutErr.Stage)
	}

	if stage, ok := domain.FailedStage(err); ok {
		return string(stage)
	}

	return "unknown"
}

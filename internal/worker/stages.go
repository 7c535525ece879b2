package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuongbtq/transcriptomics-atlas/internal/config"
	"github.com/cuongbtq/transcriptomics-atlas/internal/ledger"
	"github.com/cuongbtq/transcriptomics-atlas/internal/worker/command"
	"github.com/cuongbtq/transcriptomics-atlas/internal/worker/domain"
)

// workDirs are the directories one job reads and writes
type workDirs struct {
	raw   string
	fastq string
	quant string
	stats string
}

func resolveDirs(dirs config.DirectoriesConfig, jobID string) workDirs {
	resolve := func(d config.DirectoryConfig) string {
		if d.PerJob {
			return filepath.Join(d.Path, jobID)
		}
		return d.Path
	}

	return workDirs{
		raw:   resolve(dirs.Raw),
		fastq: resolve(dirs.Fastq),
		quant: resolve(dirs.Quant),
		stats: resolve(dirs.Stats),
	}
}

func (p *Processor) runStages(ctx context.Context, logger *slog.Logger, job domain.Job, dirs workDirs, key string, run *ledger.SampleRun) error {
	tools := p.pipeline.Tools
	vars := map[string]string{
		"job_id":    job.ID,
		"raw_dir":   dirs.raw,
		"fastq_dir": dirs.fastq,
		"quant_dir": dirs.quant,
		"stats_dir": dirs.stats,
		"index":     p.pipeline.IndexPath,
	}

	if err := ensureDir(domain.StageFetch, dirs.raw); err != nil {
		return err
	}
	if _, err := p.runTool(ctx, logger, domain.StageFetch, tools.Fetch, vars, false, &run.PrefetchStart, &run.PrefetchEnd); err != nil {
		return err
	}

	if err := ensureDir(domain.StageConvert, dirs.fastq); err != nil {
		return err
	}
	if _, err := p.runTool(ctx, logger, domain.StageConvert, tools.Convert, vars, false, &run.FasterqDumpStart, &run.FasterqDumpEnd); err != nil {
		return err
	}

	if err := ensureDir(domain.StageQuantify, dirs.quant); err != nil {
		return err
	}
	if _, err := p.runTool(ctx, logger, domain.StageQuantify, tools.Quantify, vars, false, &run.SalmonStart, &run.SalmonEnd); err != nil {
		return err
	}

	artifact, err := p.summarize(ctx, logger, job, dirs, vars, run)
	if err != nil {
		return err
	}

	logger.Info("S3 upload starting",
		slog.String("stage", string(domain.StageUpload)),
		slog.String("key", key),
	)
	start := time.Now()
	if err := p.store.Upload(ctx, artifact, key); err != nil {
		return domain.NewStageError(domain.StageUpload, err)
	}
	logger.Info("S3 upload finished",
		slog.String("stage", string(domain.StageUpload)),
		slog.Duration("duration", time.Since(start)),
	)

	return nil
}

// summarize rewrites the manifest, runs the statistics tool and returns the artifact it produced
func (p *Processor) summarize(ctx context.Context, logger *slog.Logger, job domain.Job, dirs workDirs, vars map[string]string, run *ledger.SampleRun) (string, error) {
	if err := writeManifest(p.pipeline.ManifestPath, job.ID); err != nil {
		return "", domain.NewStageError(domain.StageSummarize, err)
	}
	if err := ensureDir(domain.StageSummarize, dirs.stats); err != nil {
		return "", err
	}

	// The R script prints package startup chatter on stderr
	result, err := p.runTool(ctx, logger, domain.StageSummarize, p.pipeline.Tools.Summarize, vars, true, &run.DESeq2Start, &run.DESeq2End)
	if err != nil {
		return "", err
	}
	if result != nil && len(result.Stdout) > 0 {
		logger.Debug("Statistics tool output",
			slog.String("stage", string(domain.StageSummarize)),
			slog.String("stdout", strings.TrimSpace(string(result.Stdout))),
		)
	}

	artifact := filepath.Join(dirs.stats, domain.ArtifactFilename(job.ID))
	info, err := os.Stat(artifact)
	if err != nil || !info.Mode().IsRegular() {
		return "", domain.NewStageError(domain.StageSummarize, fmt.Errorf("%w: %s", domain.ErrArtifactMissing, artifact))
	}

	return artifact, nil
}

func (p *Processor) runTool(
	ctx context.Context,
	logger *slog.Logger,
	stage domain.Stage,
	tool config.ToolConfig,
	vars map[string]string,
	discardStderr bool,
	startedAt, endedAt **time.Time,
) (*command.Result, error) {
	logger.Info("Stage starting",
		slog.String("stage", string(stage)),
		slog.String("tool", tool.Path),
	)

	start := time.Now().UTC()
	*startedAt = &start

	result, err := p.runner.Run(ctx, command.Command{
		Stage:         stage,
		Path:          tool.Path,
		Args:          command.Expand(tool.Args, vars),
		Dir:           tool.Dir,
		Timeout:       tool.Timeout,
		DiscardStderr: discardStderr,
	})

	end := time.Now().UTC()
	*endedAt = &end

	if err != nil {
		return nil, err
	}

	logger.Info("Stage finished",
		slog.String("stage", string(stage)),
		slog.Duration("duration", end.Sub(start)),
	)

	return result, nil
}

func ensureDir(stage domain.Stage, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.NewStageError(stage, fmt.Errorf("failed to create %s: %w", dir, err))
	}
	return nil
}

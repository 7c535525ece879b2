package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cuongbtq/transcriptomics-atlas/internal/config"
	"github.com/cuongbtq/transcriptomics-atlas/internal/worker/domain"
)

// cleanup reclaims the job's working directories. Per-job directories are removed whole,
// shared ones lose the regular files directly inside them. Errors are only logged.
func (p *Processor) cleanup(logger *slog.Logger, dirs workDirs) {
	logger.Info("Starting removing generated files",
		slog.String("stage", string(domain.StageCleanup)),
	)
	start := time.Now()

	cfg := p.pipeline.Directories
	var errs []error
	for _, d := range []struct {
		cfg  config.DirectoryConfig
		path string
	}{
		{cfg.Raw, dirs.raw},
		{cfg.Fastq, dirs.fastq},
		{cfg.Quant, dirs.quant},
		{cfg.Stats, dirs.stats},
	} {
		if !d.cfg.ShouldClean() {
			continue
		}
		if d.cfg.PerJob {
			if !isJobDir(d.cfg.Path, d.path) {
				errs = append(errs, fmt.Errorf("refusing to remove %s: not a job directory under %s", d.path, d.cfg.Path))
				continue
			}
			if err := os.RemoveAll(d.path); err != nil {
				errs = append(errs, fmt.Errorf("failed to remove %s: %w", d.path, err))
			}
			continue
		}
		if err := cleanDir(d.path); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		logger.Error("Cleanup incomplete",
			slog.String("stage", string(domain.StageCleanup)),
			slog.Any("error", err),
		)
		return
	}

	logger.Info("Finished removing generated files",
		slog.String("stage", string(domain.StageCleanup)),
		slog.Duration("duration", time.Since(start)),
	)
}

// isJobDir reports whether path is a direct child of root
func isJobDir(root, path string) bool {
	path = filepath.Clean(path)
	name := filepath.Base(path)
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return false
	}
	return filepath.Dir(path) == filepath.Clean(root)
}

// cleanDir deletes every regular file directly inside dir. A missing dir is already clean.
func cleanDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var errs []error
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", path, err))
		}
	}

	return errors.Join(errs...)
}

package worker

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuongbtq/transcriptomics-atlas/internal/ledger"
)

// salmonMetaInfo is the part of salmon's aux_info/meta_info.json the ledger keeps
type salmonMetaInfo struct {
	PercentMapped *float64 `json:"percent_mapped"`
}

// collectMetrics fills the size and mapping rate columns from what the tools left on disk
func (p *Processor) collectMetrics(logger *slog.Logger, jobID string, dirs workDirs, run *ledger.SampleRun) {
	if size, ok := sumFiles(dirs.raw, jobID, ""); ok {
		run.SRRFileSize = &size
	}
	if size, ok := sumFiles(dirs.fastq, jobID, ".fastq"); ok {
		run.FastqFileSize = &size
	}

	rate, err := readMappingRate(dirs.quant)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("Failed to read mapping rate",
				slog.Any("error", err),
			)
		}
		return
	}
	run.MappingRate = rate
}

// sumFiles adds up the sizes of regular files under dir whose names start with jobID
func sumFiles(dir, jobID, suffix string) (int64, bool) {
	var total int64
	found := false

	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		name := d.Name()
		if !strings.HasPrefix(name, jobID) || !strings.HasSuffix(name, suffix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		found = true
		return nil
	})

	return total, found
}

func readMappingRate(quantDir string) (*float64, error) {
	data, err := os.ReadFile(filepath.Join(quantDir, "aux_info", "meta_info.json"))
	if err != nil {
		return nil, err
	}

	var info salmonMetaInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	if info.PercentMapped == nil {
		return nil, fs.ErrNotExist
	}

	return info.PercentMapped, nil
}

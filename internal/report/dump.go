// Package report exports the sample metadata table.
package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/cuongbtq/transcriptomics-atlas/internal/ledger"
)

// Columns is the exported projection, in output order
var Columns = []string{
	"SRR_id",
	"bucket",
	"tissue_name",
	"error_type",
	"salmon_mapping_rate [%]",
	"SRR_filesize_bytes",
	"fastq_filesize_bytes",
	"execution_mode",
	"instance_id",
	"prefetch_start_time",
	"prefetch_end_time",
	"fasterq_dump_start_time",
	"fasterq_dump_end_time",
	"salmon_start_time",
	"salmon_end_time",
	"deseq2_start_time",
	"deseq2_end_time",
}

// Lister is the read side of a ledger
type Lister interface {
	ListRuns(ctx context.Context, filter ledger.RunFilter) (ledger.RunPage, error)
}

// Dumper scans the whole table and writes it as CSV
type Dumper struct {
	lister   Lister
	pageSize int
	logger   *slog.Logger
}

// NewDumper creates a dumper
func NewDumper(lister Lister, pageSize int, logger *slog.Logger) *Dumper {
	return &Dumper{
		lister:   lister,
		pageSize: pageSize,
		logger:   logger,
	}
}

// Collect pages through the ledger until the cursor runs out
func (d *Dumper) Collect(ctx context.Context) ([]*ledger.SampleRun, error) {
	var runs []*ledger.SampleRun
	filter := ledger.RunFilter{PageSize: d.pageSize}

	for pages := 1; ; pages++ {
		page, err := d.lister.ListRuns(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to list page %d: %w", pages, err)
		}
		runs = append(runs, page.Runs...)

		d.logger.Debug("Fetched metadata page",
			slog.Int("page", pages),
			slog.Int("rows", len(page.Runs)),
		)

		if page.Next == "" {
			break
		}
		filter.After = page.Next
	}

	return runs, nil
}

// Sort orders runs by tissue name ascending, then mapping rate descending.
// Runs without a tissue come after every tagged tissue, and runs without a mapping
// rate come last within their tissue.
func Sort(runs []*ledger.SampleRun) {
	sort.SliceStable(runs, func(i, j int) bool {
		a, b := runs[i], runs[j]
		if a.TissueName != b.TissueName {
			switch {
			case a.TissueName == "":
				return false
			case b.TissueName == "":
				return true
			default:
				return a.TissueName < b.TissueName
			}
		}
		switch {
		case a.MappingRate == nil:
			return false
		case b.MappingRate == nil:
			return true
		default:
			return *a.MappingRate > *b.MappingRate
		}
	})
}

// Row projects a run onto Columns
func Row(run *ledger.SampleRun) []string {
	return []string{
		run.SRRID,
		run.Bucket,
		run.TissueName,
		run.ErrorType,
		formatFloat(run.MappingRate),
		formatInt(run.SRRFileSize),
		formatInt(run.FastqFileSize),
		run.ExecutionMode,
		run.InstanceID,
		formatTime(run.PrefetchStart),
		formatTime(run.PrefetchEnd),
		formatTime(run.FasterqDumpStart),
		formatTime(run.FasterqDumpEnd),
		formatTime(run.SalmonStart),
		formatTime(run.SalmonEnd),
		formatTime(run.DESeq2Start),
		formatTime(run.DESeq2End),
	}
}

// WriteCSV writes a header and one row per run, each prefixed by its zero-based index
func WriteCSV(w io.Writer, runs []*ledger.SampleRun) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(append([]string{""}, Columns...)); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i, run := range runs {
		if err := cw.Write(append([]string{strconv.Itoa(i)}, Row(run)...)); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// Dump collects, sorts and writes the table to path. It returns the number of rows written.
func (d *Dumper) Dump(ctx context.Context, path string) (int, error) {
	runs, err := d.Collect(ctx)
	if err != nil {
		return 0, err
	}
	Sort(runs)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", path, err)
	}

	if err := WriteCSV(f, runs); err != nil {
		f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("failed to close %s: %w", path, err)
	}

	d.logger.Info("Metadata table dumped",
		slog.String("path", path),
		slog.Int("rows", len(runs)),
	)

	return len(runs), nil
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatInt(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func formatTime(v *time.Time) string {
	if v == nil {
		return ""
	}
	return v.UTC().Format(time.RFC3339Nano)
}

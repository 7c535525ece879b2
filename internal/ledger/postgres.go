package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
)

// Schema creates the sample_runs table
const Schema = `
CREATE TABLE IF NOT EXISTS sample_runs (
	srr_id                  TEXT PRIMARY KEY,
	bucket                  TEXT NOT NULL DEFAULT '',
	tissue_name             TEXT NOT NULL DEFAULT '',
	error_type              TEXT NOT NULL DEFAULT '',
	salmon_mapping_rate     DOUBLE PRECISION,
	srr_filesize_bytes      BIGINT,
	fastq_filesize_bytes    BIGINT,
	execution_mode          TEXT NOT NULL DEFAULT '',
	instance_id             TEXT NOT NULL DEFAULT '',
	prefetch_start_time     TIMESTAMPTZ,
	prefetch_end_time       TIMESTAMPTZ,
	fasterq_dump_start_time TIMESTAMPTZ,
	fasterq_dump_end_time   TIMESTAMPTZ,
	salmon_start_time       TIMESTAMPTZ,
	salmon_end_time         TIMESTAMPTZ,
	deseq2_start_time       TIMESTAMPTZ,
	deseq2_end_time         TIMESTAMPTZ,
	updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const runColumns = `
	srr_id, bucket, tissue_name, error_type, salmon_mapping_rate,
	srr_filesize_bytes, fastq_filesize_bytes, execution_mode, instance_id,
	prefetch_start_time, prefetch_end_time, fasterq_dump_start_time, fasterq_dump_end_time,
	salmon_start_time, salmon_end_time, deseq2_start_time, deseq2_end_time`

const upsertRunQuery = `
	INSERT INTO sample_runs (` + runColumns + `
	) VALUES (
		:srr_id, :bucket, :tissue_name, :error_type, :salmon_mapping_rate,
		:srr_filesize_bytes, :fastq_filesize_bytes, :execution_mode, :instance_id,
		:prefetch_start_time, :prefetch_end_time, :fasterq_dump_start_time, :fasterq_dump_end_time,
		:salmon_start_time, :salmon_end_time, :deseq2_start_time, :deseq2_end_time
	)
	ON CONFLICT (srr_id) DO UPDATE SET
		bucket                  = COALESCE(NULLIF(EXCLUDED.bucket, ''), sample_runs.bucket),
		tissue_name             = COALESCE(NULLIF(EXCLUDED.tissue_name, ''), sample_runs.tissue_name),
		error_type              = EXCLUDED.error_type,
		salmon_mapping_rate     = COALESCE(EXCLUDED.salmon_mapping_rate, sample_runs.salmon_mapping_rate),
		srr_filesize_bytes      = COALESCE(EXCLUDED.srr_filesize_bytes, sample_runs.srr_filesize_bytes),
		fastq_filesize_bytes    = COALESCE(EXCLUDED.fastq_filesize_bytes, sample_runs.fastq_filesize_bytes),
		execution_mode          = COALESCE(NULLIF(EXCLUDED.execution_mode, ''), sample_runs.execution_mode),
		instance_id             = COALESCE(NULLIF(EXCLUDED.instance_id, ''), sample_runs.instance_id),
		prefetch_start_time     = COALESCE(EXCLUDED.prefetch_start_time, sample_runs.prefetch_start_time),
		prefetch_end_time       = COALESCE(EXCLUDED.prefetch_end_time, sample_runs.prefetch_end_time),
		fasterq_dump_start_time = COALESCE(EXCLUDED.fasterq_dump_start_time, sample_runs.fasterq_dump_start_time),
		fasterq_dump_end_time   = COALESCE(EXCLUDED.fasterq_dump_end_time, sample_runs.fasterq_dump_end_time),
		salmon_start_time       = COALESCE(EXCLUDED.salmon_start_time, sample_runs.salmon_start_time),
		salmon_end_time         = COALESCE(EXCLUDED.salmon_end_time, sample_runs.salmon_end_time),
		deseq2_start_time       = COALESCE(EXCLUDED.deseq2_start_time, sample_runs.deseq2_start_time),
		deseq2_end_time         = COALESCE(EXCLUDED.deseq2_end_time, sample_runs.deseq2_end_time),
		updated_at              = NOW()
`

// PostgresLedger keeps runs in the sample_runs table
type PostgresLedger struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgresLedger creates a ledger over an open database
func NewPostgresLedger(db *sqlx.DB, logger *slog.Logger) *PostgresLedger {
	return &PostgresLedger{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema creates the table when it does not exist
func (l *PostgresLedger) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create sample_runs table: %w", err)
	}
	return nil
}

// SaveRun upserts the row
func (l *PostgresLedger) SaveRun(ctx context.Context, run *SampleRun) error {
	if run.SRRID == "" {
		return errors.New("sample run has no SRR id")
	}

	if _, err := l.db.NamedExecContext(ctx, upsertRunQuery, run); err != nil {
		return fmt.Errorf("failed to save sample run %s: %w", run.SRRID, err)
	}

	l.logger.Debug("Saved sample run",
		slog.String("srr_id", run.SRRID),
	)

	return nil
}

// GetRun reads a single row
func (l *PostgresLedger) GetRun(ctx context.Context, srrID string) (*SampleRun, error) {
	var run SampleRun
	query := `SELECT ` + runColumns + ` FROM sample_runs WHERE srr_id = $1`

	if err := l.db.GetContext(ctx, &run, query, srrID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get sample run %s: %w", srrID, err)
	}

	return &run, nil
}

// ListRuns returns one page in srr_id order using keyset pagination
func (l *PostgresLedger) ListRuns(ctx context.Context, filter RunFilter) (RunPage, error) {
	size := pageSize(filter)

	query := `SELECT ` + runColumns + ` FROM sample_runs`
	args := []interface{}{}
	argIdx := 1

	if filter.After != "" {
		query += fmt.Sprintf(" WHERE srr_id > $%d", argIdx)
		args = append(args, filter.After)
		argIdx++
	}

	// Fetch one extra to determine if there are more results
	query += fmt.Sprintf(" ORDER BY srr_id LIMIT $%d", argIdx)
	args = append(args, size+1)

	var runs []*SampleRun
	if err := l.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return RunPage{}, fmt.Errorf("failed to list sample runs: %w", err)
	}

	page := RunPage{Runs: runs}
	if len(runs) > size {
		page.Runs = runs[:size]
		page.Next = runs[size-1].SRRID
	}

	return page, nil
}

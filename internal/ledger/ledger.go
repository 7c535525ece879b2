// Package ledger records one metadata row per processed sample.
package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrRunNotFound is returned when no row exists for a sample
var ErrRunNotFound = errors.New("sample run not found")

// DefaultPageSize is used when a filter leaves PageSize unset
const DefaultPageSize = 100

// SampleRun is one row of the metadata table. Unset fields are left as they are
// in the stored row when the run is saved, except ErrorType which is always replaced.
type SampleRun struct {
	SRRID         string   `db:"srr_id" dynamodbav:"SRR_id" json:"srr_id"`
	Bucket        string   `db:"bucket" dynamodbav:"bucket,omitempty" json:"bucket,omitempty"`
	TissueName    string   `db:"tissue_name" dynamodbav:"tissue_name,omitempty" json:"tissue_name,omitempty"`
	ErrorType     string   `db:"error_type" dynamodbav:"error_type,omitempty" json:"error_type,omitempty"`
	MappingRate   *float64 `db:"salmon_mapping_rate" dynamodbav:"salmon_mapping_rate [%],omitempty" json:"salmon_mapping_rate,omitempty"`
	SRRFileSize   *int64   `db:"srr_filesize_bytes" dynamodbav:"SRR_filesize_bytes,omitempty" json:"srr_filesize_bytes,omitempty"`
	FastqFileSize *int64   `db:"fastq_filesize_bytes" dynamodbav:"fastq_filesize_bytes,omitempty" json:"fastq_filesize_bytes,omitempty"`
	ExecutionMode string   `db:"execution_mode" dynamodbav:"execution_mode,omitempty" json:"execution_mode,omitempty"`
	InstanceID    string   `db:"instance_id" dynamodbav:"instance_id,omitempty" json:"instance_id,omitempty"`

	PrefetchStart    *time.Time `db:"prefetch_start_time" dynamodbav:"prefetch_start_time,omitempty" json:"prefetch_start_time,omitempty"`
	PrefetchEnd      *time.Time `db:"prefetch_end_time" dynamodbav:"prefetch_end_time,omitempty" json:"prefetch_end_time,omitempty"`
	FasterqDumpStart *time.Time `db:"fasterq_dump_start_time" dynamodbav:"fasterq_dump_start_time,omitempty" json:"fasterq_dump_start_time,omitempty"`
	FasterqDumpEnd   *time.Time `db:"fasterq_dump_end_time" dynamodbav:"fasterq_dump_end_time,omitempty" json:"fasterq_dump_end_time,omitempty"`
	SalmonStart      *time.Time `db:"salmon_start_time" dynamodbav:"salmon_start_time,omitempty" json:"salmon_start_time,omitempty"`
	SalmonEnd        *time.Time `db:"salmon_end_time" dynamodbav:"salmon_end_time,omitempty" json:"salmon_end_time,omitempty"`
	DESeq2Start      *time.Time `db:"deseq2_start_time" dynamodbav:"deseq2_start_time,omitempty" json:"deseq2_start_time,omitempty"`
	DESeq2End        *time.Time `db:"deseq2_end_time" dynamodbav:"deseq2_end_time,omitempty" json:"deseq2_end_time,omitempty"`
}

// RunFilter pages through the table in key order
type RunFilter struct {
	PageSize int
	After    string
}

// RunPage is one page of runs. Next is empty on the last page.
type RunPage struct {
	Runs []*SampleRun
	Next string
}

// Recorder saves runs. The worker only needs this half.
type Recorder interface {
	SaveRun(ctx context.Context, run *SampleRun) error
}

// Ledger is a readable run store
type Ledger interface {
	Recorder
	GetRun(ctx context.Context, srrID string) (*SampleRun, error)
	ListRuns(ctx context.Context, filter RunFilter) (RunPage, error)
}

// Nop discards every run
type Nop struct{}

// SaveRun does nothing
func (Nop) SaveRun(context.Context, *SampleRun) error {
	return nil
}

func pageSize(filter RunFilter) int {
	if filter.PageSize <= 0 {
		return DefaultPageSize
	}
	return filter.PageSize
}

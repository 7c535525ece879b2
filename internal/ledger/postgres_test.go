package ledger

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var selectColumns = []string{
	"srr_id", "bucket", "tissue_name", "error_type", "salmon_mapping_rate",
	"srr_filesize_bytes", "fastq_filesize_bytes", "execution_mode", "instance_id",
	"prefetch_start_time", "prefetch_end_time", "fasterq_dump_start_time", "fasterq_dump_end_time",
	"salmon_start_time", "salmon_end_time", "deseq2_start_time", "deseq2_end_time",
}

func newMockLedger(t *testing.T) (*PostgresLedger, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPostgresLedger(sqlx.NewDb(db, "postgres"), logger), mock
}

func runRow(rows *sqlmock.Rows, id, tissue string, rate interface{}) *sqlmock.Rows {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return rows.AddRow(
		id, "neardata-bucket-123", tissue, "", rate,
		int64(1024), int64(4096), "EC2", "i-0abc",
		start, start.Add(time.Minute), nil, nil,
		nil, nil, nil, nil,
	)
}

func TestPostgresLedger_EnsureSchema(t *testing.T) {
	l, mock := newMockLedger(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS sample_runs`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, l.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_SaveRun(t *testing.T) {
	l, mock := newMockLedger(t)

	rate := 87.5
	mock.ExpectExec(`INSERT INTO sample_runs .* ON CONFLICT \(srr_id\) DO UPDATE SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := l.SaveRun(context.Background(), &SampleRun{SRRID: "SRR1", MappingRate: &rate})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	t.Run("missing id", func(t *testing.T) {
		assert.Error(t, l.SaveRun(context.Background(), &SampleRun{}))
	})

	t.Run("database error", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO sample_runs`).WillReturnError(errors.New("connection reset"))

		err := l.SaveRun(context.Background(), &SampleRun{SRRID: "SRR2"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to save sample run SRR2")
	})
}

func TestPostgresLedger_GetRun(t *testing.T) {
	l, mock := newMockLedger(t)

	mock.ExpectQuery(`SELECT .* FROM sample_runs WHERE srr_id = \$1`).
		WithArgs("SRR1").
		WillReturnRows(runRow(sqlmock.NewRows(selectColumns), "SRR1", "liver", 91.2))

	run, err := l.GetRun(context.Background(), "SRR1")
	require.NoError(t, err)
	assert.Equal(t, "SRR1", run.SRRID)
	assert.Equal(t, "liver", run.TissueName)
	require.NotNil(t, run.MappingRate)
	assert.InDelta(t, 91.2, *run.MappingRate, 1e-9)
	require.NotNil(t, run.PrefetchEnd)
	assert.Nil(t, run.SalmonStart)

	mock.ExpectQuery(`SELECT .* FROM sample_runs WHERE srr_id = \$1`).
		WithArgs("SRR404").
		WillReturnError(sql.ErrNoRows)

	_, err = l.GetRun(context.Background(), "SRR404")
	assert.ErrorIs(t, err, ErrRunNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_ListRuns(t *testing.T) {
	tests := []struct {
		name     string
		filter   RunFilter
		query    string
		args     []driver.Value
		ids      []string
		wantIDs  []string
		wantNext string
	}{
		{
			name:     "first page with more",
			filter:   RunFilter{PageSize: 2},
			query:    `SELECT .* FROM sample_runs ORDER BY srr_id LIMIT \$1`,
			args:     []driver.Value{3},
			ids:      []string{"SRR1", "SRR2", "SRR3"},
			wantIDs:  []string{"SRR1", "SRR2"},
			wantNext: "SRR2",
		},
		{
			name:    "last page",
			filter:  RunFilter{PageSize: 2, After: "SRR2"},
			query:   `SELECT .* FROM sample_runs WHERE srr_id > \$1 ORDER BY srr_id LIMIT \$2`,
			args:    []driver.Value{"SRR2", 3},
			ids:     []string{"SRR3"},
			wantIDs: []string{"SRR3"},
		},
		{
			name:    "default page size",
			filter:  RunFilter{},
			query:   `SELECT .* FROM sample_runs ORDER BY srr_id LIMIT \$1`,
			args:    []driver.Value{DefaultPageSize + 1},
			ids:     nil,
			wantIDs: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, mock := newMockLedger(t)

			rows := sqlmock.NewRows(selectColumns)
			for _, id := range tt.ids {
				rows = runRow(rows, id, "brain", nil)
			}
			mock.ExpectQuery(tt.query).WithArgs(tt.args...).WillReturnRows(rows)

			page, err := l.ListRuns(context.Background(), tt.filter)
			require.NoError(t, err)

			var ids []string
			for _, r := range page.Runs {
				ids = append(ids, r.SRRID)
			}
			assert.Equal(t, tt.wantIDs, ids)
			assert.Equal(t, tt.wantNext, page.Next)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

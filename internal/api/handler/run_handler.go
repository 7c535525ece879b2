package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/transcriptomics-atlas/internal/api/dto"
	"github.com/cuongbtq/transcriptomics-atlas/internal/ledger"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Health handles GET /health
func (h *RunHandler) Health(c *gin.Context) {
	if h.health != nil {
		if err := h.health.HealthCheck(c.Request.Context()); err != nil {
			h.logger.Error("Ledger health check failed", slog.String("error", err.Error()))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": "ledger-api-service",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "ledger-api-service",
	})
}

// GetRun handles GET /api/v1/runs/:srr_id
func (h *RunHandler) GetRun(c *gin.Context) {
	srrID := c.Param("srr_id")

	run, err := h.ledger.GetRun(c.Request.Context(), srrID)
	if err != nil {
		if errors.Is(err, ledger.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "sample run not found",
			})
			return
		}
		h.logger.Error("Failed to get sample run",
			slog.String("srr_id", srrID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get sample run",
		})
		return
	}

	c.JSON(http.StatusOK, toRunDTO(run))
}

// ListRuns handles GET /api/v1/runs
func (h *RunHandler) ListRuns(c *gin.Context) {
	var req dto.ListRunsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	after, err := DecodeRunCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	page, err := h.ledger.ListRuns(c.Request.Context(), ledger.RunFilter{
		PageSize: req.PageSize,
		After:    after,
	})
	if err != nil {
		h.logger.Error("Failed to list sample runs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list sample runs",
		})
		return
	}

	runs := make([]dto.RunDTO, len(page.Runs))
	for i, run := range page.Runs {
		runs[i] = toRunDTO(run)
	}

	c.JSON(http.StatusOK, dto.ListRunsResponse{
		Runs:       runs,
		NextCursor: EncodeRunCursor(page.Next),
	})
}

func toRunDTO(run *ledger.SampleRun) dto.RunDTO {
	out := dto.RunDTO{
		SRRID:              run.SRRID,
		Bucket:             run.Bucket,
		TissueName:         run.TissueName,
		ErrorType:          run.ErrorType,
		MappingRate:        run.MappingRate,
		SRRFileSizeBytes:   run.SRRFileSize,
		FastqFileSizeBytes: run.FastqFileSize,
		ExecutionMode:      run.ExecutionMode,
		InstanceID:         run.InstanceID,
	}

	for _, s := range []struct {
		tool       string
		start, end *time.Time
	}{
		{"prefetch", run.PrefetchStart, run.PrefetchEnd},
		{"fasterq_dump", run.FasterqDumpStart, run.FasterqDumpEnd},
		{"salmon", run.SalmonStart, run.SalmonEnd},
		{"deseq2", run.DESeq2Start, run.DESeq2End},
	} {
		if s.start == nil && s.end == nil {
			continue
		}
		out.Stages = append(out.Stages, dto.StageTimingDTO{
			Tool:      s.tool,
			StartTime: formatTime(s.start),
			EndTime:   formatTime(s.end),
		})
	}

	return out
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

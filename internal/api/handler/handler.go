package handler

import (
	"log/slog"

	"github.com/cuongbtq/transcriptomics-atlas/internal/ledger"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger *slog.Logger
	Ledger ledger.Ledger
	Health ledger.HealthChecker
}

// RunHandler serves sample run metadata
type RunHandler struct {
	logger *slog.Logger
	ledger ledger.Ledger
	health ledger.HealthChecker
}

// NewRunHandler creates a new RunHandler instance
func NewRunHandler(deps *Dependencies) *RunHandler {
	return &RunHandler{
		logger: deps.Logger,
		ledger: deps.Ledger,
		health: deps.Health,
	}
}

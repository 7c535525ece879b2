package domain

// Stage names one step of the per-job pipeline
type Stage string

// Pipeline stages, in execution order
const (
	StageSkipCheck Stage = "SKIP_CHECK"
	StageFetch     Stage = "FETCH"
	StageConvert   Stage = "CONVERT"
	StageQuantify  Stage = "QUANTIFY"
	StageSummarize Stage = "SUMMARIZE"
	StageUpload    Stage = "UPLOAD"
	StageCleanup   Stage = "CLEANUP"
)

// Outcome is the terminal state of a processed job
type Outcome string

const (
	OutcomeCompleted Outcome = "COMPLETED"
	OutcomeSkipped   Outcome = "SKIPPED"
	OutcomeFailed    Outcome = "FAILED"
)

// DefaultArtifactPrefix is the object store prefix for normalized counts
const DefaultArtifactPrefix = "normalized_counts"

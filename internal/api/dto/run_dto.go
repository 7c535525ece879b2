package dto

type ListRunsRequest struct {
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListRunsResponse struct {
	Runs       []RunDTO `json:"runs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type RunDTO struct {
	SRRID              string           `json:"srr_id"`
	Bucket             string           `json:"bucket,omitempty"`
	TissueName         string           `json:"tissue_name,omitempty"`
	ErrorType          string           `json:"error_type,omitempty"`
	MappingRate        *float64         `json:"salmon_mapping_rate,omitempty"`
	SRRFileSizeBytes   *int64           `json:"srr_filesize_bytes,omitempty"`
	FastqFileSizeBytes *int64           `json:"fastq_filesize_bytes,omitempty"`
	ExecutionMode      string           `json:"execution_mode,omitempty"`
	InstanceID         string           `json:"instance_id,omitempty"`
	Stages             []StageTimingDTO `json:"stages,omitempty"`
}

type StageTimingDTO struct {
	Tool      string `json:"tool"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
}

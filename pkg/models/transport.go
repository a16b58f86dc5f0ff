package models

// RecognizeURLRequest asks the service to fetch and recognize a remote source.
// Multipart uploads use the same option fields as form values.
type RecognizeURLRequest struct {
	URL               string  `json:"url" binding:"required"`
	IsDocument        *bool   `json:"is_document,omitempty"`
	EnhanceResolution bool    `json:"enhance_resolution,omitempty"`
	TargetDPI         float64 `json:"target_dpi,omitempty"`
}

// JobRequest enqueues an asynchronous recognition job.
type JobRequest struct {
	URL               string  `json:"url" binding:"required"`
	IsDocument        *bool   `json:"is_document,omitempty"`
	EnhanceResolution bool    `json:"enhance_resolution,omitempty"`
	TargetDPI         float64 `json:"target_dpi,omitempty"`
}

// JobResponse acknowledges an enqueued job.
type JobResponse struct {
	JobID  string `json:"job_id"`
	Queue  string `json:"queue"`
	Status string `json:"status"`
}

// RecognizeResponse wraps an outcome with request bookkeeping.
type RecognizeResponse struct {
	RequestID        string              `json:"request_id"`
	ProcessingTimeMs int64               `json:"processing_time_ms"`
	Result           *RecognitionResult  `json:"result,omitempty"`
	Results          []RecognitionResult `json:"results,omitempty"`
	Cached           bool                `json:"cached,omitempty"`
}

// ExtractResponse is the transport form of ExtractionResult; images are
// returned base64 encoded by encoding/json.
type ExtractResponse struct {
	RequestID       string          `json:"request_id"`
	Images          [][]byte        `json:"images"`
	Metadata        []TileMetadata  `json:"metadata"`
	ProcessingStats ProcessingStats `json:"processing_stats"`
}

// SimilarMatch is one hit of a similar-pattern search.
type SimilarMatch struct {
	ID           string  `json:"id"`
	Score        float32 `json:"score"`
	MaterialType string  `json:"material_type,omitempty"`
	Source       string  `json:"source,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

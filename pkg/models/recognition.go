package models

import "time"

// Material type labels produced when recognition cannot complete.
const (
	MaterialUnknown             = "unknown"
	MaterialClassificationError = "unknown-classification-error"

	// FailureConfidence is the confidence attached to every placeholder result
	FailureConfidence = 0.1
)

// Feature vector segment lengths that do not depend on the vision backend.
const (
	LBPHistogramBins     = 256
	GLCMBaseStats        = 5
	GLCMAdvancedStats    = 6
	WaveletBandsPerLevel = 3
	FallbackFeatureSize  = 128
)

// QualityScores holds the quality assessment of one image. Noise and
// Blurriness are defect levels: higher is worse.
type QualityScores struct {
	Overall    float64 `json:"overall"`
	Resolution float64 `json:"resolution"`
	Contrast   float64 `json:"contrast"`
	Noise      float64 `json:"noise"`
	Blurriness float64 `json:"blurriness"`
	Texture    float64 `json:"texture"`
}

// FallbackQualityScores is returned whenever quality evaluation fails.
func FallbackQualityScores() QualityScores {
	return QualityScores{
		Overall:    0.3,
		Resolution: 0.3,
		Contrast:   0.3,
		Noise:      0.7,
		Blurriness: 0.7,
		Texture:    0.3,
	}
}

// FeatureVector is the ordered concatenation
// [LBP(256), Gabor(n), gradient(backend), GLCM(5+6), wavelet(3/level)].
type FeatureVector []float64

// Float32 converts the vector for tensor inference and vector storage.
func (v FeatureVector) Float32() []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}

// IsZero reports whether every component is zero, which is what the
// extraction fallback produces.
func (v FeatureVector) IsZero() bool {
	for _, f := range v {
		if f != 0 {
			return false
		}
	}
	return true
}

// Classification is the classifier output before it is merged into a result.
type Classification struct {
	MaterialType           string   `json:"material_type"`
	Confidence             float64  `json:"confidence"`
	AlternativeSuggestions []string `json:"alternative_suggestions"`
	ModelID                string   `json:"model_id,omitempty"`
	Degraded               bool     `json:"degraded,omitempty"`
	FailureReason          string   `json:"failure_reason,omitempty"`
}

// RecognitionResult is the external result of recognizing one image or one
// document region. Degraded separates a placeholder produced by a failing
// stage from a genuine low-confidence answer.
type RecognitionResult struct {
	MaterialType           string                 `json:"material_type"`
	Confidence             float64                `json:"confidence"`
	AlternativeSuggestions []string               `json:"alternative_suggestions"`
	QualityAssessment      QualityScores          `json:"quality_assessment"`
	Properties             map[string]interface{} `json:"properties"`
	Degraded               bool                   `json:"degraded"`
	FailureReason          string                 `json:"failure_reason,omitempty"`
}

// UnknownResult builds the structural-failure placeholder.
func UnknownResult(reason string) RecognitionResult {
	props := map[string]interface{}{}
	if reason != "" {
		props["error"] = reason
	}
	return RecognitionResult{
		MaterialType:           MaterialUnknown,
		Confidence:             FailureConfidence,
		AlternativeSuggestions: []string{},
		QualityAssessment:      FallbackQualityScores(),
		Properties:             props,
		Degraded:               true,
		FailureReason:          reason,
	}
}

// MarkDegraded records a stage failure without discarding earlier reasons.
func (r *RecognitionResult) MarkDegraded(reason string) {
	r.Degraded = true
	if reason == "" {
		return
	}
	if r.FailureReason == "" {
		r.FailureReason = reason
		return
	}
	r.FailureReason += "; " + reason
}

// RecognitionOutcome carries either one result (image path) or one result
// per extracted region (document path).
type RecognitionOutcome struct {
	Single   *RecognitionResult  `json:"result,omitempty"`
	Multiple []RecognitionResult `json:"results,omitempty"`
}

// IsDocument reports whether the document path produced this outcome.
func (o RecognitionOutcome) IsDocument() bool {
	return o.Single == nil
}

// Results flattens the outcome for callers that handle both shapes alike.
func (o RecognitionOutcome) Results() []RecognitionResult {
	if o.Single != nil {
		return []RecognitionResult{*o.Single}
	}
	return o.Multiple
}

// RecognizeOptions are the per-call options of Recognize.
type RecognizeOptions struct {
	// IsDocument overrides signature sniffing when set
	IsDocument        *bool   `json:"is_document,omitempty"`
	EnhanceResolution bool    `json:"enhance_resolution,omitempty"`
	TargetDPI         float64 `json:"target_dpi,omitempty"`
}

// Job states of a RecognitionRecord.
const (
	JobQueued     = "queued"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// RecognitionRecord is what the persistence layer stores per job.
type RecognitionRecord struct {
	ID               string             `json:"id"`
	Source           string             `json:"source"`
	Status           string             `json:"status"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
	ProcessingTimeMs int64              `json:"processing_time_ms"`
	Outcome          RecognitionOutcome `json:"outcome"`
	Error            string             `json:"error,omitempty"`
}

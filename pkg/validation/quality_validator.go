package validation

import (
	"math"
)

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// QualityThresholds defines configurable thresholds for quality validation
type QualityThresholds struct {
	// Sharpness threshold
	MinLaplacianVariance float64

	// Brightness thresholds (0-255)
	MinBrightness float64
	MaxBrightness float64

	// Luminance thresholds
	MinLuminance float64
	MaxLuminance float64

	// Channel balance threshold
	MaxChannelImbalance float64

	// MaxNoise is the highest acceptable noise sub-score
	MaxNoise float64

	// Skew threshold (in degrees)
	MaxSkewAngle float64

	// Resolution thresholds
	MinSide        int
	MinTotalPixels int
}

// DefaultQualityThresholds returns the default quality thresholds
func DefaultQualityThresholds() QualityThresholds {
	return QualityThresholds{
		MinLaplacianVariance: 100.0,
		MinBrightness:        80.0,
		MaxBrightness:        220.0,
		MinLuminance:         0.15,
		MaxLuminance:         0.92,
		MaxChannelImbalance:  0.15,
		MaxNoise:             0.6,
		MaxSkewAngle:         5.0,
		MinSide:              128,
		MinTotalPixels:       65536, // 256x256
	}
}

// QualityValidator turns surface metrics of a sample image into a list of
// quality issues. Issues never stop recognition; they are reported next to
// the result.
type QualityValidator struct {
	thresholds QualityThresholds
}

// NewQualityValidator creates a new quality validator with default thresholds
func NewQualityValidator() *QualityValidator {
	return &QualityValidator{
		thresholds: DefaultQualityThresholds(),
	}
}

// NewQualityValidatorWithThresholds creates a quality validator with custom thresholds
func NewQualityValidatorWithThresholds(thresholds QualityThresholds) *QualityValidator {
	return &QualityValidator{
		thresholds: thresholds,
	}
}

// QualityIssue represents a quality validation issue
type QualityIssue struct {
	Type        string  `json:"type"`
	Message     string  `json:"message"`
	Severity    string  `json:"severity"`
	ActualValue float64 `json:"actual_value,omitempty"`
	Threshold   float64 `json:"threshold,omitempty"`
}

// ImageQualityMetrics represents the metrics needed for quality validation
type ImageQualityMetrics struct {
	Width          int
	Height         int
	LaplacianVar   float64
	Brightness     float64
	AvgLuminance   float64
	AvgSaturation  float64
	ChannelBalance [3]float64
	// NoiseLevel is the noise quality sub-score, when known
	NoiseLevel float64

	Overexposed      bool
	Oversaturated    bool
	IncorrectWB      bool
	IsTooDark        bool
	IsTooBright      bool
	IsSkewed         bool
	HasDocumentEdges bool

	SkewAngle *float64
}

// isSurfaceBlurry treats a low Laplacian variance as blur unless the other
// indicators describe an evenly lit plain surface, which has few edges to
// begin with.
func (qv *QualityValidator) isSurfaceBlurry(metrics ImageQualityMetrics) bool {
	if metrics.LaplacianVar > qv.thresholds.MinLaplacianVariance {
		return false
	}
	if metrics.LaplacianVar < 1.0 {
		return true
	}
	luminanceOK := metrics.AvgLuminance >= 0.3 && metrics.AvgLuminance <= 0.8
	plain := luminanceOK && !metrics.Overexposed && !metrics.Oversaturated && !metrics.IncorrectWB
	return !plain
}

// ValidateBasicQuality checks sharpness, exposure and color. It suits crops
// taken from documents, where framing is not the caller's to fix.
func (qv *QualityValidator) ValidateBasicQuality(metrics ImageQualityMetrics) []QualityIssue {
	var issues []QualityIssue

	if qv.isSurfaceBlurry(metrics) {
		issues = append(issues, QualityIssue{
			Type:        "blurriness",
			Message:     "Pattern detail is blurred. Texture features may be unreliable.",
			Severity:    SeverityWarning,
			ActualValue: metrics.LaplacianVar,
			Threshold:   qv.thresholds.MinLaplacianVariance,
		})
	}

	if metrics.Overexposed {
		issues = append(issues, QualityIssue{
			Type:        "overexposure",
			Message:     "Surface is washed out. Glare hides the pattern.",
			Severity:    SeverityError,
			ActualValue: metrics.AvgLuminance,
		})
	}
	if metrics.Oversaturated {
		issues = append(issues, QualityIssue{
			Type:        "oversaturation",
			Message:     "Colors are oversaturated. Reported colors may be off.",
			Severity:    SeverityWarning,
			ActualValue: metrics.AvgSaturation,
		})
	}
	if metrics.IncorrectWB {
		issues = append(issues, QualityIssue{
			Type:      "white_balance",
			Message:   "Color cast detected. The dominant color may be shifted.",
			Severity:  SeverityInfo,
			Threshold: qv.thresholds.MaxChannelImbalance,
		})
	}

	if metrics.AvgLuminance <= qv.thresholds.MinLuminance {
		issues = append(issues, QualityIssue{
			Type:        "low_luminance",
			Message:     "Sample is too dark to read its texture.",
			Severity:    SeverityError,
			ActualValue: metrics.AvgLuminance,
			Threshold:   qv.thresholds.MinLuminance,
		})
	} else if metrics.AvgLuminance >= qv.thresholds.MaxLuminance {
		issues = append(issues, QualityIssue{
			Type:        "high_luminance",
			Message:     "Sample is too bright to read its texture.",
			Severity:    SeverityError,
			ActualValue: metrics.AvgLuminance,
			Threshold:   qv.thresholds.MaxLuminance,
		})
	}

	return issues
}

// ValidateCaptureQuality adds the checks that apply to photographs of a
// physical sample: resolution, sensor noise, tilt and visible background.
func (qv *QualityValidator) ValidateCaptureQuality(metrics ImageQualityMetrics) []QualityIssue {
	issues := qv.ValidateBasicQuality(metrics)

	totalPixels := metrics.Width * metrics.Height
	if totalPixels < qv.thresholds.MinTotalPixels ||
		metrics.Width < qv.thresholds.MinSide ||
		metrics.Height < qv.thresholds.MinSide {
		issues = append(issues, QualityIssue{
			Type:        "low_resolution",
			Message:     "Sample image is small. Fine pattern detail is lost.",
			Severity:    SeverityWarning,
			ActualValue: float64(totalPixels),
			Threshold:   float64(qv.thresholds.MinTotalPixels),
		})
	}

	if metrics.NoiseLevel >= qv.thresholds.MaxNoise {
		issues = append(issues, QualityIssue{
			Type:        "noise",
			Message:     "Image is noisy. Use more light rather than a higher ISO.",
			Severity:    SeverityWarning,
			ActualValue: metrics.NoiseLevel,
			Threshold:   qv.thresholds.MaxNoise,
		})
	}

	if metrics.IsTooDark {
		issues = append(issues, QualityIssue{
			Type:        "too_dark",
			Message:     "Sample is underexposed.",
			Severity:    SeverityWarning,
			ActualValue: metrics.Brightness,
			Threshold:   qv.thresholds.MinBrightness,
		})
	}
	if metrics.IsTooBright {
		issues = append(issues, QualityIssue{
			Type:        "too_bright",
			Message:     "Sample is overexposed.",
			Severity:    SeverityWarning,
			ActualValue: metrics.Brightness,
			Threshold:   qv.thresholds.MaxBrightness,
		})
	}

	if metrics.SkewAngle != nil && math.Abs(*metrics.SkewAngle) > qv.thresholds.MaxSkewAngle {
		issues = append(issues, QualityIssue{
			Type:        "skew",
			Message:     "Sample is tilted. Rotation is corrected before recognition.",
			Severity:    SeverityInfo,
			ActualValue: math.Abs(*metrics.SkewAngle),
			Threshold:   qv.thresholds.MaxSkewAngle,
		})
	}

	if metrics.HasDocumentEdges {
		issues = append(issues, QualityIssue{
			Type:     "background_visible",
			Message:  "Background is visible around the sample. Fill the frame with the surface.",
			Severity: SeverityInfo,
		})
	}

	return issues
}

// ConvertIssuesToMessages flattens issues to their messages
func (qv *QualityValidator) ConvertIssuesToMessages(issues []QualityIssue) []string {
	messages := make([]string, 0, len(issues))
	for _, issue := range issues {
		messages = append(messages, issue.Message)
	}
	return messages
}

// HasCriticalIssues checks if there are any error severity issues
func (qv *QualityValidator) HasCriticalIssues(issues []QualityIssue) bool {
	for _, issue := range issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}

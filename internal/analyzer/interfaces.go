package analyzer

import (
	"image"

	"github.com/anime-shed/pattern-inspector-go/internal/texture"
	"github.com/anime-shed/pattern-inspector-go/pkg/validation"
)

// PatternAnalyzer is the secondary texture analyzer: it decides whether an
// image shows a repeating pattern at all and inspects surface defects.
type PatternAnalyzer interface {
	// Analyze scores img, reusing texture features when they were computed
	Analyze(img image.Image, features texture.Features) PatternScore
	// Inspect gathers the metrics the quality validator reports on
	Inspect(img image.Image) validation.ImageQualityMetrics
	// DominantColor summarizes the color of img
	DominantColor(img image.Image) ColorSummary
}

// MetricsCalculator handles image metrics computation
type MetricsCalculator interface {
	CalculateBasicMetrics(img image.Image) Metrics
	CalculateLaplacianVariance(gray *image.Gray) float64
	CalculateBrightness(gray *image.Gray) float64
	DetectSkew(gray *image.Gray) *float64
	EdgeRatio(gray *image.Gray) float64
}

// Package analyzer holds the secondary texture analyzer: the binary
// pattern pre-classifier, surface metrics for the quality report and the
// dominant color summary.
package analyzer

import (
	"image"
	"math"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"github.com/anime-shed/pattern-inspector-go/internal/logger"
	"github.com/anime-shed/pattern-inspector-go/internal/raster"
	"github.com/anime-shed/pattern-inspector-go/internal/texture"
	"github.com/anime-shed/pattern-inspector-go/pkg/validation"
)

// patternAnalyzer implements PatternAnalyzer
type patternAnalyzer struct {
	metricsCalculator MetricsCalculator
	options           AnalysisOptions
	grayPool          sync.Pool
}

// NewPatternAnalyzer creates a pattern analyzer with the given options
func NewPatternAnalyzer(options AnalysisOptions) PatternAnalyzer {
	return &patternAnalyzer{
		metricsCalculator: NewMetricsCalculator(options.EdgeMagnitude),
		options:           options,
		grayPool: sync.Pool{
			New: func() interface{} {
				return &image.Gray{}
			},
		},
	}
}

// fit downscales img to the analysis size.
func (pa *patternAnalyzer) fit(img image.Image) image.Image {
	if m := pa.options.MaxSide; m > 0 {
		b := img.Bounds()
		if b.Dx() > m || b.Dy() > m {
			return imaging.Fit(img, m, m, imaging.Box)
		}
	}
	return img
}

// pooledGray copies the luminance of img into a pooled buffer. Call
// release when done.
func (pa *patternAnalyzer) pooledGray(img image.Image) (*image.Gray, func()) {
	src := raster.ToGray(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	gray := pa.grayPool.Get().(*image.Gray)
	if cap(gray.Pix) < w*h {
		gray.Pix = make([]uint8, w*h)
	}
	gray.Pix = gray.Pix[:w*h]
	gray.Stride = w
	gray.Rect = image.Rect(0, 0, w, h)
	for y := 0; y < h; y++ {
		copy(gray.Pix[y*w:(y+1)*w], src.Pix[y*src.Stride:y*src.Stride+w])
	}
	return gray, func() { pa.grayPool.Put(gray) }
}

// Analyze combines LBP uniformity, GLCM homogeneity and edge ratio into the
// pattern score. Cues missing from features are recomputed from img.
func (pa *patternAnalyzer) Analyze(img image.Image, features texture.Features) PatternScore {
	var score PatternScore
	if img == nil || img.Bounds().Empty() {
		return score
	}
	gray, release := pa.pooledGray(pa.fit(img))
	defer release()

	if !features.Fallback && len(features.LBPHistogram) > 0 {
		score.Uniformity = features.LBPUniformity()
		score.Homogeneity = features.GLCM.Homogeneity
	} else {
		if hist, err := texture.LBPHistogram(gray, texture.DefaultLBPOptions()); err == nil {
			score.Uniformity = texture.Uniformity(hist)
		}
		if stats, err := texture.GLCMFeatures(gray, texture.DefaultGLCMOptions()); err == nil {
			score.Homogeneity = stats.Homogeneity
		}
	}
	score.EdgeRatio = pa.metricsCalculator.EdgeRatio(gray)

	o := pa.options
	score.Score = o.UniformityWeight*score.Uniformity +
		o.HomogeneityWeight*score.Homogeneity +
		o.EdgeWeight*score.EdgeRatio
	score.IsPattern = score.Score >= o.PatternThreshold

	logger.WithFields(logrus.Fields{
		"score":       score.Score,
		"uniformity":  score.Uniformity,
		"homogeneity": score.Homogeneity,
		"edge_ratio":  score.EdgeRatio,
		"is_pattern":  score.IsPattern,
	}).Debug("Pattern pre-classification")
	return score
}

// Inspect computes the surface metrics the quality validator checks.
func (pa *patternAnalyzer) Inspect(img image.Image) validation.ImageQualityMetrics {
	var m validation.ImageQualityMetrics
	if img == nil || img.Bounds().Empty() {
		return m
	}
	bounds := img.Bounds()
	m.Width, m.Height = bounds.Dx(), bounds.Dy()

	small := pa.fit(img)
	gray, release := pa.pooledGray(small)
	defer release()

	basic := pa.metricsCalculator.CalculateBasicMetrics(small)
	m.AvgLuminance = basic.AvgLuminance
	m.AvgSaturation = basic.AvgSaturation
	m.ChannelBalance = [3]float64{basic.AvgR, basic.AvgG, basic.AvgB}

	m.LaplacianVar = pa.metricsCalculator.CalculateLaplacianVariance(gray)
	m.Brightness = pa.metricsCalculator.CalculateBrightness(gray)
	m.Overexposed = basic.AvgLuminance > pa.options.OverexposureThreshold
	m.Oversaturated = basic.AvgSaturation > pa.options.OversaturationThreshold
	m.IncorrectWB = pa.hasWhiteBalanceIssue(basic.AvgR, basic.AvgG, basic.AvgB)
	m.IsTooDark = m.Brightness < 80
	m.IsTooBright = m.Brightness > 220

	if skew := pa.metricsCalculator.DetectSkew(gray); skew != nil {
		m.SkewAngle = skew
		m.IsSkewed = *skew > 5 || *skew < -5
	}
	m.HasDocumentEdges = pa.detectDocumentEdges(gray)
	return m
}

// detectDocumentEdges reports a framed photo: at least two corners differ
// clearly from the center.
func (pa *patternAnalyzer) detectDocumentEdges(gray *image.Gray) bool {
	bounds := gray.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 20 || height <= 20 {
		return false
	}

	corners := []image.Point{
		{bounds.Min.X + 10, bounds.Min.Y + 10},
		{bounds.Max.X - 10, bounds.Min.Y + 10},
		{bounds.Min.X + 10, bounds.Max.Y - 10},
		{bounds.Max.X - 10, bounds.Max.Y - 10},
	}

	center := gray.GrayAt(bounds.Min.X+width/2, bounds.Min.Y+height/2).Y
	differentCorners := 0
	for _, corner := range corners {
		cornerValue := gray.GrayAt(corner.X, corner.Y).Y
		if math.Abs(float64(cornerValue)-float64(center)) > 30 {
			differentCorners++
		}
	}
	return differentCorners >= 2
}

// hasWhiteBalanceIssue checks whether one channel departs from the others
func (pa *patternAnalyzer) hasWhiteBalanceIssue(avgR, avgG, avgB float64) bool {
	maxDiff := math.Max(math.Abs(avgR-avgG), math.Max(math.Abs(avgR-avgB), math.Abs(avgG-avgB)))
	return maxDiff > pa.options.MaxChannelImbalance
}

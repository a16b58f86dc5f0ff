// Package quality scores images on resolution, contrast, noise, blur and
// texture richness. Evaluation never aborts the pipeline: failures yield
// the fixed fallback scores.
package quality

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	apperrors "github.com/anime-shed/pattern-inspector-go/internal/errors"
	"github.com/anime-shed/pattern-inspector-go/internal/logger"
	"github.com/anime-shed/pattern-inspector-go/internal/raster"
	"github.com/anime-shed/pattern-inspector-go/internal/texture"
	"github.com/anime-shed/pattern-inspector-go/pkg/models"
)

// Weights of the overall score. Noise and blurriness enter in their
// goodness form (1 - defect).
type Weights struct {
	Resolution float64
	Contrast   float64
	Noise      float64
	Blurriness float64
	Texture    float64
}

// Options holds the empirical ceilings of every sub-score. The defaults
// have not been calibrated against real data.
type Options struct {
	Weights Weights
	// ReferencePixels is the pixel count that earns a full resolution score
	ReferencePixels float64
	// ContrastStdDev is the luminance standard deviation of full contrast
	ContrastStdDev float64
	// NoiseCeiling is the mean absolute blur residual of full noise
	NoiseCeiling float64
	// SharpnessCeiling is the Laplacian variance of a fully sharp image
	SharpnessCeiling float64
	NoiseSigma       float64
	// MaxSide bounds the size the pixel statistics run at
	MaxSide int
	GLCM    texture.GLCMOptions
}

func DefaultOptions() Options {
	return Options{
		Weights:          Weights{Resolution: 0.2, Contrast: 0.2, Noise: 0.2, Blurriness: 0.2, Texture: 0.2},
		ReferencePixels:  1048576,
		ContrastStdDev:   50,
		NoiseCeiling:     15,
		SharpnessCeiling: 500,
		NoiseSigma:       1.0,
		MaxSide:          1024,
		GLCM:             texture.DefaultGLCMOptions(),
	}
}

// Overall combines the sub-scores with w.
func Overall(s models.QualityScores, w Weights) float64 {
	return w.Resolution*s.Resolution +
		w.Contrast*s.Contrast +
		w.Noise*(1-s.Noise) +
		w.Blurriness*(1-s.Blurriness) +
		w.Texture*s.Texture
}

// Evaluator computes QualityScores. It is safe for concurrent use.
type Evaluator struct {
	vision texture.VisionProvider
	opts   Options
}

func NewEvaluator(vision texture.VisionProvider, opts Options) *Evaluator {
	return &Evaluator{vision: vision, opts: opts}
}

// Options returns the evaluator configuration.
func (e *Evaluator) Options() Options {
	return e.opts
}

// Evaluate returns the scores of img, or the fallback scores on failure.
func (e *Evaluator) Evaluate(img image.Image) models.QualityScores {
	s, _ := e.Assess(img)
	return s
}

// EvaluateBuffer decodes buf and assesses it.
func (e *Evaluator) EvaluateBuffer(buf []byte) (models.QualityScores, error) {
	img, _, err := raster.Decode(buf)
	if err != nil {
		return models.FallbackQualityScores(), apperrors.NewStageError("quality evaluation", err)
	}
	return e.Assess(img)
}

// Assess always returns usable scores; the error tells why the fallback
// was used. Adapter-not-ready errors keep their type.
func (e *Evaluator) Assess(img image.Image) (models.QualityScores, error) {
	s, err := e.assess(img)
	if err != nil {
		logger.WithError(err).Warn("Quality evaluation failed, using fallback scores")
		if apperrors.IsAdapterNotReady(err) {
			return models.FallbackQualityScores(), err
		}
		return models.FallbackQualityScores(), apperrors.NewStageError("quality evaluation", err)
	}
	return s, nil
}

func (e *Evaluator) assess(img image.Image) (s models.QualityScores, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("quality evaluation panicked: %v", rec)
		}
	}()

	if img == nil {
		return s, fmt.Errorf("nil image")
	}
	b := img.Bounds()
	if b.Dx() < 3 || b.Dy() < 3 {
		return s, fmt.Errorf("image %dx%d too small to evaluate", b.Dx(), b.Dy())
	}
	vision, err := e.vision.Vision()
	if err != nil {
		return s, err
	}

	s.Resolution = math.Min(1, float64(b.Dx()*b.Dy())/e.opts.ReferencePixels)

	if m := e.opts.MaxSide; m > 0 && (b.Dx() > m || b.Dy() > m) {
		img = imaging.Fit(img, m, m, imaging.Lanczos)
	}
	gray := raster.ToGray(img)
	pix := raster.Pixels(gray)

	s.Contrast = math.Min(1, luminanceStdDev(gray)/e.opts.ContrastStdDev)

	blurred, err := vision.GaussianBlur(gray, e.opts.NoiseSigma)
	if err != nil {
		return s, fmt.Errorf("gaussian blur: %w", err)
	}
	smooth := raster.Pixels(blurred)
	if len(smooth) != len(pix) {
		return s, fmt.Errorf("blurred image has %d pixels, expected %d", len(smooth), len(pix))
	}
	var residual float64
	for i := range pix {
		residual += math.Abs(pix[i] - smooth[i])
	}
	s.Noise = math.Min(1, residual/float64(len(pix))/e.opts.NoiseCeiling)

	lap, err := vision.Laplacian(gray)
	if err != nil {
		return s, fmt.Errorf("laplacian: %w", err)
	}
	sharpness := 0.0
	if len(lap) > 1 {
		sharpness = stat.Variance(lap, nil)
	}
	s.Blurriness = 1 - math.Min(1, sharpness/e.opts.SharpnessCeiling)

	glcm, err := texture.GLCMFeatures(gray, e.opts.GLCM)
	if err != nil {
		return s, fmt.Errorf("glcm: %w", err)
	}
	s.Texture = clamp01(glcm.Homogeneity)

	s.Overall = clamp01(Overall(s, e.opts.Weights))

	logger.WithFields(logrus.Fields{
		"overall":    s.Overall,
		"resolution": s.Resolution,
		"contrast":   s.Contrast,
		"noise":      s.Noise,
		"blurriness": s.Blurriness,
		"texture":    s.Texture,
		"laplacian":  sharpness,
		"backend":    vision.Name(),
	}).Debug("Quality evaluated")
	return s, nil
}

// luminanceStdDev computes the standard deviation from the 256-bin
// luminance histogram.
func luminanceStdDev(gray *image.Gray) float64 {
	var hist [256]float64
	w, h := gray.Bounds().Dx(), gray.Bounds().Dy()
	for y := 0; y < h; y++ {
		for _, v := range gray.Pix[y*gray.Stride : y*gray.Stride+w] {
			hist[v]++
		}
	}
	levels := make([]float64, 256)
	for i := range levels {
		levels[i] = float64(i)
	}
	_, std := stat.PopMeanStdDev(levels, hist[:])
	if math.IsNaN(std) {
		return 0
	}
	return std
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

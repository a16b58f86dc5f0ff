// Package texture computes the texture feature vector of a pattern image:
// LBP histogram, Gabor energies, gradient descriptor, GLCM statistics and
// Haar wavelet energies, in that order.
package texture

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"github.com/anime-shed/pattern-inspector-go/internal/adapter"
	apperrors "github.com/anime-shed/pattern-inspector-go/internal/errors"
	"github.com/anime-shed/pattern-inspector-go/internal/logger"
	"github.com/anime-shed/pattern-inspector-go/internal/raster"
	"github.com/anime-shed/pattern-inspector-go/pkg/models"
)

// VisionProvider hands out the vision capability. *adapter.LibraryAdapter
// implements it.
type VisionProvider interface {
	Vision() (adapter.VisionOps, error)
}

// Options configures the extractor.
type Options struct {
	LBP           LBPOptions
	Gabor         GaborOptions
	GLCM          GLCMOptions
	WaveletLevels int
	// MaxSide bounds the analysis size; larger images are downscaled first
	MaxSide int
	// GaborMaxSide bounds the size the filter bank runs at
	GaborMaxSide int
}

func DefaultOptions() Options {
	return Options{
		LBP:           DefaultLBPOptions(),
		Gabor:         DefaultGaborOptions(),
		GLCM:          DefaultGLCMOptions(),
		WaveletLevels: 1,
		MaxSide:       512,
		GaborMaxSide:  256,
	}
}

// Features keeps the vector together with the intermediate results other
// stages reuse.
type Features struct {
	Vector        models.FeatureVector
	LBPHistogram  []float64
	GaborEnergies []float64
	Gradient      []float64
	GLCM          GLCMStats
	WaveletEnergy []float64
	VisionBackend string
	Fallback      bool
}

// LBPUniformity is the share of uniform codes in the LBP histogram.
func (f Features) LBPUniformity() float64 {
	return Uniformity(f.LBPHistogram)
}

// FallbackFeatures is what every failed extraction returns.
func FallbackFeatures() Features {
	return Features{
		Vector:   make(models.FeatureVector, models.FallbackFeatureSize),
		Fallback: true,
	}
}

// Extractor computes feature vectors. It is safe for concurrent use.
type Extractor struct {
	vision VisionProvider
	opts   Options
}

func NewExtractor(vision VisionProvider, opts Options) *Extractor {
	return &Extractor{vision: vision, opts: opts}
}

// Extract returns the feature vector of img, or the fallback vector when
// any part of the extraction fails.
func (e *Extractor) Extract(img image.Image) models.FeatureVector {
	f, _ := e.ExtractWithStatus(img)
	return f.Vector
}

// ExtractBuffer decodes buf and extracts its features.
func (e *Extractor) ExtractBuffer(buf []byte) (Features, error) {
	img, _, err := raster.Decode(buf)
	if err != nil {
		return FallbackFeatures(), apperrors.NewStageError("texture extraction", err)
	}
	return e.ExtractWithStatus(img)
}

// ExtractWithStatus always returns a usable Features value. The error
// reports why the fallback was used; adapter-not-ready errors keep their
// type so callers can abort.
func (e *Extractor) ExtractWithStatus(img image.Image) (Features, error) {
	f, err := e.extract(img)
	if err != nil {
		logger.WithError(err).Warn("Texture extraction failed, using fallback vector")
		if apperrors.IsAdapterNotReady(err) {
			return FallbackFeatures(), err
		}
		return FallbackFeatures(), apperrors.NewStageError("texture extraction", err)
	}
	return f, nil
}

func (e *Extractor) extract(img image.Image) (f Features, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("texture extraction panicked: %v", rec)
		}
	}()

	if img == nil {
		return f, fmt.Errorf("nil image")
	}
	b := img.Bounds()
	if b.Dx() < 8 || b.Dy() < 8 {
		return f, fmt.Errorf("image %dx%d too small for texture analysis", b.Dx(), b.Dy())
	}
	vision, err := e.vision.Vision()
	if err != nil {
		return f, err
	}

	if e.opts.MaxSide > 0 && (b.Dx() > e.opts.MaxSide || b.Dy() > e.opts.MaxSide) {
		img = imaging.Fit(img, e.opts.MaxSide, e.opts.MaxSide, imaging.Lanczos)
	}
	gray := raster.ToGray(img)

	if f.LBPHistogram, err = LBPHistogram(gray, e.opts.LBP); err != nil {
		return f, fmt.Errorf("lbp: %w", err)
	}
	if f.GaborEnergies, err = e.gabor(vision, gray); err != nil {
		return f, fmt.Errorf("gabor: %w", err)
	}
	if f.Gradient, err = vision.GradientDescriptor(gray); err != nil {
		return f, fmt.Errorf("gradient descriptor: %w", err)
	}
	if f.GLCM, err = GLCMFeatures(gray, e.opts.GLCM); err != nil {
		return f, fmt.Errorf("glcm: %w", err)
	}
	if f.WaveletEnergy, err = WaveletEnergies(gray, e.opts.WaveletLevels); err != nil {
		return f, fmt.Errorf("wavelet: %w", err)
	}
	f.VisionBackend = vision.Name()

	glcm := f.GLCM.Vector(e.opts.GLCM.Advanced)
	vec := make(models.FeatureVector, 0,
		len(f.LBPHistogram)+len(f.GaborEnergies)+len(f.Gradient)+len(glcm)+len(f.WaveletEnergy))
	vec = append(vec, f.LBPHistogram...)
	vec = append(vec, f.GaborEnergies...)
	vec = append(vec, f.Gradient...)
	vec = append(vec, glcm...)
	vec = append(vec, f.WaveletEnergy...)
	f.Vector = vec

	logger.WithFields(logrus.Fields{
		"length":  len(vec),
		"backend": f.VisionBackend,
	}).Debug("Texture features extracted")
	return f, nil
}

func (e *Extractor) gabor(vision adapter.VisionOps, gray *image.Gray) ([]float64, error) {
	src := gray
	if m := e.opts.GaborMaxSide; m > 0 {
		b := gray.Bounds()
		if b.Dx() > m || b.Dy() > m {
			src = raster.ToGray(imaging.Fit(gray, m, m, imaging.Box))
		}
	}
	g := e.opts.Gabor
	out := make([]float64, 0, len(g.Thetas))
	for _, theta := range g.Thetas {
		k, err := GaborKernel(g.KernelSize, g.Sigma, theta, g.Lambda, g.Gamma, g.Psi)
		if err != nil {
			return nil, err
		}
		resp, err := vision.Filter2D(src, k)
		if err != nil {
			return nil, err
		}
		out = append(out, gaborEnergy(resp))
	}
	return out, nil
}

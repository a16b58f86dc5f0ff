// Package enhance implements the enhancement path taken for low-quality
// inputs: denoise, sharpen, adaptive contrast and super-resolution.
package enhance

import (
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/sirupsen/logrus"

	apperrors "github.com/anime-shed/pattern-inspector-go/internal/errors"
	"github.com/anime-shed/pattern-inspector-go/internal/logger"
	"github.com/anime-shed/pattern-inspector-go/internal/raster"
	"github.com/anime-shed/pattern-inspector-go/internal/texture"
	"github.com/anime-shed/pattern-inspector-go/pkg/models"
)

// Operation names reported by Enhance.
const (
	OpDenoise          = "denoise"
	OpSharpen          = "sharpen"
	OpAdaptiveContrast = "adaptive_contrast"
	OpSuperResolution  = "super_resolution"
)

// Options configures the enhancement path.
type Options struct {
	// NoiseThreshold is the noise defect above which the image is denoised
	NoiseThreshold float64
	// BlurThreshold is the blurriness defect above which it is sharpened
	BlurThreshold float64
	SharpenAmount float64
	ClipLimit     float64
	Tiles         int
	UpscaleFactor int
	// MaxSide caps the longest side produced by super-resolution
	MaxSide int
}

func DefaultOptions() Options {
	return Options{
		NoiseThreshold: 0.4,
		BlurThreshold:  0.5,
		SharpenAmount:  1.0,
		ClipLimit:      2.0,
		Tiles:          8,
		UpscaleFactor:  2,
		MaxSide:        4096,
	}
}

// Enhancer applies enhancement operations through the vision capability.
type Enhancer struct {
	vision texture.VisionProvider
	opts   Options
}

func NewEnhancer(vision texture.VisionProvider, opts Options) *Enhancer {
	return &Enhancer{vision: vision, opts: opts}
}

// Enhance picks operations from the quality scores: denoise for noisy
// input, sharpen for blurry input, adaptive contrast always. A failing
// operation is skipped; the returned image is always usable and the error
// lists the skipped operations.
func (e *Enhancer) Enhance(img image.Image, scores models.QualityScores) (image.Image, []string, error) {
	if img == nil || img.Bounds().Empty() {
		return img, nil, apperrors.NewStageError("enhancement", fmt.Errorf("empty image"))
	}
	vision, err := e.vision.Vision()
	if err != nil {
		return img, nil, err
	}

	type op struct {
		name string
		run  func(image.Image) (image.Image, error)
	}
	var ops []op
	if scores.Noise > e.opts.NoiseThreshold {
		ops = append(ops, op{OpDenoise, vision.Denoise})
	}
	if scores.Blurriness > e.opts.BlurThreshold {
		ops = append(ops, op{OpSharpen, func(in image.Image) (image.Image, error) {
			return vision.Sharpen(in, e.opts.SharpenAmount)
		}})
	}
	ops = append(ops, op{OpAdaptiveContrast, func(in image.Image) (image.Image, error) {
		return vision.AdaptiveEqualize(in, e.opts.ClipLimit, e.opts.Tiles)
	}})

	out := img
	var applied, failed []string
	for _, o := range ops {
		next, err := o.run(out)
		if err != nil {
			if apperrors.IsAdapterNotReady(err) {
				return img, applied, err
			}
			logger.WithError(err).WithField("operation", o.name).Warn("Enhancement operation failed, skipping")
			failed = append(failed, o.name)
			continue
		}
		out = next
		applied = append(applied, o.name)
	}

	logger.WithFields(logrus.Fields{
		"applied":    applied,
		"noise":      scores.Noise,
		"blurriness": scores.Blurriness,
		"backend":    vision.Name(),
	}).Debug("Enhancement applied")

	if len(failed) > 0 {
		return out, applied, apperrors.NewStageError("enhancement", fmt.Errorf("skipped %s", strings.Join(failed, ", ")))
	}
	return out, applied, nil
}

// EnhanceBuffer decodes buf, enhances it and encodes the result as PNG.
func (e *Enhancer) EnhanceBuffer(buf []byte, scores models.QualityScores) ([]byte, []string, error) {
	img, _, err := raster.Decode(buf)
	if err != nil {
		return buf, nil, apperrors.NewStageError("enhancement", err)
	}
	out, applied, enhanceErr := e.Enhance(img, scores)
	if apperrors.IsAdapterNotReady(enhanceErr) {
		return buf, nil, enhanceErr
	}
	encoded, err := raster.EncodePNG(out)
	if err != nil {
		return buf, nil, apperrors.NewStageError("enhancement", err)
	}
	return encoded, applied, enhanceErr
}

// SuperResolve upscales img by the configured factor, bounded by MaxSide.
func (e *Enhancer) SuperResolve(img image.Image) (image.Image, error) {
	if img == nil || img.Bounds().Empty() {
		return img, apperrors.NewStageError("super resolution", fmt.Errorf("empty image"))
	}
	vision, err := e.vision.Vision()
	if err != nil {
		return img, err
	}
	b := img.Bounds()
	factor := float64(max(1, e.opts.UpscaleFactor))
	if longest := float64(max(b.Dx(), b.Dy())); e.opts.MaxSide > 0 && longest*factor > float64(e.opts.MaxSide) {
		factor = float64(e.opts.MaxSide) / longest
	}
	if factor <= 1 {
		return img, nil
	}
	width := int(math.Round(float64(b.Dx()) * factor))
	height := int(math.Round(float64(b.Dy()) * factor))
	out, err := vision.Resize(img, width, height)
	if err != nil {
		return img, wrapStage("super resolution", err)
	}
	return out, nil
}

// AdaptiveContrast applies contrast-limited adaptive histogram equalization.
func (e *Enhancer) AdaptiveContrast(img image.Image) (image.Image, error) {
	if img == nil || img.Bounds().Empty() {
		return img, apperrors.NewStageError("adaptive contrast", fmt.Errorf("empty image"))
	}
	vision, err := e.vision.Vision()
	if err != nil {
		return img, err
	}
	out, err := vision.AdaptiveEqualize(img, e.opts.ClipLimit, e.opts.Tiles)
	if err != nil {
		return img, wrapStage("adaptive contrast", err)
	}
	return out, nil
}

func wrapStage(stage string, err error) error {
	if apperrors.IsAdapterNotReady(err) {
		return err
	}
	return apperrors.NewStageError(stage, err)
}

// Package geometry normalizes rotation, perspective and scale of a pattern
// image before feature extraction. Every step is a pass-through when its
// detector is not confident enough.
package geometry

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"github.com/anime-shed/pattern-inspector-go/internal/adapter"
	apperrors "github.com/anime-shed/pattern-inspector-go/internal/errors"
	"github.com/anime-shed/pattern-inspector-go/internal/logger"
	"github.com/anime-shed/pattern-inspector-go/internal/raster"
	"github.com/anime-shed/pattern-inspector-go/internal/texture"
)

// Step names used in reports and logs.
const (
	StepRotation    = "rotation"
	StepPerspective = "perspective"
	StepScale       = "scale"
)

// Options configures the three correction steps. Thresholds are empirical
// defaults.
type Options struct {
	Rotation    bool
	Perspective bool
	Scale       bool

	// EdgeMagnitude is the Sobel magnitude an edge needs to vote on skew
	EdgeMagnitude  float64
	MinSkew        float64
	MaxSkew        float64
	SkewConfidence float64

	// QuadContrast separates foreground from the border background
	QuadContrast   float64
	QuadConfidence float64
	// MinQuadArea is the smallest quad, as a share of the frame, worth rectifying
	MinQuadArea float64

	PeriodConfidence float64
	// CanonicalPeriod is the repeat length in pixels the scale step aims for
	CanonicalPeriod float64
	ScaleTolerance  float64
	MaxScaleFactor  float64
	// MaxSide caps the longest side of an upscaled result
	MaxSide int

	// AnalysisSide bounds the size the detectors run at
	AnalysisSide int
}

func DefaultOptions() Options {
	return Options{
		Rotation:         true,
		Perspective:      true,
		Scale:            true,
		EdgeMagnitude:    100,
		MinSkew:          0.5,
		MaxSkew:          30,
		SkewConfidence:   0.35,
		QuadContrast:     40,
		QuadConfidence:   0.85,
		MinQuadArea:      0.1,
		PeriodConfidence: 0.5,
		CanonicalPeriod:  32,
		ScaleTolerance:   0.15,
		MaxScaleFactor:   2,
		MaxSide:          1024,
		AnalysisSide:     512,
	}
}

// Report describes what each step measured and applied.
type Report struct {
	Rotated            bool    `json:"rotated"`
	Angle              float64 `json:"angle"`
	RotationConfidence float64 `json:"rotation_confidence"`

	Rectified      bool    `json:"rectified"`
	Quad           Quad    `json:"quad"`
	QuadConfidence float64 `json:"quad_confidence"`

	Scaled           bool    `json:"scaled"`
	Period           float64 `json:"period"`
	PeriodConfidence float64 `json:"period_confidence"`
	ScaleFactor      float64 `json:"scale_factor"`

	// Failed lists steps skipped because the vision backend failed
	Failed []string `json:"failed,omitempty"`
}

// Applied lists the corrections that changed the image, in order.
func (r Report) Applied() []string {
	var out []string
	if r.Rotated {
		out = append(out, StepRotation)
	}
	if r.Rectified {
		out = append(out, StepPerspective)
	}
	if r.Scaled {
		out = append(out, StepScale)
	}
	return out
}

// Corrector runs rotation, perspective and scale correction in that order.
// It is safe for concurrent use.
type Corrector struct {
	vision texture.VisionProvider
	opts   Options
}

func NewCorrector(vision texture.VisionProvider, opts Options) *Corrector {
	return &Corrector{vision: vision, opts: opts}
}

// CorrectBuffer decodes buf, corrects it and encodes the result as PNG. On
// failure the input buffer is returned unchanged.
func (c *Corrector) CorrectBuffer(buf []byte) ([]byte, Report, error) {
	img, _, err := raster.Decode(buf)
	if err != nil {
		return buf, Report{}, apperrors.NewStageError("geometric correction", err)
	}
	out, rep, err := c.Correct(img)
	if err != nil {
		return buf, rep, err
	}
	if len(rep.Applied()) == 0 {
		return buf, rep, nil
	}
	encoded, err := raster.EncodePNG(out)
	if err != nil {
		return buf, rep, apperrors.NewStageError("geometric correction", err)
	}
	return encoded, rep, nil
}

// Correct returns a new corrected image, or img itself when no step
// applied. Backend failures skip the failing step; only adapter-not-ready
// errors are returned.
func (c *Corrector) Correct(img image.Image) (image.Image, Report, error) {
	var rep Report
	if img == nil || img.Bounds().Empty() {
		return img, rep, apperrors.NewStageError("geometric correction", fmt.Errorf("empty image"))
	}
	vision, err := c.vision.Vision()
	if err != nil {
		return img, rep, err
	}

	out := img
	steps := []struct {
		name    string
		enabled bool
		run     func(adapter.VisionOps, image.Image, *Report) (image.Image, error)
	}{
		{StepRotation, c.opts.Rotation, c.rotate},
		{StepPerspective, c.opts.Perspective, c.rectify},
		{StepScale, c.opts.Scale, c.rescale},
	}
	for _, step := range steps {
		if !step.enabled {
			continue
		}
		next, err := c.safeRun(step.run, vision, out, &rep)
		if err != nil {
			if apperrors.IsAdapterNotReady(err) {
				return img, rep, err
			}
			logger.WithError(err).WithField("step", step.name).Warn("Geometric correction step failed, skipping")
			rep.Failed = append(rep.Failed, step.name)
			continue
		}
		out = next
	}

	logger.WithFields(logrus.Fields{
		"applied":           rep.Applied(),
		"angle":             rep.Angle,
		"quad_confidence":   rep.QuadConfidence,
		"period":            rep.Period,
		"period_confidence": rep.PeriodConfidence,
	}).Debug("Geometric correction finished")
	return out, rep, nil
}

func (c *Corrector) safeRun(run func(adapter.VisionOps, image.Image, *Report) (image.Image, error),
	vision adapter.VisionOps, img image.Image, rep *Report) (out image.Image, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out, err = img, fmt.Errorf("panic: %v", rec)
		}
	}()
	return run(vision, img, rep)
}

// analysis returns a bounded grayscale copy of img and the factor that maps
// its coordinates back to img.
func (c *Corrector) analysis(img image.Image) (*image.Gray, float64) {
	b := img.Bounds()
	if m := c.opts.AnalysisSide; m > 0 && (b.Dx() > m || b.Dy() > m) {
		small := imaging.Fit(img, m, m, imaging.Box)
		return raster.ToGray(small), float64(b.Dx()) / float64(small.Bounds().Dx())
	}
	return raster.ToGray(img), 1
}

func (c *Corrector) rotate(vision adapter.VisionOps, img image.Image, rep *Report) (image.Image, error) {
	gray, _ := c.analysis(img)
	angle, conf, err := DetectSkew(vision, gray, c.opts.EdgeMagnitude)
	if err != nil {
		return img, err
	}
	rep.Angle, rep.RotationConfidence = angle, conf
	if conf < c.opts.SkewConfidence || math.Abs(angle) < c.opts.MinSkew || math.Abs(angle) > c.opts.MaxSkew {
		return img, nil
	}
	out, err := vision.Rotate(img, -angle)
	if err != nil {
		return img, err
	}
	rep.Rotated = true
	return out, nil
}

func (c *Corrector) rectify(vision adapter.VisionOps, img image.Image, rep *Report) (image.Image, error) {
	gray, f := c.analysis(img)
	quad, conf := DetectQuad(gray, c.opts.QuadContrast)
	rep.QuadConfidence = conf
	w, h := gray.Bounds().Dx(), gray.Bounds().Dy()
	if conf < c.opts.QuadConfidence ||
		quad.Area() < c.opts.MinQuadArea*float64(w*h) ||
		quad.SpansFrame(w, h, 1+0.01*float64(max(w, h))) {
		return img, nil
	}

	quad = quad.Scale(f)
	rep.Quad = quad
	width, height := quad.Size()
	if width < 8 || height < 8 {
		return img, nil
	}
	rect := Quad{{0, 0}, {float64(width - 1), 0}, {float64(width - 1), float64(height - 1)}, {0, float64(height - 1)}}
	hm, err := ComputeHomography(rect, quad)
	if err != nil {
		return img, err
	}
	out, err := vision.WarpPerspective(img, hm, width, height)
	if err != nil {
		return img, err
	}
	rep.Rectified = true
	return out, nil
}

func (c *Corrector) rescale(vision adapter.VisionOps, img image.Image, rep *Report) (image.Image, error) {
	gray, f := c.analysis(img)
	period, conf := DetectPeriod(gray, c.opts.PeriodConfidence)
	rep.Period, rep.PeriodConfidence = period*f, conf
	if period == 0 || conf < c.opts.PeriodConfidence {
		return img, nil
	}

	factor := c.opts.CanonicalPeriod / rep.Period
	if m := c.opts.MaxScaleFactor; m > 0 {
		factor = math.Max(1/m, math.Min(m, factor))
	}
	b := img.Bounds()
	longest := float64(max(b.Dx(), b.Dy()))
	if c.opts.MaxSide > 0 && longest*factor > float64(c.opts.MaxSide) {
		factor = float64(c.opts.MaxSide) / longest
	}
	if math.Abs(factor-1) < c.opts.ScaleTolerance {
		return img, nil
	}
	width := max(1, int(math.Round(float64(b.Dx())*factor)))
	height := max(1, int(math.Round(float64(b.Dy())*factor)))
	out, err := vision.Resize(img, width, height)
	if err != nil {
		return img, err
	}
	rep.Scaled, rep.ScaleFactor = true, factor
	return out, nil
}

// Package service orchestrates the recognition pipeline and exposes it
// behind a timeout-enforcing boundary.
package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/anime-shed/pattern-inspector-go/internal/analyzer"
	apperrors "github.com/anime-shed/pattern-inspector-go/internal/errors"
	"github.com/anime-shed/pattern-inspector-go/internal/geometry"
	"github.com/anime-shed/pattern-inspector-go/internal/logger"
	"github.com/anime-shed/pattern-inspector-go/internal/observer"
	"github.com/anime-shed/pattern-inspector-go/internal/raster"
	"github.com/anime-shed/pattern-inspector-go/internal/strategy"
	"github.com/anime-shed/pattern-inspector-go/internal/texture"
	"github.com/anime-shed/pattern-inspector-go/pkg/models"
	"github.com/anime-shed/pattern-inspector-go/pkg/validation"
)

var pdfSignature = []byte("%PDF-")

// Recognizer is the single recognition entry point.
type Recognizer interface {
	Recognize(ctx context.Context, buf []byte, opts models.RecognizeOptions) (models.RecognitionOutcome, error)
}

// QualityAssessor scores an image. *quality.Evaluator implements it.
type QualityAssessor interface {
	Assess(img image.Image) (models.QualityScores, error)
}

// ImageEnhancer is implemented by *enhance.Enhancer.
type ImageEnhancer interface {
	Enhance(img image.Image, scores models.QualityScores) (image.Image, []string, error)
	SuperResolve(img image.Image) (image.Image, error)
}

// GeometryCorrector is implemented by *geometry.Corrector.
type GeometryCorrector interface {
	Correct(img image.Image) (image.Image, geometry.Report, error)
}

// FeatureExtractor is implemented by *texture.Extractor.
type FeatureExtractor interface {
	ExtractWithStatus(img image.Image) (texture.Features, error)
}

// RegionExtractor is implemented by *document.Extractor.
type RegionExtractor interface {
	ExtractRegions(ctx context.Context, buf []byte, opts models.ExtractOptions) (models.ExtractionResult, error)
}

// Stages wires the pipeline. Events is optional.
type Stages struct {
	Quality    QualityAssessor
	Enhancer   ImageEnhancer
	Geometry   GeometryCorrector
	Texture    FeatureExtractor
	Analyzer   analyzer.PatternAnalyzer
	Strategies strategy.Selector
	Documents  RegionExtractor
	Validator  *validation.QualityValidator
	Events     observer.Subject
}

// Options holds the orchestration thresholds.
type Options struct {
	// EnhanceBelow is the overall quality under which enhancement runs
	EnhanceBelow float64
	// SuperResolveBelow is the resolution score under which images are
	// upscaled when the caller asks for it
	SuperResolveBelow float64
	DefaultTargetDPI  float64
	// RegionWorkers bounds how many document regions are recognized at once
	RegionWorkers int
}

func DefaultOptions() Options {
	return Options{
		EnhanceBelow:      0.65,
		SuperResolveBelow: 0.7,
		DefaultTargetDPI:  300,
		RegionWorkers:     4,
	}
}

// RecognitionService runs the pipeline. It keeps no state across calls and
// is safe for concurrent use.
type RecognitionService struct {
	stages Stages
	opts   Options
}

func NewRecognitionService(stages Stages, opts Options) *RecognitionService {
	if stages.Validator == nil {
		stages.Validator = validation.NewQualityValidator()
	}
	if opts.RegionWorkers < 1 {
		opts.RegionWorkers = 1
	}
	return &RecognitionService{stages: stages, opts: opts}
}

// IsDocument applies the IsDocument override, then the %PDF- signature.
func IsDocument(buf []byte, opts models.RecognizeOptions) bool {
	if opts.IsDocument != nil {
		return *opts.IsDocument
	}
	return bytes.HasPrefix(buf, pdfSignature)
}

// Recognize routes buf to the document or the single-image path. The only
// error it returns is adapter-not-ready; every other failure becomes an
// unknown result.
func (s *RecognitionService) Recognize(ctx context.Context, buf []byte, opts models.RecognizeOptions) (out models.RecognitionOutcome, err error) {
	document := IsDocument(buf, opts)
	defer func() {
		if rec := recover(); rec != nil {
			logger.WithField("panic", rec).Error("Recognition panicked")
			out, err = unknownOutcome(document, fmt.Sprintf("recognition panicked: %v", rec)), nil
		}
	}()

	if document {
		return s.recognizeDocument(ctx, buf, opts)
	}
	result, err := s.recognizeImage(ctx, buf, opts)
	if err != nil {
		return models.RecognitionOutcome{}, err
	}
	return models.RecognitionOutcome{Single: &result}, nil
}

// ExtractRegions runs document region extraction alone.
func (s *RecognitionService) ExtractRegions(ctx context.Context, buf []byte, opts models.ExtractOptions) (models.ExtractionResult, error) {
	if opts.TargetDPI <= 0 {
		opts.TargetDPI = s.opts.DefaultTargetDPI
	}
	return s.stages.Documents.ExtractRegions(ctx, buf, opts)
}

// Describe prepares buf the way Recognize does and returns its texture
// features.
func (s *RecognitionService) Describe(ctx context.Context, buf []byte) (texture.Features, error) {
	img, _, err := raster.Decode(buf)
	if err != nil {
		return texture.FallbackFeatures(), apperrors.NewStructuralError("cannot decode image", err)
	}
	var scratch models.RecognitionResult
	p, err := s.prepare(ctx, img, false, &scratch)
	if err != nil {
		return texture.FallbackFeatures(), err
	}
	return p.features, nil
}

func unknownOutcome(document bool, reason string) models.RecognitionOutcome {
	r := models.UnknownResult(reason)
	if document {
		return models.RecognitionOutcome{Multiple: []models.RecognitionResult{r}}
	}
	return models.RecognitionOutcome{Single: &r}
}

func (s *RecognitionService) recognizeImage(ctx context.Context, buf []byte, opts models.RecognizeOptions) (models.RecognitionResult, error) {
	if len(buf) == 0 {
		return models.UnknownResult("empty image buffer"), nil
	}
	mt := mimetype.Detect(buf)
	if !strings.HasPrefix(mt.String(), "image/") {
		return models.UnknownResult(fmt.Sprintf("unsupported content type %s", mt.String())), nil
	}
	img, format, err := raster.Decode(buf)
	if err != nil {
		return models.UnknownResult(apperrors.NewStructuralError("cannot decode image", err).Error()), nil
	}
	return s.recognizeDecoded(ctx, img, imageJob{
		pointID:           RequestIDFromContext(ctx),
		capture:           true,
		enhanceResolution: opts.EnhanceResolution,
		properties:        map[string]interface{}{"format": format},
	})
}

func (s *RecognitionService) recognizeDocument(ctx context.Context, buf []byte, opts models.RecognizeOptions) (models.RecognitionOutcome, error) {
	start := time.Now()
	extraction, err := s.ExtractRegions(ctx, buf, models.ExtractOptions{
		TargetDPI:         opts.TargetDPI,
		EnhanceResolution: opts.EnhanceResolution,
		DetectRegions:     true,
	})
	if err != nil {
		if apperrors.IsAdapterNotReady(err) {
			return models.RecognitionOutcome{}, err
		}
		logger.WithError(err).Warn("Document extraction failed")
		return unknownOutcome(true, err.Error()), nil
	}
	if len(extraction.Images) == 0 {
		return unknownOutcome(true, "document contains no pattern regions"), nil
	}

	results := make([]models.RecognitionResult, len(extraction.Images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.RegionWorkers)
	for i := range extraction.Images {
		i := i
		g.Go(func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					results[i] = models.UnknownResult(fmt.Sprintf("region recognition panicked: %v", rec))
					err = nil
				}
			}()
			r, err := s.recognizeRegion(gctx, extraction.Images[i], extraction.Metadata[i])
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.RecognitionOutcome{}, err
	}

	logger.WithFields(logrus.Fields{
		"regions":            len(results),
		"pages":              extraction.ProcessingStats.PagesProcessed,
		"processing_time_ms": time.Since(start).Milliseconds(),
	}).Info("Document recognized")
	return models.RecognitionOutcome{Multiple: results}, nil
}

func (s *RecognitionService) recognizeRegion(ctx context.Context, buf []byte, meta models.TileMetadata) (models.RecognitionResult, error) {
	props := map[string]interface{}{
		"pageNumber": meta.PageNumber,
		"regionId":   meta.RegionID,
	}
	if len(meta.Specifications) > 0 {
		props["specifications"] = meta.Specifications
	}
	if meta.ProductCode != "" {
		props["productCode"] = meta.ProductCode
	}
	if meta.Manufacturer != "" {
		props["manufacturer"] = meta.Manufacturer
	}
	if meta.Dimensions != nil {
		props["dimensions"] = *meta.Dimensions
	}

	img, _, err := raster.Decode(buf)
	if err != nil {
		r := models.UnknownResult(apperrors.NewStructuralError("cannot decode region image", err).Error())
		for k, v := range props {
			r.Properties[k] = v
		}
		return r, nil
	}

	pointID := ""
	if id := RequestIDFromContext(ctx); id != "" {
		pointID = id + "/" + meta.RegionID
	}
	return s.recognizeDecoded(ctx, img, imageJob{
		pointID:    pointID,
		text:       meta.ExtractedText,
		properties: props,
	})
}

// imageJob carries what differs between a single upload and a document
// region through the shared image path.
type imageJob struct {
	pointID string
	text    string
	// capture selects the stricter report for photographed surfaces
	capture           bool
	enhanceResolution bool
	properties        map[string]interface{}
}

type prepared struct {
	img      image.Image
	scores   models.QualityScores
	features texture.Features
}

// prepare runs quality, enhancement, geometry and texture extraction.
// Stage failures mark result degraded; only adapter-not-ready is returned.
func (s *RecognitionService) prepare(ctx context.Context, img image.Image, enhanceResolution bool, result *models.RecognitionResult) (prepared, error) {
	p := prepared{img: img}

	scores, err := s.stages.Quality.Assess(img)
	if err != nil {
		if apperrors.IsAdapterNotReady(err) {
			return p, err
		}
		result.MarkDegraded(err.Error())
	}
	p.scores = scores

	if scores.Overall < s.opts.EnhanceBelow {
		enhanced, applied, err := s.stages.Enhancer.Enhance(p.img, scores)
		if err != nil {
			if apperrors.IsAdapterNotReady(err) {
				return p, err
			}
			result.MarkDegraded(err.Error())
		}
		p.img = enhanced
		if len(applied) > 0 {
			setProperty(result, "enhancement", applied)
			s.publish(ctx, observer.PipelineEvent{
				EventType: observer.EnhancementApplied,
				Success:   true,
				Metadata: map[string]interface{}{
					"operations": applied,
					"overall":    scores.Overall,
				},
			})
		}
	}

	if enhanceResolution && scores.Resolution < s.opts.SuperResolveBelow {
		upscaled, err := s.stages.Enhancer.SuperResolve(p.img)
		if err != nil {
			if apperrors.IsAdapterNotReady(err) {
				return p, err
			}
			result.MarkDegraded(err.Error())
		}
		p.img = upscaled
	}

	corrected, report, err := s.stages.Geometry.Correct(p.img)
	if err != nil {
		if apperrors.IsAdapterNotReady(err) {
			return p, err
		}
		result.MarkDegraded(err.Error())
	}
	if corrected != nil {
		p.img = corrected
	}
	if applied := report.Applied(); len(applied) > 0 {
		setProperty(result, "geometry", applied)
	}
	if len(report.Failed) > 0 {
		setProperty(result, "geometryFailed", report.Failed)
	}

	features, err := s.stages.Texture.ExtractWithStatus(p.img)
	if err != nil {
		if apperrors.IsAdapterNotReady(err) {
			return p, err
		}
		result.MarkDegraded(err.Error())
	}
	p.features = features
	return p, nil
}

func (s *RecognitionService) recognizeDecoded(ctx context.Context, img image.Image, job imageJob) (models.RecognitionResult, error) {
	result := models.RecognitionResult{
		AlternativeSuggestions: []string{},
		Properties:             make(map[string]interface{}, len(job.properties)+8),
	}
	for k, v := range job.properties {
		result.Properties[k] = v
	}

	p, err := s.prepare(ctx, img, job.enhanceResolution, &result)
	if err != nil {
		return models.RecognitionResult{}, err
	}
	result.QualityAssessment = p.scores

	score := s.stages.Analyzer.Analyze(p.img, p.features)

	metrics := s.stages.Analyzer.Inspect(p.img)
	metrics.NoiseLevel = p.scores.Noise
	var issues []validation.QualityIssue
	if job.capture {
		issues = s.stages.Validator.ValidateCaptureQuality(metrics)
	} else {
		issues = s.stages.Validator.ValidateBasicQuality(metrics)
	}
	if len(issues) > 0 {
		result.Properties["qualityIssues"] = issues
	}

	dominant := s.stages.Analyzer.DominantColor(p.img)
	if dominant.Hex != "" {
		result.Properties["dominantColor"] = dominant.Hex
		result.Properties["colorFamily"] = dominant.Family
	}

	decision, err := s.stages.Strategies.Context(score).Execute(ctx, strategy.Input{
		Image:    p.img,
		Features: p.features,
		Pattern:  score,
		Text:     job.text,
	})
	if err != nil {
		if apperrors.IsAdapterNotReady(err) {
			return models.RecognitionResult{}, err
		}
		result.Properties["error"] = err.Error()
		result.MarkDegraded(err.Error())
	}
	for k, v := range decision.Properties {
		result.Properties[k] = v
	}
	classification := decision.Classification
	result.MaterialType = classification.MaterialType
	result.Confidence = classification.Confidence
	if classification.AlternativeSuggestions != nil {
		result.AlternativeSuggestions = classification.AlternativeSuggestions
	}
	if classification.ModelID != "" {
		result.Properties["model"] = classification.ModelID
	}

	if !p.features.Fallback {
		s.publish(ctx, observer.PipelineEvent{
			EventType: observer.FeaturesExtracted,
			Success:   true,
			Features:  p.features.Vector.Float32(),
			Metadata: map[string]interface{}{
				"point_id":      job.pointID,
				"material_type": result.MaterialType,
				"confidence":    result.Confidence,
				"pipeline":      decision.Properties["pipeline"],
			},
		})
	}

	logger.WithFields(logrus.Fields{
		"material_type": result.MaterialType,
		"confidence":    result.Confidence,
		"pattern_score": score.Score,
		"overall":       p.scores.Overall,
		"degraded":      result.Degraded,
	}).Debug("Image recognized")
	return result, nil
}

func (s *RecognitionService) publish(ctx context.Context, event observer.PipelineEvent) {
	if s.stages.Events == nil {
		return
	}
	if event.RequestID == "" {
		event.RequestID = RequestIDFromContext(ctx)
	}
	s.stages.Events.NotifyObservers(ctx, event)
}

func setProperty(result *models.RecognitionResult, key string, value interface{}) {
	if result.Properties == nil {
		result.Properties = map[string]interface{}{}
	}
	result.Properties[key] = value
}

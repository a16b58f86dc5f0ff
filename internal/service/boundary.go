package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/anime-shed/pattern-inspector-go/internal/errors"
	"github.com/anime-shed/pattern-inspector-go/internal/logger"
	"github.com/anime-shed/pattern-inspector-go/internal/observer"
	"github.com/anime-shed/pattern-inspector-go/internal/repository"
	"github.com/anime-shed/pattern-inspector-go/internal/storage"
	"github.com/anime-shed/pattern-inspector-go/internal/texture"
	"github.com/anime-shed/pattern-inspector-go/pkg/models"
)

// SourceUpload labels outcomes whose bytes came in with the request.
const SourceUpload = "upload"

// Pipeline is what the boundary drives. *RecognitionService implements it.
type Pipeline interface {
	Recognizer
	ExtractRegions(ctx context.Context, buf []byte, opts models.ExtractOptions) (models.ExtractionResult, error)
	Describe(ctx context.Context, buf []byte) (texture.Features, error)
}

// ResultCache stores outcomes by content key. *storage.RedisResultCache
// implements it.
type ResultCache interface {
	Get(ctx context.Context, key string) (models.RecognitionOutcome, bool, error)
	Set(ctx context.Context, key string, outcome models.RecognitionOutcome) error
}

// FeatureSearcher finds indexed patterns close to a vector.
// *storage.QdrantFeatureIndex implements it.
type FeatureSearcher interface {
	Search(ctx context.Context, vector []float32, limit int) ([]models.SimilarMatch, error)
}

// BoundaryOptions bounds caller-visible latency.
type BoundaryOptions struct {
	Timeout      time.Duration
	FetchTimeout time.Duration
}

// BoundaryOption configures optional collaborators.
type BoundaryOption func(*Boundary)

func WithCache(cache ResultCache) BoundaryOption {
	return func(b *Boundary) { b.cache = cache }
}

func WithSearch(search FeatureSearcher) BoundaryOption {
	return func(b *Boundary) { b.search = search }
}

func WithEvents(events observer.Subject) BoundaryOption {
	return func(b *Boundary) { b.events = events }
}

// Boundary is the caller-facing façade. It assigns request ids, enforces
// the timeout, consults the cache and publishes lifecycle events. A timed
// out recognition keeps running in its goroutine; its result is dropped.
type Boundary struct {
	pipeline Pipeline
	sources  repository.SourceRepository
	opts     BoundaryOptions
	cache    ResultCache
	search   FeatureSearcher
	events   observer.Subject
}

func NewBoundary(pipeline Pipeline, sources repository.SourceRepository, opts BoundaryOptions, options ...BoundaryOption) *Boundary {
	b := &Boundary{pipeline: pipeline, sources: sources, opts: opts}
	for _, o := range options {
		o(b)
	}
	return b
}

// Recognize runs the pipeline over an uploaded buffer.
func (b *Boundary) Recognize(ctx context.Context, buf []byte, opts models.RecognizeOptions) (*models.RecognizeResponse, error) {
	return b.recognize(ctx, buf, SourceUpload, opts)
}

// RecognizeURL fetches sourceURL and recognizes it.
func (b *Boundary) RecognizeURL(ctx context.Context, sourceURL string, opts models.RecognizeOptions) (*models.RecognizeResponse, error) {
	src, err := b.fetch(ctx, sourceURL)
	if err != nil {
		return nil, err
	}
	return b.recognize(ctx, src.Data, sourceURL, opts)
}

// ExtractRegions runs region extraction over an uploaded document.
func (b *Boundary) ExtractRegions(ctx context.Context, buf []byte, opts models.ExtractOptions) (*models.ExtractResponse, error) {
	return b.extract(ctx, buf, SourceUpload, opts)
}

// ExtractRegionsURL fetches sourceURL and extracts its regions.
func (b *Boundary) ExtractRegionsURL(ctx context.Context, sourceURL string, opts models.ExtractOptions) (*models.ExtractResponse, error) {
	src, err := b.fetch(ctx, sourceURL)
	if err != nil {
		return nil, err
	}
	return b.extract(ctx, src.Data, sourceURL, opts)
}

// Similar returns the indexed patterns closest to the image in buf.
func (b *Boundary) Similar(ctx context.Context, buf []byte, limit int) ([]models.SimilarMatch, error) {
	if b.search == nil {
		return nil, apperrors.NewNotFoundError("similar-pattern search is not configured", nil)
	}
	if limit <= 0 {
		limit = 10
	}
	features, err := runWithTimeout(ctx, b.opts.Timeout, func(ctx context.Context) (texture.Features, error) {
		return b.pipeline.Describe(ctx, buf)
	})
	if err != nil {
		return nil, err
	}
	if features.Fallback {
		return nil, apperrors.NewProcessingError("no usable texture features in image", nil)
	}
	matches, err := b.search.Search(ctx, features.Vector.Float32(), limit)
	if err != nil {
		return nil, apperrors.NewNetworkError("similar-pattern search failed", err)
	}
	return matches, nil
}

func (b *Boundary) fetch(ctx context.Context, sourceURL string) (*repository.Source, error) {
	if b.sources == nil {
		return nil, apperrors.NewValidationError("remote sources are not configured", nil)
	}
	if err := b.sources.ValidateSourceURL(sourceURL); err != nil {
		return nil, apperrors.NewValidationError("invalid source URL", err)
	}
	fetchCtx := ctx
	if b.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, b.opts.FetchTimeout)
		defer cancel()
	}
	src, err := b.sources.FetchSource(fetchCtx, sourceURL)
	if err != nil {
		return nil, apperrors.NewNetworkError("failed to fetch source", err)
	}
	return src, nil
}

func (b *Boundary) recognize(ctx context.Context, buf []byte, source string, opts models.RecognizeOptions) (*models.RecognizeResponse, error) {
	requestID := NewRequestID()
	ctx = WithRequestID(ctx, requestID)
	start := time.Now()
	b.publish(ctx, observer.PipelineEvent{EventType: observer.RecognitionStarted, RequestID: requestID, Source: source})

	key := storage.CacheKey(buf, opts)
	if b.cache != nil {
		outcome, hit, err := b.cache.Get(ctx, key)
		if err != nil {
			logger.WithError(err).Warn("Result cache lookup failed")
		}
		if hit {
			b.completed(ctx, requestID, source, start, outcome, true)
			return newRecognizeResponse(requestID, start, outcome, true), nil
		}
	}

	outcome, err := runWithTimeout(ctx, b.opts.Timeout, func(ctx context.Context) (models.RecognitionOutcome, error) {
		return b.pipeline.Recognize(ctx, buf, opts)
	})
	if err != nil {
		b.failed(ctx, requestID, source, start, err)
		return nil, err
	}

	if b.cache != nil && !hasDegraded(outcome) {
		if err := b.cache.Set(ctx, key, outcome); err != nil {
			logger.WithError(err).Warn("Result cache store failed")
		}
	}
	b.completed(ctx, requestID, source, start, outcome, false)
	return newRecognizeResponse(requestID, start, outcome, false), nil
}

func (b *Boundary) extract(ctx context.Context, buf []byte, source string, opts models.ExtractOptions) (*models.ExtractResponse, error) {
	requestID := NewRequestID()
	ctx = WithRequestID(ctx, requestID)
	start := time.Now()

	result, err := runWithTimeout(ctx, b.opts.Timeout, func(ctx context.Context) (models.ExtractionResult, error) {
		return b.pipeline.ExtractRegions(ctx, buf, opts)
	})
	if err != nil {
		b.failed(ctx, requestID, source, start, err)
		return nil, err
	}

	b.publish(ctx, observer.PipelineEvent{
		EventType:      observer.RegionsExtracted,
		RequestID:      requestID,
		Source:         source,
		ProcessingTime: time.Since(start),
		Success:        true,
		Metadata: map[string]interface{}{
			"images": len(result.Images),
			"pages":  result.ProcessingStats.PagesProcessed,
		},
	})
	return &models.ExtractResponse{
		RequestID:       requestID,
		Images:          result.Images,
		Metadata:        result.Metadata,
		ProcessingStats: result.ProcessingStats,
	}, nil
}

func (b *Boundary) completed(ctx context.Context, requestID, source string, start time.Time, outcome models.RecognitionOutcome, cached bool) {
	b.publish(ctx, observer.PipelineEvent{
		EventType:      observer.RecognitionCompleted,
		RequestID:      requestID,
		Source:         source,
		ProcessingTime: time.Since(start),
		Success:        true,
		Metadata: map[string]interface{}{
			"degraded": hasDegraded(outcome),
			"results":  len(outcome.Results()),
			"document": outcome.IsDocument(),
			"cached":   cached,
		},
	})
}

func (b *Boundary) failed(ctx context.Context, requestID, source string, start time.Time, err error) {
	logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"source":     source,
	}).WithError(err).Error("Recognition failed")
	b.publish(ctx, observer.PipelineEvent{
		EventType:      observer.RecognitionFailed,
		RequestID:      requestID,
		Source:         source,
		ProcessingTime: time.Since(start),
		ErrorMessage:   err.Error(),
	})
}

func (b *Boundary) publish(ctx context.Context, event observer.PipelineEvent) {
	if b.events != nil {
		b.events.NotifyObservers(ctx, event)
	}
}

func newRecognizeResponse(requestID string, start time.Time, outcome models.RecognitionOutcome, cached bool) *models.RecognizeResponse {
	return &models.RecognizeResponse{
		RequestID:        requestID,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		Result:           outcome.Single,
		Results:          outcome.Multiple,
		Cached:           cached,
	}
}

func hasDegraded(outcome models.RecognitionOutcome) bool {
	for _, r := range outcome.Results() {
		if r.Degraded {
			return true
		}
	}
	return false
}

// runWithTimeout runs fn in its own goroutine and stops waiting after
// timeout or when ctx ends. The goroutine is not interrupted.
func runWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				var zero T
				done <- result{zero, apperrors.NewInternalError(fmt.Sprintf("pipeline panicked: %v", rec), nil)}
			}
		}()
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	var zero T
	select {
	case r := <-done:
		return r.value, r.err
	case <-deadline:
		return zero, apperrors.NewTimeoutError(fmt.Sprintf("processing exceeded %s", timeout), nil)
	case <-ctx.Done():
		return zero, apperrors.NewTimeoutError("request cancelled", ctx.Err())
	}
}

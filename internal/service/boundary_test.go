package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/anime-shed/pattern-inspector-go/internal/errors"
	"github.com/anime-shed/pattern-inspector-go/internal/observer"
	"github.com/anime-shed/pattern-inspector-go/internal/repository"
	"github.com/anime-shed/pattern-inspector-go/internal/texture"
	"github.com/anime-shed/pattern-inspector-go/pkg/models"
)

type stubPipeline struct {
	delay    time.Duration
	outcome  models.RecognitionOutcome
	err      error
	features texture.Features
	calls    atomic.Int64
}

func (p *stubPipeline) Recognize(ctx context.Context, buf []byte, opts models.RecognizeOptions) (models.RecognitionOutcome, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	return p.outcome, p.err
}

func (p *stubPipeline) ExtractRegions(ctx context.Context, buf []byte, opts models.ExtractOptions) (models.ExtractionResult, error) {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	return models.ExtractionResult{
		Images:          [][]byte{{1}, {2}},
		Metadata:        []models.TileMetadata{{PageNumber: 1}, {PageNumber: 2}},
		ProcessingStats: models.ProcessingStats{PagesProcessed: 2, ImagesExtracted: 2},
	}, p.err
}

func (p *stubPipeline) Describe(ctx context.Context, buf []byte) (texture.Features, error) {
	return p.features, p.err
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]models.RecognitionOutcome
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string]models.RecognitionOutcome{}}
}

func (c *memoryCache) Get(ctx context.Context, key string) (models.RecognitionOutcome, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.entries[key]
	return o, ok, nil
}

func (c *memoryCache) Set(ctx context.Context, key string, outcome models.RecognitionOutcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = outcome
	return nil
}

type stubSources struct {
	data []byte
	err  error
}

func (s stubSources) FetchSource(ctx context.Context, sourceURL string) (*repository.Source, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &repository.Source{URL: sourceURL, Data: s.data}, nil
}

func (s stubSources) ValidateSourceURL(sourceURL string) error {
	if sourceURL == "" {
		return repository.ErrInvalidSourceURL
	}
	return nil
}

type stubSearcher struct {
	vector []float32
	limit  int
}

func (s *stubSearcher) Search(ctx context.Context, vector []float32, limit int) ([]models.SimilarMatch, error) {
	s.vector, s.limit = vector, limit
	return []models.SimilarMatch{{ID: "a", Score: 0.9, MaterialType: "ceramic"}}, nil
}

func singleOutcome(material string, degraded bool) models.RecognitionOutcome {
	r := models.RecognitionResult{MaterialType: material, Confidence: 0.8, Degraded: degraded}
	return models.RecognitionOutcome{Single: &r}
}

func TestBoundary_Timeout(t *testing.T) {
	pipeline := &stubPipeline{delay: 200 * time.Millisecond, outcome: singleOutcome("ceramic", false)}
	b := NewBoundary(pipeline, nil, BoundaryOptions{Timeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := b.Recognize(context.Background(), []byte("x"), models.RecognizeOptions{})
	if !apperrors.IsType(err, apperrors.ErrorTypeTimeout) {
		t.Fatalf("Expected timeout error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("Expected the boundary to return at the timeout, took %s", elapsed)
	}

	_, err = b.ExtractRegions(context.Background(), []byte("%PDF-"), models.DefaultExtractOptions())
	if !apperrors.IsType(err, apperrors.ErrorTypeTimeout) {
		t.Errorf("Expected timeout error, got %v", err)
	}
}

func TestBoundary_CancelledContext(t *testing.T) {
	pipeline := &stubPipeline{delay: 200 * time.Millisecond}
	b := NewBoundary(pipeline, nil, BoundaryOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Recognize(ctx, []byte("x"), models.RecognizeOptions{}); !apperrors.IsType(err, apperrors.ErrorTypeTimeout) {
		t.Errorf("Expected timeout error, got %v", err)
	}
}

func TestBoundary_Recognize(t *testing.T) {
	pipeline := &stubPipeline{outcome: singleOutcome("ceramic", false)}
	events := &recordingSubject{}
	b := NewBoundary(pipeline, nil, BoundaryOptions{Timeout: time.Second}, WithEvents(events))

	resp, err := b.Recognize(context.Background(), []byte("x"), models.RecognizeOptions{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resp.RequestID == "" {
		t.Error("Expected a request id")
	}
	if resp.Result == nil || resp.Result.MaterialType != "ceramic" {
		t.Errorf("Expected ceramic result, got %+v", resp.Result)
	}
	if resp.Cached {
		t.Error("Expected uncached response without a cache")
	}
	if events.count(observer.RecognitionStarted) != 1 || events.count(observer.RecognitionCompleted) != 1 {
		t.Errorf("Expected started and completed events, got %+v", events.events)
	}
}

func TestBoundary_AdapterNotReadyFails(t *testing.T) {
	pipeline := &stubPipeline{err: apperrors.ErrAdapterNotInitialized}
	events := &recordingSubject{}
	b := NewBoundary(pipeline, nil, BoundaryOptions{Timeout: time.Second}, WithEvents(events))

	if _, err := b.Recognize(context.Background(), []byte("x"), models.RecognizeOptions{}); !apperrors.IsAdapterNotReady(err) {
		t.Errorf("Expected adapter not ready, got %v", err)
	}
	if events.count(observer.RecognitionFailed) != 1 {
		t.Error("Expected a failed event")
	}
}

func TestBoundary_Cache(t *testing.T) {
	tests := []struct {
		name        string
		outcome     models.RecognitionOutcome
		secondCache bool
		calls       int64
	}{
		{"Genuine results are cached", singleOutcome("wood", false), true, 1},
		{"Degraded results are not cached", singleOutcome(models.MaterialUnknown, true), false, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pipeline := &stubPipeline{outcome: tt.outcome}
			b := NewBoundary(pipeline, nil, BoundaryOptions{Timeout: time.Second}, WithCache(newMemoryCache()))

			first, err := b.Recognize(context.Background(), []byte("same"), models.RecognizeOptions{})
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if first.Cached {
				t.Error("Expected first call to miss the cache")
			}
			second, err := b.Recognize(context.Background(), []byte("same"), models.RecognizeOptions{})
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if second.Cached != tt.secondCache {
				t.Errorf("Expected cached=%v, got %v", tt.secondCache, second.Cached)
			}
			if got := pipeline.calls.Load(); got != tt.calls {
				t.Errorf("Expected %d pipeline calls, got %d", tt.calls, got)
			}
		})
	}
}

func TestBoundary_RecognizeURL(t *testing.T) {
	pipeline := &stubPipeline{outcome: singleOutcome("metal", false)}

	t.Run("Fetched", func(t *testing.T) {
		b := NewBoundary(pipeline, stubSources{data: []byte("img")}, BoundaryOptions{Timeout: time.Second})
		resp, err := b.RecognizeURL(context.Background(), "https://example.com/a.png", models.RecognizeOptions{})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if resp.Result == nil || resp.Result.MaterialType != "metal" {
			t.Errorf("Expected metal result, got %+v", resp.Result)
		}
	})

	t.Run("Invalid URL", func(t *testing.T) {
		b := NewBoundary(pipeline, stubSources{}, BoundaryOptions{})
		if _, err := b.RecognizeURL(context.Background(), "", models.RecognizeOptions{}); !apperrors.IsType(err, apperrors.ErrorTypeValidation) {
			t.Errorf("Expected validation error, got %v", err)
		}
	})

	t.Run("Fetch failure", func(t *testing.T) {
		b := NewBoundary(pipeline, stubSources{err: errors.New("connection refused")}, BoundaryOptions{})
		if _, err := b.RecognizeURL(context.Background(), "https://example.com/a.png", models.RecognizeOptions{}); !apperrors.IsType(err, apperrors.ErrorTypeNetwork) {
			t.Errorf("Expected network error, got %v", err)
		}
	})

	t.Run("No sources", func(t *testing.T) {
		b := NewBoundary(pipeline, nil, BoundaryOptions{})
		if _, err := b.RecognizeURL(context.Background(), "https://example.com/a.png", models.RecognizeOptions{}); !apperrors.IsType(err, apperrors.ErrorTypeValidation) {
			t.Errorf("Expected validation error, got %v", err)
		}
	})
}

func TestBoundary_ExtractRegions(t *testing.T) {
	events := &recordingSubject{}
	b := NewBoundary(&stubPipeline{}, nil, BoundaryOptions{Timeout: time.Second}, WithEvents(events))

	resp, err := b.ExtractRegions(context.Background(), []byte("%PDF-"), models.DefaultExtractOptions())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(resp.Images) != 2 || len(resp.Metadata) != 2 {
		t.Errorf("Expected 2 images and metadata, got %d and %d", len(resp.Images), len(resp.Metadata))
	}
	if events.count(observer.RegionsExtracted) != 1 {
		t.Error("Expected a regions extracted event")
	}
}

func TestBoundary_Similar(t *testing.T) {
	features := texture.Features{Vector: models.FeatureVector{0.5, 0.25}}

	t.Run("Search", func(t *testing.T) {
		searcher := &stubSearcher{}
		b := NewBoundary(&stubPipeline{features: features}, nil, BoundaryOptions{Timeout: time.Second}, WithSearch(searcher))
		matches, err := b.Similar(context.Background(), []byte("x"), 0)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if len(matches) != 1 || matches[0].ID != "a" {
			t.Errorf("Expected one match, got %+v", matches)
		}
		if searcher.limit != 10 {
			t.Errorf("Expected default limit 10, got %d", searcher.limit)
		}
		if len(searcher.vector) != 2 || searcher.vector[0] != 0.5 {
			t.Errorf("Expected the feature vector, got %v", searcher.vector)
		}
	})

	t.Run("Fallback features", func(t *testing.T) {
		b := NewBoundary(&stubPipeline{features: texture.FallbackFeatures()}, nil, BoundaryOptions{}, WithSearch(&stubSearcher{}))
		if _, err := b.Similar(context.Background(), []byte("x"), 5); !apperrors.IsType(err, apperrors.ErrorTypeProcessing) {
			t.Errorf("Expected processing error, got %v", err)
		}
	})

	t.Run("Not configured", func(t *testing.T) {
		b := NewBoundary(&stubPipeline{features: features}, nil, BoundaryOptions{})
		if _, err := b.Similar(context.Background(), []byte("x"), 5); !apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
			t.Errorf("Expected not found error, got %v", err)
		}
	})
}

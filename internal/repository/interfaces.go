package repository

import (
	"context"

	"github.com/anime-shed/pattern-inspector-go/pkg/models"
)

// Source is a fetched input with its sniffed content type.
type Source struct {
	URL         string
	Data        []byte
	ContentType string
}

// SourceRepository defines data access for recognition inputs
type SourceRepository interface {
	// FetchSource downloads the bytes behind sourceURL
	FetchSource(ctx context.Context, sourceURL string) (*Source, error)

	// ValidateSourceURL validates if the provided URL is acceptable
	ValidateSourceURL(sourceURL string) error
}

// RecordRepository defines the interface for persisted job results
type RecordRepository interface {
	Save(ctx context.Context, rec models.RecognitionRecord) error
	Get(ctx context.Context, id string) (models.RecognitionRecord, error)
}

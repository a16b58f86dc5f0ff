package repository

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/anime-shed/pattern-inspector-go/internal/storage"
	"github.com/anime-shed/pattern-inspector-go/pkg/validation"
)

// FetcherSourceRepository implements SourceRepository by routing each URL
// scheme to a storage.SourceFetcher.
type FetcherSourceRepository struct {
	fetchers  map[string]storage.SourceFetcher
	validator *validation.URLValidator
}

// NewSourceRepository creates a repository. fetchers maps URL schemes
// (http, https, azblob) to fetchers.
func NewSourceRepository(validator *validation.URLValidator, fetchers map[string]storage.SourceFetcher) *FetcherSourceRepository {
	m := make(map[string]storage.SourceFetcher, len(fetchers))
	for scheme, f := range fetchers {
		if f != nil {
			m[strings.ToLower(scheme)] = f
		}
	}
	return &FetcherSourceRepository{fetchers: m, validator: validator}
}

func (r *FetcherSourceRepository) ValidateSourceURL(sourceURL string) error {
	if err := r.validator.ValidateSourceURL(sourceURL); err != nil {
		return err
	}
	u, err := url.Parse(sourceURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSourceURL, err)
	}
	if _, ok := r.fetchers[u.Scheme]; !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
	return nil
}

func (r *FetcherSourceRepository) FetchSource(ctx context.Context, sourceURL string) (*Source, error) {
	if err := r.ValidateSourceURL(sourceURL); err != nil {
		return nil, err
	}
	u, _ := url.Parse(sourceURL)
	data, err := r.fetchers[u.Scheme].Fetch(ctx, sourceURL)
	if err != nil {
		return nil, err
	}
	return &Source{
		URL:         sourceURL,
		Data:        data,
		ContentType: mimetype.Detect(data).String(),
	}, nil
}

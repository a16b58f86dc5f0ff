package repository

import "errors"

var (
	// ErrInvalidSourceURL indicates a URL the repository refuses to fetch
	ErrInvalidSourceURL = errors.New("invalid source URL")

	// ErrUnsupportedScheme indicates no fetcher is registered for the scheme
	ErrUnsupportedScheme = errors.New("unsupported source scheme")

	// ErrRepositoryUnavailable indicates the backing store is not configured
	ErrRepositoryUnavailable = errors.New("repository unavailable")
)

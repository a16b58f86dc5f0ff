// Package storage holds the infrastructure adapters of the service: source
// fetchers (HTTP, Azure blob), the Redis result cache, the Postgres job
// store and the Qdrant feature index.
package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SourceFetcher downloads the raw bytes of an image or document.
type SourceFetcher interface {
	Fetch(ctx context.Context, sourceURL string) ([]byte, error)
}

// HTTPOptions configures HTTPSourceFetcher.
type HTTPOptions struct {
	Timeout time.Duration
	// MaxBytes caps the body size; larger sources are rejected
	MaxBytes int64
	Attempts int
	// Backoff is multiplied by the attempt number between retries
	Backoff            time.Duration
	InsecureSkipVerify bool
	UserAgent          string
}

func DefaultHTTPOptions() HTTPOptions {
	return HTTPOptions{
		Timeout:   30 * time.Second,
		MaxBytes:  50 * 1024 * 1024,
		Attempts:  3,
		Backoff:   time.Second,
		UserAgent: "Pattern-Inspector/1.0",
	}
}

// HTTPSourceFetcher implements SourceFetcher over HTTP(S)
type HTTPSourceFetcher struct {
	client *http.Client
	opts   HTTPOptions
}

// NewHTTPSourceFetcher creates an HTTP fetcher tuned for single large downloads
func NewHTTPSourceFetcher(opts HTTPOptions) *HTTPSourceFetcher {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		MaxResponseHeaderBytes: 4096,

		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: opts.InsecureSkipVerify,
		},
	}

	return &HTTPSourceFetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("too many redirects (limit: 3)")
				}
				return nil
			},
		},
		opts: opts,
	}
}

// Fetch downloads sourceURL. Network errors and 5xx responses are retried;
// 4xx responses are not.
func (h *HTTPSourceFetcher) Fetch(ctx context.Context, sourceURL string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < h.opts.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * h.opts.Backoff):
			}
		}

		data, retry, err := h.fetchOnce(ctx, sourceURL)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return nil, fmt.Errorf("failed to fetch source after %d attempts: %w", h.opts.Attempts, lastErr)
}

func (h *HTTPSourceFetcher) fetchOnce(ctx context.Context, sourceURL string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("Accept", "image/*, application/pdf, */*")
	req.Header.Set("User-Agent", h.opts.UserAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, false, fmt.Errorf("client error: status code %d", resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("server error: status code %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	if h.opts.MaxBytes > 0 && resp.ContentLength > h.opts.MaxBytes {
		return nil, false, fmt.Errorf("source exceeds %d bytes", h.opts.MaxBytes)
	}
	body := io.Reader(resp.Body)
	if h.opts.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, h.opts.MaxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, true, fmt.Errorf("read body: %w", err)
	}
	if h.opts.MaxBytes > 0 && int64(len(data)) > h.opts.MaxBytes {
		return nil, false, fmt.Errorf("source exceeds %d bytes", h.opts.MaxBytes)
	}
	if len(data) == 0 {
		return nil, false, fmt.Errorf("empty response body")
	}
	return data, false, nil
}

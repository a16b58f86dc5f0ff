package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

var pdfBody = []byte("%PDF-1.4\n%fake catalogue\n")

func testHTTPOptions() HTTPOptions {
	opts := DefaultHTTPOptions()
	opts.Backoff = 10 * time.Millisecond
	return opts
}

func TestHTTPSourceFetcher_RetryLogic(t *testing.T) {
	tests := []struct {
		name          string
		responses     []int // Status codes to return in sequence
		expectRetries int32
		expectError   bool
		errorContains string
	}{
		{
			name:          "Success on first attempt",
			responses:     []int{200},
			expectRetries: 1,
		},
		{
			name:          "Success on second attempt after 5xx",
			responses:     []int{500, 200},
			expectRetries: 2,
		},
		{
			name:          "4xx client error - no retry",
			responses:     []int{404},
			expectRetries: 1,
			expectError:   true,
			errorContains: "client error: status code 404",
		},
		{
			name:          "4xx after 5xx - should retry until 4xx then stop",
			responses:     []int{500, 404},
			expectRetries: 2,
			expectError:   true,
			errorContains: "client error: status code 404",
		},
		{
			name:          "All 5xx errors - retry all attempts",
			responses:     []int{500, 502, 503},
			expectRetries: 3,
			expectError:   true,
			errorContains: "server error: status code 503",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var requestCount atomic.Int32

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := int(requestCount.Add(1)) - 1
				if n >= len(tt.responses) {
					w.WriteHeader(500)
					return
				}
				if status := tt.responses[n]; status != 200 {
					w.WriteHeader(status)
					w.Write([]byte(fmt.Sprintf("Error %d", status)))
					return
				}
				w.Header().Set("Content-Type", "application/pdf")
				w.Write(pdfBody)
			}))
			defer server.Close()

			data, err := NewHTTPSourceFetcher(testHTTPOptions()).Fetch(context.Background(), server.URL)

			if got := requestCount.Load(); got != tt.expectRetries {
				t.Errorf("Expected %d requests, got %d", tt.expectRetries, got)
			}
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error, but got none")
				} else if !strings.Contains(err.Error(), tt.errorContains) {
					t.Errorf("Expected error to contain '%s', got: %s", tt.errorContains, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got: %s", err.Error())
			}
			if !bytes.Equal(data, pdfBody) {
				t.Errorf("Expected body %q, got %q", pdfBody, data)
			}
		})
	}
}

func TestHTTPSourceFetcher_NetworkError_Retry(t *testing.T) {
	var requestCount atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requestCount.Add(1) < 3 {
			// Simulate network error by closing connection
			if hj, ok := w.(http.Hijacker); ok {
				conn, _, _ := hj.Hijack()
				conn.Close()
			}
			return
		}
		w.Write(pdfBody)
	}))
	defer server.Close()

	start := time.Now()
	_, err := NewHTTPSourceFetcher(testHTTPOptions()).Fetch(context.Background(), server.URL)
	duration := time.Since(start)

	if err != nil {
		t.Errorf("Expected success after retries, got error: %s", err.Error())
	}
	if got := requestCount.Load(); got != 3 {
		t.Errorf("Expected 3 requests, got %d", got)
	}
	// backoff is 10ms then 20ms
	if duration < 30*time.Millisecond {
		t.Errorf("Expected at least 30ms of backoff, took %v", duration)
	}
}

func TestHTTPSourceFetcher_Limits(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/large":
			w.Write(bytes.Repeat([]byte{0xff}, 2048))
		case "/empty":
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	opts := testHTTPOptions()
	opts.MaxBytes = 1024
	fetcher := NewHTTPSourceFetcher(opts)

	if _, err := fetcher.Fetch(context.Background(), server.URL+"/large"); err == nil || !strings.Contains(err.Error(), "exceeds 1024 bytes") {
		t.Errorf("Expected size limit error, got %v", err)
	}
	if _, err := fetcher.Fetch(context.Background(), server.URL+"/empty"); err == nil {
		t.Error("Expected error for empty body")
	}
}

func TestHTTPSourceFetcher_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	opts := testHTTPOptions()
	opts.Backoff = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := NewHTTPSourceFetcher(opts).Fetch(ctx, server.URL); err == nil {
		t.Error("Expected error")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Expected cancellation to interrupt the backoff")
	}
}

func TestParseBlobURL(t *testing.T) {
	tests := []struct {
		url       string
		container string
		blob      string
		wantErr   bool
	}{
		{"azblob://samples/tile.png", "samples", "tile.png", false},
		{"azblob://catalogues/2024/spring.pdf", "catalogues", "2024/spring.pdf", false},
		{"https://samples/tile.png", "", "", true},
		{"azblob://samples", "", "", true},
		{"azblob:///tile.png", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			container, blob, err := ParseBlobURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error=%v, got %v", tt.wantErr, err)
			}
			if container != tt.container || blob != tt.blob {
				t.Errorf("Expected %s/%s, got %s/%s", tt.container, tt.blob, container, blob)
			}
		})
	}
}

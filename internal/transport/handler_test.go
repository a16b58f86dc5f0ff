package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/anime-shed/pattern-inspector-go/internal/config"
	apperrors "github.com/anime-shed/pattern-inspector-go/internal/errors"
	"github.com/anime-shed/pattern-inspector-go/internal/storage"
	"github.com/anime-shed/pattern-inspector-go/pkg/models"
)

type stubBoundary struct {
	err      error
	lastBuf  []byte
	lastURL  string
	lastOpts models.RecognizeOptions
	lastExt  models.ExtractOptions
	limit    int
}

func (b *stubBoundary) Recognize(ctx context.Context, buf []byte, opts models.RecognizeOptions) (*models.RecognizeResponse, error) {
	b.lastBuf, b.lastOpts = buf, opts
	if b.err != nil {
		return nil, b.err
	}
	r := models.RecognitionResult{MaterialType: "ceramic", Confidence: 0.8}
	return &models.RecognizeResponse{RequestID: "r1", Result: &r}, nil
}

func (b *stubBoundary) RecognizeURL(ctx context.Context, sourceURL string, opts models.RecognizeOptions) (*models.RecognizeResponse, error) {
	b.lastURL = sourceURL
	return b.Recognize(ctx, nil, opts)
}

func (b *stubBoundary) ExtractRegions(ctx context.Context, buf []byte, opts models.ExtractOptions) (*models.ExtractResponse, error) {
	b.lastBuf, b.lastExt = buf, opts
	if b.err != nil {
		return nil, b.err
	}
	return &models.ExtractResponse{RequestID: "r2", Metadata: []models.TileMetadata{{PageNumber: 1}}}, nil
}

func (b *stubBoundary) ExtractRegionsURL(ctx context.Context, sourceURL string, opts models.ExtractOptions) (*models.ExtractResponse, error) {
	b.lastURL = sourceURL
	return b.ExtractRegions(ctx, nil, opts)
}

func (b *stubBoundary) Similar(ctx context.Context, buf []byte, limit int) ([]models.SimilarMatch, error) {
	b.lastBuf, b.limit = buf, limit
	if b.err != nil {
		return nil, b.err
	}
	return []models.SimilarMatch{{ID: "p1", Score: 0.9}}, nil
}

type stubJobs struct {
	err error
}

func (j stubJobs) Enqueue(ctx context.Context, req models.JobRequest) (*models.JobResponse, error) {
	if j.err != nil {
		return nil, j.err
	}
	return &models.JobResponse{JobID: "job-1", Queue: "recognition", Status: models.JobQueued}, nil
}

type stubRecords struct {
	rec models.RecognitionRecord
	err error
}

func (s stubRecords) Save(ctx context.Context, rec models.RecognitionRecord) error { return nil }

func (s stubRecords) Get(ctx context.Context, id string) (models.RecognitionRecord, error) {
	return s.rec, s.err
}

type stubMetrics struct{}

func (stubMetrics) GetMetrics() map[string]interface{} {
	return map[string]interface{}{"total_recognitions": 3}
}

func testConfig() *config.Config {
	return &config.Config{
		RequestTimeout:     5 * time.Second,
		MaxRequestBodySize: 1 << 20,
		DefaultTargetDPI:   300,
	}
}

func multipartBody(t *testing.T, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	if content != nil {
		part, err := w.CreateFormFile(uploadField, "tile.png")
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		part.Write(content)
	}
	for k, v := range fields {
		w.WriteField(k, v)
	}
	w.Close()
	return body, w.FormDataContentType()
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	h := NewHandler(Dependencies{
		Boundary: &stubBoundary{},
		Backends: func() map[string]string { return map[string]string{"vision": "reference"} },
	}, testConfig())

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if body["status"] != "available" {
		t.Errorf("Expected available, got %v", body["status"])
	}
	if _, ok := body["backends"]; !ok {
		t.Error("Expected backends in health response")
	}
}

func TestRecognize_Upload(t *testing.T) {
	boundary := &stubBoundary{}
	h := NewHandler(Dependencies{Boundary: boundary}, testConfig())

	body, contentType := multipartBody(t, []byte("png-bytes"), map[string]string{
		"is_document":        "false",
		"enhance_resolution": "true",
		"target_dpi":         "200",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/recognize", body)
	req.Header.Set("Content-Type", contentType)
	rec := serve(h, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if string(boundary.lastBuf) != "png-bytes" {
		t.Errorf("Expected upload bytes to reach the boundary, got %q", boundary.lastBuf)
	}
	opts := boundary.lastOpts
	if opts.IsDocument == nil || *opts.IsDocument || !opts.EnhanceResolution || opts.TargetDPI != 200 {
		t.Errorf("Unexpected options %+v", opts)
	}
	var resp models.RecognizeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resp.Result == nil || resp.Result.MaterialType != "ceramic" {
		t.Errorf("Expected ceramic result, got %+v", resp.Result)
	}
}

func TestRecognize_URL(t *testing.T) {
	boundary := &stubBoundary{}
	h := NewHandler(Dependencies{Boundary: boundary}, testConfig())

	req := httptest.NewRequest(http.MethodPost, "/v1/recognize",
		strings.NewReader(`{"url":"https://example.com/tile.jpg","target_dpi":150}`))
	req.Header.Set("Content-Type", "application/json")
	rec := serve(h, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if boundary.lastURL != "https://example.com/tile.jpg" || boundary.lastOpts.TargetDPI != 150 {
		t.Errorf("Unexpected call %s %+v", boundary.lastURL, boundary.lastOpts)
	}
}

func TestRecognize_Errors(t *testing.T) {
	tests := []struct {
		name        string
		boundaryErr error
		body        string
		contentType string
		expected    int
	}{
		{"Missing url", nil, `{}`, "application/json", http.StatusBadRequest},
		{"Malformed JSON", nil, `{`, "application/json", http.StatusBadRequest},
		{"Timeout", apperrors.NewTimeoutError("processing exceeded 1s", nil), `{"url":"https://e.com/a"}`, "application/json", http.StatusGatewayTimeout},
		{"Adapter not ready", apperrors.ErrAdapterNotInitialized, `{"url":"https://e.com/a"}`, "application/json", http.StatusServiceUnavailable},
		{"Fetch failure", apperrors.NewNetworkError("failed to fetch source", nil), `{"url":"https://e.com/a"}`, "application/json", http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(Dependencies{Boundary: &stubBoundary{err: tt.boundaryErr}}, testConfig())
			req := httptest.NewRequest(http.MethodPost, "/v1/recognize", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rec := serve(h, req)
			if rec.Code != tt.expected {
				t.Errorf("Expected %d, got %d: %s", tt.expected, rec.Code, rec.Body.String())
			}
		})
	}

	t.Run("Missing file", func(t *testing.T) {
		h := NewHandler(Dependencies{Boundary: &stubBoundary{}}, testConfig())
		body, contentType := multipartBody(t, nil, map[string]string{"target_dpi": "100"})
		req := httptest.NewRequest(http.MethodPost, "/v1/recognize", body)
		req.Header.Set("Content-Type", contentType)
		if rec := serve(h, req); rec.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", rec.Code)
		}
	})

	t.Run("Bad option", func(t *testing.T) {
		h := NewHandler(Dependencies{Boundary: &stubBoundary{}}, testConfig())
		body, contentType := multipartBody(t, []byte("x"), map[string]string{"target_dpi": "-3"})
		req := httptest.NewRequest(http.MethodPost, "/v1/recognize", body)
		req.Header.Set("Content-Type", contentType)
		if rec := serve(h, req); rec.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", rec.Code)
		}
	})
}

func TestExtractRegions(t *testing.T) {
	boundary := &stubBoundary{}
	h := NewHandler(Dependencies{Boundary: boundary}, testConfig())

	body, contentType := multipartBody(t, []byte("%PDF-1.7"), map[string]string{"detect_regions": "false", "max_page_limit": "3"})
	req := httptest.NewRequest(http.MethodPost, "/v1/extract-regions", body)
	req.Header.Set("Content-Type", contentType)
	rec := serve(h, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if boundary.lastExt.DetectRegions || boundary.lastExt.MaxPageLimit != 3 || boundary.lastExt.TargetDPI != 300 {
		t.Errorf("Unexpected options %+v", boundary.lastExt)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/extract-regions",
		strings.NewReader(`{"url":"azblob://catalogues/a.pdf","target_dpi":144,"page_ranges":[1,2]}`))
	req.Header.Set("Content-Type", "application/json")
	rec = serve(h, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if boundary.lastURL != "azblob://catalogues/a.pdf" || boundary.lastExt.TargetDPI != 144 || !boundary.lastExt.DetectRegions {
		t.Errorf("Unexpected call %s %+v", boundary.lastURL, boundary.lastExt)
	}
}

func TestSimilar(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		expected int
		limit    int
	}{
		{"Default limit", "", http.StatusOK, defaultMatchLimit},
		{"Explicit limit", "?limit=3", http.StatusOK, 3},
		{"Limit too large", "?limit=1000", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			boundary := &stubBoundary{}
			h := NewHandler(Dependencies{Boundary: boundary}, testConfig())
			body, contentType := multipartBody(t, []byte("img"), nil)
			req := httptest.NewRequest(http.MethodPost, "/v1/similar"+tt.query, body)
			req.Header.Set("Content-Type", contentType)
			rec := serve(h, req)
			if rec.Code != tt.expected {
				t.Fatalf("Expected %d, got %d: %s", tt.expected, rec.Code, rec.Body.String())
			}
			if boundary.limit != tt.limit {
				t.Errorf("Expected limit %d, got %d", tt.limit, boundary.limit)
			}
		})
	}
}

func TestJobs(t *testing.T) {
	t.Run("Enqueue", func(t *testing.T) {
		h := NewHandler(Dependencies{Boundary: &stubBoundary{}, Jobs: stubJobs{}}, testConfig())
		req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(`{"url":"https://e.com/a.png"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := serve(h, req)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("Expected 202, got %d: %s", rec.Code, rec.Body.String())
		}
		var resp models.JobResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.JobID != "job-1" {
			t.Errorf("Unexpected response %s (%v)", rec.Body.String(), err)
		}
	})

	t.Run("Queue not configured", func(t *testing.T) {
		h := NewHandler(Dependencies{Boundary: &stubBoundary{}}, testConfig())
		req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(`{"url":"https://e.com/a.png"}`))
		req.Header.Set("Content-Type", "application/json")
		if rec := serve(h, req); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected 503, got %d", rec.Code)
		}
	})

	tests := []struct {
		name     string
		records  stubRecords
		expected int
	}{
		{"Found", stubRecords{rec: models.RecognitionRecord{ID: "job-1", Status: models.JobCompleted}}, http.StatusOK},
		{"Not found", stubRecords{err: storage.ErrRecordNotFound}, http.StatusNotFound},
		{"Store failure", stubRecords{err: errors.New("connection reset")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(Dependencies{Boundary: &stubBoundary{}, Records: tt.records}, testConfig())
			rec := serve(h, httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1", nil))
			if rec.Code != tt.expected {
				t.Errorf("Expected %d, got %d", tt.expected, rec.Code)
			}
		})
	}
}

func TestStats(t *testing.T) {
	h := NewHandler(Dependencies{Boundary: &stubBoundary{}, Metrics: stubMetrics{}}, testConfig())
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "total_recognitions") {
		t.Errorf("Expected metrics in body, got %s", rec.Body.String())
	}
}

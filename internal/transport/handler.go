package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/anime-shed/pattern-inspector-go/internal/config"
	apperrors "github.com/anime-shed/pattern-inspector-go/internal/errors"
	"github.com/anime-shed/pattern-inspector-go/internal/logger"
	"github.com/anime-shed/pattern-inspector-go/internal/queue"
	"github.com/anime-shed/pattern-inspector-go/internal/repository"
	"github.com/anime-shed/pattern-inspector-go/internal/storage"
	"github.com/anime-shed/pattern-inspector-go/pkg/models"
)

const (
	version           = "1.0.0"
	uploadField       = "file"
	defaultMatchLimit = 10
	maxMatchLimit     = 100
)

// Boundary is the recognition façade the handlers call.
// *service.Boundary implements it.
type Boundary interface {
	Recognize(ctx context.Context, buf []byte, opts models.RecognizeOptions) (*models.RecognizeResponse, error)
	RecognizeURL(ctx context.Context, sourceURL string, opts models.RecognizeOptions) (*models.RecognizeResponse, error)
	ExtractRegions(ctx context.Context, buf []byte, opts models.ExtractOptions) (*models.ExtractResponse, error)
	ExtractRegionsURL(ctx context.Context, sourceURL string, opts models.ExtractOptions) (*models.ExtractResponse, error)
	Similar(ctx context.Context, buf []byte, limit int) ([]models.SimilarMatch, error)
}

// MetricsProvider is implemented by *observer.MetricsObserver.
type MetricsProvider interface {
	GetMetrics() map[string]interface{}
}

// Dependencies of the HTTP handler. Jobs, Records, Metrics and Backends
// are optional; the routes that need them answer 503 when they are nil.
type Dependencies struct {
	Boundary Boundary
	Jobs     queue.Enqueuer
	Records  repository.RecordRepository
	Metrics  MetricsProvider
	Backends func() map[string]string
}

// ExtractURLRequest asks for region extraction of a remote document.
type ExtractURLRequest struct {
	URL               string  `json:"url" binding:"required"`
	TargetDPI         float64 `json:"target_dpi,omitempty"`
	EnhanceResolution *bool   `json:"enhance_resolution,omitempty"`
	DetectRegions     *bool   `json:"detect_regions,omitempty"`
	MaxPageLimit      int     `json:"max_page_limit,omitempty"`
	PageRanges        []int   `json:"page_ranges,omitempty"`
}

func NewHandler(deps Dependencies, cfg *config.Config) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Add middleware
	r.Use(
		gin.Recovery(),
		requestLogger(),
		requestSizeLimiter(cfg.MaxRequestBodySize),
		errorHandler(),
	)

	// Configure routes
	r.GET("/health", healthCheck(deps))

	v1 := r.Group("/v1")
	v1.POST("/recognize", recognize(deps, cfg))
	v1.POST("/extract-regions", extractRegions(deps, cfg))
	v1.POST("/similar", similar(deps, cfg))
	v1.POST("/jobs", enqueueJob(deps, cfg))
	v1.GET("/jobs/:id", getJob(deps, cfg))
	v1.GET("/stats", stats(deps))

	return r
}

func recognize(deps Dependencies, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.RequestTimeout)
		defer cancel()

		var (
			resp *models.RecognizeResponse
			err  error
		)
		if isMultipart(c) {
			buf, readErr := readUpload(c)
			if readErr != nil {
				respondError(c, apperrors.GetStatusCode(readErr), "invalid upload", readErr)
				return
			}
			opts, optErr := recognizeOptionsFromForm(c)
			if optErr != nil {
				respondError(c, http.StatusBadRequest, "invalid options", optErr)
				return
			}
			resp, err = deps.Boundary.Recognize(ctx, buf, opts)
		} else {
			var req models.RecognizeURLRequest
			if bindErr := c.ShouldBindJSON(&req); bindErr != nil {
				respondError(c, http.StatusBadRequest, "invalid request format", bindErr)
				return
			}
			resp, err = deps.Boundary.RecognizeURL(ctx, req.URL, models.RecognizeOptions{
				IsDocument:        req.IsDocument,
				EnhanceResolution: req.EnhanceResolution,
				TargetDPI:         req.TargetDPI,
			})
		}
		if err != nil {
			respondError(c, apperrors.GetStatusCode(err), "recognition failed", err)
			return
		}

		logger.WithFields(logrus.Fields{
			"request_id":         resp.RequestID,
			"processing_time_ms": resp.ProcessingTimeMs,
			"results":            len(resp.Results),
			"cached":             resp.Cached,
		}).Info("Recognition completed successfully")
		c.JSON(http.StatusOK, resp)
	}
}

func extractRegions(deps Dependencies, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.RequestTimeout)
		defer cancel()

		opts := models.DefaultExtractOptions()
		opts.TargetDPI = cfg.DefaultTargetDPI

		var (
			resp *models.ExtractResponse
			err  error
		)
		if isMultipart(c) {
			buf, readErr := readUpload(c)
			if readErr != nil {
				respondError(c, apperrors.GetStatusCode(readErr), "invalid upload", readErr)
				return
			}
			if optErr := extractOptionsFromForm(c, &opts); optErr != nil {
				respondError(c, http.StatusBadRequest, "invalid options", optErr)
				return
			}
			resp, err = deps.Boundary.ExtractRegions(ctx, buf, opts)
		} else {
			var req ExtractURLRequest
			if bindErr := c.ShouldBindJSON(&req); bindErr != nil {
				respondError(c, http.StatusBadRequest, "invalid request format", bindErr)
				return
			}
			if req.TargetDPI > 0 {
				opts.TargetDPI = req.TargetDPI
			}
			if req.EnhanceResolution != nil {
				opts.EnhanceResolution = *req.EnhanceResolution
			}
			if req.DetectRegions != nil {
				opts.DetectRegions = *req.DetectRegions
			}
			opts.MaxPageLimit = req.MaxPageLimit
			opts.PageRanges = req.PageRanges
			resp, err = deps.Boundary.ExtractRegionsURL(ctx, req.URL, opts)
		}
		if err != nil {
			respondError(c, apperrors.GetStatusCode(err), "region extraction failed", err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func similar(deps Dependencies, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.RequestTimeout)
		defer cancel()

		limit := defaultMatchLimit
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > maxMatchLimit {
				respondError(c, http.StatusBadRequest, "invalid limit",
					fmt.Errorf("limit must be between 1 and %d", maxMatchLimit))
				return
			}
			limit = n
		}
		buf, err := readUpload(c)
		if err != nil {
			respondError(c, apperrors.GetStatusCode(err), "invalid upload", err)
			return
		}
		matches, err := deps.Boundary.Similar(ctx, buf, limit)
		if err != nil {
			respondError(c, apperrors.GetStatusCode(err), "similar-pattern search failed", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"matches": matches})
	}
}

func enqueueJob(deps Dependencies, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Jobs == nil {
			respondError(c, http.StatusServiceUnavailable, "job queue unavailable", errors.New("REDIS_URL is not configured"))
			return
		}
		var req models.JobRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "invalid request format", err)
			return
		}
		resp, err := deps.Jobs.Enqueue(c.Request.Context(), req)
		if err != nil {
			respondError(c, apperrors.GetStatusCode(err), "failed to enqueue job", err)
			return
		}
		c.JSON(http.StatusAccepted, resp)
	}
}

func getJob(deps Dependencies, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Records == nil {
			respondError(c, http.StatusServiceUnavailable, "job store unavailable", errors.New("DATABASE_URL is not configured"))
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.RequestTimeout)
		defer cancel()

		rec, err := deps.Records.Get(ctx, c.Param("id"))
		if err != nil {
			if errors.Is(err, storage.ErrRecordNotFound) {
				respondError(c, http.StatusNotFound, "job not found", err)
				return
			}
			respondError(c, http.StatusInternalServerError, "failed to load job", err)
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

func stats(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Metrics == nil {
			c.JSON(http.StatusOK, gin.H{})
			return
		}
		c.JSON(http.StatusOK, deps.Metrics.GetMetrics())
	}
}

func healthCheck(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{
			"status":  "available",
			"version": version,
			"time":    time.Now().UTC().Format(time.RFC3339),
		}
		if deps.Backends != nil {
			body["backends"] = deps.Backends()
		}
		c.JSON(http.StatusOK, body)
	}
}

func isMultipart(c *gin.Context) bool {
	return strings.HasPrefix(c.ContentType(), "multipart/form-data")
}

func readUpload(c *gin.Context) ([]byte, error) {
	fh, err := c.FormFile(uploadField)
	if err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("multipart field %q is required", uploadField), err)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, apperrors.NewValidationError("cannot open upload", err)
	}
	defer f.Close()
	buf, err := io.ReadAll(f)
	if err != nil {
		return nil, apperrors.NewValidationError("cannot read upload", err)
	}
	if len(buf) == 0 {
		return nil, apperrors.NewValidationError("upload is empty", nil)
	}
	return buf, nil
}

func recognizeOptionsFromForm(c *gin.Context) (models.RecognizeOptions, error) {
	var opts models.RecognizeOptions
	if v := c.PostForm("is_document"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, fmt.Errorf("is_document: %w", err)
		}
		opts.IsDocument = &b
	}
	if v := c.PostForm("enhance_resolution"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, fmt.Errorf("enhance_resolution: %w", err)
		}
		opts.EnhanceResolution = b
	}
	if v := c.PostForm("target_dpi"); v != "" {
		dpi, err := strconv.ParseFloat(v, 64)
		if err != nil || dpi <= 0 {
			return opts, fmt.Errorf("target_dpi must be a positive number")
		}
		opts.TargetDPI = dpi
	}
	return opts, nil
}

func extractOptionsFromForm(c *gin.Context, opts *models.ExtractOptions) error {
	if v := c.PostForm("target_dpi"); v != "" {
		dpi, err := strconv.ParseFloat(v, 64)
		if err != nil || dpi <= 0 {
			return fmt.Errorf("target_dpi must be a positive number")
		}
		opts.TargetDPI = dpi
	}
	for field, dst := range map[string]*bool{
		"enhance_resolution": &opts.EnhanceResolution,
		"detect_regions":     &opts.DetectRegions,
	} {
		if v := c.PostForm(field); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", field, err)
			}
			*dst = b
		}
	}
	if v := c.PostForm("max_page_limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("max_page_limit must be a non-negative integer")
		}
		opts.MaxPageLimit = n
	}
	return nil
}

// Middleware and helper functions
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"user_agent":  c.Request.UserAgent(),
			"ip":          c.ClientIP(),
		}).Info("Request handled")
	}
}

func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

func errorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			err := c.Errors.Last()
			respondError(c, determineStatusCode(err.Err), "request processing failed", err.Err)
		}
	}
}

func determineStatusCode(err error) int {
	// Check if it's a custom app error first
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	// Fallback to context-based errors
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, code int, message string, err error) {
	// Log the error with context
	logger.WithError(err).WithFields(logrus.Fields{
		"status_code": code,
		"message":     message,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
	}).Error("Request failed")

	c.AbortWithStatusJSON(code, models.ErrorResponse{
		Error:   http.StatusText(code),
		Message: fmt.Sprintf("%s: %v", message, err),
	})
}

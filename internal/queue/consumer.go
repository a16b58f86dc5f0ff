package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	apperrors "github.com/anime-shed/pattern-inspector-go/internal/errors"
	"github.com/anime-shed/pattern-inspector-go/internal/logger"
	"github.com/anime-shed/pattern-inspector-go/internal/repository"
	"github.com/anime-shed/pattern-inspector-go/pkg/models"
)

// Processor recognizes a remote source. *service.Boundary implements it.
type Processor interface {
	RecognizeURL(ctx context.Context, sourceURL string, opts models.RecognizeOptions) (*models.RecognizeResponse, error)
}

// Handler processes recognition tasks.
type Handler struct {
	processor Processor
	records   repository.RecordRepository
	timeout   time.Duration
}

func NewHandler(processor Processor, records repository.RecordRepository, timeout time.Duration) *Handler {
	return &Handler{processor: processor, records: records, timeout: timeout}
}

// ProcessTask implements asynq.Handler. Malformed payloads and invalid
// sources are not retried.
func (h *Handler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	start := time.Now()
	p, err := ParsePayload(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	entry := logger.WithFields(logrus.Fields{"job_id": p.JobID, "url": p.URL})
	entry.Info("Processing recognition job")

	rec := models.RecognitionRecord{
		ID:        p.JobID,
		Source:    p.URL,
		Status:    models.JobProcessing,
		CreatedAt: p.CreatedAt,
		UpdatedAt: time.Now().UTC(),
	}
	h.save(ctx, rec)

	processCtx := ctx
	if h.timeout > 0 {
		var cancel context.CancelFunc
		processCtx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	resp, err := h.processor.RecognizeURL(processCtx, p.URL, p.Options)

	rec.UpdatedAt = time.Now().UTC()
	rec.ProcessingTimeMs = time.Since(start).Milliseconds()
	if err != nil {
		rec.Status = models.JobFailed
		rec.Error = err.Error()
		h.save(ctx, rec)
		entry.WithError(err).Error("Recognition job failed")
		if apperrors.IsType(err, apperrors.ErrorTypeValidation) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	rec.Status = models.JobCompleted
	rec.Outcome = models.RecognitionOutcome{Single: resp.Result, Multiple: resp.Results}
	h.save(ctx, rec)
	entry.WithField("duration_ms", rec.ProcessingTimeMs).Info("Recognition job completed")
	return nil
}

func (h *Handler) save(ctx context.Context, rec models.RecognitionRecord) {
	if h.records == nil {
		return
	}
	if err := h.records.Save(ctx, rec); err != nil {
		logger.WithError(err).WithFields(logrus.Fields{
			"job_id": rec.ID,
			"status": rec.Status,
		}).Warn("Failed to persist job status")
	}
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL        string
	QueueName       string
	Concurrency     int
	Handler         *Handler
	ShutdownTimeout time.Duration
}

// Consumer runs the asynq server.
type Consumer struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	config ConsumerConfig
}

func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("Handler is required")
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues: map[string]int{
			cfg.QueueName: 10,
			"default":     1,
		},
		RetryDelayFunc:  RetryDelay,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger.Logger,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.WithError(err).WithFields(logrus.Fields{
				"type":      task.Type(),
				"retried":   retried,
				"max_retry": maxRetry,
				"final":     retried >= maxRetry || errors.Is(err, asynq.SkipRetry),
			}).Warn("Task processing error")
		}),
	})

	mux := asynq.NewServeMux()
	mux.Handle(TypeRecognition, cfg.Handler)

	return &Consumer{server: server, mux: mux, config: cfg}, nil
}

// Run blocks processing tasks until Shutdown.
func (c *Consumer) Run() error {
	logger.WithFields(logrus.Fields{
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
	}).Info("Starting queue consumer")
	return c.server.Run(c.mux)
}

// Start processes tasks in the background.
func (c *Consumer) Start() error {
	return c.server.Start(c.mux)
}

// Shutdown stops fetching tasks and waits for running ones.
func (c *Consumer) Shutdown() {
	logger.Info("Stopping queue consumer")
	c.server.Shutdown()
}

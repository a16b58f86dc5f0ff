package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	apperrors "github.com/anime-shed/pattern-inspector-go/internal/errors"
	"github.com/anime-shed/pattern-inspector-go/internal/logger"
	"github.com/anime-shed/pattern-inspector-go/internal/repository"
	"github.com/anime-shed/pattern-inspector-go/pkg/models"
)

const defaultMaxRetry = 3

// Enqueuer accepts recognition jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, req models.JobRequest) (*models.JobResponse, error)
}

// TaskClient is the subset of *asynq.Client the producer uses.
type TaskClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Producer enqueues jobs and records them as queued.
type Producer struct {
	client    TaskClient
	queue     string
	records   repository.RecordRepository
	validator func(string) error
}

// NewProducer connects to the queue broker at redisURL. records may be nil,
// in which case job status is only visible through asynq.
func NewProducer(redisURL, queueName string, records repository.RecordRepository, validate func(string) error) (*Producer, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if queueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return NewProducerWithClient(asynq.NewClient(opt), queueName, records, validate), nil
}

func NewProducerWithClient(client TaskClient, queueName string, records repository.RecordRepository, validate func(string) error) *Producer {
	return &Producer{client: client, queue: queueName, records: records, validator: validate}
}

// Enqueue validates the source URL, stores a queued record and submits the
// task.
func (p *Producer) Enqueue(ctx context.Context, req models.JobRequest) (*models.JobResponse, error) {
	if p.validator != nil {
		if err := p.validator(req.URL); err != nil {
			return nil, apperrors.NewValidationError("invalid source URL", err)
		}
	}

	now := time.Now().UTC()
	payload := JobPayload{
		JobID: uuid.NewString(),
		URL:   req.URL,
		Options: models.RecognizeOptions{
			IsDocument:        req.IsDocument,
			EnhanceResolution: req.EnhanceResolution,
			TargetDPI:         req.TargetDPI,
		},
		CreatedAt: now,
	}

	if p.records != nil {
		rec := models.RecognitionRecord{
			ID:        payload.JobID,
			Source:    req.URL,
			Status:    models.JobQueued,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := p.records.Save(ctx, rec); err != nil {
			return nil, apperrors.NewInternalError("failed to record job", err)
		}
	}

	task, err := NewRecognitionTask(payload, p.queue, defaultMaxRetry)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build job", err)
	}
	info, err := p.client.EnqueueContext(ctx, task)
	if err != nil {
		return nil, apperrors.NewNetworkError("failed to enqueue job", err)
	}

	logger.WithFields(logrus.Fields{
		"job_id": payload.JobID,
		"queue":  info.Queue,
		"url":    req.URL,
	}).Info("Recognition job enqueued")

	return &models.JobResponse{JobID: payload.JobID, Queue: info.Queue, Status: models.JobQueued}, nil
}

func (p *Producer) Close() error {
	return p.client.Close()
}

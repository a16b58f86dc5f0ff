// Package queue runs recognition jobs asynchronously on top of asynq. The
// API enqueues a job per source URL; workers fetch, recognize and persist
// the outcome.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/anime-shed/pattern-inspector-go/pkg/models"
)

// TypeRecognition is the asynq task type of a recognition job.
const TypeRecognition = "recognition:process"

// JobPayload is the task body.
type JobPayload struct {
	JobID     string                  `json:"job_id"`
	URL       string                  `json:"url"`
	Options   models.RecognizeOptions `json:"options"`
	CreatedAt time.Time               `json:"created_at"`
}

// NewRecognitionTask encodes p as a task. The job id doubles as the asynq
// task id so a job cannot be enqueued twice.
func NewRecognitionTask(p JobPayload, queue string, maxRetry int) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}
	return asynq.NewTask(TypeRecognition, data,
		asynq.TaskID(p.JobID),
		asynq.Queue(queue),
		asynq.MaxRetry(maxRetry),
	), nil
}

// ParsePayload decodes a recognition task body.
func ParsePayload(task *asynq.Task) (JobPayload, error) {
	var p JobPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return p, fmt.Errorf("failed to unmarshal job payload: %w", err)
	}
	if p.JobID == "" || p.URL == "" {
		return p, fmt.Errorf("job payload needs job_id and url")
	}
	return p, nil
}

// RetryDelay backs off exponentially from 5s, capped at one minute.
func RetryDelay(n int, err error, task *asynq.Task) time.Duration {
	delay := time.Duration(5*(1<<uint(n))) * time.Second
	if delay > time.Minute {
		delay = time.Minute
	}
	return delay
}

// Package queue moves extraction jobs through Redis with asynq.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// TypeExtract is the asynq task type of an extraction job.
const TypeExtract = "idcard:extract"

// Task defaults.
const (
	DefaultMaxRetry  = 5
	DefaultRetention = 24 * time.Hour
)

// Payload is the JSON body of an extraction task.
type Payload struct {
	JobID      string `json:"job_id"`
	Filename   string `json:"filename,omitempty"`
	Image      []byte `json:"image"`
	Connector  string `json:"connector,omitempty"`
	ExpectedID string `json:"expected_id,omitempty"`
}

// Validate checks the payload before it is queued or processed.
func (p Payload) Validate() error {
	if p.JobID == "" {
		return fmt.Errorf("job_id is required")
	}
	if len(p.Image) == 0 {
		return fmt.Errorf("image is empty")
	}
	return nil
}

// NewExtractTask encodes a payload as a task. The job id doubles as the
// task id so that a job is queued at most once.
func NewExtractTask(p Payload, queue string) (*asynq.Task, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	opts := []asynq.Option{
		asynq.TaskID(p.JobID),
		asynq.MaxRetry(DefaultMaxRetry),
		asynq.Retention(DefaultRetention),
	}
	if queue != "" {
		opts = append(opts, asynq.Queue(queue))
	}
	return asynq.NewTask(TypeExtract, data, opts...), nil
}

// Producer enqueues extraction jobs.
type Producer struct {
	client *asynq.Client
	queue  string
}

// NewProducer connects a producer to Redis.
func NewProducer(redisURL, queue string) (*Producer, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return &Producer{client: asynq.NewClient(opt), queue: queue}, nil
}

// Enqueue queues a job, assigning a job id when the payload has none.
func (p *Producer) Enqueue(ctx context.Context, payload Payload) (*asynq.TaskInfo, error) {
	if payload.JobID == "" {
		payload.JobID = uuid.NewString()
	}
	task, err := NewExtractTask(payload, p.queue)
	if err != nil {
		return nil, err
	}
	info, err := p.client.EnqueueContext(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job %s: %w", payload.JobID, err)
	}
	return info, nil
}

// Close releases the Redis connection.
func (p *Producer) Close() error {
	return p.client.Close()
}

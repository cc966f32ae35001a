package queue

import (
	"context"
	"time"

	"github.com/dunamismax/cutout/internal/config"
	"github.com/hibiken/asynq"
)

const (
	DefaultMaxRetry = 3
	DefaultTimeout  = 5 * time.Minute
)

// Enqueuer submits async jobs. The API depends on this instead of *Client.
type Enqueuer interface {
	EnqueueProcessJob(ctx context.Context, payload ProcessJobPayload) (*asynq.TaskInfo, error)
}

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(cfg config.QueueConfig) *Client {
	return &Client{
		client: asynq.NewClient(cfg.RedisClientOpt()),
		queue:  cfg.Name,
	}
}

// EnqueueProcessJob enqueues with the job id as task id, so a retried
// submission of the same job is rejected by asynq as a duplicate.
func (c *Client) EnqueueProcessJob(ctx context.Context, payload ProcessJobPayload) (*asynq.TaskInfo, error) {
	task, err := NewProcessJobTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(DefaultMaxRetry),
		asynq.Timeout(DefaultTimeout),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}

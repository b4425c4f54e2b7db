package queue

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

// ClientOptions tune how cleanup tasks are scheduled.
type ClientOptions struct {
	Queue    string
	Delay    time.Duration
	MaxRetry int
	Timeout  time.Duration
}

type Client struct {
	client *asynq.Client
	opts   ClientOptions
}

func NewClient(redisOpt asynq.RedisClientOpt, opts ClientOptions) *Client {
	if opts.Queue == "" {
		opts.Queue = "default"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Minute
	}
	return &Client{
		client: asynq.NewClient(redisOpt),
		opts:   opts,
	}
}

// EnqueueRemoveStale schedules deletion of a stale key. A second request for
// the same key while the first is still queued is a no-op.
func (c *Client) EnqueueRemoveStale(ctx context.Context, payload RemoveStalePayload) (*asynq.TaskInfo, error) {
	task, err := NewRemoveStaleTask(payload)
	if err != nil {
		return nil, err
	}
	info, err := c.client.EnqueueContext(ctx, task, c.enqueueOptions(payload)...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil, nil
	}
	return info, err
}

func (c *Client) enqueueOptions(payload RemoveStalePayload) []asynq.Option {
	return []asynq.Option{
		asynq.Queue(c.opts.Queue),
		asynq.TaskID(RemoveStaleTaskID(payload.Key)),
		asynq.MaxRetry(c.opts.MaxRetry),
		asynq.Timeout(c.opts.Timeout),
		asynq.ProcessIn(c.opts.Delay),
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

package scheduler

import (
	"context"
	"fmt"

	"github.com/TDXCORE/Agent-Test/platform/config"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

type Client struct {
	client *asynq.Client
}

func NewClient(cfg config.RedisConfig) (*Client, error) {
	if !cfg.IsSchedulerEnabled() {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(cfg.GetRedisURL())
	if err != nil {
		return nil, err
	}

	return &Client{client: asynq.NewClient(opt)}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Client) EnqueueAbandonmentSweep(ctx context.Context, payload AbandonmentSweepPayload) error {
	if c == nil || c.client == nil {
		return nil
	}
	task, err := NewAbandonmentSweepTask(payload)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task)
	return err
}

func (c *Client) EnqueueCalendarSync(ctx context.Context, payload CalendarSyncPayload) error {
	if c == nil || c.client == nil {
		return nil
	}
	task, err := NewCalendarSyncTask(payload)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task)
	return err
}

func redisClientOpt(redisURL string) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}
	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: opt.TLSConfig,
	}, nil
}

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/tenantgate/internal/config"
	"github.com/nikhilbhutani/tenantgate/internal/webhook"
)

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// inspector looks at a task that already holds a TaskID.
type inspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
	Close() error
}

type Client struct {
	client    enqueuer
	inspector inspector
}

func NewClient(cfg config.RedisConfig) *Client {
	return &Client{
		client:    asynq.NewClient(RedisOpt(cfg)),
		inspector: asynq.NewInspector(RedisOpt(cfg)),
	}
}

func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

func (c *Client) Close() error {
	if c.inspector != nil {
		_ = c.inspector.Close()
	}
	return c.client.Close()
}

// EnqueueDomainVerify schedules a verification after delay. Each domain has
// at most one live verification task; scheduling again while one is queued
// or running returns that task. A finished task is replaced. retries bounds
// how often the worker re-checks.
func (c *Client) EnqueueDomainVerify(ctx context.Context, p DomainVerifyPayload, delay time.Duration, retries int) (string, error) {
	return c.enqueue(ctx, TypeDomainVerify, p,
		asynq.Queue(QueueCritical),
		asynq.TaskID(TypeDomainVerify+":"+p.DomainID),
		asynq.ProcessIn(delay),
		asynq.MaxRetry(retries),
		asynq.Timeout(time.Minute),
	)
}

func (c *Client) EnqueueDomainSetup(ctx context.Context, p DomainSetupPayload) (string, error) {
	return c.enqueue(ctx, TypeDomainSetup, p,
		asynq.Queue(QueueDefault),
		asynq.TaskID(TypeDomainSetup+":"+p.DomainID),
		asynq.MaxRetry(0),
		asynq.Timeout(10*time.Minute),
	)
}

func (c *Client) EnqueueWebhookDeliver(ctx context.Context, req webhook.DeliveryRequest) (string, error) {
	return c.enqueue(ctx, TypeWebhookDeliver, req,
		asynq.Queue(QueueLow),
		asynq.MaxRetry(5),
		asynq.Timeout(30*time.Second),
	)
}

func (c *Client) enqueue(ctx context.Context, taskType string, payload any, opts ...asynq.Option) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(taskType, data)
	info, err := c.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return c.resolveConflict(ctx, task, opts)
	}
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return info.ID, nil
}

// resolveConflict handles a TaskID that is already taken. A live task is
// reused; an archived or completed one is deleted and the task enqueued again.
func (c *Client) resolveConflict(ctx context.Context, task *asynq.Task, opts []asynq.Option) (string, error) {
	id, _ := optionValue(opts, asynq.TaskIDOpt).(string)
	qname, _ := optionValue(opts, asynq.QueueOpt).(string)
	if qname == "" {
		qname = QueueDefault
	}
	if c.inspector == nil {
		return id, nil
	}

	info, err := c.inspector.GetTaskInfo(qname, id)
	switch {
	case errors.Is(err, asynq.ErrTaskNotFound):
		// finished and removed between the two calls
	case err != nil:
		return "", fmt.Errorf("inspect task %s: %w", id, err)
	case info.State == asynq.TaskStateArchived || info.State == asynq.TaskStateCompleted:
		if err := c.inspector.DeleteTask(qname, id); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
			return "", fmt.Errorf("delete finished task %s: %w", id, err)
		}
	default:
		return id, nil
	}

	info, err = c.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		// another caller re-enqueued it first
		return id, nil
	}
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", task.Type(), err)
	}
	return info.ID, nil
}

func optionValue(opts []asynq.Option, typ asynq.OptionType) any {
	for _, o := range opts {
		if o.Type() == typ {
			return o.Value()
		}
	}
	return nil
}

// WebhookDeliverer sends webhook deliveries through the queue so they
// survive restarts and get retried by the worker.
type WebhookDeliverer struct {
	client *Client
}

func NewWebhookDeliverer(c *Client) *WebhookDeliverer {
	return &WebhookDeliverer{client: c}
}

func (d *WebhookDeliverer) Enqueue(ctx context.Context, req webhook.DeliveryRequest) error {
	if req.DeliveryID == "" {
		req.DeliveryID = uuid.NewString()
	}
	_, err := d.client.EnqueueWebhookDeliver(ctx, req)
	return err
}

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/tenantgate/internal/config"
	"github.com/nikhilbhutani/tenantgate/internal/webhook"
)

// fakeEnqueuer fails calls with errs in order, then accepts.
type fakeEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	errs  []error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type()}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

type fakeInspector struct {
	state   asynq.TaskState
	err     error
	deleted []string
}

func (f *fakeInspector) GetTaskInfo(queue, id string) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &asynq.TaskInfo{ID: id, Queue: queue, State: f.state}, nil
}

func (f *fakeInspector) DeleteTask(queue, id string) error {
	f.deleted = append(f.deleted, queue+"/"+id)
	return nil
}

func (f *fakeInspector) Close() error { return nil }

func TestEnqueueDomainVerify(t *testing.T) {
	fake := &fakeEnqueuer{}
	c := &Client{client: fake}

	id, err := c.EnqueueDomainVerify(context.Background(), DomainVerifyPayload{DomainID: "d-1", TenantID: "t-1"}, 5*time.Second, 4)
	require.NoError(t, err)
	assert.Equal(t, "task-1", id)

	require.Len(t, fake.tasks, 1)
	assert.Equal(t, TypeDomainVerify, fake.tasks[0].Type())
	var p DomainVerifyPayload
	require.NoError(t, json.Unmarshal(fake.tasks[0].Payload(), &p))
	assert.Equal(t, "d-1", p.DomainID)

	opts := fake.opts[0]
	assert.Equal(t, QueueCritical, optionValue(opts, asynq.QueueOpt))
	assert.Equal(t, 4, optionValue(opts, asynq.MaxRetryOpt))
	assert.Equal(t, 5*time.Second, optionValue(opts, asynq.ProcessInOpt))
	assert.Equal(t, "domain:verify:d-1", optionValue(opts, asynq.TaskIDOpt))
}

func TestEnqueueConflictReusesLiveTask(t *testing.T) {
	for _, state := range []asynq.TaskState{asynq.TaskStateScheduled, asynq.TaskStateActive, asynq.TaskStateRetry} {
		fake := &fakeEnqueuer{errs: []error{asynq.ErrTaskIDConflict}}
		ins := &fakeInspector{state: state}
		c := &Client{client: fake, inspector: ins}

		id, err := c.EnqueueDomainVerify(context.Background(), DomainVerifyPayload{DomainID: "d-1"}, time.Second, 1)
		require.NoError(t, err, state.String())
		assert.Equal(t, "domain:verify:d-1", id)
		assert.Empty(t, fake.tasks)
		assert.Empty(t, ins.deleted)
	}
}

func TestEnqueueConflictReplacesFinishedTask(t *testing.T) {
	for _, state := range []asynq.TaskState{asynq.TaskStateArchived, asynq.TaskStateCompleted} {
		fake := &fakeEnqueuer{errs: []error{asynq.ErrTaskIDConflict}}
		ins := &fakeInspector{state: state}
		c := &Client{client: fake, inspector: ins}

		id, err := c.EnqueueDomainVerify(context.Background(), DomainVerifyPayload{DomainID: "d-1"}, time.Second, 1)
		require.NoError(t, err, state.String())
		assert.Equal(t, "task-1", id)
		assert.Equal(t, []string{QueueCritical + "/domain:verify:d-1"}, ins.deleted)
		assert.Len(t, fake.tasks, 1)
	}

	// the id vanished between enqueue and inspect
	fake := &fakeEnqueuer{errs: []error{asynq.ErrTaskIDConflict}}
	c := &Client{client: fake, inspector: &fakeInspector{err: asynq.ErrTaskNotFound}}
	_, err := c.EnqueueDomainSetup(context.Background(), DomainSetupPayload{DomainID: "d-1"})
	require.NoError(t, err)
	assert.Len(t, fake.tasks, 1)
}

func TestEnqueueErrors(t *testing.T) {
	c := &Client{client: &fakeEnqueuer{errs: []error{errors.New("redis down")}}}
	_, err := c.EnqueueDomainSetup(context.Background(), DomainSetupPayload{DomainID: "d-1"})
	assert.ErrorContains(t, err, "enqueue domain:setup")

	c = &Client{
		client:    &fakeEnqueuer{errs: []error{asynq.ErrTaskIDConflict}},
		inspector: &fakeInspector{err: errors.New("redis down")},
	}
	_, err = c.EnqueueDomainVerify(context.Background(), DomainVerifyPayload{DomainID: "d-1"}, time.Second, 1)
	assert.ErrorContains(t, err, "inspect task domain:verify:d-1")
}

// A verification that ended up archived must not block a new one.
func TestVerifyCanBeRescheduledAfterArchive(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.RedisConfig{Addr: mr.Addr()}
	c := NewClient(cfg)
	defer c.Close()
	ins := asynq.NewInspector(RedisOpt(cfg))
	defer ins.Close()

	ctx := context.Background()
	p := DomainVerifyPayload{DomainID: "d-1", TenantID: "t-1"}

	id, err := c.EnqueueDomainVerify(ctx, p, time.Hour, 3)
	require.NoError(t, err)
	assert.Equal(t, "domain:verify:d-1", id)

	again, err := c.EnqueueDomainVerify(ctx, p, time.Hour, 3)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	info, err := ins.GetTaskInfo(QueueCritical, id)
	require.NoError(t, err)
	assert.Equal(t, asynq.TaskStateScheduled, info.State)
	assert.Zero(t, info.Retention)

	require.NoError(t, ins.ArchiveTask(QueueCritical, id))

	again, err = c.EnqueueDomainVerify(ctx, p, time.Hour, 3)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	info, err = ins.GetTaskInfo(QueueCritical, id)
	require.NoError(t, err)
	assert.Equal(t, asynq.TaskStateScheduled, info.State)
}

func TestWebhookDeliverer(t *testing.T) {
	fake := &fakeEnqueuer{}
	d := NewWebhookDeliverer(&Client{client: fake})
	require.NoError(t, d.Enqueue(context.Background(), webhook.DeliveryRequest{WebhookID: "wh-1", Event: "domain.verified"}))
	require.Len(t, fake.tasks, 1)
	assert.Equal(t, TypeWebhookDeliver, fake.tasks[0].Type())
	assert.Equal(t, QueueLow, optionValue(fake.opts[0], asynq.QueueOpt))
}

func TestRetryDelay(t *testing.T) {
	f := RetryDelay(5*time.Second, time.Minute)
	verify := asynq.NewTask(TypeDomainVerify, nil)

	assert.Equal(t, 5*time.Second, f(0, nil, verify))
	assert.Equal(t, 20*time.Second, f(2, nil, verify))
	assert.Equal(t, time.Minute, f(10, nil, verify))
	assert.Positive(t, f(1, nil, asynq.NewTask(TypeWebhookDeliver, nil)))
}

package workers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/tenantgate/internal/apperrors"
	"github.com/nikhilbhutani/tenantgate/internal/cache"
	"github.com/nikhilbhutani/tenantgate/internal/dns"
	"github.com/nikhilbhutani/tenantgate/internal/queue"
	"github.com/nikhilbhutani/tenantgate/internal/webhook"
)

type fakeWorkflow struct {
	propagated   bool
	propagateErr error
	verified     int
	setups       int
}

func (f *fakeWorkflow) Propagated(context.Context, string) (bool, error) {
	return f.propagated, f.propagateErr
}

func (f *fakeWorkflow) VerifyDNSConfiguration(context.Context, string) dns.Result {
	f.verified++
	return dns.Result{Success: f.propagated}
}

func (f *fakeWorkflow) AutomatedDomainSetup(context.Context, string) dns.Result {
	f.setups++
	return dns.Result{Success: true, RecordsCreated: []string{"rec-1"}}
}

func verifyTask(t *testing.T) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(queue.DomainVerifyPayload{DomainID: "d-1", TenantID: "t-1"})
	require.NoError(t, err)
	return asynq.NewTask(queue.TypeDomainVerify, data)
}

func newLocks(t *testing.T) (*cache.Cache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return cache.NewCache(rdb, "test:"), mr
}

func withRetries(w *DomainWorker, retried, max int) {
	w.retries = func(context.Context) (int, int, bool) { return retried, max, true }
}

func TestProcessVerifyRetriesUntilPropagated(t *testing.T) {
	wf := &fakeWorkflow{}
	locks, _ := newLocks(t)
	w := NewDomainWorker(wf, locks, nil)
	withRetries(w, 1, 5)

	err := w.ProcessVerify(context.Background(), verifyTask(t))
	assert.ErrorIs(t, err, errNotPropagated)
	assert.Zero(t, wf.verified)

	wf.propagated = true
	require.NoError(t, w.ProcessVerify(context.Background(), verifyTask(t)))
	assert.Equal(t, 1, wf.verified)
}

func TestProcessVerifyPersistsOnLastAttempt(t *testing.T) {
	wf := &fakeWorkflow{propagateErr: errors.New("cloudflare timeout")}
	w := NewDomainWorker(wf, nil, nil)
	withRetries(w, 5, 5)

	require.NoError(t, w.ProcessVerify(context.Background(), verifyTask(t)))
	assert.Equal(t, 1, wf.verified)
}

func TestProcessVerifySkipsRetryForMissingDomain(t *testing.T) {
	for _, cause := range []error{
		apperrors.NotFound(dns.MsgDomainNotFound),
		apperrors.Conflict(dns.MsgDomainExpired),
	} {
		wf := &fakeWorkflow{propagateErr: cause}
		w := NewDomainWorker(wf, nil, nil)
		// even the last attempt must not persist a status
		withRetries(w, 5, 5)

		err := w.ProcessVerify(context.Background(), verifyTask(t))
		require.Error(t, err)
		assert.ErrorIs(t, err, asynq.SkipRetry)
		assert.Zero(t, wf.verified, cause.Error())
	}
}

func TestProcessVerifyHonorsLock(t *testing.T) {
	wf := &fakeWorkflow{propagated: true}
	locks, mr := newLocks(t)
	w := NewDomainWorker(wf, locks, nil)

	require.NoError(t, mr.Set("test:lock:domain-verify:d-1", "1"))
	err := w.ProcessVerify(context.Background(), verifyTask(t))
	assert.ErrorContains(t, err, "already running")

	mr.Del("test:lock:domain-verify:d-1")
	require.NoError(t, w.ProcessVerify(context.Background(), verifyTask(t)))
	assert.False(t, mr.Exists("test:lock:domain-verify:d-1"), "lock released")
}

func TestProcessVerifyBadPayload(t *testing.T) {
	w := NewDomainWorker(&fakeWorkflow{}, nil, nil)
	err := w.ProcessVerify(context.Background(), asynq.NewTask(queue.TypeDomainVerify, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestProcessSetup(t *testing.T) {
	wf := &fakeWorkflow{}
	w := NewDomainWorker(wf, nil, nil)
	data, _ := json.Marshal(queue.DomainSetupPayload{DomainID: "d-1"})
	require.NoError(t, w.ProcessSetup(context.Background(), asynq.NewTask(queue.TypeDomainSetup, data)))
	assert.Equal(t, 1, wf.setups)
}

type senderFunc func(ctx context.Context, req webhook.DeliveryRequest) error

func (f senderFunc) Deliver(ctx context.Context, req webhook.DeliveryRequest) error { return f(ctx, req) }

func TestWebhookWorker(t *testing.T) {
	var got webhook.DeliveryRequest
	w := NewWebhookWorker(senderFunc(func(_ context.Context, req webhook.DeliveryRequest) error {
		got = req
		return errors.New("answered 500")
	}))

	data, _ := json.Marshal(webhook.DeliveryRequest{DeliveryID: "del-1", WebhookID: "wh-1", Event: "domain.verified"})
	err := w.ProcessTask(context.Background(), asynq.NewTask(queue.TypeWebhookDeliver, data))
	assert.ErrorContains(t, err, "answered 500")
	assert.Equal(t, "del-1", got.DeliveryID)
}

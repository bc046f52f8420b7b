package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/tenantgate/internal/apperrors"
	"github.com/nikhilbhutani/tenantgate/internal/database"
	"github.com/nikhilbhutani/tenantgate/internal/metrics"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type captured struct {
	mu   sync.Mutex
	reqs []DeliveryRequest
}

func (c *captured) Enqueue(_ context.Context, req DeliveryRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqs = append(c.reqs, req)
	return nil
}

func TestSignAndVerify(t *testing.T) {
	sig := Sign([]byte(`{"a":1}`), "whsec_x")
	assert.Regexp(t, `^sha256=[0-9a-f]{64}$`, sig)
	assert.True(t, Verify([]byte(`{"a":1}`), "whsec_x", sig))
	assert.False(t, Verify([]byte(`{"a":2}`), "whsec_x", sig))
}

func TestDeliverSignsAndRecords(t *testing.T) {
	var got http.Header
	var body []byte
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(status)
	}))
	defer srv.Close()

	db := database.NewClient(database.NewMemory(), nil)
	m := metrics.New(prometheus.NewRegistry())
	d := NewDispatcher(db, m, quiet())
	defer d.Close()

	req := DeliveryRequest{
		DeliveryID: "del-1",
		WebhookID:  "wh-1",
		TenantID:   "t-1",
		URL:        srv.URL,
		Secret:     "whsec_abc",
		Event:      "domain.verified",
		Payload:    json.RawMessage(`{"event":"domain.verified"}`),
	}
	require.NoError(t, d.Deliver(context.Background(), req))

	assert.Equal(t, "domain.verified", got.Get("X-Webhook-Event"))
	assert.Equal(t, "wh-1", got.Get("X-Webhook-ID"))
	assert.True(t, Verify(body, "whsec_abc", got.Get("X-Webhook-Signature")))

	rec, err := db.FindByID(context.Background(), database.TableDeliveries, "del-1", database.QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, "t-1", rec.String("tenant_id"))
	assert.NotNil(t, rec["delivered_at"])

	status = http.StatusInternalServerError
	err = d.Deliver(context.Background(), req)
	require.Error(t, err)
	rec, err = db.FindByID(context.Background(), database.TableDeliveries, "del-1", database.QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, "2", rec["attempts"].(json.Number).String())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookDeliveries.WithLabelValues("rejected")))
}

func TestDispatcherDrainsOnClose(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
	}))
	defer srv.Close()

	d := NewDispatcher(nil, nil, quiet())
	for i := 0; i < 3; i++ {
		require.NoError(t, d.Enqueue(context.Background(), DeliveryRequest{URL: srv.URL, Payload: json.RawMessage(`{}`)}))
	}
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, hits)
}

func TestEnqueueAfterClose(t *testing.T) {
	d := NewDispatcher(nil, nil, quiet())
	d.Close()
	d.Close()

	assert.NotPanics(t, func() {
		err := d.Enqueue(context.Background(), DeliveryRequest{WebhookID: "wh-1"})
		assert.ErrorIs(t, err, ErrDispatcherClosed)
	})
}

// Events published while the server shuts down race with Close.
func TestEnqueueRacesClose(t *testing.T) {
	d := NewDispatcher(nil, nil, quiet())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				// bad URL: deliveries fail fast without a server
				_ = d.Enqueue(context.Background(), DeliveryRequest{URL: "http://127.0.0.1:0", Payload: json.RawMessage(`{}`)})
			}
		}()
	}
	d.Close()
	wg.Wait()
}

func TestServiceLifecycle(t *testing.T) {
	ctx := context.Background()
	db := database.NewClient(database.NewMemory(), nil)
	sink := &captured{}
	svc := NewService(db, sink, quiet())

	_, err := svc.Create(ctx, "t-1", CreateRequest{URL: "ftp://example.com", Events: []string{"domain.verified"}})
	assert.True(t, apperrors.HasKind(err, apperrors.KindValidation))

	_, err = svc.Create(ctx, "t-1", CreateRequest{URL: "https://example.com/hook", Events: []string{"domain.exploded"}})
	assert.True(t, apperrors.HasKind(err, apperrors.KindValidation))

	verified, err := svc.Create(ctx, "t-1", CreateRequest{URL: "https://example.com/a", Events: []string{"domain.verified"}})
	require.NoError(t, err)
	assert.Regexp(t, `^whsec_[0-9a-f]{64}$`, verified.Secret)
	assert.Equal(t, "t-1", verified.TenantID)

	_, err = svc.Create(ctx, "t-1", CreateRequest{URL: "https://example.com/all", Events: []string{"*"}})
	require.NoError(t, err)
	_, err = svc.Create(ctx, "t-2", CreateRequest{URL: "https://other.example.com", Events: []string{"*"}})
	require.NoError(t, err)

	hooks, err := svc.List(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, hooks, 2)
	for _, h := range hooks {
		assert.Empty(t, h.Secret)
	}

	require.NoError(t, svc.Publish(ctx, "t-1", "domain.verified", map[string]string{"domain": "shop.example.com"}))
	require.Len(t, sink.reqs, 2)
	for _, r := range sink.reqs {
		assert.Equal(t, "t-1", r.TenantID)
		assert.NotEmpty(t, r.Secret)
	}

	sink.reqs = nil
	require.NoError(t, svc.Publish(ctx, "t-1", "domain.removed", nil))
	assert.Len(t, sink.reqs, 1, "only the wildcard hook")

	err = svc.Delete(ctx, "t-2", verified.ID)
	assert.True(t, apperrors.HasKind(err, apperrors.KindNotFound), "other tenants cannot delete")
	require.NoError(t, svc.Delete(ctx, "t-1", verified.ID))
}

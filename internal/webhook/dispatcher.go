package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/nikhilbhutani/tenantgate/internal/database"
	"github.com/nikhilbhutani/tenantgate/internal/metrics"
)

// Deliverer hands a delivery to whatever sends it: the in-process
// dispatcher or the background queue.
type Deliverer interface {
	Enqueue(ctx context.Context, req DeliveryRequest) error
}

type DeliveryRequest struct {
	DeliveryID string          `json:"delivery_id"`
	WebhookID  string          `json:"webhook_id"`
	TenantID   string          `json:"tenant_id"`
	URL        string          `json:"url"`
	Secret     string          `json:"secret"`
	Event      string          `json:"event"`
	Payload    json.RawMessage `json:"payload"`
}

type Dispatcher struct {
	db         database.Client
	httpClient *resty.Client
	deliveries chan DeliveryRequest
	metrics    *metrics.Metrics
	logger     *slog.Logger
	wg         sync.WaitGroup

	// mu guards closed and the send on deliveries against Close.
	mu     sync.RWMutex
	closed bool
}

// ErrDispatcherClosed is returned by Enqueue after Close.
var ErrDispatcherClosed = errors.New("webhook dispatcher closed")

func NewDispatcher(db database.Client, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		db: db,
		httpClient: resty.New().
			SetTimeout(10*time.Second).
			SetHeader("User-Agent", "tenantgate-webhooks/1.0"),
		deliveries: make(chan DeliveryRequest, 1000),
		metrics:    m,
		logger:     logger,
	}
	d.wg.Add(1)
	go d.processLoop()
	return d
}

// Enqueue never blocks; a full buffer drops the delivery.
func (d *Dispatcher) Enqueue(_ context.Context, req DeliveryRequest) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.metrics.IncWebhookDelivery("dropped")
		return ErrDispatcherClosed
	}
	select {
	case d.deliveries <- req:
		return nil
	default:
		d.logger.Warn("webhook delivery queue full, dropping", "webhook_id", req.WebhookID, "event", req.Event)
		d.metrics.IncWebhookDelivery("dropped")
		return fmt.Errorf("webhook delivery queue full")
	}
}

// Close stops accepting deliveries and waits for the buffer to drain. It is
// safe to call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.deliveries)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) processLoop() {
	defer d.wg.Done()
	for req := range d.deliveries {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		_ = d.Deliver(ctx, req)
		cancel()
	}
}

// Deliver posts one signed payload and records the attempt. It returns an
// error for transport failures and non-2xx answers so queue workers can retry.
func (d *Dispatcher) Deliver(ctx context.Context, req DeliveryRequest) error {
	if req.DeliveryID == "" {
		req.DeliveryID = uuid.NewString()
	}

	resp, err := d.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Webhook-Event", req.Event).
		SetHeader("X-Webhook-Signature", Sign(req.Payload, req.Secret)).
		SetHeader("X-Webhook-ID", req.WebhookID).
		SetHeader("X-Webhook-Delivery", req.DeliveryID).
		SetBody([]byte(req.Payload)).
		Post(req.URL)
	if err != nil {
		d.logger.Error("webhook delivery failed", "error", err, "webhook_id", req.WebhookID)
		d.metrics.IncWebhookDelivery("error")
		d.recordDelivery(ctx, req, 0)
		return fmt.Errorf("deliver webhook %s: %w", req.WebhookID, err)
	}

	d.recordDelivery(ctx, req, resp.StatusCode())
	if resp.StatusCode() >= 300 {
		d.logger.Warn("webhook received non-success response", "status", resp.StatusCode(), "webhook_id", req.WebhookID)
		d.metrics.IncWebhookDelivery("rejected")
		return fmt.Errorf("webhook %s answered %d", req.WebhookID, resp.StatusCode())
	}
	d.metrics.IncWebhookDelivery("success")
	return nil
}

func (d *Dispatcher) recordDelivery(ctx context.Context, req DeliveryRequest, status int) {
	if d.db == nil {
		return
	}
	var payload map[string]any
	_ = json.Unmarshal(req.Payload, &payload)

	rec := database.Record{
		"id":              req.DeliveryID,
		"tenant_id":       req.TenantID,
		"webhook_id":      req.WebhookID,
		"event":           req.Event,
		"payload":         payload,
		"response_status": status,
		"attempts":        1,
	}
	if status >= 200 && status < 300 {
		rec["delivered_at"] = time.Now().UTC()
	}

	// retries of the same delivery update the existing row
	if existing, err := d.db.FindByID(ctx, database.TableDeliveries, req.DeliveryID, database.QueryOptions{}); err == nil {
		attempts, _ := strconv.Atoi(fmt.Sprint(existing["attempts"]))
		delete(rec, "id")
		rec["attempts"] = attempts + 1
		if _, err := d.db.Update(ctx, database.TableDeliveries, req.DeliveryID, rec); err != nil {
			d.logger.Error("failed to record webhook delivery", "error", err)
		}
		return
	}
	rec["created_at"] = time.Now().UTC()
	if _, err := d.db.Create(ctx, database.TableDeliveries, rec); err != nil {
		d.logger.Error("failed to record webhook delivery", "error", err)
	}
}

func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return fmt.Sprintf("sha256=%s", hex.EncodeToString(mac.Sum(nil)))
}

// Verify checks a signature produced by Sign in constant time.
func Verify(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}

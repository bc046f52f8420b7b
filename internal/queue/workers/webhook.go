package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/tenantgate/internal/webhook"
)

type webhookSender interface {
	Deliver(ctx context.Context, req webhook.DeliveryRequest) error
}

type WebhookWorker struct {
	sender webhookSender
}

func NewWebhookWorker(sender webhookSender) *WebhookWorker {
	return &WebhookWorker{sender: sender}
}

func (w *WebhookWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var req webhook.DeliveryRequest
	if err := json.Unmarshal(t.Payload(), &req); err != nil {
		return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}
	// the delivery id must be stable across retries so attempts accumulate
	if req.DeliveryID == "" {
		if id, ok := asynq.GetTaskID(ctx); ok {
			req.DeliveryID = id
		}
	}
	return w.sender.Deliver(ctx, req)
}

package webhook

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/tenantgate/internal/apperrors"
	"github.com/nikhilbhutani/tenantgate/internal/database"
	"github.com/nikhilbhutani/tenantgate/internal/models"
	"github.com/nikhilbhutani/tenantgate/internal/tenant"
	"github.com/nikhilbhutani/tenantgate/internal/validation"
)

// Events a webhook may subscribe to. "*" subscribes to all of them.
var Events = []string{
	"domain.created",
	"domain.verified",
	"domain.failed",
	"domain.removed",
	"tenant.updated",
	"tenant.deleted",
}

type Service struct {
	db        database.Client
	deliverer Deliverer
	logger    *slog.Logger
}

func NewService(db database.Client, deliverer Deliverer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, deliverer: deliverer, logger: logger}
}

type CreateRequest struct {
	URL    string   `json:"url" validate:"required,url"`
	Events []string `json:"events" validate:"required,min=1,dive,notblank"`
}

func (s *Service) scoped(tenantID string) *tenant.ScopedClient {
	return tenant.NewScopedClient(s.db, tenant.Context{TenantID: tenantID})
}

func (s *Service) Create(ctx context.Context, tenantID string, req CreateRequest) (*models.Webhook, error) {
	if err := validation.Validate(req); err != nil {
		return nil, err
	}
	if u, _ := url.Parse(req.URL); u.Scheme != "https" && u.Scheme != "http" {
		return nil, apperrors.Validation("webhook url must be an absolute http(s) url")
	}
	for _, e := range req.Events {
		if e != "*" && !slices.Contains(Events, e) {
			return nil, apperrors.Validation(fmt.Sprintf("unknown webhook event %q", e)).
				WithDetails(map[string]any{"allowed": Events})
		}
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	rec, err := s.scoped(tenantID).Create(ctx, database.TableWebhooks, database.Record{
		"id":         uuid.NewString(),
		"url":        req.URL,
		"events":     req.Events,
		"secret":     secret,
		"is_active":  true,
		"created_at": time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("insert webhook: %w", err)
	}
	wh, err := database.Decode[models.Webhook](rec)
	if err != nil {
		return nil, err
	}
	// the secret is only ever returned here
	wh.Secret = secret
	return wh, nil
}

func (s *Service) List(ctx context.Context, tenantID string) ([]models.Webhook, error) {
	page, err := s.scoped(tenantID).FindMany(ctx, database.TableWebhooks, database.QueryOptions{
		Sort: []database.SortField{{Field: "created_at", Desc: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	hooks, err := database.DecodeAll[models.Webhook](page.Records)
	if err != nil {
		return nil, err
	}
	for i := range hooks {
		hooks[i].Secret = ""
	}
	return hooks, nil
}

func (s *Service) Delete(ctx context.Context, tenantID, id string) error {
	return s.scoped(tenantID).Delete(ctx, database.TableWebhooks, id)
}

// Publish fans an event out to the tenant's active webhooks that subscribe
// to it.
func (s *Service) Publish(ctx context.Context, tenantID, event string, payload any) error {
	if tenantID == "" || s.deliverer == nil {
		return nil
	}
	page, err := s.scoped(tenantID).FindMany(ctx, database.TableWebhooks, database.QueryOptions{
		Filter: map[string]any{"is_active": true},
	})
	if err != nil {
		return fmt.Errorf("find matching webhooks: %w", err)
	}
	hooks, err := database.DecodeAll[models.Webhook](page.Records)
	if err != nil {
		return err
	}

	body, err := json.Marshal(map[string]any{
		"event":     event,
		"tenant_id": tenantID,
		"data":      payload,
		"timestamp": time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	for _, wh := range hooks {
		if !slices.Contains(wh.Events, event) && !slices.Contains(wh.Events, "*") {
			continue
		}
		err := s.deliverer.Enqueue(ctx, DeliveryRequest{
			DeliveryID: uuid.NewString(),
			WebhookID:  wh.ID,
			TenantID:   tenantID,
			URL:        wh.URL,
			Secret:     wh.Secret,
			Event:      event,
			Payload:    body,
		})
		if err != nil {
			s.logger.Warn("webhook enqueue failed", "webhook_id", wh.ID, "event", event, "error", err)
		}
	}
	return nil
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(b), nil
}

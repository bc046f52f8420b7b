package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nikhilbhutani/tenantgate/internal/apperrors"
	"github.com/nikhilbhutani/tenantgate/internal/tenant"
	"github.com/nikhilbhutani/tenantgate/internal/webhook"
)

type WebhookHandler struct {
	svc *webhook.Service
}

func NewWebhookHandler(svc *webhook.Service) *WebhookHandler {
	return &WebhookHandler{svc: svc}
}

func requireTenant(r *http.Request) (string, error) {
	tc, ok := tenant.ExtractContext(r)
	if !ok {
		return "", apperrors.Validation("Tenant ID is required")
	}
	return tc.TenantID, nil
}

func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID, err := requireTenant(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var req webhook.CreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err)
		return
	}

	wh, err := h.svc.Create(r.Context(), tenantID, req)
	if err != nil {
		respondError(w, err)
		return
	}

	// Include secret in response only on creation
	respond(w, http.StatusCreated, map[string]any{
		"webhook": wh,
		"secret":  wh.Secret,
	})
}

func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID, err := requireTenant(r)
	if err != nil {
		respondError(w, err)
		return
	}
	webhooks, err := h.svc.List(r.Context(), tenantID)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, webhooks)
}

func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tenantID, err := requireTenant(r)
	if err != nil {
		respondError(w, err)
		return
	}
	if err := h.svc.Delete(r.Context(), tenantID, chi.URLParam(r, "id")); err != nil {
		respondError(w, err)
		return
	}
	respondMessage(w, http.StatusOK, "deleted")
}

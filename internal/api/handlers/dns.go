package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/nikhilbhutani/tenantgate/internal/apperrors"
	"github.com/nikhilbhutani/tenantgate/internal/audit"
	"github.com/nikhilbhutani/tenantgate/internal/database"
	"github.com/nikhilbhutani/tenantgate/internal/dns"
	"github.com/nikhilbhutani/tenantgate/internal/models"
	"github.com/nikhilbhutani/tenantgate/internal/queue"
	"github.com/nikhilbhutani/tenantgate/internal/validation"
)

// VerificationScheduler defers DNS work to the background worker.
type VerificationScheduler interface {
	EnqueueDomainVerify(ctx context.Context, p queue.DomainVerifyPayload, delay time.Duration, retries int) (string, error)
	EnqueueDomainSetup(ctx context.Context, p queue.DomainSetupPayload) (string, error)
}

// automatedTimeout bounds the in-request automated setup used when no worker
// queue is configured. It stays below the server write timeout.
const automatedTimeout = 45 * time.Second

type DNSHandler struct {
	db        database.Client
	dns       *dns.Service
	scheduler VerificationScheduler
	audit     *audit.Service
	provider  string
	logger    *slog.Logger
}

func NewDNSHandler(db database.Client, svc *dns.Service, scheduler VerificationScheduler, auditSvc *audit.Service, provider string, logger *slog.Logger) *DNSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DNSHandler{db: db, dns: svc, scheduler: scheduler, audit: auditSvc, provider: provider, logger: logger}
}

type dnsActionRequest struct {
	DomainID string `json:"domain_id" validate:"required,notblank"`
	Action   string `json:"action" validate:"required,oneof=setup remove verify ssl-status automated schedule"`
}

func (h *DNSHandler) unavailable(w http.ResponseWriter) {
	writeJSON(w, http.StatusServiceUnavailable, envelope{
		Error:   "DNS management not available",
		Message: "DNS provider not configured. Please set up Cloudflare API credentials.",
	})
}

// Manage runs one DNS workflow step for a domain owned by the caller's
// tenant.
func (h *DNSHandler) Manage(w http.ResponseWriter, r *http.Request) {
	var req dnsActionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := validation.Validate(req); err != nil {
		respondError(w, err)
		return
	}
	if !h.dns.IsAvailable() {
		h.unavailable(w)
		return
	}

	client, err := scoped(h.db, r, "")
	if err != nil {
		respondError(w, err)
		return
	}
	d, err := client.GetDomain(r.Context(), req.DomainID)
	if err != nil {
		respondError(w, err)
		return
	}
	if d.Status == models.DomainExpired && req.Action != "remove" {
		respondError(w, apperrors.Conflict(dns.MsgDomainExpired))
		return
	}

	var (
		success bool
		errs    []string
		data    = map[string]any{"action": req.Action, "domain_id": d.ID}
	)
	switch req.Action {
	case "setup":
		res := h.dns.SetupCustomDomain(r.Context(), d.ID)
		success, errs = res.Success, res.Errors
		data["records_created"] = res.RecordsCreated
	case "remove":
		res := h.dns.RemoveCustomDomain(r.Context(), d.ID)
		success, errs = res.Success, res.Errors
	case "verify":
		res := h.dns.VerifyDNSConfiguration(r.Context(), d.ID)
		success, errs = res.Success, res.Errors
		data["check"] = res.Check
	case "automated":
		if h.scheduler != nil {
			taskID, err := h.scheduler.EnqueueDomainSetup(r.Context(), queue.DomainSetupPayload{
				DomainID: d.ID,
				TenantID: d.TenantID,
			})
			if err != nil {
				respondError(w, err)
				return
			}
			h.audit.Record(r.Context(), audit.LogEntry{
				TenantID:     d.TenantID,
				Action:       "domain.dns.automated",
				ResourceType: "domain",
				ResourceID:   d.ID,
				Details:      map[string]any{"task_id": taskID, "queued": true},
				IPAddress:    clientIP(r),
			})
			data["task_id"] = taskID
			data["queued"] = true
			respond(w, http.StatusAccepted, data)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), automatedTimeout)
		res := h.dns.AutomatedDomainSetup(ctx, d.ID)
		cancel()
		success, errs = res.Success, res.Errors
		data["records_created"] = res.RecordsCreated
		data["check"] = res.Check
	case "ssl-status":
		res := h.dns.GetSSLStatus(r.Context(), d.ID)
		success, errs = res.Success, res.Errors
		data["certificate"] = res.Certificate
	case "schedule":
		if h.scheduler == nil {
			h.unavailable(w)
			return
		}
		attempts, delay := h.dns.PropagationPolicy()
		taskID, err := h.scheduler.EnqueueDomainVerify(r.Context(), queue.DomainVerifyPayload{
			DomainID: d.ID,
			TenantID: d.TenantID,
		}, delay, attempts)
		if err != nil {
			respondError(w, err)
			return
		}
		success = true
		data["task_id"] = taskID
		data["scheduled_in"] = delay.String()
	}

	h.audit.Record(r.Context(), audit.LogEntry{
		TenantID:     d.TenantID,
		Action:       "domain.dns." + req.Action,
		ResourceType: "domain",
		ResourceID:   d.ID,
		Details:      map[string]any{"success": success, "errors": errs},
		IPAddress:    clientIP(r),
	})

	if !success {
		if len(errs) == 0 {
			errs = []string{"Unknown error"}
		}
		writeJSON(w, http.StatusBadRequest, envelope{Error: "DNS " + req.Action + " failed", Details: errs})
		return
	}
	data["success"] = true
	respond(w, http.StatusOK, data)
}

// Status reports whether DNS management is available and what it supports.
func (h *DNSHandler) Status(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("domain_id")
	if id == "" {
		respond(w, http.StatusOK, map[string]any{
			"available": h.dns.IsAvailable(),
			"provider":  h.provider,
			"features":  h.dns.Features(),
		})
		return
	}
	if !h.dns.IsAvailable() {
		h.unavailable(w)
		return
	}

	client, err := scoped(h.db, r, "")
	if err != nil {
		respondError(w, err)
		return
	}
	d, err := client.GetDomain(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	records, managed := d.ManagedRecords()
	respond(w, http.StatusOK, map[string]any{
		"domain_id":   d.ID,
		"dns_managed": managed,
		"records":     records,
		"provider":    h.provider,
		"status":      d.Status,
		"ssl_status":  d.SSLStatus,
	})
}

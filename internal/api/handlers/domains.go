package handlers

import (
	"context"
	"log/slog"
	"maps"
	"net/http"
	"strings"
	"time"

	"github.com/nikhilbhutani/tenantgate/internal/apperrors"
	"github.com/nikhilbhutani/tenantgate/internal/audit"
	"github.com/nikhilbhutani/tenantgate/internal/database"
	"github.com/nikhilbhutani/tenantgate/internal/dns"
	"github.com/nikhilbhutani/tenantgate/internal/domain"
	"github.com/nikhilbhutani/tenantgate/internal/models"
	"github.com/nikhilbhutani/tenantgate/internal/tenant"
	"github.com/nikhilbhutani/tenantgate/internal/validation"
)

// Invalidator drops cached host resolutions.
type Invalidator interface {
	Invalidate(ctx context.Context, identifiers ...string)
}

type DomainHandlerConfig struct {
	RootDomain string
	Production bool
}

type DomainHandler struct {
	db       database.Client
	verifier *domain.Verifier
	dns      *dns.Service
	audit    *audit.Service
	events   dns.Publisher
	cache    Invalidator
	cfg      DomainHandlerConfig
	logger   *slog.Logger
}

func NewDomainHandler(db database.Client, verifier *domain.Verifier, dnsSvc *dns.Service, auditSvc *audit.Service,
	events dns.Publisher, cache Invalidator, cfg DomainHandlerConfig, logger *slog.Logger,
) *DomainHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DomainHandler{
		db:       db,
		verifier: verifier,
		dns:      dnsSvc,
		audit:    auditSvc,
		events:   events,
		cache:    cache,
		cfg:      cfg,
		logger:   logger,
	}
}

// scoped builds a tenant-scoped client for the acting user's tenant. A
// tenant id named by the client must be that tenant; it never selects one.
func scoped(db database.Client, r *http.Request, requested string) (*tenant.ScopedClient, error) {
	tc, ok := tenant.ExtractContext(r)
	if !ok {
		if requested != "" {
			return nil, apperrors.NotFoundOrDenied()
		}
		return nil, apperrors.Validation("Tenant ID is required")
	}
	if requested != "" && requested != tc.TenantID {
		return nil, apperrors.NotFoundOrDenied()
	}
	return tenant.NewScopedClient(db, tc), nil
}

func (h *DomainHandler) List(w http.ResponseWriter, r *http.Request) {
	client, err := scoped(h.db, r, r.URL.Query().Get("tenant_id"))
	if err != nil {
		respondError(w, err)
		return
	}
	domains, err := client.GetDomainsByTenant(r.Context(), client.Context().TenantID)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, domains)
}

type createDomainRequest struct {
	TenantID           string `json:"tenant_id"`
	Domain             string `json:"domain" validate:"required,notblank,max=253"`
	Type               string `json:"type" validate:"required,oneof=subdomain custom"`
	VerificationMethod string `json:"verification_method" validate:"omitempty,oneof=dns file cname"`
}

type domainResponse struct {
	*models.Domain
	VerificationRecords []models.DomainVerification `json:"verification_records,omitempty"`
}

func (h *DomainHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createDomainRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := validation.Validate(req); err != nil {
		respondError(w, err)
		return
	}

	name := strings.ToLower(strings.TrimSpace(req.Domain))
	switch models.DomainType(req.Type) {
	case models.DomainCustom:
		if !domain.IsValidDomain(name) {
			badRequest(w, "Invalid domain format")
			return
		}
	case models.DomainSubdomain:
		if !domain.IsValidSubdomain(name) {
			badRequest(w, "Invalid subdomain format")
			return
		}
		name = name + "." + h.cfg.RootDomain
	}

	client, err := scoped(h.db, r, req.TenantID)
	if err != nil {
		respondError(w, err)
		return
	}

	if taken, err := h.domainTaken(r.Context(), name); err != nil {
		respondError(w, err)
		return
	} else if taken {
		respondError(w, apperrors.Conflict("Domain already exists"))
		return
	}

	token, err := domain.GenerateVerificationToken()
	if err != nil {
		respondError(w, err)
		return
	}
	method := models.VerificationMethod(req.VerificationMethod)
	if method == "" {
		method = models.VerifyDNS
	}

	d, err := client.CreateDomain(r.Context(), database.Record{
		"domain":              name,
		"type":                req.Type,
		"status":              models.DomainPending,
		"verification_token":  token,
		"verification_method": method,
		"ssl_enabled":         false,
		"ssl_status":          models.SSLPending,
		"created_at":          time.Now().UTC(),
		"updated_at":          time.Now().UTC(),
	})
	if err != nil {
		respondError(w, err)
		return
	}

	h.audit.Record(r.Context(), audit.LogEntry{
		TenantID:     d.TenantID,
		Action:       "domain.created",
		ResourceType: "domain",
		ResourceID:   d.ID,
		Details:      map[string]any{"domain": d.Domain, "type": d.Type},
		IPAddress:    clientIP(r),
	})
	respond(w, http.StatusCreated, domainResponse{Domain: d, VerificationRecords: h.verifier.Records(d.Domain, token)})
}

// domainTaken ignores expired rows so a released domain can be claimed again.
func (h *DomainHandler) domainTaken(ctx context.Context, name string) (bool, error) {
	page, err := h.db.FindMany(ctx, database.TableDomains, database.QueryOptions{
		Filter: map[string]any{"domain": name},
	})
	if err != nil {
		return false, err
	}
	for _, rec := range page.Records {
		if rec.String("status") != string(models.DomainExpired) {
			return true, nil
		}
	}
	return false, nil
}

// updateDomainRequest carries the fields a tenant may edit. Status and SSL
// state are decoded only to reject them: they move through verification.
type updateDomainRequest struct {
	VerificationMethod string         `json:"verification_method" validate:"omitempty,oneof=dns file cname"`
	Settings           map[string]any `json:"settings"`

	Status     string `json:"status"`
	SSLEnabled *bool  `json:"ssl_enabled"`
	SSLStatus  string `json:"ssl_status"`
}

const msgStatusReadOnly = "Domain status can only change through verification"

func (h *DomainHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		badRequest(w, "Domain ID is required")
		return
	}
	var req updateDomainRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.Status != "" || req.SSLStatus != "" || req.SSLEnabled != nil {
		badRequest(w, msgStatusReadOnly)
		return
	}
	if err := validation.Validate(req); err != nil {
		respondError(w, err)
		return
	}

	client, err := scoped(h.db, r, "")
	if err != nil {
		respondError(w, err)
		return
	}
	current, err := client.GetDomain(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if current.Status == models.DomainExpired {
		respondError(w, apperrors.Conflict(dns.MsgDomainExpired))
		return
	}

	data := database.Record{}
	if req.VerificationMethod != "" {
		data["verification_method"] = req.VerificationMethod
	}
	if req.Settings != nil {
		settings := maps.Clone(req.Settings)
		// provider record ids are owned by the DNS workflow
		delete(settings, "dns_records")
		if recs, ok := current.Settings["dns_records"]; ok {
			settings["dns_records"] = recs
		}
		data["settings"] = settings
	}
	if len(data) == 0 {
		respond(w, http.StatusOK, current)
		return
	}
	d, err := client.UpdateDomain(r.Context(), id, data)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, d)
}

// Delete expires the domain. Managed DNS records are removed first when the
// provider is configured.
func (h *DomainHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		badRequest(w, "Domain ID is required")
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

	if _, managed := d.ManagedRecords(); managed && h.dns.IsAvailable() {
		if res := h.dns.RemoveCustomDomain(r.Context(), id); !res.Success {
			writeJSON(w, http.StatusBadGateway, envelope{Error: "DNS remove failed", Details: res.Errors})
			return
		}
	} else if err := client.DeleteDomain(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}

	h.invalidate(r.Context(), d.Domain)
	h.audit.Record(r.Context(), audit.LogEntry{
		TenantID:     d.TenantID,
		Action:       "domain.deleted",
		ResourceType: "domain",
		ResourceID:   d.ID,
		Details:      map[string]any{"domain": d.Domain},
		IPAddress:    clientIP(r),
	})
	respond(w, http.StatusOK, map[string]any{"id": id, "status": models.DomainExpired})
}

type verifyDomainRequest struct {
	DomainID string `json:"domain_id" validate:"required,notblank"`
}

type verificationResults struct {
	OwnershipVerified bool     `json:"ownership_verified"`
	DNSConfigured     bool     `json:"dns_configured"`
	SSLVerified       bool     `json:"ssl_verified"`
	Errors            []string `json:"errors"`
}

// Verify checks ownership and routing with live DNS lookups. A domain that
// passes both becomes verified; otherwise its status is left as it was.
func (h *DomainHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyDomainRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := validation.Validate(req); err != nil {
		respondError(w, err)
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
	if d.Status == models.DomainExpired {
		respondError(w, apperrors.Conflict(dns.MsgDomainExpired))
		return
	}

	res := verificationResults{Errors: []string{}}
	if d.VerificationToken != "" {
		res.OwnershipVerified = h.verifier.VerifyDomainOwnership(r.Context(), d.Domain, d.VerificationToken)
	} else {
		res.Errors = append(res.Errors, dns.MsgTokenMissing)
	}
	if res.OwnershipVerified {
		res.DNSConfigured = h.verifier.CheckDomainPointing(r.Context(), d.Domain)
	}
	if d.Type == models.DomainCustom && h.cfg.Production {
		res.SSLVerified = h.verifier.CheckSSLCertificate(r.Context(), d.Domain)
	} else {
		res.SSLVerified = true
	}

	status, sslStatus := d.Status, d.SSLStatus
	if res.OwnershipVerified && res.DNSConfigured {
		status = models.DomainVerified
		if res.SSLVerified {
			sslStatus = models.SSLActive
		}
	}

	if status != d.Status || sslStatus != d.SSLStatus {
		data := database.Record{"status": status, "ssl_status": sslStatus}
		if status == models.DomainVerified && d.Status != models.DomainVerified {
			data["verified_at"] = time.Now().UTC()
		}
		if _, err := client.UpdateDomain(r.Context(), d.ID, data); err != nil {
			respondError(w, err)
			return
		}
		h.invalidate(r.Context(), d.Domain)
		if status == models.DomainVerified && d.Status != models.DomainVerified && h.events != nil {
			payload := map[string]any{"domain_id": d.ID, "domain": d.Domain, "tenant_id": d.TenantID}
			if err := h.events.Publish(r.Context(), d.TenantID, dns.EventDomainVerified, payload); err != nil {
				h.logger.Warn("publish domain event failed", "domain", d.Domain, "error", err)
			}
		}
	}

	respond(w, http.StatusOK, map[string]any{
		"domain_id":            d.ID,
		"status":               status,
		"ssl_status":           sslStatus,
		"verification_results": res,
	})
}

type instruction struct {
	Step        int    `json:"step"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Action      string `json:"action"`
}

// Instructions returns the records to publish plus human-readable steps.
func (h *DomainHandler) Instructions(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("domain_id")
	if id == "" {
		badRequest(w, "Domain ID is required")
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

	respond(w, http.StatusOK, map[string]any{
		"domain":              d.Domain,
		"type":                d.Type,
		"verification_method": d.VerificationMethod,
		"records":             h.verifier.Records(d.Domain, d.VerificationToken),
		"instructions":        instructionsFor(d),
	})
}

func instructionsFor(d *models.Domain) []instruction {
	if d.Type == models.DomainSubdomain {
		return []instruction{{
			Step:        1,
			Title:       "Subdomain Configuration",
			Description: "Your subdomain " + d.Domain + " will be automatically configured once verified.",
			Action:      "No action required for subdomains.",
		}}
	}
	return []instruction{
		{
			Step:        1,
			Title:       "Add DNS Records",
			Description: "Add the following DNS records to your domain:",
			Action:      "Log in to your domain registrar and add the TXT record for verification.",
		},
		{
			Step:        2,
			Title:       "Point Domain to Our Servers",
			Description: "Configure your domain to point to our servers:",
			Action:      "Add the CNAME or A record to route traffic to our servers.",
		},
		{
			Step:        3,
			Title:       "SSL Certificate",
			Description: "SSL certificate will be automatically generated once DNS is configured.",
			Action:      "Wait for automatic SSL provisioning (usually takes 5-10 minutes).",
		},
	}
}

func (h *DomainHandler) invalidate(ctx context.Context, identifiers ...string) {
	if h.cache != nil {
		h.cache.Invalidate(ctx, identifiers...)
	}
}

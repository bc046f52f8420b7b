package handlers

import (
	"net/http"

	"github.com/nikhilbhutani/tenantgate/internal/apperrors"
	"github.com/nikhilbhutani/tenantgate/internal/audit"
	"github.com/nikhilbhutani/tenantgate/internal/database"
	"github.com/nikhilbhutani/tenantgate/internal/domain"
	"github.com/nikhilbhutani/tenantgate/internal/models"
	"github.com/nikhilbhutani/tenantgate/internal/tenant"
	"github.com/nikhilbhutani/tenantgate/internal/validation"
)

type TenantHandler struct {
	db      database.Client
	tenants *tenant.Service
	parser  *domain.Parser
	audit   *audit.Service
	urls    DomainHandlerConfig
}

// NewTenantHandler builds tenant links from urls.RootDomain, over https in
// production.
func NewTenantHandler(db database.Client, tenants *tenant.Service, parser *domain.Parser, auditSvc *audit.Service, urls DomainHandlerConfig) *TenantHandler {
	return &TenantHandler{db: db, tenants: tenants, parser: parser, audit: auditSvc, urls: urls}
}

type domainSummary struct {
	ID         string              `json:"id"`
	Domain     string              `json:"domain"`
	Type       models.DomainType   `json:"type"`
	Status     models.DomainStatus `json:"status"`
	SSLEnabled bool                `json:"ssl_enabled"`
	SSLStatus  models.SSLStatus    `json:"ssl_status"`
	VerifiedAt any                 `json:"verified_at"`
	URL        string              `json:"url,omitempty"`
}

// domainURL links to a domain that serves the tenant: platform subdomains
// always, custom domains once verified.
func (h *TenantHandler) domainURL(t *models.Tenant, d models.Domain) string {
	switch {
	case d.Status == models.DomainExpired:
		return ""
	case d.Type == models.DomainSubdomain:
		return domain.BuildTenantURL(t.Slug, h.urls.RootDomain, "/", h.urls.Production)
	case d.Status == models.DomainVerified:
		return domain.BuildCustomDomainURL(d.Domain, "/", h.urls.Production)
	}
	return ""
}

// Current describes the tenant that owns the request host.
func (h *TenantHandler) Current(w http.ResponseWriter, r *http.Request) {
	if r.Host == "" {
		badRequest(w, "Invalid host header")
		return
	}
	info := h.parser.Parse(r.Host)
	identifier, ok := domain.ExtractTenantIdentifier(info)
	if !ok {
		writeJSON(w, http.StatusNotFound, envelope{Error: "No tenant identifier found"})
		return
	}

	var (
		t   *models.Tenant
		err error
	)
	if info.IsSubdomain {
		t, err = h.db.GetTenantBySlug(r.Context(), identifier)
	} else {
		t, err = h.db.GetTenantByDomain(r.Context(), identifier)
	}
	if err != nil {
		writeJSON(w, http.StatusNotFound, envelope{Error: "Tenant not found"})
		return
	}
	if !t.IsActive() {
		writeJSON(w, http.StatusForbidden, envelope{Error: "Tenant is not active"})
		return
	}

	summaries := []domainSummary{}
	if domains, err := h.db.GetDomainsByTenant(r.Context(), t.ID); err == nil {
		for _, d := range domains {
			s := domainSummary{
				ID:         d.ID,
				Domain:     d.Domain,
				Type:       d.Type,
				Status:     d.Status,
				SSLEnabled: d.SSLEnabled,
				SSLStatus:  d.SSLStatus,
				URL:        h.domainURL(t, d),
			}
			if d.VerifiedAt != nil {
				s.VerifiedAt = d.VerifiedAt
			}
			summaries = append(summaries, s)
		}
	}

	settings := t.Settings
	if settings == nil {
		settings = map[string]any{}
	}
	respond(w, http.StatusOK, map[string]any{
		"tenant_id":      t.ID,
		"tenant_name":    t.Name,
		"tenant_slug":    t.Slug,
		"tenant_plan":    t.Plan,
		"tenant_status":  t.Status,
		"tenant_url":     domain.BuildTenantURL(t.Slug, h.urls.RootDomain, "/", h.urls.Production),
		"domain_type":    info.Type(),
		"current_domain": info.Domain,
		"domains":        summaries,
		"settings":       settings,
		"created_at":     t.CreatedAt,
		"updated_at":     t.UpdatedAt,
	})
}

// List finds tenants by slug, domain or owner. Without a filter it lists
// the newest tenants, which only platform admins may do.
func (h *TenantHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ctx := r.Context()

	switch {
	case q.Get("slug") != "":
		t, err := h.db.GetTenantBySlug(ctx, q.Get("slug"))
		if err != nil {
			respondError(w, err)
			return
		}
		respond(w, http.StatusOK, t)
	case q.Get("domain") != "":
		t, err := h.db.GetTenantByDomain(ctx, q.Get("domain"))
		if err != nil {
			respondError(w, err)
			return
		}
		respond(w, http.StatusOK, t)
	case q.Get("owner_id") != "":
		h.listTenants(w, r, database.QueryOptions{
			Filter: map[string]any{"owner_id": q.Get("owner_id"), "status": string(models.TenantActive)},
			Sort:   []database.SortField{{Field: "created_at", Desc: true}},
		})
	default:
		if u := tenant.UserFromContext(ctx); u == nil || u.Role != models.RoleAdmin {
			respondError(w, apperrors.AccessDenied("listing all tenants requires the admin role"))
			return
		}
		h.listTenants(w, r, database.QueryOptions{
			Sort:   []database.SortField{{Field: "created_at", Desc: true}},
			Limit:  queryInt(r, "limit", 50),
			Offset: queryInt(r, "offset", 0),
		})
	}
}

func (h *TenantHandler) listTenants(w http.ResponseWriter, r *http.Request, opts database.QueryOptions) {
	page, err := h.db.FindMany(r.Context(), database.TableTenants, opts)
	if err != nil {
		respondError(w, err)
		return
	}
	tenants, err := database.DecodeAll[models.Tenant](page.Records)
	if err != nil {
		respondError(w, err)
		return
	}
	respondPage(w, tenants, page.Pagination)
}

func (h *TenantHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in tenant.CreateInput
	if err := decodeJSON(w, r, &in); err != nil {
		respondError(w, err)
		return
	}
	if in.OwnerID == "" {
		if u := tenant.UserFromContext(r.Context()); u != nil {
			in.OwnerID = u.ID
		}
	}
	if in.OwnerID == "" {
		respondError(w, apperrors.Validation("owner_id is required").WithDetails(map[string]any{"owner_id": "owner_id is required"}))
		return
	}

	t, err := h.tenants.Create(r.Context(), in)
	if err != nil {
		respondError(w, err)
		return
	}
	// a user without a tenant becomes the owner of the one they create
	if u := tenant.UserFromContext(r.Context()); u != nil && u.TenantID == "" && u.ID == in.OwnerID {
		if _, err := h.db.UpdateProfile(r.Context(), u.ID, database.Record{
			"tenant_id": t.ID,
			"role":      models.RoleOwner,
		}); err != nil {
			respondError(w, err)
			return
		}
	}
	h.audit.Record(r.Context(), audit.LogEntry{
		TenantID:     t.ID,
		Action:       "tenant.created",
		ResourceType: "tenant",
		ResourceID:   t.ID,
		Details:      map[string]any{"slug": t.Slug, "plan": t.Plan},
		IPAddress:    clientIP(r),
	})
	respond(w, http.StatusCreated, t)
}

type updateTenantRequest struct {
	Name     *string        `json:"name" validate:"omitempty,notblank,max=100"`
	Slug     *string        `json:"slug" validate:"omitempty,min=3,max=63"`
	Plan     string         `json:"plan" validate:"omitempty,oneof=free pro enterprise"`
	Status   string         `json:"status" validate:"omitempty,oneof=active suspended deleted"`
	Settings map[string]any `json:"settings"`
}

func (h *TenantHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		badRequest(w, "Tenant ID is required")
		return
	}
	var req updateTenantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := validation.Validate(req); err != nil {
		respondError(w, err)
		return
	}

	data := database.Record{}
	if req.Name != nil {
		data["name"] = *req.Name
	}
	if req.Slug != nil {
		data["slug"] = *req.Slug
	}
	if req.Plan != "" {
		data["plan"] = req.Plan
	}
	if req.Status != "" {
		data["status"] = req.Status
	}
	if req.Settings != nil {
		data["settings"] = req.Settings
	}

	client, err := scoped(h.db, r, "")
	if err != nil {
		respondError(w, err)
		return
	}
	t, err := h.tenants.Update(r.Context(), client, id, data)
	if err != nil {
		respondError(w, err)
		return
	}
	h.audit.Record(r.Context(), audit.LogEntry{
		TenantID:     t.ID,
		Action:       "tenant.updated",
		ResourceType: "tenant",
		ResourceID:   t.ID,
		Details:      map[string]any(data),
		IPAddress:    clientIP(r),
	})
	respond(w, http.StatusOK, t)
}

// Delete soft-deletes the tenant and expires its domains.
func (h *TenantHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		badRequest(w, "Tenant ID is required")
		return
	}
	client, err := scoped(h.db, r, "")
	if err != nil {
		respondError(w, err)
		return
	}
	if err := h.tenants.Delete(r.Context(), client, id); err != nil {
		respondError(w, err)
		return
	}
	h.audit.Record(r.Context(), audit.LogEntry{
		TenantID:     id,
		Action:       "tenant.deleted",
		ResourceType: "tenant",
		ResourceID:   id,
		IPAddress:    clientIP(r),
	})
	respond(w, http.StatusOK, map[string]any{"id": id, "status": models.TenantDeleted})
}

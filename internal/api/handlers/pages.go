package handlers

import (
	"net/http"

	"github.com/nikhilbhutani/tenantgate/internal/tenant"
)

// TenantPage answers requests the resolver rewrote under /tenant. The UI
// renders these paths; the API reports which tenant and page were routed.
func TenantPage(w http.ResponseWriter, r *http.Request) {
	t := tenant.FromContext(r.Context())
	if t == nil {
		writeJSON(w, http.StatusNotFound, envelope{Error: "Tenant not found"})
		return
	}
	identifier, kind := tenant.IdentifierFromContext(r.Context())
	respond(w, http.StatusOK, map[string]any{
		"tenant_id":   t.ID,
		"tenant_slug": t.Slug,
		"identifier":  identifier,
		"domain_type": kind,
		"path":        r.URL.Path,
	})
}

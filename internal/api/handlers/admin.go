package handlers

import (
	"net/http"
	"time"

	"github.com/nikhilbhutani/tenantgate/internal/audit"
)

type AdminHandler struct {
	auditSvc *audit.Service
}

func NewAdminHandler(auditSvc *audit.Service) *AdminHandler {
	return &AdminHandler{auditSvc: auditSvc}
}

func (h *AdminHandler) AuditLogs(w http.ResponseWriter, r *http.Request) {
	tenantID, err := requireTenant(r)
	if err != nil {
		respondError(w, err)
		return
	}

	q := audit.AuditQuery{
		Action: r.URL.Query().Get("action"),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	if q.Limit == 0 || q.Limit > 200 {
		q.Limit = 50
	}

	if s := r.URL.Query().Get("start_date"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			badRequest(w, "start_date must be RFC3339")
			return
		}
		q.StartDate = &t
	}
	if s := r.URL.Query().Get("end_date"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			badRequest(w, "end_date must be RFC3339")
			return
		}
		q.EndDate = &t
	}

	logs, page, err := h.auditSvc.GetAuditLogs(r.Context(), tenantID, q)
	if err != nil {
		respondError(w, err)
		return
	}
	respondPage(w, logs, page)
}

package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"

	"github.com/nikhilbhutani/tenantgate/internal/database"
	"github.com/nikhilbhutani/tenantgate/internal/metrics"
	"github.com/nikhilbhutani/tenantgate/internal/tenant"
	"github.com/nikhilbhutani/tenantgate/internal/validation"
)

const levelCritical = "critical"

// ErrorReportHandler accepts error reports from browser clients.
type ErrorReportHandler struct {
	db      database.Client
	metrics *metrics.Metrics
	logger  *slog.Logger
	// persist every report, not only critical ones
	storeAll bool
}

func NewErrorReportHandler(db database.Client, m *metrics.Metrics, production bool, logger *slog.Logger) *ErrorReportHandler {
	return &ErrorReportHandler{db: db, metrics: m, logger: logger, storeAll: production}
}

type errorReportRequest struct {
	ID             string    `json:"id" validate:"omitempty,max=128"`
	Message        string    `json:"message" validate:"required,notblank,max=4096"`
	Stack          string    `json:"stack" validate:"max=65536"`
	ComponentStack string    `json:"componentStack" validate:"max=65536"`
	Level          string    `json:"level" validate:"omitempty,oneof=debug info warning error critical"`
	Timestamp      time.Time `json:"timestamp" validate:"required"`
	UserAgent      string    `json:"userAgent"`
	URL            string    `json:"url" validate:"max=2048"`
	UserID         string    `json:"userId"`
	SessionID      string    `json:"sessionId"`
	Digest         string    `json:"digest"`
}

// Report logs the error and stores critical reports, or all of them in
// production. Storage failures are logged and never surface to the client.
func (h *ErrorReportHandler) Report(w http.ResponseWriter, r *http.Request) {
	var req errorReportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := validation.Validate(req); err != nil {
		respondError(w, err)
		return
	}
	if req.ID == "" {
		req.ID = "error_" + uuid.NewString()
	}
	if req.Level == "" {
		req.Level = "error"
	}
	if req.UserAgent == "" {
		req.UserAgent = r.UserAgent()
	}

	reportCtx := map[string]any{
		"url":        req.URL,
		"referer":    r.Referer(),
		"user_agent": req.UserAgent,
		"client_ip":  clientIP(r),
		"session_id": req.SessionID,
		"digest":     req.Digest,
	}
	if req.UserAgent != "" {
		ua := useragent.New(req.UserAgent)
		browser, version := ua.Browser()
		reportCtx["browser"] = browser + " " + version
		reportCtx["os"] = ua.OS()
		reportCtx["mobile"] = ua.Mobile()
	}
	if identifier, _ := tenant.IdentifierFromContext(r.Context()); identifier != "" {
		reportCtx["tenant_identifier"] = identifier
	}
	// a signed-in user overrides whatever the client claims
	userID := req.UserID
	var tenantID string
	if u := tenant.UserFromContext(r.Context()); u != nil {
		userID, tenantID = u.ID, u.TenantID
	}

	h.metrics.IncClientError(req.Level)
	level := slog.LevelError
	switch req.Level {
	case "debug", "info":
		level = slog.LevelInfo
	case "warning":
		level = slog.LevelWarn
	}
	h.logger.Log(r.Context(), level, "client error reported",
		"error_id", req.ID,
		"level", req.Level,
		"message", req.Message,
		"tenant_id", tenantID,
		"user_id", userID,
		"url", req.URL,
	)

	if req.Level == levelCritical || h.storeAll {
		rec := database.Record{
			"id":         req.ID,
			"level":      req.Level,
			"message":    req.Message,
			"stack":      req.Stack,
			"context":    reportCtx,
			"created_at": req.Timestamp.UTC(),
		}
		if req.ComponentStack != "" {
			rec["component_stack"] = req.ComponentStack
		}
		if tenantID != "" {
			rec["tenant_id"] = tenantID
		}
		if userID != "" {
			rec["user_id"] = userID
		}
		if _, err := h.db.Create(r.Context(), database.TableErrorLogs, rec); err != nil {
			h.logger.Warn("store error report failed", "error_id", req.ID, "error", err)
		}
	}

	respond(w, http.StatusOK, map[string]any{"error_id": req.ID, "message": "Error reported successfully"})
}

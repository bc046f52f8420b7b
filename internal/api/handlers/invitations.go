package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nikhilbhutani/tenantgate/internal/apperrors"
	"github.com/nikhilbhutani/tenantgate/internal/audit"
	"github.com/nikhilbhutani/tenantgate/internal/auth"
	"github.com/nikhilbhutani/tenantgate/internal/database"
	"github.com/nikhilbhutani/tenantgate/internal/models"
	"github.com/nikhilbhutani/tenantgate/internal/tenant"
	"github.com/nikhilbhutani/tenantgate/internal/validation"
)

const (
	defaultInvitationTTL = 7 * 24 * time.Hour

	msgInvitationInvalid = "Invitation is invalid or has expired"
	msgInvitationEmail   = "Invitation was issued for a different email"
)

type InvitationHandler struct {
	db    database.Client
	audit *audit.Service
	ttl   time.Duration
}

func NewInvitationHandler(db database.Client, auditSvc *audit.Service) *InvitationHandler {
	return &InvitationHandler{db: db, audit: auditSvc, ttl: defaultInvitationTTL}
}

type createInvitationRequest struct {
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"omitempty,oneof=admin member user"`
}

// Create invites an email address into the caller's tenant. The plain token
// is only returned in this response.
func (h *InvitationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createInvitationRequest
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

	plain, hash, err := auth.GenerateInvitationToken()
	if err != nil {
		respondError(w, err)
		return
	}
	role := models.Role(req.Role)
	if role == "" {
		role = models.RoleMember
	}
	now := time.Now().UTC()
	rec := database.Record{
		"id":         uuid.NewString(),
		"email":      strings.ToLower(strings.TrimSpace(req.Email)),
		"role":       role,
		"token_hash": hash,
		"expires_at": now.Add(h.ttl),
		"created_at": now,
	}
	if uid := client.Context().UserID; uid != "" {
		rec["invited_by"] = uid
	}

	created, err := client.Create(r.Context(), database.TableInvitations, rec)
	if err != nil {
		respondError(w, err)
		return
	}
	inv, err := database.Decode[models.Invitation](created)
	if err != nil {
		respondError(w, err)
		return
	}
	inv.TokenHash = ""

	h.audit.Record(r.Context(), audit.LogEntry{
		Action:       "invitation.created",
		ResourceType: "invitation",
		ResourceID:   inv.ID,
		Details:      map[string]any{"email": inv.Email, "role": inv.Role},
		IPAddress:    clientIP(r),
	})
	respond(w, http.StatusCreated, map[string]any{"invitation": inv, "token": plain})
}

func (h *InvitationHandler) List(w http.ResponseWriter, r *http.Request) {
	client, err := scoped(h.db, r, "")
	if err != nil {
		respondError(w, err)
		return
	}
	page, err := client.FindMany(r.Context(), database.TableInvitations, database.QueryOptions{
		Sort: []database.SortField{{Field: "created_at", Desc: true}},
	})
	if err != nil {
		respondError(w, err)
		return
	}
	invs, err := database.DecodeAll[models.Invitation](page.Records)
	if err != nil {
		respondError(w, err)
		return
	}
	for i := range invs {
		invs[i].TokenHash = ""
	}
	respond(w, http.StatusOK, invs)
}

// Delete revokes an invitation.
func (h *InvitationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	client, err := scoped(h.db, r, "")
	if err != nil {
		respondError(w, err)
		return
	}
	if err := client.Delete(r.Context(), database.TableInvitations, id); err != nil {
		respondError(w, err)
		return
	}
	h.audit.Record(r.Context(), audit.LogEntry{
		Action:       "invitation.revoked",
		ResourceType: "invitation",
		ResourceID:   id,
		IPAddress:    clientIP(r),
	})
	respondMessage(w, http.StatusOK, "deleted")
}

type acceptInvitationRequest struct {
	Token string `json:"token" validate:"required,notblank"`
}

// Accept binds a signed-in user without a tenant to the inviting tenant.
func (h *InvitationHandler) Accept(w http.ResponseWriter, r *http.Request) {
	user := tenant.UserFromContext(r.Context())
	if user == nil {
		respondError(w, apperrors.New(apperrors.KindUnauthorized, "not authenticated"))
		return
	}
	if user.TenantID != "" {
		respondError(w, apperrors.Conflict("User already belongs to a tenant"))
		return
	}
	var req acceptInvitationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := validation.Validate(req); err != nil {
		respondError(w, err)
		return
	}

	inv, err := findInvitation(r.Context(), h.db, req.Token, user.Email)
	if err != nil {
		respondError(w, err)
		return
	}
	updated, err := h.db.UpdateProfile(r.Context(), user.ID, database.Record{
		"tenant_id": inv.TenantID,
		"role":      inv.Role,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	markAccepted(r.Context(), h.db, inv)

	h.audit.Record(r.Context(), audit.LogEntry{
		TenantID:     inv.TenantID,
		Action:       "invitation.accepted",
		ResourceType: "invitation",
		ResourceID:   inv.ID,
		IPAddress:    clientIP(r),
	})
	respond(w, http.StatusOK, updated)
}

// findInvitation returns the open invitation for token. It must be addressed
// to email, unaccepted and unexpired.
func findInvitation(ctx context.Context, db database.Client, token, email string) (*models.Invitation, error) {
	rec, err := db.FindOne(ctx, database.TableInvitations, map[string]any{
		"token_hash": auth.HashAPIKey(strings.TrimSpace(token)),
	}, database.QueryOptions{})
	if err != nil {
		if database.IsNotFound(err) {
			return nil, apperrors.NotFound(msgInvitationInvalid)
		}
		return nil, err
	}
	inv, err := database.Decode[models.Invitation](rec)
	if err != nil {
		return nil, err
	}
	if inv.AcceptedAt != nil || time.Now().After(inv.ExpiresAt) {
		return nil, apperrors.NotFound(msgInvitationInvalid)
	}
	if !strings.EqualFold(inv.Email, strings.TrimSpace(email)) {
		return nil, apperrors.AccessDenied(msgInvitationEmail)
	}
	return inv, nil
}

func markAccepted(ctx context.Context, db database.Client, inv *models.Invitation) {
	if _, err := db.Update(ctx, database.TableInvitations, inv.ID, database.Record{
		"accepted_at": time.Now().UTC(),
	}); err != nil {
		slog.Warn("mark invitation accepted failed", "invitation_id", inv.ID, "error", err)
	}
}

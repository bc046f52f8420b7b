package handlers

import (
	"net/http"

	"github.com/nikhilbhutani/tenantgate/internal/apperrors"
	"github.com/nikhilbhutani/tenantgate/internal/audit"
	"github.com/nikhilbhutani/tenantgate/internal/auth"
	"github.com/nikhilbhutani/tenantgate/internal/database"
	"github.com/nikhilbhutani/tenantgate/internal/models"
	"github.com/nikhilbhutani/tenantgate/internal/tenant"
	"github.com/nikhilbhutani/tenantgate/internal/validation"
)

type AuthHandler struct {
	db    database.Client
	audit *audit.Service
}

func NewAuthHandler(db database.Client, auditSvc *audit.Service) *AuthHandler {
	return &AuthHandler{db: db, audit: auditSvc}
}

type signUpRequest struct {
	Email           string         `json:"email" validate:"required,email"`
	Password        string         `json:"password" validate:"required,min=8,max=72"`
	Name            string         `json:"name" validate:"omitempty,notblank,max=100"`
	InvitationToken string         `json:"invitation_token"`
	Metadata        map[string]any `json:"metadata"`
}

type signInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// SignUp registers a user without a tenant. An invitation token binds the
// new user to the inviting tenant with the invited role.
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := validation.Validate(req); err != nil {
		respondError(w, err)
		return
	}

	metadata := map[string]any{}
	for k, v := range req.Metadata {
		// tenant and role are never taken from the client
		if k != "tenant_id" && k != "role" {
			metadata[k] = v
		}
	}
	if req.Name != "" {
		metadata["name"] = req.Name
	}

	var client database.Client = h.db
	var inv *models.Invitation
	if req.InvitationToken != "" {
		var err error
		inv, err = findInvitation(r.Context(), h.db, req.InvitationToken, req.Email)
		if err != nil {
			respondError(w, err)
			return
		}
		client = tenant.NewScopedClient(h.db, tenant.Context{TenantID: inv.TenantID})
		metadata["role"] = string(inv.Role)
	}

	user, err := client.SignUp(r.Context(), req.Email, req.Password, metadata)
	if err != nil {
		respondError(w, err)
		return
	}
	if inv != nil {
		markAccepted(r.Context(), h.db, inv)
	}
	h.audit.Record(r.Context(), audit.LogEntry{
		TenantID:     user.TenantID,
		Action:       "user.signup",
		ResourceType: "user",
		ResourceID:   user.ID,
		IPAddress:    clientIP(r),
	})
	respond(w, http.StatusCreated, user)
}

func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := validation.Validate(req); err != nil {
		respondError(w, err)
		return
	}

	session, err := h.db.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		respondError(w, err)
		return
	}
	h.audit.Record(r.Context(), audit.LogEntry{
		TenantID:     session.User.TenantID,
		Action:       "user.signin",
		ResourceType: "user",
		ResourceID:   session.User.ID,
		IPAddress:    clientIP(r),
	})
	respond(w, http.StatusOK, session)
}

func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	token := auth.BearerToken(r)
	if token == "" {
		respondError(w, apperrors.New(apperrors.KindUnauthorized, "missing authorization token"))
		return
	}
	if err := h.db.SignOut(r.Context(), token); err != nil {
		respondError(w, err)
		return
	}
	respondMessage(w, http.StatusOK, "signed out")
}

// Me returns the authenticated user and, when bound, their tenant.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := tenant.UserFromContext(r.Context())
	if user == nil {
		respondError(w, apperrors.New(apperrors.KindUnauthorized, "not authenticated"))
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"user":   user,
		"tenant": tenant.FromContext(r.Context()),
	})
}

package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nikhilbhutani/tenantgate/internal/audit"
	"github.com/nikhilbhutani/tenantgate/internal/auth"
	"github.com/nikhilbhutani/tenantgate/internal/database"
	"github.com/nikhilbhutani/tenantgate/internal/models"
	"github.com/nikhilbhutani/tenantgate/internal/validation"
)

type APIKeyHandler struct {
	db    database.Client
	audit *audit.Service
}

func NewAPIKeyHandler(db database.Client, auditSvc *audit.Service) *APIKeyHandler {
	return &APIKeyHandler{db: db, audit: auditSvc}
}

type createAPIKeyRequest struct {
	Name      string     `json:"name" validate:"required,notblank,max=100"`
	Role      string     `json:"role" validate:"omitempty,oneof=admin member user"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// Create issues a key for the caller's tenant. The plain key is only
// returned in this response.
func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAPIKeyRequest
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

	plain, hash, err := auth.GenerateAPIKey()
	if err != nil {
		respondError(w, err)
		return
	}
	role := models.Role(req.Role)
	if role == "" {
		role = models.RoleMember
	}
	rec := database.Record{
		"id":         uuid.NewString(),
		"key_hash":   hash,
		"name":       req.Name,
		"role":       role,
		"created_at": time.Now().UTC(),
	}
	if uid := client.Context().UserID; uid != "" {
		rec["user_id"] = uid
	}
	if req.ExpiresAt != nil {
		rec["expires_at"] = req.ExpiresAt.UTC()
	}

	created, err := client.Create(r.Context(), database.TableAPIKeys, rec)
	if err != nil {
		respondError(w, err)
		return
	}
	key, err := database.Decode[models.APIKey](created)
	if err != nil {
		respondError(w, err)
		return
	}
	key.KeyHash = ""

	h.audit.Record(r.Context(), audit.LogEntry{
		Action:       "apikey.created",
		ResourceType: "api_key",
		ResourceID:   key.ID,
		Details:      map[string]any{"name": key.Name, "role": key.Role},
		IPAddress:    clientIP(r),
	})
	respond(w, http.StatusCreated, map[string]any{"api_key": key, "key": plain})
}

func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	client, err := scoped(h.db, r, "")
	if err != nil {
		respondError(w, err)
		return
	}
	page, err := client.FindMany(r.Context(), database.TableAPIKeys, database.QueryOptions{
		Sort: []database.SortField{{Field: "created_at", Desc: true}},
	})
	if err != nil {
		respondError(w, err)
		return
	}
	keys, err := database.DecodeAll[models.APIKey](page.Records)
	if err != nil {
		respondError(w, err)
		return
	}
	for i := range keys {
		keys[i].KeyHash = ""
	}
	respond(w, http.StatusOK, keys)
}

func (h *APIKeyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	client, err := scoped(h.db, r, "")
	if err != nil {
		respondError(w, err)
		return
	}
	if err := client.Delete(r.Context(), database.TableAPIKeys, id); err != nil {
		respondError(w, err)
		return
	}
	h.audit.Record(r.Context(), audit.LogEntry{
		Action:       "apikey.deleted",
		ResourceType: "api_key",
		ResourceID:   id,
		IPAddress:    clientIP(r),
	})
	respondMessage(w, http.StatusOK, "deleted")
}

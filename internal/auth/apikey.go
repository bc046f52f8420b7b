package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nikhilbhutani/tenantgate/internal/database"
	"github.com/nikhilbhutani/tenantgate/internal/models"
	"github.com/nikhilbhutani/tenantgate/internal/tenant"
)

const (
	apiKeyPrefix     = "tg_"
	invitationPrefix = "tgi_"
)

type APIKeyMiddleware struct {
	db         database.Client
	headerName string
	logger     *slog.Logger
}

func NewAPIKeyMiddleware(db database.Client, headerName string, logger *slog.Logger) *APIKeyMiddleware {
	if headerName == "" {
		headerName = "X-API-Key"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &APIKeyMiddleware{db: db, headerName: headerName, logger: logger}
}

// Authenticate resolves the key header into a tenant and acting user.
// Requests without the header pass through untouched.
func (m *APIKeyMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(m.headerName)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		hash := HashAPIKey(key)
		rec, err := m.db.FindOne(r.Context(), database.TableAPIKeys, map[string]any{"key_hash": hash}, database.QueryOptions{})
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		ak, err := database.Decode[models.APIKey](rec)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "invalid API key record")
			return
		}

		if ak.ExpiresAt != nil && ak.ExpiresAt.Before(time.Now()) {
			writeError(w, http.StatusUnauthorized, "API key expired")
			return
		}
		if subtle.ConstantTimeCompare([]byte(ak.KeyHash), []byte(hash)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		go m.touch(context.WithoutCancel(r.Context()), ak.ID)

		t, err := m.db.GetTenant(r.Context(), ak.TenantID)
		if err != nil || !t.IsActive() {
			writeError(w, http.StatusUnauthorized, "tenant not found")
			return
		}

		role := ak.Role
		if !role.Valid() {
			role = models.RoleMember
		}
		userID := ak.UserID
		if userID == "" {
			userID = "apikey:" + ak.ID
		}
		ctx := tenant.WithTenant(r.Context(), t)
		ctx = tenant.WithUser(ctx, &models.User{ID: userID, TenantID: t.ID, Role: role, Status: "active"})

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *APIKeyMiddleware) touch(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := m.db.Update(ctx, database.TableAPIKeys, id, database.Record{"last_used_at": time.Now().UTC()}); err != nil {
		m.logger.Warn("update api key last_used_at failed", "key_id", id, "error", err)
	}
}

func HashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// GenerateAPIKey returns a new plaintext key and its stored hash.
func GenerateAPIKey() (plain, hash string, err error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate api key: %w", err)
	}
	plain = apiKeyPrefix + hex.EncodeToString(b)
	return plain, HashAPIKey(plain), nil
}

// GenerateInvitationToken returns a one-time invitation token and its stored
// hash.
func GenerateInvitationToken() (plain, hash string, err error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate invitation token: %w", err)
	}
	plain = invitationPrefix + hex.EncodeToString(b)
	return plain, HashAPIKey(plain), nil
}

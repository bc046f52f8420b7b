package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nikhilbhutani/tenantgate/internal/apperrors"
	"github.com/nikhilbhutani/tenantgate/internal/database"
	"github.com/nikhilbhutani/tenantgate/internal/models"
	"github.com/nikhilbhutani/tenantgate/internal/tenant"
)

// JWTMiddleware resolves bearer tokens through the client's authenticator,
// so it works for both local and Supabase sessions.
type JWTMiddleware struct {
	db     database.Client
	logger *slog.Logger
}

func NewJWTMiddleware(db database.Client, logger *slog.Logger) *JWTMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &JWTMiddleware{db: db, logger: logger}
}

// Authenticate rejects requests without a valid session. Requests already
// authenticated by an API key pass through.
func (m *JWTMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tenant.UserFromContext(r.Context()) != nil {
			next.ServeHTTP(w, r)
			return
		}
		tokenStr := extractBearerToken(r)
		if tokenStr == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization token")
			return
		}
		ctx, err := m.attach(r.Context(), tokenStr)
		if err != nil {
			writeError(w, apperrors.HTTPStatus(err), err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Optional attaches the user when a valid token is present and otherwise
// leaves the request untouched.
func (m *JWTMiddleware) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractBearerToken(r)
		if tokenStr == "" || tenant.UserFromContext(r.Context()) != nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx, err := m.attach(r.Context(), tokenStr)
		if err != nil {
			m.logger.Debug("ignoring invalid bearer token", "error", err)
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *JWTMiddleware) attach(ctx context.Context, token string) (context.Context, error) {
	user, err := m.db.GetCurrentUser(ctx, token)
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindInternal {
			return nil, unauthorized("invalid token")
		}
		return nil, err
	}
	ctx = tenant.WithUser(ctx, user)
	ctx = context.WithValue(ctx, tokenKey, token)

	if user.TenantID != "" && tenant.FromContext(ctx) == nil {
		t, err := m.db.GetTenant(ctx, user.TenantID)
		if err != nil {
			return nil, unauthorized("tenant not found")
		}
		ctx = tenant.WithTenant(ctx, t)
	}
	return ctx, nil
}

type ctxKey string

const tokenKey ctxKey = "token"

// TokenFromContext returns the bearer token the request was authenticated with.
func TokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey).(string)
	return t
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// BearerToken exposes header parsing to handlers such as sign-out.
func BearerToken(r *http.Request) string {
	return extractBearerToken(r)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// RequireRole lets the request through when the acting user holds one of
// roles. The role comes from the authenticated user, or from the tenant
// context headers when no user is attached.
func RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var role models.Role
			if u := tenant.UserFromContext(r.Context()); u != nil {
				role = u.Role
			} else if tc, ok := tenant.ExtractContext(r); ok {
				role = tc.UserRole
			}
			if role == "" {
				writeError(w, http.StatusForbidden, "no role in context")
				return
			}
			for _, allowed := range roles {
				if role == allowed {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "insufficient permissions")
		})
	}
}

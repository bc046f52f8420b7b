package tenant

import (
	"context"
	"net/http"
	"strings"

	"github.com/nikhilbhutani/tenantgate/internal/models"
)

const (
	HeaderTenantIdentifier = "X-Tenant-Identifier"
	HeaderDomainType       = "X-Domain-Type"
	HeaderUserID           = "X-User-Id"
	HeaderUserRole         = "X-User-Role"
)

// Context identifies who is acting and on behalf of which tenant.
type Context struct {
	TenantID string
	UserID   string
	UserRole models.Role
}

func (c Context) HasRole(roles ...models.Role) bool {
	for _, r := range roles {
		if c.UserRole == r {
			return true
		}
	}
	return false
}

type contextKey string

const (
	tenantKey  contextKey = "tenant"
	userKey    contextKey = "user"
	scopeKey   contextKey = "tenant_context"
	identKey   contextKey = "tenant_identifier"
	domainType contextKey = "domain_type"
)

func WithTenant(ctx context.Context, t *models.Tenant) context.Context {
	return context.WithValue(ctx, tenantKey, t)
}

func FromContext(ctx context.Context) *models.Tenant {
	t, _ := ctx.Value(tenantKey).(*models.Tenant)
	return t
}

func IDFromContext(ctx context.Context) string {
	if t := FromContext(ctx); t != nil {
		return t.ID
	}
	return ""
}

func WithUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

func UserFromContext(ctx context.Context) *models.User {
	u, _ := ctx.Value(userKey).(*models.User)
	return u
}

// WithIdentifier records the host-derived identifier and domain type.
func WithIdentifier(ctx context.Context, identifier, kind string) context.Context {
	ctx = context.WithValue(ctx, identKey, identifier)
	return context.WithValue(ctx, domainType, kind)
}

func IdentifierFromContext(ctx context.Context) (identifier, kind string) {
	identifier, _ = ctx.Value(identKey).(string)
	kind, _ = ctx.Value(domainType).(string)
	return identifier, kind
}

func WithScope(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, scopeKey, tc)
}

func ScopeFromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(scopeKey).(Context)
	return tc, ok
}

// ExtractContext builds the tenant context for a request. A scope placed on
// the request context wins. An authenticated user acts only within their own
// tenant, whatever the headers say. The x-tenant-identifier, x-user-id and
// x-user-role headers are read only when no user is attached. It reports
// false when no tenant can be determined.
func ExtractContext(r *http.Request) (Context, bool) {
	ctx := r.Context()
	if tc, ok := ScopeFromContext(ctx); ok && tc.TenantID != "" {
		return tc, true
	}

	if u := UserFromContext(ctx); u != nil {
		if u.TenantID == "" {
			return Context{}, false
		}
		return Context{TenantID: u.TenantID, UserID: u.ID, UserRole: u.Role}, true
	}

	var tc Context
	if t := FromContext(ctx); t != nil {
		tc.TenantID = t.ID
	} else {
		tc.TenantID = strings.TrimSpace(r.Header.Get(HeaderTenantIdentifier))
	}
	if tc.TenantID == "" {
		return Context{}, false
	}
	tc.UserID = r.Header.Get(HeaderUserID)
	if role := models.Role(strings.ToLower(r.Header.Get(HeaderUserRole))); role.Valid() {
		tc.UserRole = role
	}
	return tc, true
}

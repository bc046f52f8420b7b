package tenant

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nikhilbhutani/tenantgate/internal/models"
)

func TestExtractContextFromHeaders(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/domains", nil)
	r.Header.Set("x-tenant-identifier", "t1")
	r.Header.Set("x-user-id", "u1")
	r.Header.Set("x-user-role", "Admin")

	tc, ok := ExtractContext(r)
	assert.True(t, ok)
	assert.Equal(t, Context{TenantID: "t1", UserID: "u1", UserRole: models.RoleAdmin}, tc)
}

func TestExtractContextMissingTenant(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/domains", nil)
	r.Header.Set("x-user-id", "u1")
	_, ok := ExtractContext(r)
	assert.False(t, ok)
}

func TestExtractContextIgnoresUnknownRole(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("x-tenant-identifier", "t1")
	r.Header.Set("x-user-role", "superuser")
	tc, ok := ExtractContext(r)
	assert.True(t, ok)
	assert.Empty(t, tc.UserRole)
}

func TestExtractContextPrefersRequestContext(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("x-tenant-identifier", "spoofed")
	r.Header.Set("x-user-role", "owner")

	ctx := WithTenant(r.Context(), &models.Tenant{ID: "t-real"})
	ctx = WithUser(ctx, &models.User{ID: "u-real", TenantID: "t-real", Role: models.RoleMember})
	tc, ok := ExtractContext(r.WithContext(ctx))
	assert.True(t, ok)
	assert.Equal(t, Context{TenantID: "t-real", UserID: "u-real", UserRole: models.RoleMember}, tc)
}

func TestExtractContextUserStaysInOwnTenant(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("x-tenant-identifier", "t-victim")
	r.Header.Set("x-user-role", "owner")

	// a user without a tenant cannot borrow one from headers
	ctx := WithUser(r.Context(), &models.User{ID: "u-1", Role: models.RoleOwner})
	_, ok := ExtractContext(r.WithContext(ctx))
	assert.False(t, ok)

	// nor from the host-resolved tenant
	ctx = WithTenant(ctx, &models.Tenant{ID: "t-host"})
	_, ok = ExtractContext(r.WithContext(ctx))
	assert.False(t, ok)

	ctx = WithUser(ctx, &models.User{ID: "u-1", TenantID: "t-own", Role: models.RoleAdmin})
	tc, ok := ExtractContext(r.WithContext(ctx))
	assert.True(t, ok)
	assert.Equal(t, Context{TenantID: "t-own", UserID: "u-1", UserRole: models.RoleAdmin}, tc)
}

func TestIdentifierRoundTrip(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	ctx := WithIdentifier(r.Context(), "acme", "subdomain")
	id, kind := IdentifierFromContext(ctx)
	assert.Equal(t, "acme", id)
	assert.Equal(t, "subdomain", kind)
}

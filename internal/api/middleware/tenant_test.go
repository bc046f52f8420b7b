package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/tenantgate/internal/apperrors"
	"github.com/nikhilbhutani/tenantgate/internal/domain"
	"github.com/nikhilbhutani/tenantgate/internal/models"
	"github.com/nikhilbhutani/tenantgate/internal/tenant"
)

type stubLookup struct {
	tenants map[string]*models.Tenant
	calls   int
	last    domain.Info
}

func (s *stubLookup) Resolve(_ context.Context, identifier string, info domain.Info) (*models.Tenant, error) {
	s.calls++
	s.last = info
	if t, ok := s.tenants[identifier]; ok {
		return t, nil
	}
	return nil, apperrors.NotFound("tenant not found")
}

type seen struct {
	path       string
	tenantID   string
	identifier string
	kind       string
}

func recordHandler(out *seen) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out.path = r.URL.Path
		out.tenantID = tenant.IDFromContext(r.Context())
		out.identifier, out.kind = tenant.IdentifierFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func newResolver(lookup TenantLookup, out *seen) http.Handler {
	parser := domain.NewParser("localhost", "yoursaas.com")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return TenantResolver(parser, lookup, nil, logger)(recordHandler(out))
}

func acmeLookup() *stubLookup {
	return &stubLookup{tenants: map[string]*models.Tenant{
		"acme":             {ID: "t-1", Slug: "acme", Status: models.TenantActive},
		"shop.example.com": {ID: "t-2", Slug: "shop", Status: models.TenantActive},
	}}
}

func TestTenantResolverRewrites(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		path     string
		wantPath string
		wantID   string
		wantType string
	}{
		{name: "root path to dashboard", host: "acme.yoursaas.com", path: "/", wantPath: "/tenant/dashboard", wantID: "t-1", wantType: "subdomain"},
		{name: "page path prefixed", host: "acme.yoursaas.com:3000", path: "/settings", wantPath: "/tenant/settings", wantID: "t-1", wantType: "subdomain"},
		{name: "tenant tree untouched", host: "acme.yoursaas.com", path: "/tenant/domains", wantPath: "/tenant/domains", wantID: "t-1", wantType: "subdomain"},
		{name: "custom domain", host: "shop.example.com", path: "/", wantPath: "/tenant/dashboard", wantID: "t-2", wantType: "custom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out seen
			h := newResolver(acmeLookup(), &out)
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Host = tt.host
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.wantPath, out.path)
			assert.Equal(t, tt.wantID, out.tenantID)
			assert.Equal(t, tt.wantType, rec.Header().Get(tenant.HeaderDomainType))
			assert.NotEmpty(t, rec.Header().Get(tenant.HeaderTenantIdentifier))
		})
	}
}

func TestTenantResolverUnknownTenantRedirects(t *testing.T) {
	var out seen
	h := newResolver(acmeLookup(), &out)
	req := httptest.NewRequest(http.MethodGet, "/billing", nil)
	req.Host = "ghost.yoursaas.com"
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, TenantNotFoundPath, rec.Header().Get("Location"))
	assert.Empty(t, rec.Header().Get(tenant.HeaderTenantIdentifier))
	assert.Empty(t, out.path, "next handler must not run")
}

func TestTenantResolverBypassesAPI(t *testing.T) {
	lookup := acmeLookup()
	var out seen
	h := newResolver(lookup, &out)
	req := httptest.NewRequest(http.MethodGet, "/api/domains", nil)
	req.Host = "ghost.yoursaas.com"
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/api/domains", out.path)
	assert.Equal(t, "ghost", out.identifier)
	assert.Equal(t, "subdomain", out.kind)
	assert.Equal(t, "ghost", rec.Header().Get(tenant.HeaderTenantIdentifier))
	assert.Zero(t, lookup.calls)
}

func TestTenantResolverRootAndStatic(t *testing.T) {
	lookup := acmeLookup()

	var out seen
	h := newResolver(lookup, &out)
	req := httptest.NewRequest(http.MethodGet, "/pricing", nil)
	req.Host = "yoursaas.com"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "/pricing", out.path)
	assert.Empty(t, rec.Header().Get(tenant.HeaderTenantIdentifier))

	out = seen{}
	req = httptest.NewRequest(http.MethodGet, "/_next/static/app.js", nil)
	req.Host = "ghost.yoursaas.com"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/_next/static/app.js", out.path)

	assert.Zero(t, lookup.calls)
}

func TestTenantResolverMissingHost(t *testing.T) {
	var out seen
	h := newResolver(acmeLookup(), &out)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = ""
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid host")
}

func TestTenantResolverInactiveTenantFailsClosed(t *testing.T) {
	lookup := &stubLookup{}
	var out seen
	h := newResolver(lookup, &out)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "suspended.yoursaas.com"
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, 1, lookup.calls)
	assert.False(t, lookup.last.IsCustomDomain)
}

func TestTenantResolverSkipsServicePaths(t *testing.T) {
	for _, p := range []string{"/healthz", "/metrics", TenantNotFoundPath} {
		var out seen
		h := newResolver(acmeLookup(), &out)
		req := httptest.NewRequest(http.MethodGet, p, nil)
		req.Host = "ghost.yoursaas.com"
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code, p)
		assert.Equal(t, p, out.path)
	}
}

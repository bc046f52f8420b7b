package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/nikhilbhutani/tenantgate/internal/domain"
	"github.com/nikhilbhutani/tenantgate/internal/metrics"
	"github.com/nikhilbhutani/tenantgate/internal/models"
	"github.com/nikhilbhutani/tenantgate/internal/tenant"
)

const TenantNotFoundPath = "/tenant-not-found"

// TenantLookup resolves a host-derived identifier to an active tenant.
type TenantLookup interface {
	Resolve(ctx context.Context, identifier string, info domain.Info) (*models.Tenant, error)
}

var assetExt = regexp.MustCompile(`\.(js|css|png|jpg|jpeg|gif|svg|ico|woff|woff2|ttf)$`)

func isStaticPath(p string) bool {
	return strings.HasPrefix(p, "/_next") ||
		strings.HasPrefix(p, "/static/") ||
		strings.HasPrefix(p, "/favicon.ico") ||
		assetExt.MatchString(p)
}

// isServicePath covers health checks, metrics and the not-found target, which
// must answer on every host.
func isServicePath(p string) bool {
	switch p {
	case "/healthz", "/readyz", "/metrics", TenantNotFoundPath:
		return true
	}
	return false
}

// TenantResolver maps the Host header to a tenant and rewrites page paths
// into the /tenant tree. API and auth routes only get the identifier; they
// resolve the tenant themselves. Any lookup failure redirects to the
// tenant-not-found page.
func TenantResolver(parser *domain.Parser, lookup TenantLookup, m *metrics.Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if isStaticPath(path) || isServicePath(path) {
				next.ServeHTTP(w, r)
				return
			}

			if r.Host == "" {
				http.Error(w, "Invalid host", http.StatusBadRequest)
				return
			}

			info := parser.Parse(r.Host)
			identifier, ok := domain.ExtractTenantIdentifier(info)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set(tenant.HeaderTenantIdentifier, identifier)
			w.Header().Set(tenant.HeaderDomainType, info.Type())
			ctx := tenant.WithIdentifier(r.Context(), identifier, info.Type())

			if strings.HasPrefix(path, "/api/") || strings.HasPrefix(path, "/auth/") {
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			t, err := lookup.Resolve(ctx, identifier, info)
			if err != nil {
				m.IncTenantLookup("not_found")
				logger.Info("tenant not resolved", "identifier", identifier, "host", info.Domain, "error", err)
				w.Header().Del(tenant.HeaderTenantIdentifier)
				w.Header().Del(tenant.HeaderDomainType)
				http.Redirect(w, r, TenantNotFoundPath, http.StatusFound)
				return
			}
			m.IncTenantLookup("found")

			ctx = tenant.WithTenant(ctx, t)
			r = r.WithContext(ctx)
			rewriteTenantPath(r)
			next.ServeHTTP(w, r)
		})
	}
}

func rewriteTenantPath(r *http.Request) {
	p := r.URL.Path
	switch {
	case p == "" || p == "/":
		p = "/tenant/dashboard"
	case p == "/tenant" || strings.HasPrefix(p, "/tenant/"):
		return
	default:
		p = "/tenant" + p
	}
	u := *r.URL
	u.Path = p
	u.RawPath = ""
	r.URL = &u
}

package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nikhilbhutani/tenantgate/internal/api/handlers"
	"github.com/nikhilbhutani/tenantgate/internal/api/middleware"
	"github.com/nikhilbhutani/tenantgate/internal/audit"
	"github.com/nikhilbhutani/tenantgate/internal/auth"
	"github.com/nikhilbhutani/tenantgate/internal/config"
	"github.com/nikhilbhutani/tenantgate/internal/database"
	"github.com/nikhilbhutani/tenantgate/internal/dns"
	"github.com/nikhilbhutani/tenantgate/internal/domain"
	"github.com/nikhilbhutani/tenantgate/internal/metrics"
	"github.com/nikhilbhutani/tenantgate/internal/models"
	"github.com/nikhilbhutani/tenantgate/internal/ratelimit"
	"github.com/nikhilbhutani/tenantgate/internal/tenant"
	"github.com/nikhilbhutani/tenantgate/internal/webhook"
)

// Deps are the services the router wires into handlers. Scheduler may be
// nil when no worker queue is configured.
type Deps struct {
	Config    *config.Config
	DB        database.Client
	Parser    *domain.Parser
	Tenants   *tenant.Service
	Verifier  *domain.Verifier
	DNS       *dns.Service
	Scheduler handlers.VerificationScheduler
	Webhooks  *webhook.Service
	Audit     *audit.Service
	Limiter   ratelimit.Limiter
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
	Checks    []handlers.Check
	Logger    *slog.Logger
}

type Router struct {
	mux  *chi.Mux
	deps Deps
}

func NewRouter(deps Deps) *Router {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	return &Router{mux: chi.NewRouter(), deps: deps}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux
	d := rt.deps
	cfg := d.Config

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestIDHeader)
	r.Use(middleware.Logging(d.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	r.Use(middleware.BotDetection(cfg.Server.BlockBots, d.Metrics, d.Logger))
	r.Use(middleware.Metrics(d.Metrics))
	if d.Limiter != nil {
		rl := middleware.NewRateLimiter(d.Limiter, ratelimit.TiersFromConfig(cfg.RateLimit), d.Metrics, d.Logger)
		r.Use(rl.Limit)
	}
	r.Use(middleware.TenantResolver(d.Parser, d.Tenants, d.Metrics, d.Logger))

	// Health endpoints (no auth)
	health := handlers.NewHealthHandler(d.Checks...)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)
	r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))

	r.Get(middleware.TenantNotFoundPath, handlers.TenantNotFound)
	r.Get("/tenant", handlers.TenantPage)
	r.Get("/tenant/*", handlers.TenantPage)

	jwt := auth.NewJWTMiddleware(d.DB, d.Logger)
	apikey := auth.NewAPIKeyMiddleware(d.DB, cfg.Auth.APIKeyHeader, d.Logger)
	managers := auth.RequireRole(models.RoleOwner, models.RoleAdmin)

	authH := handlers.NewAuthHandler(d.DB, d.Audit)
	urls := handlers.DomainHandlerConfig{RootDomain: cfg.Domain.ProdDomain, Production: cfg.IsProduction()}
	tenantH := handlers.NewTenantHandler(d.DB, d.Tenants, d.Parser, d.Audit, urls)
	domainH := handlers.NewDomainHandler(d.DB, d.Verifier, d.DNS, d.Audit, d.Webhooks, d.Tenants, urls, d.Logger)
	dnsH := handlers.NewDNSHandler(d.DB, d.DNS, d.Scheduler, d.Audit, cfg.DNS.Provider, d.Logger)
	webhookH := handlers.NewWebhookHandler(d.Webhooks)
	keyH := handlers.NewAPIKeyHandler(d.DB, d.Audit)
	inviteH := handlers.NewInvitationHandler(d.DB, d.Audit)
	adminH := handlers.NewAdminHandler(d.Audit)
	reportH := handlers.NewErrorReportHandler(d.DB, d.Metrics, cfg.IsProduction(), d.Logger)

	r.Route("/api", func(r chi.Router) {
		// Auth: try API key first, then JWT
		r.Use(apikey.Authenticate)
		r.Use(jwt.Optional)

		r.Post("/auth/signup", authH.SignUp)
		r.Post("/auth/signin", authH.SignIn)
		r.Get("/tenant/current", tenantH.Current)
		r.Post("/errors/report", reportH.Report)

		r.Group(func(r chi.Router) {
			r.Use(jwt.Authenticate)

			r.Post("/auth/signout", authH.SignOut)
			r.Get("/auth/me", authH.Me)

			r.Route("/tenants", func(r chi.Router) {
				r.Get("/", tenantH.List)
				r.Post("/", tenantH.Create)
				r.With(managers).Put("/", tenantH.Update)
				r.With(auth.RequireRole(models.RoleOwner)).Delete("/", tenantH.Delete)
			})

			r.Route("/domains", func(r chi.Router) {
				r.Get("/", domainH.List)
				r.Get("/verify", domainH.Instructions)
				r.Get("/dns", dnsH.Status)

				r.Group(func(r chi.Router) {
					r.Use(managers)
					r.Post("/", domainH.Create)
					r.Put("/", domainH.Update)
					r.Delete("/", domainH.Delete)
					r.Post("/verify", domainH.Verify)
					r.Post("/dns", dnsH.Manage)
				})
			})

			r.Route("/invitations", func(r chi.Router) {
				r.Post("/accept", inviteH.Accept)
				r.With(managers).Post("/", inviteH.Create)
				r.With(managers).Get("/", inviteH.List)
				r.With(managers).Delete("/{id}", inviteH.Delete)
			})

			r.Group(func(r chi.Router) {
				r.Use(managers)

				r.Route("/webhooks", func(r chi.Router) {
					r.Post("/", webhookH.Create)
					r.Get("/", webhookH.List)
					r.Delete("/{id}", webhookH.Delete)
				})

				r.Route("/keys", func(r chi.Router) {
					r.Post("/", keyH.Create)
					r.Get("/", keyH.List)
					r.Delete("/{id}", keyH.Delete)
				})

				r.Get("/admin/audit", adminH.AuditLogs)
			})
		})
	})

	return r
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/tenantgate/internal/api"
	"github.com/nikhilbhutani/tenantgate/internal/api/handlers"
	"github.com/nikhilbhutani/tenantgate/internal/audit"
	"github.com/nikhilbhutani/tenantgate/internal/auth"
	"github.com/nikhilbhutani/tenantgate/internal/cache"
	"github.com/nikhilbhutani/tenantgate/internal/config"
	"github.com/nikhilbhutani/tenantgate/internal/database"
	"github.com/nikhilbhutani/tenantgate/internal/dns"
	"github.com/nikhilbhutani/tenantgate/internal/domain"
	"github.com/nikhilbhutani/tenantgate/internal/metrics"
	"github.com/nikhilbhutani/tenantgate/internal/queue"
	"github.com/nikhilbhutani/tenantgate/internal/ratelimit"
	"github.com/nikhilbhutani/tenantgate/internal/tenant"
	"github.com/nikhilbhutani/tenantgate/internal/webhook"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unavailable, rate limiting falls back to memory", "error", err)
	}
	defer rdb.Close()
	sessions := cache.NewCache(rdb, "tenantgate")

	registry := database.NewRegistry(authFactory(cfg, sessions), logger)
	db, err := registry.Open(ctx, cfg.Database, "")
	if err != nil {
		slog.Error("failed to open database", "provider", cfg.Database.Provider, "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := registry.CloseAll(closeCtx); err != nil {
			slog.Warn("closing database clients", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	targets := domain.Targets{CNAME: cfg.Domain.CNAMETarget, A: cfg.Domain.ARecord}
	tenants := tenant.NewService(db, sessions, cfg.Domain.CacheTTL, cfg.Domain.ProdDomain, logger)

	jobs := queue.NewClient(cfg.Redis)
	defer jobs.Close()

	// webhooks go through the worker queue when redis is up, in-process otherwise
	var deliverer webhook.Deliverer = queue.NewWebhookDeliverer(jobs)
	if err := sessions.Ping(ctx); err != nil {
		dispatcher := webhook.NewDispatcher(db, m, logger)
		defer dispatcher.Close()
		deliverer = dispatcher
	}
	hooks := webhook.NewService(db, deliverer, logger)

	provider, err := dns.NewProvider(cfg.DNS, targets, logger)
	if err != nil {
		slog.Warn("DNS management disabled", "error", err)
		provider = nil
	}
	dnsSvc := dns.NewService(provider, db, dns.Options{
		Attempts:     cfg.DNS.PropagationAttempts,
		InitialDelay: cfg.DNS.PropagationDelay,
		Metrics:      m,
		Events:       hooks,
		Logger:       logger,
	})

	memLimiter := ratelimit.NewMemory()
	go memLimiter.Run(ctx)
	limiter := ratelimit.NewFallback(ratelimit.NewRedis(rdb, "tenantgate:rl"), memLimiter, logger)

	router := api.NewRouter(api.Deps{
		Config:    cfg,
		DB:        db,
		Parser:    domain.NewParser(cfg.RootDomains()...),
		Tenants:   tenants,
		Verifier:  domain.NewVerifier(nil, targets, logger),
		DNS:       dnsSvc,
		Scheduler: jobs,
		Webhooks:  hooks,
		Audit:     audit.NewService(db, logger),
		Limiter:   limiter,
		Metrics:   m,
		Gatherer:  reg,
		Checks: []handlers.Check{
			{Name: "database", Ping: func(context.Context) error {
				if !db.IsConnected() {
					return errors.New("not connected")
				}
				return nil
			}},
			{Name: "redis", Ping: sessions.Ping},
		},
		Logger: logger,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router.Setup(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("starting API server", "addr", cfg.Addr(), "env", cfg.Server.Env, "database", cfg.Database.Provider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	slog.Info("server stopped")
}

func authFactory(cfg *config.Config, sessions *cache.Cache) database.AuthFactory {
	return func(store database.Store) (database.Authenticator, error) {
		switch cfg.Auth.Provider {
		case "", "local":
			return auth.NewLocal(store, auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.JWTTTL), sessions), nil
		case "supabase":
			if cfg.Auth.SupabaseURL == "" || cfg.Auth.SupabaseKey == "" {
				return nil, errors.New("SUPABASE_URL and SUPABASE_ANON_KEY are required for supabase auth")
			}
			return auth.NewSupabase(cfg.Auth.SupabaseURL, cfg.Auth.SupabaseKey), nil
		}
		return nil, fmt.Errorf("unsupported auth provider %q", cfg.Auth.Provider)
	}
}

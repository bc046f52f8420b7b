package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/tenantgate/internal/auth"
	"github.com/nikhilbhutani/tenantgate/internal/cache"
	"github.com/nikhilbhutani/tenantgate/internal/config"
	"github.com/nikhilbhutani/tenantgate/internal/database"
	"github.com/nikhilbhutani/tenantgate/internal/dns"
	"github.com/nikhilbhutani/tenantgate/internal/domain"
	"github.com/nikhilbhutani/tenantgate/internal/metrics"
	"github.com/nikhilbhutani/tenantgate/internal/queue"
	"github.com/nikhilbhutani/tenantgate/internal/queue/workers"
	"github.com/nikhilbhutani/tenantgate/internal/webhook"
)

const concurrency = 10

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

	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	locks := cache.NewCache(rdb, "tenantgate")

	// workers never authenticate users; the local authenticator only backs
	// the client interface
	registry := database.NewRegistry(func(store database.Store) (database.Authenticator, error) {
		return auth.NewLocal(store, auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.JWTTTL), locks), nil
	}, logger)
	db, err := registry.Open(ctx, cfg.Database, "worker")
	if err != nil {
		slog.Error("failed to open database", "provider", cfg.Database.Provider, "error", err)
		os.Exit(1)
	}
	defer registry.CloseAll(context.Background())

	m := metrics.New(prometheus.DefaultRegisterer)
	targets := domain.Targets{CNAME: cfg.Domain.CNAMETarget, A: cfg.Domain.ARecord}

	// events raised by background verification go back through the queue
	jobs := queue.NewClient(cfg.Redis)
	defer jobs.Close()
	hooks := webhook.NewService(db, queue.NewWebhookDeliverer(jobs), logger)

	provider, err := dns.NewProvider(cfg.DNS, targets, logger)
	if err != nil {
		slog.Warn("DNS management disabled, domain tasks will be dropped", "error", err)
		provider = nil
	}
	dnsSvc := dns.NewService(provider, db, dns.Options{
		Attempts:     cfg.DNS.PropagationAttempts,
		InitialDelay: cfg.DNS.PropagationDelay,
		Metrics:      m,
		Events:       hooks,
		Logger:       logger,
	})

	srv := asynq.NewServer(
		queue.RedisOpt(cfg.Redis),
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				queue.QueueCritical: 6,
				queue.QueueDefault:  3,
				queue.QueueLow:      1,
			},
			RetryDelayFunc: queue.RetryDelay(cfg.DNS.PropagationDelay, 10*time.Minute),
			Logger:         newAsynqLogger(logger),
		},
	)

	handlers := queue.NewHandlersRegistry()

	domainWorker := workers.NewDomainWorker(dnsSvc, locks, logger)
	webhookWorker := workers.NewWebhookWorker(webhook.NewDispatcher(db, m, logger))

	handlers.Register(queue.TypeDomainVerify, asynq.HandlerFunc(domainWorker.ProcessVerify))
	handlers.Register(queue.TypeDomainSetup, asynq.HandlerFunc(domainWorker.ProcessSetup))
	handlers.Register(queue.TypeWebhookDeliver, asynq.HandlerFunc(webhookWorker.ProcessTask))

	slog.Info("starting worker", "concurrency", concurrency, "dns_available", dnsSvc.IsAvailable())
	if err := srv.Run(handlers.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}

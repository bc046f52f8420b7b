package database

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/nikhilbhutani/tenantgate/internal/apperrors"
	"github.com/nikhilbhutani/tenantgate/internal/config"
)

type Provider string

const (
	ProviderPostgres  Provider = "postgresql"
	ProviderPrisma    Provider = "prisma"
	ProviderSupabase  Provider = "supabase"
	ProviderXano      Provider = "xano"
	ProviderInstantDB Provider = "instantdb"
	ProviderMemory    Provider = "memory"
)

// NewStore builds the adapter named by cfg.Provider without connecting it.
func NewStore(cfg config.DatabaseConfig) (Store, error) {
	switch Provider(cfg.Provider) {
	case ProviderPostgres, "":
		if cfg.URL == "" {
			return nil, apperrors.Configuration("DATABASE_URL is required for postgresql")
		}
		return NewPostgres(cfg), nil
	case ProviderPrisma:
		if cfg.URL == "" {
			return nil, apperrors.Configuration("DATABASE_URL is required for prisma")
		}
		return NewSQLStore(cfg.URL), nil
	case ProviderSupabase:
		if cfg.APIURL == "" || cfg.APIKey == "" {
			return nil, apperrors.Configuration("DATABASE_API_URL and DATABASE_API_KEY are required for supabase")
		}
		return NewSupabase(cfg.APIURL, cfg.APIKey), nil
	case ProviderXano:
		if cfg.APIURL == "" || cfg.APIKey == "" {
			return nil, apperrors.Configuration("DATABASE_API_URL and DATABASE_API_KEY are required for xano")
		}
		return NewXano(cfg.APIURL, cfg.APIKey), nil
	case ProviderInstantDB:
		if cfg.AppID == "" || cfg.APIKey == "" {
			return nil, apperrors.Configuration("INSTANTDB_APP_ID and DATABASE_API_KEY are required for instantdb")
		}
		return NewInstantDB(cfg.APIURL, cfg.AppID, cfg.APIKey), nil
	case ProviderMemory:
		return NewMemory(), nil
	}
	return nil, apperrors.Unsupported(fmt.Sprintf("unsupported database provider %q", cfg.Provider))
}

// AuthFactory builds the authenticator paired with a freshly opened store.
type AuthFactory func(Store) (Authenticator, error)

// Registry owns connected clients keyed by provider and instance name.
// Concurrent opens of the same key share one connection attempt.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
	stores  map[string]Store
	group   singleflight.Group
	auth    AuthFactory
	logger  *slog.Logger
}

func NewRegistry(auth AuthFactory, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		clients: make(map[string]Client),
		stores:  make(map[string]Store),
		auth:    auth,
		logger:  logger,
	}
}

func registryKey(provider, instance string) string {
	if instance == "" {
		instance = "default"
	}
	return provider + "/" + instance
}

// Open returns the client for cfg.Provider and instance, connecting it on
// first use.
func (r *Registry) Open(ctx context.Context, cfg config.DatabaseConfig, instance string) (Client, error) {
	key := registryKey(cfg.Provider, instance)
	if c, ok := r.lookup(key); ok {
		return c, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		if c, ok := r.lookup(key); ok {
			return c, nil
		}
		store, err := NewStore(cfg)
		if err != nil {
			return nil, err
		}
		if err := store.Connect(ctx); err != nil {
			return nil, fmt.Errorf("connect %s: %w", key, err)
		}

		var auth Authenticator
		if r.auth != nil {
			if auth, err = r.auth(store); err != nil {
				_ = store.Close(ctx)
				return nil, fmt.Errorf("init auth for %s: %w", key, err)
			}
		}
		c := NewClient(store, auth)

		r.mu.Lock()
		r.clients[key] = c
		r.stores[key] = store
		r.mu.Unlock()
		r.logger.Info("database client opened", "provider", cfg.Provider, "instance", key)
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Client), nil
}

func (r *Registry) lookup(key string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[key]
	return c, ok
}

func (r *Registry) Get(provider, instance string) (Client, bool) {
	return r.lookup(registryKey(provider, instance))
}

func (r *Registry) Close(ctx context.Context, provider, instance string) error {
	key := registryKey(provider, instance)
	r.mu.Lock()
	store, ok := r.stores[key]
	delete(r.stores, key)
	delete(r.clients, key)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return store.Close(ctx)
}

// CloseAll closes every store in parallel and returns the first error.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	stores := r.stores
	r.stores = make(map[string]Store)
	r.clients = make(map[string]Client)
	r.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for key, s := range stores {
		g.Go(func() error {
			if err := s.Close(ctx); err != nil {
				return fmt.Errorf("close %s: %w", key, err)
			}
			return nil
		})
	}
	return g.Wait()
}

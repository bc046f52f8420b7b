package database

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/tenantgate/internal/apperrors"
	"github.com/nikhilbhutani/tenantgate/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewStoreProviders(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.DatabaseConfig
		want any
		kind apperrors.Kind
	}{
		{name: "postgresql", cfg: config.DatabaseConfig{Provider: "postgresql", URL: "postgres://x"}, want: &Postgres{}},
		{name: "prisma", cfg: config.DatabaseConfig{Provider: "prisma", URL: "postgres://x"}, want: &SQLStore{}},
		{name: "supabase", cfg: config.DatabaseConfig{Provider: "supabase", APIURL: "https://p.supabase.co", APIKey: "k"}, want: &Supabase{}},
		{name: "xano", cfg: config.DatabaseConfig{Provider: "xano", APIURL: "https://x.xano.io/api:v1", APIKey: "k"}, want: &Xano{}},
		{name: "instantdb", cfg: config.DatabaseConfig{Provider: "instantdb", AppID: "app", APIKey: "k"}, want: &InstantDB{}},
		{name: "memory", cfg: config.DatabaseConfig{Provider: "memory"}, want: &Memory{}},
		{name: "missing url", cfg: config.DatabaseConfig{Provider: "postgresql"}, kind: apperrors.KindConfiguration},
		{name: "missing key", cfg: config.DatabaseConfig{Provider: "xano", APIURL: "https://x"}, kind: apperrors.KindConfiguration},
		{name: "unknown", cfg: config.DatabaseConfig{Provider: "mongodb"}, kind: apperrors.KindUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewStore(tt.cfg)
			if tt.kind != "" {
				assert.True(t, apperrors.HasKind(err, tt.kind), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, s)
		})
	}
}

func TestRegistryOpenIsShared(t *testing.T) {
	ctx := context.Background()
	var factoryCalls int
	var mu sync.Mutex
	r := NewRegistry(func(Store) (Authenticator, error) {
		mu.Lock()
		factoryCalls++
		mu.Unlock()
		return nil, nil
	}, testLogger())

	cfg := config.DatabaseConfig{Provider: "memory"}
	var wg sync.WaitGroup
	clients := make([]Client, 8)
	for i := range clients {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := r.Open(ctx, cfg, "")
			assert.NoError(t, err)
			clients[i] = c
		}(i)
	}
	wg.Wait()

	for _, c := range clients[1:] {
		assert.Same(t, clients[0], c)
	}
	assert.Equal(t, 1, factoryCalls)

	other, err := r.Open(ctx, cfg, "analytics")
	require.NoError(t, err)
	assert.NotSame(t, clients[0], other)

	got, ok := r.Get("memory", "default")
	require.True(t, ok)
	assert.Same(t, clients[0], got)
}

func TestRegistryClose(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil, testLogger())
	cfg := config.DatabaseConfig{Provider: "memory"}

	c, err := r.Open(ctx, cfg, "a")
	require.NoError(t, err)
	_, err = r.Open(ctx, cfg, "b")
	require.NoError(t, err)

	require.NoError(t, r.Close(ctx, "memory", "a"))
	assert.False(t, c.IsConnected())
	_, ok := r.Get("memory", "a")
	assert.False(t, ok)
	require.NoError(t, r.Close(ctx, "memory", "a"))

	require.NoError(t, r.CloseAll(ctx))
	_, ok = r.Get("memory", "b")
	assert.False(t, ok)
}

func TestRegistryOpenPropagatesConfigErrors(t *testing.T) {
	r := NewRegistry(nil, testLogger())
	_, err := r.Open(context.Background(), config.DatabaseConfig{Provider: "supabase"}, "")
	assert.True(t, apperrors.HasKind(err, apperrors.KindConfiguration))
}

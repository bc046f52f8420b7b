package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Domain.RootDomain)
	assert.Equal(t, "yoursaas.com", cfg.Domain.ProdDomain)
	assert.Equal(t, "cloudflare", cfg.DNS.Provider)
	assert.Equal(t, 5*time.Second, cfg.DNS.PropagationDelay)
	assert.Equal(t, 5, cfg.RateLimit.AuthPerMinute)
	assert.Equal(t, 100, cfg.RateLimit.APIPerMinute)
	assert.Equal(t, 200, cfg.RateLimit.PagePerMinute)
	assert.Equal(t, []string{"localhost", "yoursaas.com"}, cfg.RootDomains())
	assert.True(t, cfg.Database.AutoMigrate)
	assert.Empty(t, cfg.Database.MigrationsPath)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("NEXT_PUBLIC_PROD_DOMAIN", "Example.COM")
	t.Setenv("NEXT_PUBLIC_CNAME_TARGET", "edge.example.com")
	t.Setenv("DNS_PROPAGATION_INITIAL_DELAY", "250ms")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "edge.example.com", cfg.Domain.CNAMETarget)
	assert.Equal(t, 250*time.Millisecond, cfg.DNS.PropagationDelay)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.AllowedOrigins)
	assert.Contains(t, cfg.RootDomains(), "example.com")
}

func TestLoadRejectsBadInts(t *testing.T) {
	t.Setenv("SERVER_PORT", "eighty")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SERVER_PORT")
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{Provider: "supabase"},
		Auth:     AuthConfig{Provider: "local"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_API_URL")
	assert.Contains(t, err.Error(), "JWT_SECRET")

	cfg = &Config{
		Database: DatabaseConfig{Provider: "memory"},
		Auth:     AuthConfig{Provider: "local", JWTSecret: "s3cret"},
	}
	assert.NoError(t, cfg.Validate())
}

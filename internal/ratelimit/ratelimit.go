// Package ratelimit counts requests per key over a time window.
package ratelimit

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/nikhilbhutani/tenantgate/internal/config"
)

type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
}

// Tier is a named limit applied to a class of paths.
type Tier struct {
	Name   string
	Limit  int
	Window time.Duration
}

type Tiers struct {
	Auth Tier
	API  Tier
	Page Tier
}

func TiersFromConfig(cfg config.RateLimitConfig) Tiers {
	return Tiers{
		Auth: Tier{Name: "auth", Limit: cfg.AuthPerMinute, Window: time.Minute},
		API:  Tier{Name: "api", Limit: cfg.APIPerMinute, Window: time.Minute},
		Page: Tier{Name: "page", Limit: cfg.PagePerMinute, Window: time.Minute},
	}
}

var exemptPaths = map[string]bool{"/healthz": true, "/readyz": true, "/metrics": true}

// For picks the tier for a request path; exempt paths report false.
func (t Tiers) For(path string) (Tier, bool) {
	switch {
	case exemptPaths[path]:
		return Tier{}, false
	case strings.HasPrefix(path, "/api/auth/"):
		return t.Auth, t.Auth.Limit > 0
	case strings.HasPrefix(path, "/api/"):
		return t.API, t.API.Limit > 0
	}
	return t.Page, t.Page.Limit > 0
}

// Fallback consults primary and switches to secondary for any call where
// primary fails.
type Fallback struct {
	primary   Limiter
	secondary Limiter
	logger    *slog.Logger
}

func NewFallback(primary, secondary Limiter, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{primary: primary, secondary: secondary, logger: logger}
}

func (f *Fallback) Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	res, err := f.primary.Allow(ctx, key, limit, window)
	if err == nil {
		return res, nil
	}
	f.logger.Warn("rate limit backend failed, using fallback", "key", key, "error", err)
	return f.secondary.Allow(ctx, key, limit, window)
}

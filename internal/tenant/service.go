package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nikhilbhutani/tenantgate/internal/apperrors"
	"github.com/nikhilbhutani/tenantgate/internal/cache"
	"github.com/nikhilbhutani/tenantgate/internal/database"
	"github.com/nikhilbhutani/tenantgate/internal/domain"
	"github.com/nikhilbhutani/tenantgate/internal/models"
	"github.com/nikhilbhutani/tenantgate/internal/validation"
)

type CreateInput struct {
	Name     string            `json:"name" validate:"required,notblank,max=100"`
	Slug     string            `json:"slug" validate:"required,min=3,max=63"`
	OwnerID  string            `json:"owner_id,omitempty"`
	Plan     models.TenantPlan `json:"plan,omitempty" validate:"omitempty,oneof=free pro enterprise"`
	Settings map[string]any    `json:"settings,omitempty"`
}

// Service owns tenant lifecycle rules and host-to-tenant resolution.
type Service struct {
	db         database.Client
	cache      *cache.Cache
	ttl        time.Duration
	rootDomain string
	logger     *slog.Logger
}

// NewService creates a tenant service. rootDomain is the platform domain
// under which every tenant gets its default subdomain. c may be nil.
func NewService(db database.Client, c *cache.Cache, ttl time.Duration, rootDomain string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, cache: c, ttl: ttl, rootDomain: strings.ToLower(rootDomain), logger: logger}
}

// CheckSlug enforces subdomain rules and reports a suggestion on failure.
func (s *Service) CheckSlug(ctx context.Context, slug string) error {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if domain.IsReservedSubdomain(slug) {
		return apperrors.Validation("slug is reserved").WithDetails(map[string]any{
			"slug":       "reserved",
			"suggestion": domain.SuggestSubdomain(slug),
		})
	}
	if !domain.IsValidSubdomain(slug) {
		return apperrors.Validation("invalid slug format").WithDetails(map[string]any{
			"slug": "must be 3-63 lowercase letters, digits or hyphens",
		})
	}
	_, err := s.db.GetTenantBySlug(ctx, slug)
	switch {
	case err == nil:
		return apperrors.Conflict("slug already taken").WithDetails(map[string]any{
			"suggestion": domain.SuggestSubdomain(slug),
		})
	case database.IsNotFound(err):
		return nil
	default:
		return fmt.Errorf("check slug: %w", err)
	}
}

// Create validates the slug before writing anything, then creates the tenant
// and its verified platform subdomain.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Tenant, error) {
	if err := validation.Validate(in); err != nil {
		return nil, err
	}
	slug := strings.ToLower(strings.TrimSpace(in.Slug))
	if err := s.CheckSlug(ctx, slug); err != nil {
		return nil, err
	}

	data := database.Record{"name": strings.TrimSpace(in.Name), "slug": slug}
	if in.OwnerID != "" {
		data["owner_id"] = in.OwnerID
	}
	if in.Plan != "" {
		data["plan"] = in.Plan
	}
	if in.Settings != nil {
		data["settings"] = in.Settings
	}

	t, err := s.db.CreateTenant(ctx, data)
	if err != nil {
		return nil, err
	}

	if s.rootDomain != "" {
		_, err := s.db.CreateDomain(ctx, database.Record{
			"tenant_id":           t.ID,
			"domain":              slug + "." + s.rootDomain,
			"type":                models.DomainSubdomain,
			"status":              models.DomainVerified,
			"verification_method": models.VerifyDNS,
			"ssl_enabled":         true,
			"ssl_status":          models.SSLActive,
			"verified_at":         time.Now().UTC(),
		})
		if err != nil {
			s.logger.Error("create default subdomain failed", "tenant_id", t.ID, "error", err)
		}
	}

	s.logger.Info("tenant created", "tenant_id", t.ID, "slug", slug)
	return t, nil
}

// Update applies changes through the caller's client, which may be scoped.
func (s *Service) Update(ctx context.Context, client database.Client, id string, data database.Record) (*models.Tenant, error) {
	before, err := s.db.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}

	payload := data.Clone()
	delete(payload, "id")
	if raw, ok := payload["slug"].(string); ok {
		slug := strings.ToLower(strings.TrimSpace(raw))
		if slug != before.Slug {
			if err := s.CheckSlug(ctx, slug); err != nil {
				return nil, err
			}
		}
		payload["slug"] = slug
	}

	t, err := client.UpdateTenant(ctx, id, payload)
	if err != nil {
		return nil, err
	}
	s.Invalidate(ctx, before.Slug, t.Slug)
	return t, nil
}

// Delete soft-deletes the tenant and expires its domains.
func (s *Service) Delete(ctx context.Context, client database.Client, id string) error {
	t, err := s.db.GetTenant(ctx, id)
	if err != nil {
		return err
	}
	domains, _ := s.db.GetDomainsByTenant(ctx, id)

	if err := client.DeleteTenant(ctx, id); err != nil {
		return err
	}

	keys := []string{t.Slug}
	for _, d := range domains {
		keys = append(keys, d.Domain)
	}
	s.Invalidate(ctx, keys...)
	s.logger.Info("tenant deleted", "tenant_id", id)
	return nil
}

// Resolve maps a host-derived identifier to an active tenant. Custom domains
// resolve through verified domain rows, everything else by slug.
func (s *Service) Resolve(ctx context.Context, identifier string, info domain.Info) (*models.Tenant, error) {
	identifier = strings.ToLower(identifier)
	key := cache.TenantKey(identifier)

	var cached models.Tenant
	switch err := s.cache.Get(ctx, key, &cached); {
	case err == nil:
		return &cached, nil
	case !errors.Is(err, cache.ErrMiss):
		s.logger.Warn("tenant cache read failed", "identifier", identifier, "error", err)
	}

	var (
		t   *models.Tenant
		err error
	)
	if info.IsCustomDomain {
		t, err = s.db.GetTenantByDomain(ctx, identifier)
	} else {
		t, err = s.db.GetTenantBySlug(ctx, identifier)
	}
	if err != nil {
		return nil, err
	}
	if !t.IsActive() {
		return nil, apperrors.NotFound("tenant is not active")
	}

	if err := s.cache.Set(ctx, key, t, s.ttl); err != nil {
		s.logger.Warn("tenant cache write failed", "identifier", identifier, "error", err)
	}
	return t, nil
}

// Invalidate drops cached resolutions for the given slugs or domains.
func (s *Service) Invalidate(ctx context.Context, identifiers ...string) {
	keys := make([]string, 0, len(identifiers))
	for _, id := range identifiers {
		if id != "" {
			keys = append(keys, cache.TenantKey(id))
		}
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn("tenant cache invalidate failed", "error", err)
	}
}

package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nikhilbhutani/tenantgate/internal/apperrors"
	"github.com/nikhilbhutani/tenantgate/internal/models"
)

const (
	TableTenants       = "tenants"
	TableDomains       = "domains"
	TableUsers         = "users"
	TableSubscriptions = "subscriptions"
	TableAPIKeys       = "api_keys"
	TableAuditLogs     = "audit_logs"
	TableWebhooks      = "webhooks"
	TableDeliveries    = "webhook_deliveries"
	TableInvitations   = "invitations"
	TableErrorLogs     = "error_logs"
)

// Authenticator backs the auth half of Client.
type Authenticator interface {
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*models.User, error)
	SignIn(ctx context.Context, email, password string) (*models.Session, error)
	SignOut(ctx context.Context, token string) error
	GetCurrentUser(ctx context.Context, token string) (*models.User, error)
	UpdateProfile(ctx context.Context, userID string, data Record) (*models.User, error)
}

// Client is the full data-access surface used by handlers and services.
type Client interface {
	Store
	Authenticator

	GetSubscription(ctx context.Context, userID string) (*models.Subscription, error)
	UpdateSubscription(ctx context.Context, userID string, data Record) (*models.Subscription, error)
	CancelSubscription(ctx context.Context, userID string) (*models.Subscription, error)

	CreateTenant(ctx context.Context, data Record) (*models.Tenant, error)
	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (*models.Tenant, error)
	GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error)
	UpdateTenant(ctx context.Context, id string, data Record) (*models.Tenant, error)
	DeleteTenant(ctx context.Context, id string) error

	CreateDomain(ctx context.Context, data Record) (*models.Domain, error)
	GetDomain(ctx context.Context, id string) (*models.Domain, error)
	GetDomainsByTenant(ctx context.Context, tenantID string) ([]models.Domain, error)
	UpdateDomain(ctx context.Context, id string, data Record) (*models.Domain, error)
	DeleteDomain(ctx context.Context, id string) error
	VerifyDomain(ctx context.Context, id string) (*models.Domain, error)

	Subscribe(ctx context.Context, table string, filter map[string]any, fn func(Event)) (func(), error)
	Transaction(ctx context.Context, fn func(ctx context.Context, tx Client) error) error
}

type client struct {
	Store
	auth Authenticator
}

// NewClient layers tenant, domain, subscription and auth operations over a
// backend store. auth may be nil, in which case auth calls are unsupported.
func NewClient(store Store, auth Authenticator) Client {
	return &client{Store: store, auth: auth}
}

func (c *client) authenticator() (Authenticator, error) {
	if c.auth == nil {
		return nil, apperrors.Unsupported("authentication is not configured")
	}
	return c.auth, nil
}

func (c *client) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*models.User, error) {
	a, err := c.authenticator()
	if err != nil {
		return nil, err
	}
	return a.SignUp(ctx, email, password, metadata)
}

func (c *client) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	a, err := c.authenticator()
	if err != nil {
		return nil, err
	}
	return a.SignIn(ctx, email, password)
}

func (c *client) SignOut(ctx context.Context, token string) error {
	a, err := c.authenticator()
	if err != nil {
		return err
	}
	return a.SignOut(ctx, token)
}

func (c *client) GetCurrentUser(ctx context.Context, token string) (*models.User, error) {
	a, err := c.authenticator()
	if err != nil {
		return nil, err
	}
	return a.GetCurrentUser(ctx, token)
}

func (c *client) UpdateProfile(ctx context.Context, userID string, data Record) (*models.User, error) {
	a, err := c.authenticator()
	if err != nil {
		return nil, err
	}
	return a.UpdateProfile(ctx, userID, data)
}

func (c *client) GetSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	rec, err := c.FindOne(ctx, TableSubscriptions, map[string]any{"user_id": userID}, QueryOptions{})
	if err != nil {
		return nil, err
	}
	return Decode[models.Subscription](rec)
}

// UpdateSubscription creates the row when the user has none yet.
func (c *client) UpdateSubscription(ctx context.Context, userID string, data Record) (*models.Subscription, error) {
	existing, err := c.FindOne(ctx, TableSubscriptions, map[string]any{"user_id": userID}, QueryOptions{})
	switch {
	case err == nil:
		rec, err := c.Update(ctx, TableSubscriptions, existing.String("id"), data)
		if err != nil {
			return nil, fmt.Errorf("update subscription: %w", err)
		}
		return Decode[models.Subscription](rec)
	case apperrors.HasKind(err, apperrors.KindNotFound):
		payload := data.Clone()
		payload["user_id"] = userID
		rec, err := c.Create(ctx, TableSubscriptions, payload)
		if err != nil {
			return nil, fmt.Errorf("create subscription: %w", err)
		}
		return Decode[models.Subscription](rec)
	default:
		return nil, err
	}
}

func (c *client) CancelSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	return c.UpdateSubscription(ctx, userID, Record{"status": "cancelled", "cancel_at_period_end": true})
}

func (c *client) CreateTenant(ctx context.Context, data Record) (*models.Tenant, error) {
	payload := data.Clone()
	if _, ok := payload["status"]; !ok {
		payload["status"] = models.TenantActive
	}
	if _, ok := payload["plan"]; !ok {
		payload["plan"] = models.PlanFree
	}
	rec, err := c.Create(ctx, TableTenants, payload)
	if err != nil {
		return nil, fmt.Errorf("create tenant: %w", err)
	}
	return Decode[models.Tenant](rec)
}

func (c *client) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	rec, err := c.FindByID(ctx, TableTenants, id, QueryOptions{})
	if err != nil {
		return nil, err
	}
	return Decode[models.Tenant](rec)
}

// GetTenantBySlug ignores soft-deleted tenants.
func (c *client) GetTenantBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	page, err := c.FindMany(ctx, TableTenants, QueryOptions{Filter: map[string]any{"slug": slug}})
	if err != nil {
		return nil, err
	}
	for _, rec := range page.Records {
		if rec.String("status") != string(models.TenantDeleted) {
			return Decode[models.Tenant](rec)
		}
	}
	return nil, apperrors.NotFound("tenant not found")
}

// GetTenantByDomain only follows verified domains.
func (c *client) GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	rec, err := c.FindOne(ctx, TableDomains, map[string]any{
		"domain": domain,
		"status": string(models.DomainVerified),
	}, QueryOptions{})
	if err != nil {
		return nil, err
	}
	return c.GetTenant(ctx, rec.String("tenant_id"))
}

func (c *client) UpdateTenant(ctx context.Context, id string, data Record) (*models.Tenant, error) {
	payload := data.Clone()
	payload["updated_at"] = time.Now().UTC()
	rec, err := c.Update(ctx, TableTenants, id, payload)
	if err != nil {
		return nil, err
	}
	return Decode[models.Tenant](rec)
}

// DeleteTenant soft-deletes the tenant and expires every domain it owns.
func (c *client) DeleteTenant(ctx context.Context, id string) error {
	now := time.Now().UTC()
	if _, err := c.Update(ctx, TableTenants, id, Record{"status": models.TenantDeleted, "updated_at": now}); err != nil {
		return err
	}
	if _, err := c.UpdateMany(ctx, TableDomains, map[string]any{"tenant_id": id}, Record{
		"status":     models.DomainExpired,
		"updated_at": now,
	}); err != nil {
		return fmt.Errorf("expire tenant domains: %w", err)
	}
	return nil
}

func (c *client) CreateDomain(ctx context.Context, data Record) (*models.Domain, error) {
	payload := data.Clone()
	defaults := Record{
		"status":              models.DomainPending,
		"verification_method": models.VerifyDNS,
		"ssl_enabled":         false,
		"ssl_status":          models.SSLPending,
	}
	for k, v := range defaults {
		if _, ok := payload[k]; !ok {
			payload[k] = v
		}
	}
	rec, err := c.Create(ctx, TableDomains, payload)
	if err != nil {
		return nil, fmt.Errorf("create domain: %w", err)
	}
	return Decode[models.Domain](rec)
}

func (c *client) GetDomain(ctx context.Context, id string) (*models.Domain, error) {
	rec, err := c.FindByID(ctx, TableDomains, id, QueryOptions{})
	if err != nil {
		return nil, err
	}
	return Decode[models.Domain](rec)
}

func (c *client) GetDomainsByTenant(ctx context.Context, tenantID string) ([]models.Domain, error) {
	page, err := c.FindMany(ctx, TableDomains, QueryOptions{
		Filter: map[string]any{"tenant_id": tenantID},
		Sort:   []SortField{{Field: "created_at", Desc: true}},
	})
	if err != nil {
		return nil, err
	}
	return DecodeAll[models.Domain](page.Records)
}

func (c *client) UpdateDomain(ctx context.Context, id string, data Record) (*models.Domain, error) {
	payload := data.Clone()
	payload["updated_at"] = time.Now().UTC()
	rec, err := c.Update(ctx, TableDomains, id, payload)
	if err != nil {
		return nil, err
	}
	return Decode[models.Domain](rec)
}

// DeleteDomain is a soft delete: the row stays with status expired.
func (c *client) DeleteDomain(ctx context.Context, id string) error {
	_, err := c.Update(ctx, TableDomains, id, Record{
		"status":     models.DomainExpired,
		"updated_at": time.Now().UTC(),
	})
	return err
}

// VerifyDomain marks a domain verified, stamping verified_at only on the
// first transition.
func (c *client) VerifyDomain(ctx context.Context, id string) (*models.Domain, error) {
	d, err := c.GetDomain(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status == models.DomainVerified {
		return d, nil
	}
	now := time.Now().UTC()
	return c.UpdateDomain(ctx, id, Record{"status": models.DomainVerified, "verified_at": now})
}

func (c *client) Subscribe(ctx context.Context, table string, filter map[string]any, fn func(Event)) (func(), error) {
	s, ok := c.Store.(Subscriber)
	if !ok {
		return nil, apperrors.Unsupported("subscriptions not supported by this database provider")
	}
	return s.Subscribe(ctx, table, filter, fn)
}

func (c *client) Transaction(ctx context.Context, fn func(ctx context.Context, tx Client) error) error {
	t, ok := c.Store.(Transactor)
	if !ok {
		return apperrors.Unsupported("transactions not supported by this database provider")
	}
	return t.Transaction(ctx, func(ctx context.Context, tx Store) error {
		return fn(ctx, NewClient(tx, c.auth))
	})
}

// IsNotFound reports whether err is a backend miss.
func IsNotFound(err error) bool {
	var e *apperrors.Error
	return errors.As(err, &e) && e.Kind == apperrors.KindNotFound
}

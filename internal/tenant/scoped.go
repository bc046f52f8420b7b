package tenant

import (
	"context"

	"github.com/nikhilbhutani/tenantgate/internal/apperrors"
	"github.com/nikhilbhutani/tenantgate/internal/database"
	"github.com/nikhilbhutani/tenantgate/internal/models"
)

// globalTables are shared across tenants and never receive a tenant filter.
var globalTables = map[string]bool{
	database.TableTenants:       true,
	database.TableUsers:         true,
	database.TableSubscriptions: true,
	database.TableErrorLogs:     true,
}

func IsGlobalTable(table string) bool {
	return globalTables[table]
}

// ScopedClient restricts a database.Client to one tenant. Reads on tenant
// tables are filtered by tenant_id, writes are stamped with it, and
// single-record writes are preceded by a scoped lookup.
//
// The lookup and the write are separate calls. Callers that need them to be
// atomic should run inside Transaction on a backend that supports it.
type ScopedClient struct {
	client database.Client
	tc     Context
}

var _ database.Client = (*ScopedClient)(nil)

func NewScopedClient(client database.Client, tc Context) *ScopedClient {
	return &ScopedClient{client: client, tc: tc}
}

func (s *ScopedClient) Context() Context { return s.tc }

func (s *ScopedClient) filter(table string, f map[string]any) map[string]any {
	if IsGlobalTable(table) {
		return f
	}
	out := make(map[string]any, len(f)+1)
	for k, v := range f {
		out[k] = v
	}
	out["tenant_id"] = s.tc.TenantID
	return out
}

func (s *ScopedClient) stamp(table string, data database.Record) database.Record {
	if IsGlobalTable(table) {
		return data
	}
	out := data.Clone()
	out["tenant_id"] = s.tc.TenantID
	return out
}

func (s *ScopedClient) options(table string, opts database.QueryOptions) database.QueryOptions {
	opts.Filter = s.filter(table, opts.Filter)
	return opts
}

// denied collapses a miss into the shared not-found-or-denied error.
func denied(err error) error {
	if database.IsNotFound(err) {
		return apperrors.NotFoundOrDenied()
	}
	return err
}

func (s *ScopedClient) Connect(ctx context.Context) error { return s.client.Connect(ctx) }
func (s *ScopedClient) Close(ctx context.Context) error   { return s.client.Close(ctx) }
func (s *ScopedClient) IsConnected() bool                 { return s.client.IsConnected() }

func (s *ScopedClient) FindMany(ctx context.Context, table string, opts database.QueryOptions) (*database.Page, error) {
	return s.client.FindMany(ctx, table, s.options(table, opts))
}

func (s *ScopedClient) FindByID(ctx context.Context, table, id string, opts database.QueryOptions) (database.Record, error) {
	return s.client.FindByID(ctx, table, id, s.options(table, opts))
}

func (s *ScopedClient) FindOne(ctx context.Context, table string, filter map[string]any, opts database.QueryOptions) (database.Record, error) {
	return s.client.FindOne(ctx, table, s.filter(table, filter), s.options(table, opts))
}

func (s *ScopedClient) Create(ctx context.Context, table string, data database.Record) (database.Record, error) {
	return s.client.Create(ctx, table, s.stamp(table, data))
}

func (s *ScopedClient) Update(ctx context.Context, table, id string, data database.Record) (database.Record, error) {
	if IsGlobalTable(table) {
		return s.client.Update(ctx, table, id, data)
	}
	if _, err := s.FindByID(ctx, table, id, database.QueryOptions{}); err != nil {
		return nil, denied(err)
	}
	return s.client.Update(ctx, table, id, s.stamp(table, data))
}

func (s *ScopedClient) Delete(ctx context.Context, table, id string) error {
	if IsGlobalTable(table) {
		return s.client.Delete(ctx, table, id)
	}
	if _, err := s.FindByID(ctx, table, id, database.QueryOptions{}); err != nil {
		return denied(err)
	}
	return s.client.Delete(ctx, table, id)
}

func (s *ScopedClient) CreateMany(ctx context.Context, table string, data []database.Record) ([]database.Record, error) {
	stamped := make([]database.Record, len(data))
	for i, d := range data {
		stamped[i] = s.stamp(table, d)
	}
	return s.client.CreateMany(ctx, table, stamped)
}

func (s *ScopedClient) UpdateMany(ctx context.Context, table string, filter map[string]any, data database.Record) (int64, error) {
	return s.client.UpdateMany(ctx, table, s.filter(table, filter), s.stamp(table, data))
}

func (s *ScopedClient) DeleteMany(ctx context.Context, table string, filter map[string]any) (int64, error) {
	return s.client.DeleteMany(ctx, table, s.filter(table, filter))
}

func (s *ScopedClient) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*models.User, error) {
	meta := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}
	meta["tenant_id"] = s.tc.TenantID
	return s.client.SignUp(ctx, email, password, meta)
}

func (s *ScopedClient) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	return s.client.SignIn(ctx, email, password)
}

func (s *ScopedClient) SignOut(ctx context.Context, token string) error {
	return s.client.SignOut(ctx, token)
}

func (s *ScopedClient) GetCurrentUser(ctx context.Context, token string) (*models.User, error) {
	return s.client.GetCurrentUser(ctx, token)
}

// UpdateProfile never lets a user move between tenants.
func (s *ScopedClient) UpdateProfile(ctx context.Context, userID string, data database.Record) (*models.User, error) {
	clean := data.Clone()
	delete(clean, "tenant_id")
	return s.client.UpdateProfile(ctx, userID, clean)
}

func (s *ScopedClient) checkUser(ctx context.Context, userID string) error {
	_, err := s.client.FindOne(ctx, database.TableUsers, map[string]any{
		"id":        userID,
		"tenant_id": s.tc.TenantID,
	}, database.QueryOptions{})
	return denied(err)
}

func (s *ScopedClient) GetSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	if err := s.checkUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.client.GetSubscription(ctx, userID)
}

func (s *ScopedClient) UpdateSubscription(ctx context.Context, userID string, data database.Record) (*models.Subscription, error) {
	if err := s.checkUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.client.UpdateSubscription(ctx, userID, data)
}

func (s *ScopedClient) CancelSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	if err := s.checkUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.client.CancelSubscription(ctx, userID)
}

func (s *ScopedClient) CreateTenant(ctx context.Context, data database.Record) (*models.Tenant, error) {
	return s.client.CreateTenant(ctx, data)
}

// GetTenant reads another tenant only for owners.
func (s *ScopedClient) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	if id != s.tc.TenantID && s.tc.UserRole != models.RoleOwner {
		return nil, apperrors.AccessDenied("access denied")
	}
	return s.client.GetTenant(ctx, id)
}

func (s *ScopedClient) GetTenantBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	return s.client.GetTenantBySlug(ctx, slug)
}

func (s *ScopedClient) GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	return s.client.GetTenantByDomain(ctx, domain)
}

func (s *ScopedClient) UpdateTenant(ctx context.Context, id string, data database.Record) (*models.Tenant, error) {
	if id != s.tc.TenantID || !s.tc.HasRole(models.RoleOwner, models.RoleAdmin) {
		return nil, apperrors.AccessDenied("access denied")
	}
	return s.client.UpdateTenant(ctx, id, data)
}

func (s *ScopedClient) DeleteTenant(ctx context.Context, id string) error {
	if id != s.tc.TenantID || s.tc.UserRole != models.RoleOwner {
		return apperrors.AccessDenied("access denied")
	}
	return s.client.DeleteTenant(ctx, id)
}

func (s *ScopedClient) CreateDomain(ctx context.Context, data database.Record) (*models.Domain, error) {
	return s.client.CreateDomain(ctx, s.stamp(database.TableDomains, data))
}

// GetDomain passes backend misses through and hides other tenants' domains.
func (s *ScopedClient) GetDomain(ctx context.Context, id string) (*models.Domain, error) {
	d, err := s.client.GetDomain(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.TenantID != s.tc.TenantID {
		return nil, apperrors.NotFoundOrDenied()
	}
	return d, nil
}

func (s *ScopedClient) GetDomainsByTenant(ctx context.Context, tenantID string) ([]models.Domain, error) {
	if tenantID != s.tc.TenantID {
		return nil, apperrors.AccessDenied("access denied")
	}
	return s.client.GetDomainsByTenant(ctx, tenantID)
}

func (s *ScopedClient) UpdateDomain(ctx context.Context, id string, data database.Record) (*models.Domain, error) {
	if _, err := s.GetDomain(ctx, id); err != nil {
		return nil, denied(err)
	}
	return s.client.UpdateDomain(ctx, id, s.stamp(database.TableDomains, data))
}

func (s *ScopedClient) DeleteDomain(ctx context.Context, id string) error {
	if _, err := s.GetDomain(ctx, id); err != nil {
		return denied(err)
	}
	return s.client.DeleteDomain(ctx, id)
}

func (s *ScopedClient) VerifyDomain(ctx context.Context, id string) (*models.Domain, error) {
	if _, err := s.GetDomain(ctx, id); err != nil {
		return nil, denied(err)
	}
	return s.client.VerifyDomain(ctx, id)
}

func (s *ScopedClient) Subscribe(ctx context.Context, table string, filter map[string]any, fn func(database.Event)) (func(), error) {
	return s.client.Subscribe(ctx, table, s.filter(table, filter), fn)
}

func (s *ScopedClient) Transaction(ctx context.Context, fn func(ctx context.Context, tx database.Client) error) error {
	return s.client.Transaction(ctx, func(ctx context.Context, tx database.Client) error {
		return fn(ctx, NewScopedClient(tx, s.tc))
	})
}

package tenant

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/tenantgate/internal/apperrors"
	"github.com/nikhilbhutani/tenantgate/internal/cache"
	"github.com/nikhilbhutani/tenantgate/internal/database"
	"github.com/nikhilbhutani/tenantgate/internal/domain"
	"github.com/nikhilbhutani/tenantgate/internal/models"
)

// countingStore counts writes that reach the backend.
type countingStore struct {
	database.Store
	writes int
}

func (c *countingStore) Create(ctx context.Context, table string, data database.Record) (database.Record, error) {
	c.writes++
	return c.Store.Create(ctx, table, data)
}

func newService(t *testing.T) (*Service, *countingStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	store := &countingStore{Store: database.NewMemory()}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(database.NewClient(store, nil), cache.NewCache(rdb, "test"), time.Minute, "yoursaas.com", logger)
	return svc, store, mr
}

func TestCreateRejectsReservedSlugBeforeWrite(t *testing.T) {
	svc, store, _ := newService(t)

	_, err := svc.Create(context.Background(), CreateInput{Name: "WWW", Slug: "www"})
	require.Error(t, err)
	assert.True(t, apperrors.HasKind(err, apperrors.KindValidation))
	assert.Zero(t, store.writes)
}

func TestCreateRejectsBadSlugFormat(t *testing.T) {
	svc, store, _ := newService(t)
	_, err := svc.Create(context.Background(), CreateInput{Name: "X", Slug: "-bad-"})
	assert.True(t, apperrors.HasKind(err, apperrors.KindValidation))
	assert.Zero(t, store.writes)
}

func TestCreateAddsVerifiedSubdomain(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	tn, err := svc.Create(ctx, CreateInput{Name: "Acme", Slug: "Acme"})
	require.NoError(t, err)
	assert.Equal(t, "acme", tn.Slug)

	domains, err := svc.db.GetDomainsByTenant(ctx, tn.ID)
	require.NoError(t, err)
	require.Len(t, domains, 1)
	assert.Equal(t, "acme.yoursaas.com", domains[0].Domain)
	assert.Equal(t, models.DomainVerified, domains[0].Status)
	assert.Equal(t, models.DomainSubdomain, domains[0].Type)
}

func TestCreateDuplicateSlugSuggests(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Name: "Acme", Slug: "acme"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateInput{Name: "Acme 2", Slug: "acme"})
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.KindConflict, appErr.Kind)
	assert.Regexp(t, `^acme[0-9a-f]{4}$`, appErr.Details["suggestion"])
}

func TestResolveUsesCache(t *testing.T) {
	svc, _, mr := newService(t)
	ctx := context.Background()

	tn, err := svc.Create(ctx, CreateInput{Name: "Acme", Slug: "acme"})
	require.NoError(t, err)

	info := domain.NewParser("yoursaas.com").Parse("acme.yoursaas.com")
	got, err := svc.Resolve(ctx, "acme", info)
	require.NoError(t, err)
	assert.Equal(t, tn.ID, got.ID)
	assert.True(t, mr.Exists("test:tenant:acme"))

	// a cached hit survives the row going away
	_, err = svc.db.Update(ctx, database.TableTenants, tn.ID, database.Record{"slug": "renamed"})
	require.NoError(t, err)
	got, err = svc.Resolve(ctx, "acme", info)
	require.NoError(t, err)
	assert.Equal(t, tn.ID, got.ID)

	svc.Invalidate(ctx, "acme")
	_, err = svc.Resolve(ctx, "acme", info)
	assert.True(t, database.IsNotFound(err))
}

func TestResolveCustomDomainAndInactive(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	tn, err := svc.Create(ctx, CreateInput{Name: "Shop", Slug: "shop"})
	require.NoError(t, err)
	d, err := svc.db.CreateDomain(ctx, database.Record{"tenant_id": tn.ID, "domain": "shop.example.org", "type": "custom"})
	require.NoError(t, err)

	info := domain.NewParser("yoursaas.com").Parse("shop.example.org")
	require.True(t, info.IsCustomDomain)

	_, err = svc.Resolve(ctx, "shop.example.org", info)
	assert.True(t, database.IsNotFound(err), "pending domains do not resolve")

	_, err = svc.db.VerifyDomain(ctx, d.ID)
	require.NoError(t, err)
	got, err := svc.Resolve(ctx, "shop.example.org", info)
	require.NoError(t, err)
	assert.Equal(t, tn.ID, got.ID)

	_, err = svc.db.UpdateTenant(ctx, tn.ID, database.Record{"status": models.TenantSuspended})
	require.NoError(t, err)
	svc.Invalidate(ctx, "shop", "shop.example.org")
	_, err = svc.Resolve(ctx, "shop", domain.NewParser("yoursaas.com").Parse("shop.yoursaas.com"))
	assert.True(t, apperrors.HasKind(err, apperrors.KindNotFound))
}

func TestResolveFallsThroughWhenRedisDown(t *testing.T) {
	svc, _, mr := newService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, CreateInput{Name: "Acme", Slug: "acme"})
	require.NoError(t, err)

	mr.Close()
	got, err := svc.Resolve(ctx, "acme", domain.Info{Subdomain: "acme", IsSubdomain: true})
	require.NoError(t, err)
	assert.Equal(t, "acme", got.Slug)
}

func TestUpdateAndDeleteInvalidate(t *testing.T) {
	svc, _, mr := newService(t)
	ctx := context.Background()
	tn, err := svc.Create(ctx, CreateInput{Name: "Acme", Slug: "acme"})
	require.NoError(t, err)

	_, err = svc.Resolve(ctx, "acme", domain.Info{IsSubdomain: true})
	require.NoError(t, err)
	require.True(t, mr.Exists("test:tenant:acme"))

	owner := NewScopedClient(svc.db, Context{TenantID: tn.ID, UserRole: models.RoleOwner})
	_, err = svc.Update(ctx, owner, tn.ID, database.Record{"slug": "www"})
	assert.True(t, apperrors.HasKind(err, apperrors.KindValidation))

	updated, err := svc.Update(ctx, owner, tn.ID, database.Record{"slug": "acme-co"})
	require.NoError(t, err)
	assert.Equal(t, "acme-co", updated.Slug)
	assert.False(t, mr.Exists("test:tenant:acme"))

	require.NoError(t, svc.Delete(ctx, owner, tn.ID))
	got, err := svc.db.GetTenant(ctx, tn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TenantDeleted, got.Status)
}

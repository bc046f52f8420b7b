package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/nikhilbhutani/tenantgate/internal/apperrors"
	"github.com/nikhilbhutani/tenantgate/internal/database"
	"github.com/nikhilbhutani/tenantgate/internal/models"
)

// spyClient records which mutating calls reach the backend.
type spyClient struct {
	database.Client
	updates    []string
	deletes    []string
	lastFilter map[string]any
}

func (s *spyClient) FindMany(ctx context.Context, table string, opts database.QueryOptions) (*database.Page, error) {
	s.lastFilter = opts.Filter
	return s.Client.FindMany(ctx, table, opts)
}

func (s *spyClient) Update(ctx context.Context, table, id string, data database.Record) (database.Record, error) {
	s.updates = append(s.updates, table+"/"+id)
	return s.Client.Update(ctx, table, id, data)
}

func (s *spyClient) Delete(ctx context.Context, table, id string) error {
	s.deletes = append(s.deletes, table+"/"+id)
	return s.Client.Delete(ctx, table, id)
}

func (s *spyClient) UpdateDomain(ctx context.Context, id string, data database.Record) (*models.Domain, error) {
	s.updates = append(s.updates, "domain/"+id)
	return s.Client.UpdateDomain(ctx, id, data)
}

type ScopedSuite struct {
	suite.Suite
	ctx   context.Context
	spy   *spyClient
	base  database.Client
	a, b  *models.Tenant
	recA  database.Record
	scopB *ScopedClient
}

func TestScopedSuite(t *testing.T) {
	suite.Run(t, new(ScopedSuite))
}

func (s *ScopedSuite) SetupTest() {
	s.ctx = context.Background()
	s.base = database.NewClient(database.NewMemory(), nil)
	s.spy = &spyClient{Client: s.base}

	var err error
	s.a, err = s.base.CreateTenant(s.ctx, database.Record{"name": "A", "slug": "tenant-a"})
	s.Require().NoError(err)
	s.b, err = s.base.CreateTenant(s.ctx, database.Record{"name": "B", "slug": "tenant-b"})
	s.Require().NoError(err)

	s.recA, err = s.base.Create(s.ctx, "projects", database.Record{"tenant_id": s.a.ID, "name": "alpha"})
	s.Require().NoError(err)

	s.scopB = NewScopedClient(s.spy, Context{TenantID: s.b.ID, UserID: "u-b", UserRole: models.RoleOwner})
}

func (s *ScopedSuite) TestFindManyAddsTenantFilter() {
	_, err := s.scopB.FindMany(s.ctx, "projects", database.QueryOptions{
		Filter: map[string]any{"name": "alpha", "tenant_id": s.a.ID},
	})
	s.Require().NoError(err)
	s.Equal(map[string]any{"name": "alpha", "tenant_id": s.b.ID}, s.spy.lastFilter)
}

func (s *ScopedSuite) TestFindManyGlobalTableUnfiltered() {
	page, err := s.scopB.FindMany(s.ctx, database.TableTenants, database.QueryOptions{})
	s.Require().NoError(err)
	s.Len(page.Records, 2)
	s.Nil(s.spy.lastFilter)
}

func (s *ScopedSuite) TestCrossTenantUpdateAndDeleteNeverReachBackend() {
	id := s.recA.String("id")

	_, err := s.scopB.Update(s.ctx, "projects", id, database.Record{"name": "pwned"})
	s.True(apperrors.HasKind(err, apperrors.KindNotFound))
	s.Equal(apperrors.MsgNotFoundOrDenied, err.Error())

	err = s.scopB.Delete(s.ctx, "projects", id)
	s.Equal(apperrors.MsgNotFoundOrDenied, err.Error())

	s.Empty(s.spy.updates)
	s.Empty(s.spy.deletes)

	rec, err := s.base.FindByID(s.ctx, "projects", id, database.QueryOptions{})
	s.Require().NoError(err)
	s.Equal("alpha", rec.String("name"))
}

func (s *ScopedSuite) TestOwnTenantUpdateKeepsTenantID() {
	scopA := NewScopedClient(s.spy, Context{TenantID: s.a.ID})
	rec, err := scopA.Update(s.ctx, "projects", s.recA.String("id"), database.Record{"name": "beta", "tenant_id": s.b.ID})
	s.Require().NoError(err)
	s.Equal("beta", rec.String("name"))
	s.Equal(s.a.ID, rec.String("tenant_id"))
	s.Len(s.spy.updates, 1)
}

func (s *ScopedSuite) TestCreateStampsTenant() {
	rec, err := s.scopB.Create(s.ctx, "projects", database.Record{"name": "gamma", "tenant_id": s.a.ID})
	s.Require().NoError(err)
	s.Equal(s.b.ID, rec.String("tenant_id"))

	recs, err := s.scopB.CreateMany(s.ctx, "projects", []database.Record{{"name": "d"}, {"name": "e"}})
	s.Require().NoError(err)
	for _, r := range recs {
		s.Equal(s.b.ID, r.String("tenant_id"))
	}
}

func (s *ScopedSuite) TestBatchOpsStayInTenant() {
	n, err := s.scopB.UpdateMany(s.ctx, "projects", nil, database.Record{"name": "x"})
	s.Require().NoError(err)
	s.Zero(n)

	n, err = s.scopB.DeleteMany(s.ctx, "projects", map[string]any{"name": "alpha"})
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *ScopedSuite) TestTenantRoleRules() {
	member := NewScopedClient(s.spy, Context{TenantID: s.b.ID, UserRole: models.RoleMember})
	admin := NewScopedClient(s.spy, Context{TenantID: s.b.ID, UserRole: models.RoleAdmin})

	_, err := member.GetTenant(s.ctx, s.a.ID)
	s.True(apperrors.HasKind(err, apperrors.KindAccessDenied))
	_, err = member.GetTenant(s.ctx, s.b.ID)
	s.NoError(err)
	_, err = s.scopB.GetTenant(s.ctx, s.a.ID)
	s.NoError(err)

	_, err = member.UpdateTenant(s.ctx, s.b.ID, database.Record{"name": "B2"})
	s.True(apperrors.HasKind(err, apperrors.KindAccessDenied))
	_, err = admin.UpdateTenant(s.ctx, s.b.ID, database.Record{"name": "B2"})
	s.NoError(err)
	_, err = admin.UpdateTenant(s.ctx, s.a.ID, database.Record{"name": "A2"})
	s.True(apperrors.HasKind(err, apperrors.KindAccessDenied))

	s.True(apperrors.HasKind(admin.DeleteTenant(s.ctx, s.b.ID), apperrors.KindAccessDenied))
	s.True(apperrors.HasKind(s.scopB.DeleteTenant(s.ctx, s.a.ID), apperrors.KindAccessDenied))
	s.NoError(s.scopB.DeleteTenant(s.ctx, s.b.ID))
}

func (s *ScopedSuite) TestDomainIsolation() {
	d, err := s.base.CreateDomain(s.ctx, database.Record{"tenant_id": s.a.ID, "domain": "a.io", "type": "custom"})
	s.Require().NoError(err)

	_, err = s.scopB.GetDomain(s.ctx, d.ID)
	s.Equal(apperrors.MsgNotFoundOrDenied, err.Error())
	_, err = s.scopB.UpdateDomain(s.ctx, d.ID, database.Record{"status": "verified"})
	s.Equal(apperrors.MsgNotFoundOrDenied, err.Error())
	s.Equal(apperrors.MsgNotFoundOrDenied, s.scopB.DeleteDomain(s.ctx, d.ID).Error())
	_, err = s.scopB.VerifyDomain(s.ctx, d.ID)
	s.Equal(apperrors.MsgNotFoundOrDenied, err.Error())
	s.Empty(s.spy.updates)

	_, err = s.scopB.GetDomainsByTenant(s.ctx, s.a.ID)
	s.True(apperrors.HasKind(err, apperrors.KindAccessDenied))

	own, err := s.scopB.CreateDomain(s.ctx, database.Record{"tenant_id": s.a.ID, "domain": "b.io", "type": "custom"})
	s.Require().NoError(err)
	s.Equal(s.b.ID, own.TenantID)

	list, err := s.scopB.GetDomainsByTenant(s.ctx, s.b.ID)
	s.Require().NoError(err)
	s.Len(list, 1)
}

func (s *ScopedSuite) TestSubscriptionsRequireTenantUser() {
	_, err := s.base.Create(s.ctx, database.TableUsers, database.Record{"id": "u-a", "tenant_id": s.a.ID, "email": "a@a.io"})
	s.Require().NoError(err)
	_, err = s.base.Create(s.ctx, database.TableUsers, database.Record{"id": "u-b", "tenant_id": s.b.ID, "email": "b@b.io"})
	s.Require().NoError(err)

	_, err = s.scopB.UpdateSubscription(s.ctx, "u-a", database.Record{"plan": "pro"})
	s.Equal(apperrors.MsgNotFoundOrDenied, err.Error())
	_, err = s.scopB.CancelSubscription(s.ctx, "u-a")
	s.Equal(apperrors.MsgNotFoundOrDenied, err.Error())

	sub, err := s.scopB.UpdateSubscription(s.ctx, "u-b", database.Record{"plan": "pro"})
	s.Require().NoError(err)
	s.Equal("u-b", sub.UserID)
}

func (s *ScopedSuite) TestSubscribeMergesFilter() {
	var got []database.Event
	stop, err := s.scopB.Subscribe(s.ctx, "projects", nil, func(ev database.Event) { got = append(got, ev) })
	s.Require().NoError(err)
	defer stop()

	_, err = s.base.Create(s.ctx, "projects", database.Record{"tenant_id": s.a.ID})
	s.Require().NoError(err)
	_, err = s.base.Create(s.ctx, "projects", database.Record{"tenant_id": s.b.ID})
	s.Require().NoError(err)

	s.Require().Len(got, 1)
	s.Equal(s.b.ID, got[0].Record.String("tenant_id"))
}

func (s *ScopedSuite) TestTransactionHandsOutScopedClient() {
	err := s.scopB.Transaction(s.ctx, func(ctx context.Context, tx database.Client) error {
		_, ok := tx.(*ScopedClient)
		s.True(ok)
		rec, err := tx.Create(ctx, "projects", database.Record{"name": "in-tx"})
		if err != nil {
			return err
		}
		s.Equal(s.b.ID, rec.String("tenant_id"))
		return nil
	})
	s.NoError(err)
}

func (s *ScopedSuite) TestProfileCannotChangeTenant() {
	rec := database.Record{"name": "n", "tenant_id": s.a.ID}
	_, err := s.scopB.UpdateProfile(s.ctx, "u-b", rec)
	// no authenticator configured on the base client
	s.True(apperrors.HasKind(err, apperrors.KindUnsupported))
	s.Equal(s.a.ID, rec["tenant_id"])
}

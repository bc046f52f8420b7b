package database

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/tenantgate/internal/apperrors"
)

func newMockSQLStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLStoreFromDB(db), mock
}

func TestSQLStoreFindByIDScoped(t *testing.T) {
	s, mock := newMockSQLStore(t)

	mock.ExpectQuery(`SELECT * FROM "domains" WHERE "id" = $1 AND "tenant_id" = $2 LIMIT $3`).
		WithArgs("d1", "t1", int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "settings"}).
			AddRow("d1", "t1", []byte(`{"dns_records":{"routing_record_id":"r1"}}`)))

	rec, err := s.FindByID(context.Background(), "domains", "d1", QueryOptions{Filter: map[string]any{"tenant_id": "t1"}})
	require.NoError(t, err)
	assert.Equal(t, "t1", rec.String("tenant_id"))
	settings, ok := rec["settings"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, settings, "dns_records")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreFindByIDMissing(t *testing.T) {
	s, mock := newMockSQLStore(t)

	mock.ExpectQuery(`SELECT * FROM "tenants" WHERE "id" = $1 LIMIT $2`).
		WithArgs("nope", int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.FindByID(context.Background(), "tenants", "nope", QueryOptions{})
	assert.True(t, IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreFindManyCounts(t *testing.T) {
	s, mock := newMockSQLStore(t)

	mock.ExpectQuery(`SELECT * FROM "tenants" WHERE "plan" = $1 ORDER BY "created_at" DESC LIMIT $2`).
		WithArgs("pro", int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("t1").AddRow("t2"))
	mock.ExpectQuery(`SELECT COUNT(*) FROM "tenants" WHERE "plan" = $1`).
		WithArgs("pro").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(5)))

	page, err := s.FindMany(context.Background(), "tenants", QueryOptions{
		Filter: map[string]any{"plan": "pro"},
		Sort:   []SortField{{Field: "created_at", Desc: true}},
		Limit:  2,
	})
	require.NoError(t, err)
	assert.Len(t, page.Records, 2)
	assert.Equal(t, 5, page.Pagination.Total)
	assert.True(t, page.Pagination.HasMore)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreCreateConflict(t *testing.T) {
	s, mock := newMockSQLStore(t)

	mock.ExpectQuery(`INSERT INTO "tenants" ("name", "slug") VALUES ($1, $2) RETURNING *`).
		WithArgs("Acme", "acme").
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := s.Create(context.Background(), "tenants", Record{"name": "Acme", "slug": "acme"})
	assert.True(t, apperrors.HasKind(err, apperrors.KindConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreUpdateManyAndDelete(t *testing.T) {
	s, mock := newMockSQLStore(t)

	mock.ExpectExec(`UPDATE "domains" SET "status" = $1 WHERE "tenant_id" = $2`).
		WithArgs("expired", "t1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`DELETE FROM "domains" WHERE "id" = $1`).
		WithArgs("d9").
		WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := s.UpdateMany(context.Background(), "domains", map[string]any{"tenant_id": "t1"}, Record{"status": "expired"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	err = s.Delete(context.Background(), "domains", "d9")
	assert.True(t, IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreTransactionRollsBack(t *testing.T) {
	s, mock := newMockSQLStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "domains" WHERE "tenant_id" = $1`).
		WithArgs("t1").
		WillReturnError(&pq.Error{Code: "40001"})
	mock.ExpectRollback()

	err := s.Transaction(context.Background(), func(ctx context.Context, tx Store) error {
		_, err := tx.DeleteMany(ctx, "domains", map[string]any{"tenant_id": "t1"})
		return err
	})
	assert.True(t, apperrors.HasKind(err, apperrors.KindUpstream))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreRejectsBadIdentifiers(t *testing.T) {
	s, _ := newMockSQLStore(t)
	_, err := s.FindMany(context.Background(), "tenants; drop table x", QueryOptions{})
	assert.True(t, apperrors.HasKind(err, apperrors.KindValidation))
}

package database

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/tenantgate/internal/apperrors"
)

// jsonHandler marks every response as JSON so resty decodes results.
func jsonHandler(fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fn(w, r)
	})
}

func TestSupabaseFindMany(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/domains", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		q := r.URL.Query()
		assert.Equal(t, "eq.t1", q.Get("tenant_id"))
		assert.Equal(t, "in.(pending,verified)", q.Get("status"))
		assert.Equal(t, "is.null", q.Get("verified_at"))
		assert.Equal(t, "created_at.desc", q.Get("order"))
		assert.Equal(t, "10", q.Get("limit"))
		assert.Equal(t, "10", q.Get("offset"))

		w.Header().Set("Content-Range", "10-11/25")
		_ = json.NewEncoder(w).Encode([]Record{{"id": "d1"}, {"id": "d2"}})
	}))
	defer srv.Close()

	s := NewSupabase(srv.URL, "key")
	page, err := s.FindMany(context.Background(), "domains", QueryOptions{
		Filter: map[string]any{"tenant_id": "t1", "status": []string{"pending", "verified"}, "verified_at": nil},
		Sort:   []SortField{{Field: "created_at", Desc: true}},
		Limit:  10,
		Offset: 10,
	})
	require.NoError(t, err)
	assert.Len(t, page.Records, 2)
	assert.Equal(t, 25, page.Pagination.Total)
	assert.Equal(t, 2, page.Pagination.Page)
	assert.True(t, page.Pagination.HasMore)
}

func TestNewPagination(t *testing.T) {
	tests := []struct {
		name    string
		offset  int
		total   int
		page    int
		hasMore bool
	}{
		{"first of several", 0, 25, 1, true},
		{"middle", 10, 25, 2, true},
		{"last partial page", 10, 12, 2, false},
		{"exact end", 20, 30, 3, false},
		{"empty", 0, 0, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPagination(QueryOptions{Limit: 10, Offset: tt.offset}, tt.total)
			require.NotNil(t, p)
			assert.Equal(t, tt.page, p.Page)
			assert.Equal(t, tt.hasMore, p.HasMore)
		})
	}
	assert.Nil(t, newPagination(QueryOptions{}, 5))
}

func TestSupabaseWrites(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			assert.Equal(t, "return=representation", r.Header.Get("Prefer"))
			var body []Record
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			body[0]["id"] = "t1"
			_ = json.NewEncoder(w).Encode(body)
		case http.MethodPatch:
			// no row matched the filter
			_ = json.NewEncoder(w).Encode([]Record{})
		case http.MethodDelete:
			w.WriteHeader(http.StatusConflict)
		}
	}))
	defer srv.Close()

	s := NewSupabase(srv.URL, "key")
	ctx := context.Background()

	rec, err := s.Create(ctx, "tenants", Record{"slug": "acme"})
	require.NoError(t, err)
	assert.Equal(t, "t1", rec.String("id"))
	assert.Equal(t, "acme", rec.String("slug"))

	_, err = s.Update(ctx, "tenants", "missing", Record{"name": "x"})
	assert.True(t, IsNotFound(err))

	err = s.Delete(ctx, "tenants", "t1")
	assert.True(t, apperrors.HasKind(err, apperrors.KindConflict))
}

func TestXanoConnectFallsBackToRoot(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	x := NewXano(srv.URL, "secret")
	require.NoError(t, x.Connect(context.Background()))
	assert.True(t, x.IsConnected())
}

func TestXanoFindByIDAppliesScope(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/domains/7", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":7,"tenant_id":42,"domain":"a.io"}`))
	}))
	defer srv.Close()

	x := NewXano(srv.URL, "secret")
	ctx := context.Background()

	rec, err := x.FindByID(ctx, "domains", "7", QueryOptions{Filter: map[string]any{"tenant_id": "42"}})
	require.NoError(t, err)
	assert.Equal(t, "7", rec.String("id"))

	_, err = x.FindByID(ctx, "domains", "7", QueryOptions{Filter: map[string]any{"tenant_id": "43"}})
	assert.True(t, IsNotFound(err))
}

func TestXanoFindManyPagination(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "t1", q.Get("tenant_id"))
		assert.Equal(t, "2", q.Get("page"))
		assert.Equal(t, "5", q.Get("per_page"))
		assert.Equal(t, "created_at:desc", q.Get("sort"))
		w.Header().Set("X-Pagination", `{"page":2,"limit":5,"total":11,"has_more":true}`)
		_, _ = w.Write([]byte(`[{"id":"d6"}]`))
	}))
	defer srv.Close()

	x := NewXano(srv.URL, "secret")
	page, err := x.FindMany(context.Background(), "domains", QueryOptions{
		Filter: map[string]any{"tenant_id": "t1"},
		Sort:   []SortField{{Field: "created_at", Desc: true}},
		Limit:  5,
		Offset: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, &Pagination{Page: 2, Limit: 5, Total: 11, HasMore: true}, page.Pagination)
}

func TestInstantDBQueryAndTransact(t *testing.T) {
	var steps [][]any
	srv := httptest.NewServer(jsonHandler(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "app-1", r.Header.Get("App-Id"))
		assert.Equal(t, "Bearer admin", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/admin/query":
			var body struct {
				Query map[string]map[string]map[string]any `json:"query"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			where := body.Query["domains"]["$"]["where"].(map[string]any)
			assert.Equal(t, "t1", where["tenant_id"])
			_, _ = w.Write([]byte(`{"domains":[
				{"id":"a","tenant_id":"t1","created_at":"2024-01-01T00:00:00Z"},
				{"id":"b","tenant_id":"t1","created_at":"2024-03-01T00:00:00Z"},
				{"id":"c","tenant_id":"t1","created_at":"2024-02-01T00:00:00Z"}]}`))
		case "/admin/transact":
			var body struct {
				Steps [][]any `json:"steps"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			steps = body.Steps
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()

	d := NewInstantDB(srv.URL, "app-1", "admin")
	ctx := context.Background()

	page, err := d.FindMany(ctx, "domains", QueryOptions{
		Filter: map[string]any{"tenant_id": "t1"},
		Sort:   []SortField{{Field: "created_at", Desc: true}},
		Limit:  2,
	})
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	assert.Equal(t, "b", page.Records[0].String("id"))
	assert.Equal(t, "c", page.Records[1].String("id"))
	assert.Equal(t, 3, page.Pagination.Total)

	n, err := d.UpdateMany(ctx, "domains", map[string]any{"tenant_id": "t1"}, Record{"status": "expired"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	require.Len(t, steps, 3)
	assert.Equal(t, "update", steps[0][0])
	assert.Equal(t, "domains", steps[0][1])
}

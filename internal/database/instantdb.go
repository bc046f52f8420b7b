package database

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/nikhilbhutani/tenantgate/internal/apperrors"
)

const defaultInstantDBURL = "https://api.instantdb.com"

// InstantDB uses the admin HTTP API. The API has no server-side ordering or
// offsets for our use, so sorting and paging happen here.
type InstantDB struct {
	http      *resty.Client
	connected atomic.Bool
}

func NewInstantDB(apiURL, appID, adminToken string) *InstantDB {
	if apiURL == "" {
		apiURL = defaultInstantDBURL
	}
	c := newRESTClient(strings.TrimRight(apiURL, "/")).
		SetAuthToken(adminToken).
		SetHeader("App-Id", appID)
	return &InstantDB{http: c}
}

func (d *InstantDB) Connect(ctx context.Context) error {
	if _, err := d.query(ctx, "tenants", map[string]any{"id": uuid.Nil.String()}); err != nil {
		return apperrors.Wrap(err, apperrors.KindUnavailable, "connect to instantdb")
	}
	d.connected.Store(true)
	return nil
}

func (d *InstantDB) Close(context.Context) error {
	d.connected.Store(false)
	return nil
}

func (d *InstantDB) IsConnected() bool { return d.connected.Load() }

func (d *InstantDB) query(ctx context.Context, table string, where map[string]any) ([]Record, error) {
	clause := map[string]any{}
	if len(where) > 0 {
		w := map[string]any{}
		for k, v := range where {
			if isList(v) {
				w[k] = map[string]any{"in": v}
				continue
			}
			w[k] = sqlArg(v)
		}
		clause["where"] = w
	}
	body := map[string]any{"query": map[string]any{table: map[string]any{"$": clause}}}

	var out map[string][]Record
	resp, err := d.http.R().SetContext(ctx).SetBody(body).SetResult(&out).Post("/admin/query")
	if err := restError("instantdb", resp, err); err != nil {
		return nil, err
	}
	recs := out[table]
	for i := range recs {
		recs[i] = plainRecord(recs[i])
	}
	return recs, nil
}

func (d *InstantDB) transact(ctx context.Context, steps [][]any) error {
	resp, err := d.http.R().SetContext(ctx).
		SetBody(map[string]any{"steps": steps}).
		Post("/admin/transact")
	return restError("instantdb", resp, err)
}

func (d *InstantDB) FindMany(ctx context.Context, table string, opts QueryOptions) (*Page, error) {
	recs, err := d.query(ctx, table, opts.Filter)
	if err != nil {
		return nil, err
	}
	sortRecords(recs, opts.Sort)
	total := len(recs)
	if opts.Offset > 0 {
		if opts.Offset >= len(recs) {
			recs = nil
		} else {
			recs = recs[opts.Offset:]
		}
	}
	if opts.Limit > 0 && len(recs) > opts.Limit {
		recs = recs[:opts.Limit]
	}
	for i := range recs {
		recs[i] = project(recs[i], opts.Select)
	}
	return &Page{Records: recs, Pagination: newPagination(opts, total)}, nil
}

func (d *InstantDB) FindByID(ctx context.Context, table, id string, opts QueryOptions) (Record, error) {
	return d.FindOne(ctx, table, map[string]any{"id": id}, opts)
}

func (d *InstantDB) FindOne(ctx context.Context, table string, filter map[string]any, opts QueryOptions) (Record, error) {
	o := opts
	o.Filter = mergeFilters(opts.Filter, filter)
	o.Limit = 1
	page, err := d.FindMany(ctx, table, o)
	if err != nil {
		return nil, err
	}
	if len(page.Records) == 0 {
		return nil, notFound(table)
	}
	return page.Records[0], nil
}

func (d *InstantDB) Create(ctx context.Context, table string, data Record) (Record, error) {
	recs, err := d.CreateMany(ctx, table, []Record{data})
	if err != nil {
		return nil, err
	}
	return recs[0], nil
}

func (d *InstantDB) CreateMany(ctx context.Context, table string, data []Record) ([]Record, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	steps := make([][]any, 0, len(data))
	out := make([]Record, 0, len(data))
	for _, r := range data {
		rec := r.Clone()
		id := rec.String("id")
		if id == "" {
			id = uuid.NewString()
		}
		delete(rec, "id")
		if _, ok := rec["created_at"]; !ok {
			rec["created_at"] = now
		}
		if _, ok := rec["updated_at"]; !ok {
			rec["updated_at"] = now
		}
		steps = append(steps, []any{"update", table, id, rec})
		stored := plainRecord(rec)
		stored["id"] = id
		out = append(out, stored)
	}
	if err := d.transact(ctx, steps); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *InstantDB) Update(ctx context.Context, table, id string, data Record) (Record, error) {
	if _, err := d.FindByID(ctx, table, id, QueryOptions{}); err != nil {
		return nil, err
	}
	patch := data.Clone()
	delete(patch, "id")
	if err := d.transact(ctx, [][]any{{"update", table, id, patch}}); err != nil {
		return nil, err
	}
	return d.FindByID(ctx, table, id, QueryOptions{})
}

func (d *InstantDB) Delete(ctx context.Context, table, id string) error {
	return d.transact(ctx, [][]any{{"delete", table, id}})
}

func (d *InstantDB) UpdateMany(ctx context.Context, table string, filter map[string]any, data Record) (int64, error) {
	recs, err := d.query(ctx, table, filter)
	if err != nil || len(recs) == 0 {
		return 0, err
	}
	patch := data.Clone()
	delete(patch, "id")
	steps := make([][]any, 0, len(recs))
	for _, r := range recs {
		steps = append(steps, []any{"update", table, r.String("id"), patch})
	}
	if err := d.transact(ctx, steps); err != nil {
		return 0, err
	}
	return int64(len(steps)), nil
}

func (d *InstantDB) DeleteMany(ctx context.Context, table string, filter map[string]any) (int64, error) {
	recs, err := d.query(ctx, table, filter)
	if err != nil || len(recs) == 0 {
		return 0, err
	}
	steps := make([][]any, 0, len(recs))
	for _, r := range recs {
		steps = append(steps, []any{"delete", table, r.String("id")})
	}
	if err := d.transact(ctx, steps); err != nil {
		return 0, err
	}
	return int64(len(steps)), nil
}

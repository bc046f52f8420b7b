package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/nikhilbhutani/tenantgate/internal/apperrors"
)

// Xano talks to a Xano workspace that exposes one CRUD endpoint group per
// table: GET/POST /{table}, GET/PATCH/DELETE /{table}/{id}.
type Xano struct {
	http      *resty.Client
	connected atomic.Bool
}

func NewXano(apiURL, apiKey string) *Xano {
	c := newRESTClient(strings.TrimRight(apiURL, "/")).
		SetAuthToken(apiKey).
		SetHeader("User-Agent", "tenantgate/1.0").
		OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
			r.SetHeader("X-Correlation-ID", uuid.NewString())
			return nil
		})
	return &Xano{http: c}
}

func (x *Xano) Connect(ctx context.Context) error {
	resp, err := x.http.R().SetContext(ctx).Get("/health")
	if err != nil || !resp.IsSuccess() {
		resp, err = x.http.R().SetContext(ctx).Get("/")
	}
	if err := restError("xano", resp, err); err != nil {
		return apperrors.Wrap(err, apperrors.KindUnavailable, "connect to xano")
	}
	x.connected.Store(true)
	return nil
}

func (x *Xano) Close(context.Context) error {
	x.connected.Store(false)
	return nil
}

func (x *Xano) IsConnected() bool { return x.connected.Load() }

// xanoRecord normalises numeric Xano ids to strings.
func xanoRecord(r Record) Record {
	for _, k := range []string{"id", "tenant_id", "user_id", "owner_id"} {
		switch v := r[k].(type) {
		case float64:
			r[k] = strconv.FormatFloat(v, 'f', -1, 64)
		case json.Number:
			r[k] = v.String()
		}
	}
	return r
}

func (x *Xano) FindMany(ctx context.Context, table string, opts QueryOptions) (*Page, error) {
	params := map[string]string{}
	for k, v := range opts.Filter {
		params[k] = fmt.Sprint(sqlArg(v))
	}
	if len(opts.Sort) > 0 {
		var sorts []string
		for _, s := range opts.Sort {
			dir := "asc"
			if s.Desc {
				dir = "desc"
			}
			sorts = append(sorts, s.Field+":"+dir)
		}
		params["sort"] = strings.Join(sorts, ",")
	}
	if opts.Limit > 0 {
		params["per_page"] = strconv.Itoa(opts.Limit)
		params["page"] = strconv.Itoa(opts.Offset/opts.Limit + 1)
	}

	var out []Record
	resp, err := x.http.R().SetContext(ctx).SetQueryParams(params).SetResult(&out).Get("/" + table)
	if err := restError("xano", resp, err); err != nil {
		return nil, err
	}
	for i := range out {
		out[i] = xanoRecord(project(out[i], opts.Select))
	}

	page := &Page{Records: out, Pagination: newPagination(opts, len(out))}
	if raw := resp.Header().Get("X-Pagination"); raw != "" {
		var p Pagination
		if json.Unmarshal([]byte(raw), &p) == nil {
			page.Pagination = &p
		}
	}
	return page, nil
}

func (x *Xano) FindByID(ctx context.Context, table, id string, opts QueryOptions) (Record, error) {
	var out Record
	resp, err := x.http.R().SetContext(ctx).SetResult(&out).Get("/" + table + "/" + id)
	if err := restError("xano", resp, err); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, notFound(table)
	}
	out = xanoRecord(out)
	// Xano item endpoints take no filters, so scoping is checked here.
	if !matches(plainRecord(out), opts.Filter) {
		return nil, notFound(table)
	}
	return project(out, opts.Select), nil
}

func (x *Xano) FindOne(ctx context.Context, table string, filter map[string]any, opts QueryOptions) (Record, error) {
	o := opts
	o.Filter = mergeFilters(opts.Filter, filter)
	o.Limit = 1
	page, err := x.FindMany(ctx, table, o)
	if err != nil {
		return nil, err
	}
	if len(page.Records) == 0 {
		return nil, notFound(table)
	}
	return page.Records[0], nil
}

func (x *Xano) Create(ctx context.Context, table string, data Record) (Record, error) {
	var out Record
	resp, err := x.http.R().SetContext(ctx).SetBody(data).SetResult(&out).Post("/" + table)
	if err := restError("xano", resp, err); err != nil {
		return nil, err
	}
	return xanoRecord(out), nil
}

func (x *Xano) Update(ctx context.Context, table, id string, data Record) (Record, error) {
	var out Record
	resp, err := x.http.R().SetContext(ctx).SetBody(data).SetResult(&out).Patch("/" + table + "/" + id)
	if err := restError("xano", resp, err); err != nil {
		return nil, err
	}
	return xanoRecord(out), nil
}

func (x *Xano) Delete(ctx context.Context, table, id string) error {
	resp, err := x.http.R().SetContext(ctx).Delete("/" + table + "/" + id)
	return restError("xano", resp, err)
}

func (x *Xano) CreateMany(ctx context.Context, table string, data []Record) ([]Record, error) {
	out := make([]Record, 0, len(data))
	for _, d := range data {
		r, err := x.Create(ctx, table, d)
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (x *Xano) UpdateMany(ctx context.Context, table string, filter map[string]any, data Record) (int64, error) {
	page, err := x.FindMany(ctx, table, QueryOptions{Filter: filter})
	if err != nil {
		return 0, err
	}
	var n int64
	for _, r := range page.Records {
		if _, err := x.Update(ctx, table, r.String("id"), data); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (x *Xano) DeleteMany(ctx context.Context, table string, filter map[string]any) (int64, error) {
	page, err := x.FindMany(ctx, table, QueryOptions{Filter: filter})
	if err != nil {
		return 0, err
	}
	var n int64
	for _, r := range page.Records {
		if err := x.Delete(ctx, table, r.String("id")); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

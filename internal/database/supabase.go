package database

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/go-resty/resty/v2"

	"github.com/nikhilbhutani/tenantgate/internal/apperrors"
)

// Supabase reaches tables through the PostgREST endpoint at /rest/v1.
type Supabase struct {
	http      *resty.Client
	connected atomic.Bool
}

func NewSupabase(projectURL, apiKey string) *Supabase {
	c := newRESTClient(strings.TrimRight(projectURL, "/")+"/rest/v1").
		SetHeader("apikey", apiKey).
		SetAuthToken(apiKey).
		SetHeader("Prefer", "return=representation")
	return &Supabase{http: c}
}

func (s *Supabase) Connect(ctx context.Context) error {
	resp, err := s.http.R().SetContext(ctx).Get("/")
	if err := restError("supabase", resp, err); err != nil {
		return apperrors.Wrap(err, apperrors.KindUnavailable, "connect to supabase")
	}
	s.connected.Store(true)
	return nil
}

func (s *Supabase) Close(context.Context) error {
	s.connected.Store(false)
	return nil
}

func (s *Supabase) IsConnected() bool { return s.connected.Load() }

// postgrestFilter renders filter values in PostgREST operator syntax.
func postgrestFilter(filter map[string]any) url.Values {
	v := url.Values{}
	for _, k := range sortedKeys(filter) {
		val := filter[k]
		switch {
		case val == nil:
			v.Set(k, "is.null")
		case isList(val):
			v.Set(k, "in.("+strings.Join(listStrings(val), ",")+")")
		default:
			v.Set(k, "eq."+fmt.Sprint(sqlArg(val)))
		}
	}
	return v
}

func postgrestQuery(opts QueryOptions) url.Values {
	v := postgrestFilter(opts.Filter)
	if len(opts.Select) > 0 {
		v.Set("select", strings.Join(opts.Select, ","))
	}
	if len(opts.Sort) > 0 {
		var order []string
		for _, s := range opts.Sort {
			dir := "asc"
			if s.Desc {
				dir = "desc"
			}
			order = append(order, s.Field+"."+dir)
		}
		v.Set("order", strings.Join(order, ","))
	}
	if opts.Limit > 0 {
		v.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		v.Set("offset", strconv.Itoa(opts.Offset))
	}
	return v
}

func (s *Supabase) FindMany(ctx context.Context, table string, opts QueryOptions) (*Page, error) {
	var out []Record
	req := s.http.R().SetContext(ctx).SetQueryParamsFromValues(postgrestQuery(opts)).SetResult(&out)
	if opts.Limit > 0 {
		req.SetHeader("Prefer", "count=exact")
	}
	resp, err := req.Get("/" + table)
	if err := restError("supabase", resp, err); err != nil {
		return nil, err
	}

	total := len(out)
	// Content-Range: 0-9/42
	if cr := resp.Header().Get("Content-Range"); cr != "" {
		if i := strings.LastIndex(cr, "/"); i >= 0 {
			if n, err := strconv.Atoi(cr[i+1:]); err == nil {
				total = n
			}
		}
	}
	return &Page{Records: out, Pagination: newPagination(opts, total)}, nil
}

func (s *Supabase) FindByID(ctx context.Context, table, id string, opts QueryOptions) (Record, error) {
	return s.FindOne(ctx, table, map[string]any{"id": id}, opts)
}

func (s *Supabase) FindOne(ctx context.Context, table string, filter map[string]any, opts QueryOptions) (Record, error) {
	o := opts
	o.Filter = mergeFilters(opts.Filter, filter)
	o.Limit = 1
	page, err := s.FindMany(ctx, table, o)
	if err != nil {
		return nil, err
	}
	if len(page.Records) == 0 {
		return nil, notFound(table)
	}
	return page.Records[0], nil
}

func (s *Supabase) Create(ctx context.Context, table string, data Record) (Record, error) {
	recs, err := s.CreateMany(ctx, table, []Record{data})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, apperrors.Upstream(nil, "supabase returned no row")
	}
	return recs[0], nil
}

func (s *Supabase) CreateMany(ctx context.Context, table string, data []Record) ([]Record, error) {
	var out []Record
	resp, err := s.http.R().SetContext(ctx).SetBody(data).SetResult(&out).Post("/" + table)
	if err := restError("supabase", resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Supabase) Update(ctx context.Context, table, id string, data Record) (Record, error) {
	var out []Record
	resp, err := s.http.R().SetContext(ctx).
		SetQueryParamsFromValues(postgrestFilter(map[string]any{"id": id})).
		SetBody(data).SetResult(&out).
		Patch("/" + table)
	if err := restError("supabase", resp, err); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, notFound(table)
	}
	return out[0], nil
}

func (s *Supabase) Delete(ctx context.Context, table, id string) error {
	n, err := s.DeleteMany(ctx, table, map[string]any{"id": id})
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(table)
	}
	return nil
}

func (s *Supabase) UpdateMany(ctx context.Context, table string, filter map[string]any, data Record) (int64, error) {
	var out []Record
	resp, err := s.http.R().SetContext(ctx).
		SetQueryParamsFromValues(postgrestFilter(filter)).
		SetBody(data).SetResult(&out).
		Patch("/" + table)
	if err := restError("supabase", resp, err); err != nil {
		return 0, err
	}
	return int64(len(out)), nil
}

func (s *Supabase) DeleteMany(ctx context.Context, table string, filter map[string]any) (int64, error) {
	var out []Record
	resp, err := s.http.R().SetContext(ctx).
		SetQueryParamsFromValues(postgrestFilter(filter)).
		SetResult(&out).
		Delete("/" + table)
	if err := restError("supabase", resp, err); err != nil {
		return 0, err
	}
	return int64(len(out)), nil
}

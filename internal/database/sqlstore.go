package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/lib/pq"

	"github.com/nikhilbhutani/tenantgate/internal/apperrors"
)

type sqlQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SQLStore serves the prisma provider: the Prisma-managed schema is plain
// PostgreSQL, reached here through database/sql and lib/pq.
type SQLStore struct {
	dsn string
	db  *sql.DB
	q   sqlQuerier
}

func NewSQLStore(dsn string) *SQLStore {
	return &SQLStore{dsn: dsn}
}

// NewSQLStoreFromDB wraps an open handle; Connect only pings it.
func NewSQLStoreFromDB(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, q: db}
}

func (s *SQLStore) Connect(ctx context.Context) error {
	if s.db == nil {
		db, err := sql.Open("postgres", s.dsn)
		if err != nil {
			return apperrors.Wrap(err, apperrors.KindConfiguration, "open database")
		}
		s.db = db
		s.q = db
	}
	if err := s.db.PingContext(ctx); err != nil {
		return apperrors.Wrap(err, apperrors.KindUnavailable, "ping database")
	}
	return nil
}

func (s *SQLStore) Close(context.Context) error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db, s.q = nil, nil
	return err
}

func (s *SQLStore) IsConnected() bool {
	return s.q != nil
}

func (s *SQLStore) querier() (sqlQuerier, error) {
	if s.q == nil {
		return nil, apperrors.New(apperrors.KindUnavailable, "database is not connected")
	}
	return s.q, nil
}

// pqValue sends maps and non-byte slices as JSON text.
func pqValue(v any) any {
	v = sqlArg(v)
	if v == nil {
		return nil
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice:
		if _, ok := v.([]byte); ok {
			return v
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return v
		}
		return string(raw)
	}
	return v
}

func pqArray(v any) any {
	return pq.Array(v)
}

func (s *SQLStore) collect(ctx context.Context, q *sqlQuery) ([]Record, error) {
	db, err := s.querier()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, q.String(), q.args...)
	if err != nil {
		return nil, sqlError(err, "query")
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, sqlError(err, "columns")
	}

	var out []Record
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, sqlError(err, "scan")
		}
		rec := make(Record, len(cols))
		for i, c := range cols {
			rec[c] = fromSQL(vals[i])
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, sqlError(err, "iterate rows")
	}
	return out, nil
}

func (s *SQLStore) FindMany(ctx context.Context, table string, opts QueryOptions) (*Page, error) {
	q, err := buildSelect(table, opts, pqArray)
	if err != nil {
		return nil, err
	}
	recs, err := s.collect(ctx, q)
	if err != nil {
		return nil, err
	}

	total := len(recs)
	if opts.Limit > 0 || opts.Offset > 0 {
		cq, err := buildCount(table, opts.Filter, pqArray)
		if err != nil {
			return nil, err
		}
		counted, err := s.collect(ctx, cq)
		if err != nil {
			return nil, err
		}
		if len(counted) == 1 {
			fmt.Sscan(fmt.Sprint(counted[0]["count"]), &total)
		}
	}
	return &Page{Records: recs, Pagination: newPagination(opts, total)}, nil
}

func (s *SQLStore) FindByID(ctx context.Context, table, id string, opts QueryOptions) (Record, error) {
	o := opts
	o.Filter = mergeFilters(opts.Filter, map[string]any{"id": id})
	o.Limit = 1
	return s.first(ctx, table, o)
}

func (s *SQLStore) FindOne(ctx context.Context, table string, filter map[string]any, opts QueryOptions) (Record, error) {
	o := opts
	o.Filter = mergeFilters(filter, opts.Filter)
	o.Limit = 1
	return s.first(ctx, table, o)
}

func (s *SQLStore) first(ctx context.Context, table string, opts QueryOptions) (Record, error) {
	q, err := buildSelect(table, opts, pqArray)
	if err != nil {
		return nil, err
	}
	recs, err := s.collect(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, notFound(table)
	}
	return recs[0], nil
}

func (s *SQLStore) Create(ctx context.Context, table string, data Record) (Record, error) {
	recs, err := s.CreateMany(ctx, table, []Record{data})
	if err != nil {
		return nil, err
	}
	return recs[0], nil
}

func (s *SQLStore) CreateMany(ctx context.Context, table string, data []Record) ([]Record, error) {
	if len(data) == 0 {
		return nil, nil
	}
	q, err := buildInsert(table, data, pqValue)
	if err != nil {
		return nil, err
	}
	return s.collect(ctx, q)
}

func (s *SQLStore) Update(ctx context.Context, table, id string, data Record) (Record, error) {
	q, err := buildUpdate(table, data, map[string]any{"id": id}, true, pqValue, pqArray)
	if err != nil {
		return nil, err
	}
	recs, err := s.collect(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, notFound(table)
	}
	return recs[0], nil
}

func (s *SQLStore) Delete(ctx context.Context, table, id string) error {
	n, err := s.DeleteMany(ctx, table, map[string]any{"id": id})
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(table)
	}
	return nil
}

func (s *SQLStore) UpdateMany(ctx context.Context, table string, filter map[string]any, data Record) (int64, error) {
	q, err := buildUpdate(table, data, filter, false, pqValue, pqArray)
	if err != nil {
		return 0, err
	}
	return s.exec(ctx, q)
}

func (s *SQLStore) DeleteMany(ctx context.Context, table string, filter map[string]any) (int64, error) {
	q, err := buildDelete(table, filter, pqArray)
	if err != nil {
		return 0, err
	}
	return s.exec(ctx, q)
}

func (s *SQLStore) exec(ctx context.Context, q *sqlQuery) (int64, error) {
	db, err := s.querier()
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, q.String(), q.args...)
	if err != nil {
		return 0, sqlError(err, "exec")
	}
	return res.RowsAffected()
}

func (s *SQLStore) Transaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if s.db == nil {
		return apperrors.New(apperrors.KindUnavailable, "database is not connected")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return sqlError(err, "begin transaction")
	}
	if err := fn(ctx, &SQLStore{dsn: s.dsn, db: s.db, q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return sqlError(err, "commit transaction")
	}
	return nil
}

func sqlError(err error, op string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NotFound("record not found")
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return apperrors.Wrap(err, apperrors.KindConflict, "record already exists")
	}
	return apperrors.Upstream(err, fmt.Sprintf("database %s failed", op))
}

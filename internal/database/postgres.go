package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/tenantgate/internal/apperrors"
	"github.com/nikhilbhutani/tenantgate/internal/config"
)

type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres talks to PostgreSQL through a pgx pool.
type Postgres struct {
	cfg  config.DatabaseConfig
	pool *pgxpool.Pool
	q    pgQuerier
}

func NewPostgres(cfg config.DatabaseConfig) *Postgres {
	return &Postgres{cfg: cfg}
}

// NewPostgresFromPool wraps an already connected pool.
func NewPostgresFromPool(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, q: pool}
}

func (p *Postgres) Connect(ctx context.Context) error {
	if p.pool != nil {
		return nil
	}
	pool, err := openPool(ctx, p.cfg)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindUnavailable, "connect to postgresql")
	}
	p.pool = pool
	p.q = pool

	if p.cfg.AutoMigrate {
		if err := RunMigrations(ctx, pool, MigrationSource(p.cfg.MigrationsPath)); err != nil {
			slog.Warn("migrations failed", "error", err)
		}
	}
	return nil
}

// openPool connects with the configured bounds and pings once.
func openPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 && cfg.MinConns <= cfg.MaxConns {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 30 * time.Second
	if _, ok := poolCfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		poolCfg.ConnConfig.RuntimeParams["application_name"] = "tenantgate"
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func (p *Postgres) Close(context.Context) error {
	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
		p.q = nil
	}
	return nil
}

func (p *Postgres) IsConnected() bool {
	return p.q != nil
}

// Pool exposes the pgx pool for health checks.
func (p *Postgres) Pool() *pgxpool.Pool {
	return p.pool
}

func (p *Postgres) querier() (pgQuerier, error) {
	if p.q == nil {
		return nil, apperrors.New(apperrors.KindUnavailable, "postgresql is not connected")
	}
	return p.q, nil
}

func (p *Postgres) collect(ctx context.Context, q *sqlQuery) ([]Record, error) {
	db, err := p.querier()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, pgError(err, "query")
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, pgError(err, "scan rows")
	}
	out := make([]Record, len(maps))
	for i, m := range maps {
		rec := make(Record, len(m))
		for k, v := range m {
			rec[k] = fromSQL(v)
		}
		out[i] = rec
	}
	return out, nil
}

func (p *Postgres) FindMany(ctx context.Context, table string, opts QueryOptions) (*Page, error) {
	q, err := buildSelect(table, opts, nil)
	if err != nil {
		return nil, err
	}
	recs, err := p.collect(ctx, q)
	if err != nil {
		return nil, err
	}

	total := len(recs)
	if opts.Limit > 0 || opts.Offset > 0 {
		cq, err := buildCount(table, opts.Filter, nil)
		if err != nil {
			return nil, err
		}
		db, err := p.querier()
		if err != nil {
			return nil, err
		}
		var n int64
		if err := db.QueryRow(ctx, cq.String(), cq.args...).Scan(&n); err != nil {
			return nil, pgError(err, "count")
		}
		total = int(n)
	}
	return &Page{Records: recs, Pagination: newPagination(opts, total)}, nil
}

func (p *Postgres) FindByID(ctx context.Context, table, id string, opts QueryOptions) (Record, error) {
	o := opts
	o.Filter = mergeFilters(opts.Filter, map[string]any{"id": id})
	o.Limit = 1
	return p.first(ctx, table, o)
}

func (p *Postgres) FindOne(ctx context.Context, table string, filter map[string]any, opts QueryOptions) (Record, error) {
	o := opts
	o.Filter = mergeFilters(filter, opts.Filter)
	o.Limit = 1
	return p.first(ctx, table, o)
}

func (p *Postgres) first(ctx context.Context, table string, opts QueryOptions) (Record, error) {
	q, err := buildSelect(table, opts, nil)
	if err != nil {
		return nil, err
	}
	recs, err := p.collect(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, notFound(table)
	}
	return recs[0], nil
}

func (p *Postgres) Create(ctx context.Context, table string, data Record) (Record, error) {
	recs, err := p.CreateMany(ctx, table, []Record{data})
	if err != nil {
		return nil, err
	}
	return recs[0], nil
}

func (p *Postgres) CreateMany(ctx context.Context, table string, data []Record) ([]Record, error) {
	if len(data) == 0 {
		return nil, nil
	}
	q, err := buildInsert(table, data, sqlArg)
	if err != nil {
		return nil, err
	}
	return p.collect(ctx, q)
}

func (p *Postgres) Update(ctx context.Context, table, id string, data Record) (Record, error) {
	q, err := buildUpdate(table, data, map[string]any{"id": id}, true, sqlArg, nil)
	if err != nil {
		return nil, err
	}
	recs, err := p.collect(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, notFound(table)
	}
	return recs[0], nil
}

func (p *Postgres) Delete(ctx context.Context, table, id string) error {
	n, err := p.DeleteMany(ctx, table, map[string]any{"id": id})
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(table)
	}
	return nil
}

func (p *Postgres) UpdateMany(ctx context.Context, table string, filter map[string]any, data Record) (int64, error) {
	q, err := buildUpdate(table, data, filter, false, sqlArg, nil)
	if err != nil {
		return 0, err
	}
	return p.exec(ctx, q)
}

func (p *Postgres) DeleteMany(ctx context.Context, table string, filter map[string]any) (int64, error) {
	q, err := buildDelete(table, filter, nil)
	if err != nil {
		return 0, err
	}
	return p.exec(ctx, q)
}

func (p *Postgres) exec(ctx context.Context, q *sqlQuery) (int64, error) {
	db, err := p.querier()
	if err != nil {
		return 0, err
	}
	tag, err := db.Exec(ctx, q.String(), q.args...)
	if err != nil {
		return 0, pgError(err, "exec")
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) Transaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if p.pool == nil {
		return apperrors.New(apperrors.KindUnavailable, "postgresql is not connected")
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return pgError(err, "begin transaction")
	}

	if err := fn(ctx, &Postgres{cfg: p.cfg, pool: p.pool, q: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			slog.Error("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return pgError(err, "commit transaction")
	}
	return nil
}

func pgError(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NotFound("record not found")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return apperrors.Wrap(err, apperrors.KindConflict, "record already exists")
	}
	return apperrors.Upstream(err, fmt.Sprintf("postgresql %s failed", op))
}

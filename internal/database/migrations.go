package database

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/tenantgate/migrations"
)

// migrationLockID serialises concurrent API instances applying migrations.
const migrationLockID = 727274

type migration struct {
	version string
	body    string
}

// MigrationSource returns dir on disk, or the embedded schema when dir is
// empty.
func MigrationSource(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

// RunMigrations applies every *.sql file in fsys that schema_migrations has
// not recorded yet, each in its own transaction, in lexical order.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("take migration lock: %w", err)
	}
	defer conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", migrationLockID)

	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	rows, err := conn.Query(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("list applied migrations: %w", err)
	}
	applied, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("list applied migrations: %w", err)
	}

	todo, err := pendingMigrations(fsys, applied)
	if err != nil {
		return err
	}
	for _, m := range todo {
		err := pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.body); err != nil {
				return fmt.Errorf("execute migration %s: %w", m.version, err)
			}
			if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.version); err != nil {
				return fmt.Errorf("record migration %s: %w", m.version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		slog.Info("applied migration", "version", m.version)
	}

	slog.Info("migrations up to date", "applied", len(todo), "known", len(applied)+len(todo))
	return nil
}

// pendingMigrations reads the .sql files in fsys that are not in applied,
// sorted by file name. Empty files are skipped.
func pendingMigrations(fsys fs.FS, applied []string) ([]migration, error) {
	files, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("glob migration files: %w", err)
	}
	slices.Sort(files)

	var out []migration
	for _, version := range files {
		if slices.Contains(applied, version) {
			continue
		}
		body, err := fs.ReadFile(fsys, version)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", version, err)
		}
		if strings.TrimSpace(string(body)) == "" {
			continue
		}
		out = append(out, migration{version: version, body: string(body)})
	}
	return out, nil
}

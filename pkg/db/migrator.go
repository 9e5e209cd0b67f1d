// Package db runs goose migrations against a pgx pool, grounded on
// dmitrymomot-forge's pkg/db/migrator.go: bridge the pool to
// database/sql via pgx/v5/stdlib (goose only speaks database/sql), then
// hand goose an embedded migrations directory.
package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

const (
	migrationsDir   = "migrations"
	migrationsTable = "schema_migrations"
)

var (
	ErrSetDialect      = errors.New("db: failed to set goose dialect")
	ErrApplyMigrations = errors.New("db: failed to apply migrations")
)

// Migrate applies every pending migration in migrations (an embed.FS
// rooted so that migrationsDir is one of its top-level entries) against
// pool. Pass nil for log to discard goose's own log output.
func Migrate(ctx context.Context, pool *pgxpool.Pool, migrations embed.FS, log *slog.Logger) error {
	// stdlib.OpenDBFromPool shares the pool's underlying connections, so
	// the returned *sql.DB is never closed here -- closing it would tear
	// down the pool out from under the rest of the process.
	conn := stdlib.OpenDBFromPool(pool)

	goose.SetBaseFS(migrations)
	goose.SetTableName(migrationsTable)

	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	goose.SetLogger(&gooseLoggerAdapter{log})

	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Join(ErrSetDialect, err)
	}

	if err := goose.UpContext(ctx, conn, migrationsDir); err != nil {
		return errors.Join(ErrApplyMigrations, err)
	}

	return nil
}

type gooseLoggerAdapter struct {
	log *slog.Logger
}

func (g *gooseLoggerAdapter) Printf(format string, args ...any) {
	g.log.Info(fmt.Sprintf(format, args...))
}

func (g *gooseLoggerAdapter) Fatalf(format string, args ...any) {
	g.log.Error(fmt.Sprintf(format, args...))
}

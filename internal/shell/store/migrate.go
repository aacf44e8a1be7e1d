package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/artpar/jsonapi-server/internal/core/schema"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open opens a SQLite database with foreign keys enforced and runs the
// embedded migrations.
func Open(dsn string, logger *slog.Logger) (*sqlx.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	db, err := sqlx.Open("sqlite3", dsn+sep+"_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("Open", "", "", "failed to open database", err)
	}

	// An in-memory database lives as long as its connection.
	if strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("Open", "", "", "failed to ping database", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, NewStoreError("Open", "", "", err.Error(), ErrMigrationFailed)
	}

	logger.Debug("database ready", "dsn", dsn)
	return db, nil
}

func runMigrations(db *sqlx.DB) error {
	driver, err := sqlitemigrate.WithInstance(db.DB, &sqlitemigrate.Config{NoTxWrap: true})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// EnsureTables creates the table of every type in schemas that does not
// exist yet and records it against server.
func EnsureTables(ctx context.Context, db *sqlx.DB, server string, schemas *schema.Container, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	for _, typ := range schemas.Types() {
		ddl, err := schemas.CreateTableSQL(typ)
		if err != nil {
			return NewStoreError("EnsureTables", typ, "", err.Error(), ErrMigrationFailed)
		}

		logger.Debug("ensuring table", "server", server, "type", typ)
		for _, stmt := range strings.Split(ddl, ";\n") {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return NewStoreError("EnsureTables", typ, "", err.Error(), ErrMigrationFailed)
			}
		}

		sch, _ := schemas.SchemaFor(typ)
		if _, err := db.ExecContext(ctx,
			`INSERT OR IGNORE INTO resource_tables (server, resource_type, table_name) VALUES (?, ?, ?)`,
			server, typ, sch.TableName()); err != nil {
			return NewStoreError("EnsureTables", typ, "", err.Error(), ErrMigrationFailed)
		}
	}
	return nil
}

// Tables returns the resource types recorded for server, sorted.
func Tables(ctx context.Context, db *sqlx.DB, server string) ([]string, error) {
	var types []string
	err := db.SelectContext(ctx, &types,
		`SELECT resource_type FROM resource_tables WHERE server = ? ORDER BY resource_type`, server)
	if err != nil {
		return nil, NewStoreError("Tables", "", "", err.Error(), err)
	}
	return types, nil
}

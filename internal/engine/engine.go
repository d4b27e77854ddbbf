// Package engine runs confirmed queries against the relational database.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"       // PostgreSQL driver
	_ "github.com/marcboeker/go-duckdb"      // DuckDB driver
	_ "github.com/ncruces/go-sqlite3/driver" // SQLite driver
	_ "github.com/ncruces/go-sqlite3/embed"  // SQLite wasm build

	"github.com/kyleking/sql-assist/internal/errors"
)

// Supported driver names as they appear in configuration
const (
	DriverDuckDB   = "duckdb"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// sqlDriverName maps a configured driver to its database/sql registration
func sqlDriverName(driver string) (string, error) {
	switch driver {
	case DriverDuckDB:
		return "duckdb", nil
	case DriverSQLite:
		return "sqlite3", nil
	case DriverPostgres:
		return "pgx", nil
	default:
		return "", errors.NewConfigError(fmt.Sprintf("unsupported database driver: %s", driver), "engine.driver")
	}
}

// Open opens and pings a connection pool. An empty DSN opens an in-memory
// database for duckdb and sqlite.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	name, err := sqlDriverName(driver)
	if err != nil {
		return nil, err
	}

	switch driver {
	case DriverPostgres:
		if dsn == "" {
			return nil, errors.NewConfigError("a DSN is required for postgres", "engine.dsn")
		}
	case DriverSQLite:
		if dsn == "" {
			dsn = ":memory:"
		}
	}

	if driver != DriverPostgres && isFilePath(dsn) {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, errors.Wrap(err, errors.ErrTypeConfig, "failed to create database directory")
		}
	}

	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrTypeExecution, "failed to open %s database", driver)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	// every sqlite :memory: connection is a separate database
	if driver == DriverSQLite && strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, errors.ErrTypeExecution, "failed to connect to %s database", driver)
	}

	return db, nil
}

func isFilePath(dsn string) bool {
	if dsn == "" || strings.Contains(dsn, ":memory:") || strings.HasPrefix(dsn, "file:") {
		return false
	}

	return filepath.Dir(dsn) != "."
}

// ListTables returns the user tables and views present in the database
func ListTables(ctx context.Context, db *sql.DB, driver string) ([]string, error) {
	query := `SELECT table_name FROM information_schema.tables
WHERE table_schema NOT IN ('information_schema', 'pg_catalog')
ORDER BY table_name`
	if driver == DriverSQLite {
		query = `SELECT name FROM sqlite_master
WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%'
ORDER BY name`
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeExecution, "failed to list tables")
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, errors.ErrTypeExecution, "failed to scan table name")
		}

		tables = append(tables, name)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeExecution, "failed to list tables")
	}

	return tables, nil
}

// MissingTables returns the declared names absent from present, compared
// case-insensitively, in declared order
func MissingTables(declared, present []string) []string {
	have := make(map[string]bool, len(present))
	for _, p := range present {
		have[strings.ToLower(p)] = true
	}

	var missing []string
	for _, d := range declared {
		if !have[strings.ToLower(d)] {
			missing = append(missing, d)
		}
	}

	return missing
}

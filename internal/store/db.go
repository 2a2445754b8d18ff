package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/xo/dburl"
)

// Dialect selects the few statements that differ between backends.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

// Open parses databaseURL (postgres://..., sqlite:path, file:path) and returns
// a pooled handle for the matching driver.
func Open(ctx context.Context, databaseURL string) (*sql.DB, Dialect, error) {
	u, err := dburl.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("parse database url: %w", err)
	}

	var (
		driver  string
		dialect Dialect
	)
	switch u.Driver {
	case "postgres", "pgx":
		driver, dialect = "pgx", DialectPostgres
	case "sqlite3", "sqlite", "moderncsqlite":
		driver, dialect = "sqlite3", DialectSQLite
	default:
		return nil, "", fmt.Errorf("unsupported database driver %q", u.Driver)
	}

	db, err := sql.Open(driver, u.DSN)
	if err != nil {
		return nil, "", fmt.Errorf("open db: %w", err)
	}
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetConnMaxIdleTime(5 * time.Minute)
		db.SetConnMaxLifetime(30 * time.Minute)
		db.SetMaxIdleConns(10)
		db.SetMaxOpenConns(20)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("ping db: %w", err)
	}
	return db, dialect, nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries holds every statement the service issues. The same methods run
// against the pool or inside a transaction opened by SQLStore.InTx.
type Queries struct {
	db      DBTX
	dialect Dialect
	inTx    bool
}

type SQLStore struct {
	*Queries
	db *sql.DB
}

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{
		Queries: &Queries{db: db, dialect: dialect},
		db:      db,
	}
}

func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InTx runs fn inside one transaction. Any error from fn rolls the whole
// transaction back and is returned unchanged.
func (s *SQLStore) InTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&Queries{db: tx, dialect: s.dialect, inTx: true}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// lockClause returns a row-lock suffix for postgres transactions. SQLite
// serializes writers on its own and has no row locks.
func (q *Queries) lockClause(mode string) string {
	if !q.inTx || q.dialect != DialectPostgres {
		return ""
	}
	return " FOR " + mode
}

func affectedOne(result sql.Result, action string) (bool, error) {
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s rows affected: %w", action, err)
	}
	return affected > 0, nil
}

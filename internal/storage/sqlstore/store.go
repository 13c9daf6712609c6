// Package sqlstore implements storage.Store on top of database/sql (via sqlx)
// for backends whose differences fit in a Dialect: SQLite, MySQL and SQL Server.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"lemonetl/internal/storage"
)

// Dialect captures the SQL that differs between database/sql backends.
//
// Builders return queries with "?" placeholders; the Store rebinds them to the
// dialect's BindType before execution.
type Dialect interface {
	DriverName() string
	BindType() int

	// Ident quotes a column identifier; TableIdent quotes a possibly
	// schema-qualified table name.
	Ident(name string) string
	TableIdent(name string) string

	// InsertIfAbsent builds a single-row insert that is a no-op when a row with
	// the same keyColumns already exists.
	InsertIfAbsent(table string, columns []string, values []any, keyColumns []string) (string, []any, error)

	ClearTable(table string) string

	// Savepoint statements. An empty Release means the backend has no release
	// statement and the savepoint simply goes out of scope.
	Savepoint(name string) string
	RollbackTo(name string) string
	Release(name string) string

	CreateTable(t storage.TableSpec) (string, error)

	// Bind converts a domain value into the driver's preferred bind argument.
	Bind(v any) any
}

// Options tunes the connection pool.
type Options struct {
	// MaxOpenConns caps the pool. SQLite in-memory databases need 1 so that every
	// statement sees the same database.
	MaxOpenConns int
}

// Store implements storage.Store for a Dialect.
type Store struct {
	db *sqlx.DB
	d  Dialect
}

// Open opens and pings a database/sql handle for the dialect's driver.
func Open(ctx context.Context, d Dialect, dsn string, opt Options) (*Store, error) {
	db, err := sqlx.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, err
	}
	if opt.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opt.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, d: d}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() { _ = s.db.Close() }

// EnsureTables executes the dialect's create-if-missing DDL for each table in order.
func (s *Store) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		q, err := s.d.CreateTable(t)
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx, d: s.d}, nil
}

// Tx implements storage.Tx over a *sqlx.Tx.
type Tx struct {
	tx *sqlx.Tx
	d  Dialect
}

func (t *Tx) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, sqlx.Rebind(t.d.BindType(), q), t.bind(args)...)
}

func (t *Tx) bind(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = t.d.Bind(a)
	}
	return out
}

func (t *Tx) ClearTable(ctx context.Context, table string) error {
	_, err := t.exec(ctx, t.d.ClearTable(table))
	return err
}

func (t *Tx) InsertIfAbsent(ctx context.Context, table string, columns []string, values []any, keyColumns []string) (bool, error) {
	if len(columns) != len(values) {
		return false, fmt.Errorf("insert %s: %d columns but %d values", table, len(columns), len(values))
	}
	q, args, err := t.d.InsertIfAbsent(table, columns, values, keyColumns)
	if err != nil {
		return false, err
	}
	res, err := t.exec(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (t *Tx) Insert(ctx context.Context, table string, columns []string, values []any) error {
	if len(columns) != len(values) {
		return fmt.Errorf("insert %s: %d columns but %d values", table, len(columns), len(values))
	}
	_, err := t.exec(ctx, BuildInsert("INSERT INTO", t.d.TableIdent(table), columns, t.d.Ident), values...)
	return err
}

func (t *Tx) LookupID(ctx context.Context, table, keyColumn, idColumn string, key any) (int64, bool, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", t.d.Ident(idColumn), t.d.TableIdent(table), t.d.Ident(keyColumn))

	var id sql.NullInt64
	err := t.tx.GetContext(ctx, &id, sqlx.Rebind(t.d.BindType(), q), t.d.Bind(key))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if !id.Valid {
		return 0, false, fmt.Errorf("%s.%s is NULL; primary key not auto-generated", table, idColumn)
	}
	return id.Int64, true, nil
}

func (t *Tx) Count(ctx context.Context, table string) (int64, error) {
	var n int64
	err := t.tx.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+t.d.TableIdent(table))
	return n, err
}

func (t *Tx) Savepoint(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx, t.d.Savepoint(name))
	return err
}

func (t *Tx) RollbackTo(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx, t.d.RollbackTo(name))
	return err
}

func (t *Tx) Release(ctx context.Context, name string) error {
	q := t.d.Release(name)
	if q == "" {
		return nil
	}
	_, err := t.tx.ExecContext(ctx, q)
	return err
}

func (t *Tx) Commit(ctx context.Context) error { return t.tx.Commit() }

func (t *Tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

var (
	_ storage.Store = (*Store)(nil)
	_ storage.Tx    = (*Tx)(nil)
)

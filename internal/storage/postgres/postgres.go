package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"lemonetl/internal/storage"
	"lemonetl/internal/storage/sqlstore"
)

/*
Store implements storage.Store for Postgres on a pgx connection pool.

It provides:
  - Idempotent DDL (CREATE SCHEMA / CREATE TABLE IF NOT EXISTS)
  - Insert-if-absent via INSERT ... ON CONFLICT (...) DO NOTHING
  - Per-row SAVEPOINTs, because Postgres aborts the whole transaction after any
    failed statement otherwise
*/
type Store struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

// New creates a pool and pings it so bad DSNs fail before any stage runs.
func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// EnsureTables creates the schema (for qualified names) and each table in order.
func (s *Store) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		schemaSQL, baseSQL, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if schemaSQL != "" {
			if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
				return fmt.Errorf("create schema for %s: %w", t.Name, err)
			}
		}
		if _, err := s.pool.Exec(ctx, baseSQL); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// Tx implements storage.Tx over a pgx.Tx.
type Tx struct {
	tx pgx.Tx
}

// ClearTable uses TRUNCATE, which is transactional in Postgres.
func (t *Tx) ClearTable(ctx context.Context, table string) error {
	_, err := t.tx.Exec(ctx, "TRUNCATE TABLE "+tableIdent(table))
	return err
}

func (t *Tx) InsertIfAbsent(ctx context.Context, table string, columns []string, values []any, keyColumns []string) (bool, error) {
	if len(columns) != len(values) {
		return false, fmt.Errorf("insert %s: %d columns but %d values", table, len(columns), len(values))
	}
	if len(keyColumns) == 0 {
		return false, fmt.Errorf("insert %s: key columns are required", table)
	}
	sql, args := buildInsertSQL(tableIdent(table), columns, values, keyColumns)
	cmd, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (t *Tx) Insert(ctx context.Context, table string, columns []string, values []any) error {
	if len(columns) != len(values) {
		return fmt.Errorf("insert %s: %d columns but %d values", table, len(columns), len(values))
	}
	sql, args := buildInsertSQL(tableIdent(table), columns, values, nil)
	_, err := t.tx.Exec(ctx, sql, args...)
	return err
}

func (t *Tx) LookupID(ctx context.Context, table, keyColumn, idColumn string, key any) (int64, bool, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1`, pgIdent(idColumn), tableIdent(table), pgIdent(keyColumn))

	var id *int64
	err := t.tx.QueryRow(ctx, q, storage.BindValue(key)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if id == nil {
		return 0, false, fmt.Errorf("%s.%s is NULL; primary key not auto-generated", table, idColumn)
	}
	return *id, true, nil
}

func (t *Tx) Count(ctx context.Context, table string) (int64, error) {
	var n int64
	err := t.tx.QueryRow(ctx, "SELECT COUNT(*) FROM "+tableIdent(table)).Scan(&n)
	return n, err
}

func (t *Tx) Savepoint(ctx context.Context, name string) error {
	_, err := t.tx.Exec(ctx, "SAVEPOINT "+pgIdent(name))
	return err
}

func (t *Tx) RollbackTo(ctx context.Context, name string) error {
	_, err := t.tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+pgIdent(name))
	return err
}

func (t *Tx) Release(ctx context.Context, name string) error {
	_, err := t.tx.Exec(ctx, "RELEASE SAVEPOINT "+pgIdent(name))
	return err
}

func (t *Tx) Commit(ctx context.Context) error { return t.tx.Commit(ctx) }

func (t *Tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// pgIdent quotes a single identifier.
func pgIdent(name string) string {
	return pgx.Identifier{strings.TrimSpace(name)}.Sanitize()
}

// tableIdent quotes every part of a possibly schema-qualified table name.
func tableIdent(name string) string {
	return sqlstore.QualifiedIdent(name, pgIdent)
}

// buildInsertSQL constructs a single-row INSERT and its args.
//
// If keyColumns is non-empty the insert becomes a no-op for existing keys:
//
//	ON CONFLICT (<keyColumns...>) DO NOTHING
//
// Constraints:
//   - values must have the same length as columns.
//   - table must already be quoted.
func buildInsertSQL(table string, columns []string, values []any, keyColumns []string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(sqlstore.JoinIdents(columns, pgIdent))
	b.WriteString(") VALUES (")

	args := make([]any, 0, len(columns))
	for i := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", i+1)
		args = append(args, storage.BindValue(values[i]))
	}
	b.WriteString(")")

	if len(keyColumns) > 0 {
		b.WriteString(" ON CONFLICT (")
		b.WriteString(sqlstore.JoinIdents(keyColumns, pgIdent))
		b.WriteString(") DO NOTHING")
	}
	return b.String(), args
}

// splitQualifiedName splits a schema-qualified name into (schema, table).
//
// Examples:
//   - "little_lemon.Orders" => ("little_lemon", "Orders")
//   - "Orders"              => ("", "Orders")
func splitQualifiedName(name string) (schema string, table string) {
	name = strings.TrimSpace(name)
	parts := strings.Split(name, ".")
	if len(parts) != 2 {
		return "", name
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

// buildCreateSQL builds DDL for one table plus, for qualified names, its schema.
//
// "serial" and "bigserial" primary keys are native Postgres types and pass
// through verbatim.
func buildCreateSQL(t storage.TableSpec) (schemaSQL, baseSQL string, err error) {
	if schema, _ := splitQualifiedName(t.Name); schema != "" {
		schemaSQL = fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s;`, pgIdent(schema))
	}

	cols, err := sqlstore.ColumnDefs(t, pgIdent, func(pk storage.PrimaryKeySpec) string {
		return fmt.Sprintf(`%s %s PRIMARY KEY`, pgIdent(pk.Name), strings.TrimSpace(pk.Type))
	})
	if err != nil {
		return "", "", err
	}

	baseSQL = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s);`, tableIdent(t.Name), strings.Join(cols, ", "))
	return schemaSQL, baseSQL, nil
}

var (
	_ storage.Store = (*Store)(nil)
	_ storage.Tx    = (*Tx)(nil)
)

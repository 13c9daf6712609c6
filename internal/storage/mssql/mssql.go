package mssql

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	// registers the "sqlserver" driver
	_ "github.com/microsoft/go-mssqldb"

	"lemonetl/internal/storage"
	"lemonetl/internal/storage/sqlstore"
)

// Dialect implements sqlstore.Dialect for Microsoft SQL Server.
//
// This implementation:
//   - Inserts-if-absent with INSERT ... SELECT ... WHERE NOT EXISTS, guarded by
//     UPDLOCK + HOLDLOCK so a concurrent writer cannot slip the same key in
//     between the check and the insert.
//   - Uses SAVE TRANSACTION / ROLLBACK TRANSACTION for per-row savepoints.
//     SQL Server has no savepoint release statement.
//   - Clears tables with DELETE: TRUNCATE TABLE refuses tables referenced by a
//     foreign key.
//   - Binds civil.Date natively (go-mssqldb maps it to the DATE type).
type Dialect struct{}

func init() {
	storage.Register("mssql", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	return sqlstore.Open(ctx, Dialect{}, cfg.DSN, sqlstore.Options{})
}

func (Dialect) DriverName() string { return "sqlserver" }

func (Dialect) BindType() int { return sqlx.AT }

// Ident returns a bracket-quoted identifier, escaping ']' as ']]'.
func (Dialect) Ident(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// TableIdent returns a bracket-quoted identifier for schema-qualified names.
//
// Example:
//
//	"dbo.Orders" -> [dbo].[Orders]
func (d Dialect) TableIdent(name string) string { return sqlstore.QualifiedIdent(name, d.Ident) }

// InsertIfAbsent builds INSERT ... SELECT ... WHERE NOT EXISTS for one row.
//
// Every key column must be present in columns; a silent "best effort" would
// turn the guard into a plain insert.
func (d Dialect) InsertIfAbsent(table string, columns []string, values []any, keyColumns []string) (string, []any, error) {
	if len(keyColumns) == 0 {
		return "", nil, fmt.Errorf("mssql: insert-if-absent into %s needs key columns", table)
	}
	pos := make(map[string]int, len(columns))
	for i, c := range columns {
		pos[c] = i
	}

	tbl := d.TableIdent(table)
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(tbl)
	b.WriteString(" (")
	b.WriteString(sqlstore.JoinIdents(columns, d.Ident))
	b.WriteString(") SELECT ")
	b.WriteString(sqlstore.Placeholders(len(columns)))
	b.WriteString(" WHERE NOT EXISTS (SELECT 1 FROM ")
	b.WriteString(tbl)
	b.WriteString(" WITH (UPDLOCK, HOLDLOCK) WHERE ")

	args := make([]any, 0, len(values)+len(keyColumns))
	args = append(args, values...)
	for i, k := range keyColumns {
		ix, ok := pos[k]
		if !ok {
			return "", nil, fmt.Errorf("mssql: key column %q not in insert columns of %s", k, table)
		}
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString(d.Ident(k))
		b.WriteString(" = ?")
		args = append(args, values[ix])
	}
	b.WriteString(")")

	return b.String(), args, nil
}

func (d Dialect) ClearTable(table string) string { return "DELETE FROM " + d.TableIdent(table) }

func (Dialect) Savepoint(name string) string  { return "SAVE TRANSACTION " + savepointName(name) }
func (Dialect) RollbackTo(name string) string { return "ROLLBACK TRANSACTION " + savepointName(name) }
func (Dialect) Release(string) string         { return "" }

// savepointName keeps savepoint names within SQL Server's 32-character,
// regular-identifier limit.
func savepointName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if s == "" || (s[0] >= '0' && s[0] <= '9') {
		s = "sp_" + s
	}
	if len(s) > 32 {
		s = s[len(s)-32:]
	}
	return s
}

// Bind leaves civil.Date untouched; go-mssqldb encodes it as DATE.
func (Dialect) Bind(v any) any { return v }

// CreateTable wraps CREATE TABLE in an OBJECT_ID guard.
//
// This keeps EnsureTables idempotent without requiring IF NOT EXISTS syntax.
func (d Dialect) CreateTable(t storage.TableSpec) (string, error) {
	parts, err := sqlstore.ColumnDefs(t, d.Ident, mssqlPrimaryKeyDef)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		strings.ReplaceAll(t.Name, "'", "''"),
		d.TableIdent(t.Name),
		strings.Join(parts, ", "),
	), nil
}

// mssqlPrimaryKeyDef returns a column definition for a primary key.
//
// Supported types (case-insensitive):
//   - "serial", "identity" variants -> INT IDENTITY(1,1) PRIMARY KEY
//   - "bigserial" -> BIGINT IDENTITY(1,1) PRIMARY KEY
//   - otherwise uses pk.Type verbatim with PRIMARY KEY.
func mssqlPrimaryKeyDef(pk storage.PrimaryKeySpec) string {
	ident := Dialect{}.Ident(pk.Name)
	switch strings.ToLower(strings.TrimSpace(pk.Type)) {
	case "bigserial":
		return ident + " BIGINT IDENTITY(1,1) PRIMARY KEY"
	}
	if sqlstore.IsSerial(pk.Type) {
		return ident + " INT IDENTITY(1,1) PRIMARY KEY"
	}
	return fmt.Sprintf("%s %s PRIMARY KEY", ident, pk.Type)
}

var _ sqlstore.Dialect = Dialect{}

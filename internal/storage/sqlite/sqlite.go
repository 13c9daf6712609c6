package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-sql/civil"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"lemonetl/internal/storage"
	"lemonetl/internal/storage/sqlstore"
)

// Dialect implements sqlstore.Dialect for SQLite (modernc.org/sqlite).
//
// Key design points vs Postgres:
//   - SQLite has no TRUNCATE; ClearTable uses DELETE, which is transactional.
//   - "INSERT OR IGNORE" gives insert-if-absent when the key has a UNIQUE/PK
//     constraint, so keyColumns are not needed in the statement.
//   - SQLite has no native DATE type. Dates are stored as ISO "YYYY-MM-DD" text
//     for reliable round-trip behavior and easy debugging.
type Dialect struct{}

func init() {
	storage.Register("sqlite", New)
}

// New opens a SQLite store. A single connection is used so that ":memory:"
// databases are shared by every statement of the run.
func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	return sqlstore.Open(ctx, Dialect{}, cfg.DSN, sqlstore.Options{MaxOpenConns: 1})
}

func (Dialect) DriverName() string { return "sqlite" }

func (Dialect) BindType() int { return sqlx.QUESTION }

func (Dialect) Ident(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func (d Dialect) TableIdent(name string) string { return sqlstore.QualifiedIdent(name, d.Ident) }

func (d Dialect) InsertIfAbsent(table string, columns []string, values []any, keyColumns []string) (string, []any, error) {
	// keyColumns is ignored: OR IGNORE relies on UNIQUE/PK constraints.
	_ = keyColumns
	return sqlstore.BuildInsert("INSERT OR IGNORE INTO", d.TableIdent(table), columns, d.Ident), values, nil
}

func (d Dialect) ClearTable(table string) string { return "DELETE FROM " + d.TableIdent(table) }

func (d Dialect) Savepoint(name string) string  { return "SAVEPOINT " + d.Ident(name) }
func (d Dialect) RollbackTo(name string) string { return "ROLLBACK TO SAVEPOINT " + d.Ident(name) }
func (d Dialect) Release(name string) string    { return "RELEASE SAVEPOINT " + d.Ident(name) }

func (Dialect) Bind(v any) any {
	switch t := v.(type) {
	case civil.Date:
		return t.String()
	default:
		return storage.BindValue(v)
	}
}

// CreateTable generates idempotent DDL for a table.
//
// "INTEGER PRIMARY KEY" is special in sqlite: it becomes the rowid and
// auto-generates values, so serial-like types are translated to it. Any
// other primary key accepts NULL in sqlite unless declared NOT NULL.
func (d Dialect) CreateTable(t storage.TableSpec) (string, error) {
	parts, err := sqlstore.ColumnDefs(t, d.Ident, func(pk storage.PrimaryKeySpec) string {
		if sqlstore.IsSerial(pk.Type) {
			return fmt.Sprintf("%s INTEGER PRIMARY KEY AUTOINCREMENT", d.Ident(pk.Name))
		}
		return fmt.Sprintf("%s %s NOT NULL PRIMARY KEY", d.Ident(pk.Name), pk.Type)
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", d.TableIdent(t.Name), strings.Join(parts, ",\n  ")), nil
}

var _ sqlstore.Dialect = Dialect{}

package mysql

import (
	"context"
	"fmt"
	"strings"

	// mysql driver
	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"lemonetl/internal/storage"
	"lemonetl/internal/storage/sqlstore"
)

// Dialect implements sqlstore.Dialect for MySQL / MariaDB.
//
// Notes:
//   - TRUNCATE TABLE causes an implicit commit in MySQL, which would break the
//     single run transaction. ClearTable therefore uses DELETE.
//   - Insert-if-absent uses INSERT IGNORE, which relies on the PK/UNIQUE key and
//     reports 0 affected rows when the key already exists.
//   - The DSN should carry parseTime=true when dates are read back; the import
//     itself only writes them.
type Dialect struct{}

func init() {
	storage.Register("mysql", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	return sqlstore.Open(ctx, Dialect{}, cfg.DSN, sqlstore.Options{})
}

func (Dialect) DriverName() string { return "mysql" }

func (Dialect) BindType() int { return sqlx.QUESTION }

// Ident returns a backtick-quoted identifier, escaping '`' as '``'.
func (Dialect) Ident(id string) string {
	return "`" + strings.ReplaceAll(id, "`", "``") + "`"
}

func (d Dialect) TableIdent(name string) string { return sqlstore.QualifiedIdent(name, d.Ident) }

func (d Dialect) InsertIfAbsent(table string, columns []string, values []any, keyColumns []string) (string, []any, error) {
	_ = keyColumns
	return sqlstore.BuildInsert("INSERT IGNORE INTO", d.TableIdent(table), columns, d.Ident), values, nil
}

func (d Dialect) ClearTable(table string) string { return "DELETE FROM " + d.TableIdent(table) }

func (d Dialect) Savepoint(name string) string  { return "SAVEPOINT " + d.Ident(name) }
func (d Dialect) RollbackTo(name string) string { return "ROLLBACK TO SAVEPOINT " + d.Ident(name) }
func (d Dialect) Release(name string) string    { return "RELEASE SAVEPOINT " + d.Ident(name) }

func (Dialect) Bind(v any) any { return storage.BindValue(v) }

// CreateTable generates idempotent DDL; serial keys become AUTO_INCREMENT.
func (d Dialect) CreateTable(t storage.TableSpec) (string, error) {
	parts, err := sqlstore.ColumnDefs(t, d.Ident, func(pk storage.PrimaryKeySpec) string {
		if sqlstore.IsSerial(pk.Type) {
			return fmt.Sprintf("%s INT AUTO_INCREMENT PRIMARY KEY", d.Ident(pk.Name))
		}
		return fmt.Sprintf("%s %s PRIMARY KEY", d.Ident(pk.Name), pk.Type)
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n) ENGINE=InnoDB;", d.TableIdent(t.Name), strings.Join(parts, ",\n  ")), nil
}

var _ sqlstore.Dialect = Dialect{}

package sqlstore

import (
	"fmt"
	"strings"

	"lemonetl/internal/storage"
)

// BuildInsert returns "<verb> <table> (c1, c2) VALUES (?, ?)".
//
// table must already be quoted; columns are quoted with ident.
func BuildInsert(verb, table string, columns []string, ident func(string) string) string {
	var b strings.Builder
	b.WriteString(verb)
	b.WriteString(" ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(JoinIdents(columns, ident))
	b.WriteString(") VALUES (")
	b.WriteString(Placeholders(len(columns)))
	b.WriteString(")")
	return b.String()
}

// Placeholders returns n comma-separated "?" placeholders.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// JoinIdents quotes and joins column names.
func JoinIdents(columns []string, ident func(string) string) string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		out = append(out, ident(c))
	}
	return strings.Join(out, ", ")
}

// QualifiedIdent applies ident to every dot-separated part of name.
//
// Example (bracket quoting):
//
//	"dbo.Orders" -> [dbo].[Orders]
func QualifiedIdent(name string, ident func(string) string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = ident(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

// ColumnDefs produces the definitions inside CREATE TABLE (...).
//
// pkDef renders the primary key column; plain columns respect nullability and
// carry a raw REFERENCES clause when configured. Only "unique" constraints are
// supported.
func ColumnDefs(t storage.TableSpec, ident func(string) string, pkDef func(storage.PrimaryKeySpec) string) ([]string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return nil, fmt.Errorf("table name is empty")
	}

	var parts []string
	if t.PrimaryKey != nil {
		if strings.TrimSpace(t.PrimaryKey.Name) == "" {
			return nil, fmt.Errorf("%s: primary key name is empty", t.Name)
		}
		parts = append(parts, pkDef(*t.PrimaryKey))
	}

	for _, c := range t.Columns {
		if strings.TrimSpace(c.Name) == "" {
			return nil, fmt.Errorf("%s: column name is empty", t.Name)
		}
		if strings.TrimSpace(c.Type) == "" {
			return nil, fmt.Errorf("%s: column %s type is empty", t.Name, c.Name)
		}
		col := ident(c.Name) + " " + c.Type
		if c.Nullable != nil && !*c.Nullable {
			col += " NOT NULL"
		}
		if c.References != "" {
			col += " REFERENCES " + Reference(c.References, ident)
		}
		parts = append(parts, col)
	}

	for _, con := range t.Constraints {
		if !strings.EqualFold(con.Kind, "unique") {
			return nil, fmt.Errorf("%s unsupported constraint kind: %s", t.Name, con.Kind)
		}
		if len(con.Columns) == 0 {
			return nil, fmt.Errorf("%s unique constraint has no columns", t.Name)
		}
		parts = append(parts, fmt.Sprintf("UNIQUE (%s)", JoinIdents(con.Columns, ident)))
	}
	return parts, nil
}

// Reference quotes a "Table(Column)" reference. Anything else is returned verbatim.
func Reference(ref string, ident func(string) string) string {
	open := strings.IndexByte(ref, '(')
	if open <= 0 || !strings.HasSuffix(ref, ")") {
		return ref
	}
	table := strings.TrimSpace(ref[:open])
	col := strings.TrimSpace(ref[open+1 : len(ref)-1])
	if col == "" || strings.ContainsAny(col, ",\"`[]") {
		return ref
	}
	return QualifiedIdent(table, ident) + " (" + ident(col) + ")"
}

// IsSerial reports whether a primary key type asks for an autogenerated id.
func IsSerial(pkType string) bool {
	switch strings.ToLower(strings.TrimSpace(pkType)) {
	case "serial", "bigserial", "identity", "int identity", "integer identity":
		return true
	}
	return false
}

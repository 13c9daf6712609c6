package sqlite

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/golang-sql/civil"

	"lemonetl/internal/storage"
)

func openMemory(t *testing.T) storage.Store {
	t.Helper()
	st, err := New(context.Background(), storage.Config{Kind: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(st.Close)
	if err := st.EnsureTables(context.Background(), storage.LittleLemonTables()); err != nil {
		t.Fatalf("EnsureTables: %v", err)
	}
	return st
}

func TestCreateTable_SerialAndReferences(t *testing.T) {
	t.Parallel()

	var courses storage.TableSpec
	for _, tbl := range storage.LittleLemonTables() {
		if tbl.Name == storage.TableCourses {
			courses = tbl
		}
	}

	got, err := Dialect{}.CreateTable(courses)
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS "Courses"`,
		`"CourseID" INTEGER PRIMARY KEY AUTOINCREMENT`,
		`"CourseName" varchar(255) NOT NULL`,
		`REFERENCES "Cuisines" ("CuisineID")`,
		`UNIQUE ("CourseName")`,
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("DDL missing %q:\n%s", want, got)
		}
	}
}

func TestCreateTable_NaturalKeyIsNotNull(t *testing.T) {
	t.Parallel()

	for _, tbl := range storage.LittleLemonTables() {
		if tbl.Name != storage.TableOrders {
			continue
		}
		got, err := Dialect{}.CreateTable(tbl)
		if err != nil {
			t.Fatalf("CreateTable: %v", err)
		}
		if want := `"OrderID" varchar(64) NOT NULL PRIMARY KEY`; !strings.Contains(got, want) {
			t.Fatalf("DDL missing %q:\n%s", want, got)
		}
		return
	}
	t.Fatalf("no %s table in schema", storage.TableOrders)
}

func TestInsertIfAbsent_SQL(t *testing.T) {
	t.Parallel()

	q, args, err := Dialect{}.InsertIfAbsent("Cuisines", []string{"CuisineName"}, []any{"Italian"}, []string{"CuisineName"})
	if err != nil {
		t.Fatalf("InsertIfAbsent: %v", err)
	}
	if q != `INSERT OR IGNORE INTO "Cuisines" ("CuisineName") VALUES (?)` {
		t.Fatalf("unexpected sql: %s", q)
	}
	if len(args) != 1 || args[0] != "Italian" {
		t.Fatalf("unexpected args: %#v", args)
	}
}

func TestBind_DateAsISOText(t *testing.T) {
	t.Parallel()

	got := Dialect{}.Bind(civil.Date{Year: 2023, Month: 1, Day: 5})
	if got != "2023-01-05" {
		t.Fatalf("Bind(date)=%#v", got)
	}
	if Dialect{}.Bind(nil) != nil {
		t.Fatalf("Bind(nil) must stay nil")
	}
}

func TestTx_InsertIfAbsentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := openMemory(t)

	tx, err := st.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx.Rollback(ctx)

	created, err := tx.InsertIfAbsent(ctx, storage.TableCuisines, []string{"CuisineName"}, []any{"Greek"}, []string{"CuisineName"})
	if err != nil || !created {
		t.Fatalf("first insert created=%v err=%v", created, err)
	}
	id1, found, err := tx.LookupID(ctx, storage.TableCuisines, "CuisineName", "CuisineID", "Greek")
	if err != nil || !found {
		t.Fatalf("lookup found=%v err=%v", found, err)
	}

	created, err = tx.InsertIfAbsent(ctx, storage.TableCuisines, []string{"CuisineName"}, []any{"Greek"}, []string{"CuisineName"})
	if err != nil || created {
		t.Fatalf("second insert created=%v err=%v", created, err)
	}
	id2, _, _ := tx.LookupID(ctx, storage.TableCuisines, "CuisineName", "CuisineID", "Greek")
	if id1 != id2 {
		t.Fatalf("id changed: %d -> %d", id1, id2)
	}

	if _, found, err := tx.LookupID(ctx, storage.TableCuisines, "CuisineName", "CuisineID", "Thai"); err != nil || found {
		t.Fatalf("lookup miss found=%v err=%v", found, err)
	}
}

func TestTx_SavepointUndoesFailedStatement(t *testing.T) {
	ctx := context.Background()
	st := openMemory(t)

	tx, err := st.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx.Rollback(ctx)

	cols := []string{"OrderID", "OrderDate", "DeliveryDate"}
	d := civil.Date{Year: 2023, Month: 1, Day: 1}
	if err := tx.Insert(ctx, storage.TableOrders, cols, []any{"1", d, d}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	// Duplicate primary key fails; the run transaction must survive it.
	err = storage.Attempt(ctx, tx, "row_2", func() error {
		return tx.Insert(ctx, storage.TableOrders, cols, []any{"1", d, d})
	})
	var rowErr *storage.RowError
	if !errors.As(err, &rowErr) {
		t.Fatalf("expected *storage.RowError, got %v", err)
	}

	if err := tx.Insert(ctx, storage.TableOrders, cols, []any{"2", d, d}); err != nil {
		t.Fatalf("Insert after rollback to savepoint: %v", err)
	}
	n, err := tx.Count(ctx, storage.TableOrders)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Fatalf("Count=%d, want 2", n)
	}

	if err := tx.ClearTable(ctx, storage.TableOrders); err != nil {
		t.Fatalf("ClearTable: %v", err)
	}
	if n, _ := tx.Count(ctx, storage.TableOrders); n != 0 {
		t.Fatalf("Count after clear=%d", n)
	}
}

func TestTx_NaturalPrimaryKeyRejectsNull(t *testing.T) {
	ctx := context.Background()
	st := openMemory(t)

	tx, err := st.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx.Rollback(ctx)

	cols := []string{"OrderID", "OrderDate", "DeliveryDate"}
	d := civil.Date{Year: 2023, Month: 1, Day: 1}
	err = storage.Attempt(ctx, tx, "row_null", func() error {
		return tx.Insert(ctx, storage.TableOrders, cols, []any{nil, d, d})
	})
	var rowErr *storage.RowError
	if !errors.As(err, &rowErr) {
		t.Fatalf("expected *storage.RowError for NULL OrderID, got %v", err)
	}
	if n, _ := tx.Count(ctx, storage.TableOrders); n != 0 {
		t.Fatalf("Count=%d, want 0", n)
	}
}

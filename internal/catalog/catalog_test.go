package catalog

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"lemonetl/internal/record"
	"lemonetl/internal/storage"
	"lemonetl/internal/storage/sqlite"
)

func openTx(t *testing.T) storage.Tx {
	t.Helper()
	ctx := context.Background()

	st, err := sqlite.New(ctx, storage.Config{Kind: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(st.Close)

	if err := st.EnsureTables(ctx, storage.LittleLemonTables()); err != nil {
		t.Fatalf("EnsureTables: %v", err)
	}
	tx, err := st.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	t.Cleanup(func() { _ = tx.Rollback(context.Background()) })
	return tx
}

func observed() (*zap.SugaredLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core).Sugar(), logs
}

func menuRecord(pos int, kv ...any) record.Record {
	v := map[string]any{}
	for i := 0; i+1 < len(kv); i += 2 {
		v[kv[i].(string)] = kv[i+1]
	}
	return record.Record{Pos: pos, Values: v}
}

func TestLoadDimension_DistinctAndIdempotent(t *testing.T) {
	ctx := context.Background()
	tx := openTx(t)
	log, _ := observed()

	recs := []record.Record{
		menuRecord(0, record.FieldDrink, "Athens White wine"),
		menuRecord(1, record.FieldDrink, "Corvo White wine"),
		menuRecord(2, record.FieldDrink, " Athens White wine "),
		menuRecord(3, record.FieldDrink, nil),
	}

	c := New(tx, log)
	st, err := c.LoadDimension(ctx, Drinks, recs)
	if err != nil {
		t.Fatalf("LoadDimension: %v", err)
	}
	if st.Distinct != 2 || st.Inserted != 2 {
		t.Fatalf("first load stats %+v", st)
	}
	id1, found, err := c.Lookup(ctx, Drinks, "Athens White wine")
	if err != nil || !found {
		t.Fatalf("Lookup after load: found=%v err=%v", found, err)
	}

	// A fresh catalog over the same transaction has an empty cache.
	again := New(tx, log)
	st, err = again.LoadDimension(ctx, Drinks, recs)
	if err != nil {
		t.Fatalf("second LoadDimension: %v", err)
	}
	if st.Inserted != 0 || st.Distinct != 2 {
		t.Fatalf("second load must insert nothing, got %+v", st)
	}
	id2, _, _ := again.Lookup(ctx, Drinks, "Athens White wine")
	if id1 != id2 {
		t.Fatalf("ids not stable: %d vs %d", id1, id2)
	}
	if n, _ := tx.Count(ctx, storage.TableDrinks); n != 2 {
		t.Fatalf("Drinks count=%d want 2", n)
	}
	if got := again.Inserted()[storage.TableDrinks]; got != 0 {
		t.Fatalf("Inserted()=%d want 0", got)
	}
}

func TestLoadCourses_NewCuisineAndCourse(t *testing.T) {
	ctx := context.Background()
	tx := openTx(t)
	log, _ := observed()
	c := New(tx, log)

	recs := []record.Record{
		menuRecord(0, record.FieldCuisineName, "Italian", record.FieldCourseName, "Pizza"),
		menuRecord(1, record.FieldCuisineName, "Fusion", record.FieldCourseName, "Special"),
	}
	if _, err := c.LoadDimension(ctx, Cuisines, recs); err != nil {
		t.Fatalf("LoadDimension(cuisines): %v", err)
	}
	st, err := c.LoadCourses(ctx, recs)
	if err != nil {
		t.Fatalf("LoadCourses: %v", err)
	}
	if st.Inserted != 2 || st.Unresolved != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}

	courseID, found, err := c.Lookup(ctx, Courses, "Special")
	if err != nil || !found || courseID == 0 {
		t.Fatalf("Special not resolvable: id=%d found=%v err=%v", courseID, found, err)
	}
	fusionID, _, _ := c.Lookup(ctx, Cuisines, "Fusion")

	owner, ok, err := tx.LookupID(ctx, storage.TableCourses, "CourseName", "CuisineID", "Special")
	if err != nil {
		t.Fatalf("LookupID: %v", err)
	}
	if !ok || owner != fusionID {
		t.Fatalf("Special must belong to Fusion (%d), got %d", fusionID, owner)
	}

	ins := c.Inserted()
	if ins[storage.TableCuisines] != 2 || ins[storage.TableCourses] != 2 {
		t.Fatalf("Inserted()=%v", ins)
	}
}

func TestLoadCourses_UnknownCuisineSkipped(t *testing.T) {
	ctx := context.Background()
	tx := openTx(t)
	log, logs := observed()
	c := New(tx, log)

	st, err := c.LoadCourses(ctx, []record.Record{
		menuRecord(4, record.FieldCuisineName, "Martian", record.FieldCourseName, "Dust"),
		menuRecord(5, record.FieldCourseName, "Orphan"),
	})
	if err != nil {
		t.Fatalf("LoadCourses: %v", err)
	}
	if st.Unresolved != 1 || st.Inserted != 0 || st.Distinct != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
	warn := logs.FilterMessage("cuisine not found for course").All()
	if len(warn) != 1 || warn[0].ContextMap()["course"] != "Dust" {
		t.Fatalf("expected warning naming the pair, got %v", logs.All())
	}
	if _, found, _ := c.Lookup(ctx, Courses, "Dust"); found {
		t.Fatalf("Dust must not be in the catalog")
	}
}

func TestLoadCustomers_FullTupleKeyedOnID(t *testing.T) {
	ctx := context.Background()
	tx := openTx(t)
	log, _ := observed()
	c := New(tx, log)

	cust := func(pos int, id, name, city any) record.Record {
		return menuRecord(pos,
			record.FieldCustomerID, id, record.FieldCustomerName, name, record.FieldCity, city,
			record.FieldCountry, "China", record.FieldPostalCode, nil, record.FieldCountryCode, "CN")
	}
	st, err := c.LoadCustomers(ctx, []record.Record{
		cust(0, "72-055-7985", "Laney Fadden", "Daruoyan"),
		cust(1, "72-055-7985", "Laney Fadden", "Daruoyan"),
		cust(2, "72-055-7985", "Laney F.", "Daruoyan"),
		cust(3, "65-353-0657", "Giacopo Bramich", nil),
		cust(4, nil, "Nobody", "Nowhere"),
	})
	if err != nil {
		t.Fatalf("LoadCustomers: %v", err)
	}
	if st.Distinct != 3 || st.Inserted != 2 || st.Failed != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if n, _ := tx.Count(ctx, storage.TableCustomers); n != 2 {
		t.Fatalf("Customers count=%d want 2", n)
	}
}

// failingTx fails inserts for one key and otherwise delegates.
type failingTx struct {
	storage.Tx
	failKey      string
	savepointErr error
}

func (f *failingTx) InsertIfAbsent(ctx context.Context, table string, columns []string, values []any, keys []string) (bool, error) {
	if values[0] == f.failKey {
		return false, errors.New("value too long")
	}
	return f.Tx.InsertIfAbsent(ctx, table, columns, values, keys)
}

func (f *failingTx) Savepoint(ctx context.Context, name string) error {
	if f.savepointErr != nil {
		return f.savepointErr
	}
	return f.Tx.Savepoint(ctx, name)
}

func TestLoadDimension_RowFailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	log, logs := observed()
	tx := &failingTx{Tx: openTx(t), failKey: "Bad Side"}
	c := New(tx, log)

	st, err := c.LoadDimension(ctx, Sides, []record.Record{
		menuRecord(0, record.FieldSides, "Tapas"),
		menuRecord(1, record.FieldSides, "Bad Side"),
		menuRecord(2, record.FieldSides, "Bruschetta"),
	})
	if err != nil {
		t.Fatalf("row failures must not abort: %v", err)
	}
	if st.Failed != 1 || st.Inserted != 2 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if logs.FilterMessage("insert failed").Len() != 1 || logs.FilterMessage("insert payload").Len() != 1 {
		t.Fatalf("expected error and debug payload logs, got %v", logs.All())
	}
}

func TestLoadDimension_SavepointFailureAborts(t *testing.T) {
	ctx := context.Background()
	log, _ := observed()
	tx := &failingTx{Tx: openTx(t), savepointErr: errors.New("connection lost")}
	c := New(tx, log)

	_, err := c.LoadDimension(ctx, Starters, []record.Record{menuRecord(0, record.FieldStarterName, "Olives")})
	if err == nil {
		t.Fatalf("expected run-scoped error")
	}
	var rowErr *storage.RowError
	if errors.As(err, &rowErr) {
		t.Fatalf("savepoint failure must not be row-scoped")
	}
}

func TestLookup_AbsentKey(t *testing.T) {
	c := New(nil, nil)
	if _, found, err := c.Lookup(context.Background(), Desserts, nil); found || err != nil {
		t.Fatalf("nil key must be a miss without touching the store")
	}
}

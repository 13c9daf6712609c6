package facts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-sql/civil"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"lemonetl/internal/catalog"
	"lemonetl/internal/record"
	"lemonetl/internal/storage"
	"lemonetl/internal/storage/sqlite"
)

// recordingTx keeps the values of every successful Insert.
type recordingTx struct {
	storage.Tx
	inserted [][]any
}

func (r *recordingTx) Insert(ctx context.Context, table string, columns []string, values []any) error {
	if err := r.Tx.Insert(ctx, table, columns, values); err != nil {
		return err
	}
	r.inserted = append(r.inserted, values)
	return nil
}

func setup(t *testing.T) (*recordingTx, *catalog.Catalog, *zap.SugaredLogger, *observer.ObservedLogs) {
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

	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core).Sugar()

	rtx := &recordingTx{Tx: tx}
	return rtx, catalog.New(rtx, log), log, logs
}

func order(pos int, id string, od, dd any, kv ...any) record.Record {
	v := map[string]any{
		record.FieldOrderID:      id,
		record.FieldOrderDate:    od,
		record.FieldDeliveryDate: dd,
		record.FieldCustomerID:   "72-055-7985",
		record.FieldQuantity:     "2",
		record.FieldCost:         "125.50",
		record.FieldSales:        "250.00",
		record.FieldDiscount:     "0",
		record.FieldDeliveryCost: "5.5",
	}
	for i := 0; i+1 < len(kv); i += 2 {
		v[kv[i].(string)] = kv[i+1]
	}
	return record.Record{Pos: pos, Values: v}
}

var d1 = civil.Date{Year: 2023, Month: time.January, Day: 1}

func TestLoad_SkipsInvalidDatesAndNullsUnknownItems(t *testing.T) {
	ctx := context.Background()
	tx, cat, log, logs := setup(t)

	menu := []record.Record{order(0, "", nil, nil, record.FieldDrink, "Corvo White wine", record.FieldStarterName, "Olives")}
	if _, err := cat.LoadDimension(ctx, catalog.Drinks, menu); err != nil {
		t.Fatalf("LoadDimension: %v", err)
	}
	if _, err := cat.LoadDimension(ctx, catalog.Starters, menu); err != nil {
		t.Fatalf("LoadDimension: %v", err)
	}

	l := Loader{Tx: tx, Catalog: cat, Normalizer: record.DateNormalizer{Logger: log}, Logger: log}
	st, err := l.Load(ctx, []record.Record{
		order(0, "A1", d1, d1, record.FieldDrink, "Corvo White wine", record.FieldStarterName, "Olives"),
		order(1, "A2", nil, d1),
		order(2, "A3", d1, d1, record.FieldDrink, "Mystery Drink"),
		order(3, "A4", "05-01-2023", "06-01-2023"),
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := Stats{Inserted: 3, Skipped: 1, InvalidDates: 1, UnresolvedRefs: 1, FinalCount: 3}
	if st != want {
		t.Fatalf("stats=%+v want %+v", st, want)
	}
	if logs.FilterMessage("skipping row due to invalid dates").Len() != 1 {
		t.Fatalf("expected one skip warning")
	}
	if logs.FilterMessage("menu item not found").Len() != 1 {
		t.Fatalf("expected one unresolved warning")
	}

	first := tx.inserted[0]
	if first[5] == nil || first[7] == nil {
		t.Fatalf("known items must resolve: %v", first)
	}
	if first[4] != nil || first[6] != nil || first[8] != nil {
		t.Fatalf("absent items must be NULL: %v", first)
	}
	if tx.inserted[1][7] != nil {
		t.Fatalf("unknown drink must be NULL, got %v", tx.inserted[1][7])
	}
	if q, ok := first[9].(int64); !ok || q != 2 {
		t.Fatalf("quantity=%#v", first[9])
	}
	if c, ok := first[10].(decimal.Decimal); !ok || !c.Equal(decimal.RequireFromString("125.5")) {
		t.Fatalf("cost=%#v", first[10])
	}
	if got := tx.inserted[2][1]; got != (civil.Date{Year: 2023, Month: time.January, Day: 5}) {
		t.Fatalf("text dates must be re-parsed, got %#v", got)
	}
}

func TestLoad_StoreFailureSkipsRowAndContinues(t *testing.T) {
	ctx := context.Background()
	tx, cat, log, logs := setup(t)

	l := Loader{Tx: tx, Catalog: cat, Normalizer: record.DateNormalizer{Logger: log}, Logger: log}
	st, err := l.Load(ctx, []record.Record{
		order(0, "B1", d1, d1),
		order(1, "B1", d1, d1), // primary key violation
		order(2, "B2", d1, d1),
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st.Inserted != 2 || st.StoreErrors != 1 || st.Skipped != 1 || st.FinalCount != 2 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if logs.FilterMessage("error inserting order").Len() != 1 {
		t.Fatalf("expected an error log for the failed row")
	}
	dbg := logs.FilterMessage("order payload").All()
	if len(dbg) != 1 || dbg[0].Level != zapcore.DebugLevel {
		t.Fatalf("expected the payload at debug level, got %v", dbg)
	}
}

func TestTruncate_ClearsExistingOrders(t *testing.T) {
	ctx := context.Background()
	tx, cat, log, _ := setup(t)

	l := Loader{Tx: tx, Catalog: cat, Logger: log}
	if _, err := l.Load(ctx, []record.Record{order(0, "C1", d1, d1)}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := l.Truncate(ctx); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if n, _ := tx.Count(ctx, storage.TableOrders); n != 0 {
		t.Fatalf("Orders count after truncate=%d", n)
	}
}

func TestLoad_SkipsRowsWithoutOrderID(t *testing.T) {
	ctx := context.Background()
	tx, cat, log, logs := setup(t)

	l := Loader{Tx: tx, Catalog: cat, Normalizer: record.DateNormalizer{Logger: log}, Logger: log}
	st, err := l.Load(ctx, []record.Record{
		order(0, "", d1, d1),
		order(1, "E1", d1, d1),
		order(2, "   ", d1, d1),
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Stats{Inserted: 1, Skipped: 2, MissingIDs: 2, FinalCount: 1}
	if st != want {
		t.Fatalf("stats=%+v want %+v", st, want)
	}
	if logs.FilterMessage("skipping row without order id").Len() != 2 {
		t.Fatalf("expected a warning per missing order id")
	}
	if len(tx.inserted) != 1 || tx.inserted[0][0] != "E1" {
		t.Fatalf("only E1 should reach the store: %v", tx.inserted)
	}
}

type brokenResolver struct{}

func (brokenResolver) Lookup(context.Context, catalog.Dimension, any) (int64, bool, error) {
	return 0, false, errors.New("connection reset")
}

func TestLoad_LookupFailureIsRunScoped(t *testing.T) {
	ctx := context.Background()
	tx, _, log, _ := setup(t)

	l := Loader{Tx: tx, Catalog: brokenResolver{}, Logger: log}
	_, err := l.Load(ctx, []record.Record{order(0, "D1", d1, d1, record.FieldSides, "Tapas")})
	if err == nil {
		t.Fatalf("expected lookup failure to abort the load")
	}
}

func TestQuantityAndMoney(t *testing.T) {
	if got := quantity(" 3 "); got != int64(3) {
		t.Fatalf("quantity(\" 3 \")=%#v", got)
	}
	if got := quantity("4.0"); got != int64(4) {
		t.Fatalf("quantity(4.0)=%#v", got)
	}
	if got := quantity("lots"); got != "lots" {
		t.Fatalf("non-numeric quantity must pass through, got %#v", got)
	}
	if got := quantity(nil); got != nil {
		t.Fatalf("nil quantity must stay nil")
	}
	for _, big := range []string{"1e20", "9.3e18", "-1e19"} {
		if got := quantity(big); got != big {
			t.Fatalf("out-of-range quantity %q must pass through, got %#v", big, got)
		}
	}
	if got := quantity(1e20); got != 1e20 {
		t.Fatalf("out-of-range float quantity must pass through, got %#v", got)
	}
	if got := quantity("-9.2e18"); got != int64(-9200000000000000000) {
		t.Fatalf("quantity(-9.2e18)=%#v", got)
	}

	if d, ok := money("235.00").(decimal.Decimal); !ok || d.String() != "235" {
		t.Fatalf("money(235.00)=%#v", money("235.00"))
	}
	if d, ok := money(12.25).(decimal.Decimal); !ok || d.String() != "12.25" {
		t.Fatalf("money(12.25)=%#v", money(12.25))
	}
	if got := money("$5"); got != "$5" {
		t.Fatalf("non-numeric money must pass through, got %#v", got)
	}
}

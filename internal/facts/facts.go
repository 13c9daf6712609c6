// Package facts loads one Orders row per cleaned record.
package facts

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"lemonetl/internal/catalog"
	"lemonetl/internal/logging"
	"lemonetl/internal/record"
	"lemonetl/internal/storage"
)

// Resolver maps a natural key to its surrogate ID. *catalog.Catalog
// implements it.
type Resolver interface {
	Lookup(ctx context.Context, dim catalog.Dimension, key any) (int64, bool, error)
}

var orderColumns = []string{
	"OrderID", "OrderDate", "DeliveryDate", "CustomerID",
	"CourseID", "StarterID", "DessertID", "DrinkID", "SideID",
	"Quantity", "Cost", "Sales", "Discount", "DeliveryCost",
}

// menuRefs are resolved in the order of their Orders columns.
var menuRefs = []catalog.Dimension{catalog.Courses, catalog.Starters, catalog.Desserts, catalog.Drinks, catalog.Sides}

type Stats struct {
	Inserted       int
	Skipped        int // MissingIDs + InvalidDates + StoreErrors
	MissingIDs     int
	InvalidDates   int
	StoreErrors    int
	UnresolvedRefs int   // menu references loaded as NULL
	FinalCount     int64 // COUNT(*) of Orders after the load
}

type Loader struct {
	Tx         storage.Tx
	Catalog    Resolver
	Normalizer record.DateNormalizer
	Logger     logging.Logger
}

// Truncate removes every existing order inside the run transaction.
func (l Loader) Truncate(ctx context.Context) error {
	if err := l.Tx.ClearTable(ctx, storage.TableOrders); err != nil {
		return fmt.Errorf("clear %s: %w", storage.TableOrders, err)
	}
	logging.OrNop(l.Logger).Infow("cleared orders table")
	return nil
}

// Load inserts one order per record in the given order.
//
// Rows with an absent or invalid date are skipped. Menu items that do not
// resolve are stored as NULL. A failed insert is undone, logged and skipped.
// Only run-scoped failures are returned.
func (l Loader) Load(ctx context.Context, records []record.Record) (Stats, error) {
	log := logging.OrNop(l.Logger)
	var st Stats

	for _, r := range records {
		orderID, ok := r.Text(record.FieldOrderID)
		if !ok {
			st.MissingIDs++
			st.Skipped++
			log.Warnw("skipping row without order id", "row", r.Pos)
			continue
		}

		orderDate, issue1 := l.Normalizer.Normalize(r.Get(record.FieldOrderDate), record.FieldOrderDate, r.Pos)
		deliveryDate, issue2 := l.Normalizer.Normalize(r.Get(record.FieldDeliveryDate), record.FieldDeliveryDate, r.Pos)
		if issue1 != nil || issue2 != nil {
			st.InvalidDates++
			st.Skipped++
			log.Warnw("skipping row due to invalid dates", "row", r.Pos, "order_id", r.Get(record.FieldOrderID))
			continue
		}

		values := make([]any, 0, len(orderColumns))
		values = append(values, orderID, orderDate, deliveryDate, text(r, record.FieldCustomerID))

		for _, dim := range menuRefs {
			key, ok := r.Text(dim.SourceField)
			if !ok {
				values = append(values, nil)
				continue
			}
			id, found, err := l.Catalog.Lookup(ctx, dim, key)
			if err != nil {
				return st, err
			}
			if !found {
				st.UnresolvedRefs++
				log.Warnw("menu item not found", "row", r.Pos, "table", dim.Table, "value", key)
				values = append(values, nil)
				continue
			}
			values = append(values, id)
		}

		values = append(values,
			quantity(r.Get(record.FieldQuantity)),
			money(r.Get(record.FieldCost)),
			money(r.Get(record.FieldSales)),
			money(r.Get(record.FieldDiscount)),
			money(r.Get(record.FieldDeliveryCost)),
		)

		err := storage.Attempt(ctx, l.Tx, fmt.Sprintf("fact_%d", r.Pos), func() error {
			return l.Tx.Insert(ctx, storage.TableOrders, orderColumns, values)
		})
		if err != nil {
			var rowErr *storage.RowError
			if !errors.As(err, &rowErr) {
				return st, fmt.Errorf("insert order at row %d: %w", r.Pos, err)
			}
			st.StoreErrors++
			st.Skipped++
			log.Errorw("error inserting order", "row", r.Pos, "error", rowErr.Err)
			log.Debugw("order payload", "row", r.Pos, "values", payload(values))
			continue
		}
		st.Inserted++
	}

	n, err := l.Tx.Count(ctx, storage.TableOrders)
	if err != nil {
		return st, fmt.Errorf("count %s: %w", storage.TableOrders, err)
	}
	st.FinalCount = n
	log.Infow("total orders in database", "count", n, "expected", st.Inserted)
	if n != int64(st.Inserted) {
		log.Warnw("order count mismatch", "count", n, "expected", st.Inserted)
	}
	return st, nil
}

func text(r record.Record, field string) any {
	if s, ok := r.Text(field); ok {
		return s
	}
	return nil
}

// quantity binds integral text as int64; anything else is passed through for
// the store to accept or reject.
func quantity(v any) any {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			if n, ok := integral(f); ok {
				return n
			}
		}
	case float64:
		if n, ok := integral(t); ok {
			return n
		}
	case int:
		return int64(t)
	}
	return v
}

// integral reports f as an int64 when it is whole and fits.
// float64(math.MaxInt64) rounds up to 2^63, hence the strict bound.
func integral(f float64) (int64, bool) {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// money binds numeric text as an exact decimal.
func money(v any) any {
	switch t := v.(type) {
	case string:
		if d, err := decimal.NewFromString(strings.TrimSpace(t)); err == nil {
			return d
		}
	case float64:
		if !math.IsNaN(t) && !math.IsInf(t, 0) {
			return decimal.NewFromFloat(t)
		}
	case int64:
		return decimal.NewFromInt(t)
	}
	return v
}

func payload(values []any) map[string]any {
	out := make(map[string]any, len(values))
	for i, c := range orderColumns {
		out[c] = values[i]
	}
	return out
}

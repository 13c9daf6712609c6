// Package catalog loads the reference dimensions (customers and the menu
// taxonomy) and resolves natural keys to their surrogate IDs.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"lemonetl/internal/logging"
	"lemonetl/internal/record"
	"lemonetl/internal/storage"
)

// Policy names the write semantics used for reference rows.
type Policy string

// InsertIfAbsent inserts a row only when its natural key is new. Existing
// rows are never modified.
const InsertIfAbsent Policy = "insert-if-absent"

// Dimension describes a lookup table keyed by a unique name.
type Dimension struct {
	Table       string
	KeyColumn   string // natural key
	IDColumn    string // store-assigned surrogate id
	SourceField string // record field holding the natural key
}

var (
	Cuisines = Dimension{Table: storage.TableCuisines, KeyColumn: "CuisineName", IDColumn: "CuisineID", SourceField: record.FieldCuisineName}
	Courses  = Dimension{Table: storage.TableCourses, KeyColumn: "CourseName", IDColumn: "CourseID", SourceField: record.FieldCourseName}
	Starters = Dimension{Table: storage.TableStarters, KeyColumn: "StarterName", IDColumn: "StarterID", SourceField: record.FieldStarterName}
	Desserts = Dimension{Table: storage.TableDesserts, KeyColumn: "DessertName", IDColumn: "DessertID", SourceField: record.FieldDessertName}
	Drinks   = Dimension{Table: storage.TableDrinks, KeyColumn: "DrinkName", IDColumn: "DrinkID", SourceField: record.FieldDrink}
	Sides    = Dimension{Table: storage.TableSides, KeyColumn: "SideName", IDColumn: "SideID", SourceField: record.FieldSides}
)

// MenuItems are the simple dimensions loaded after courses. Their order is
// irrelevant.
var MenuItems = []Dimension{Starters, Desserts, Drinks, Sides}

var customerColumns = []string{"CustomerID", "Name", "City", "Country", "PostalCode", "CountryCode"}

var customerFields = []string{
	record.FieldCustomerID, record.FieldCustomerName, record.FieldCity,
	record.FieldCountry, record.FieldPostalCode, record.FieldCountryCode,
}

// LoadStats summarizes one load call.
type LoadStats struct {
	Distinct   int // distinct non-absent values seen
	Inserted   int // rows actually created
	Failed     int // row-scoped store errors
	Unresolved int // items skipped because a parent key did not resolve
}

type lookup struct {
	id    int64
	found bool
}

// Catalog writes reference rows through tx and caches their IDs.
//
// A Catalog is bound to one run transaction and is not safe for concurrent use.
type Catalog struct {
	tx       storage.Tx
	log      logging.Logger
	cache    map[string]map[string]lookup // table -> normalized key -> id
	inserted map[string]int
	seq      int
}

func New(tx storage.Tx, log logging.Logger) *Catalog {
	return &Catalog{
		tx:       tx,
		log:      logging.OrNop(log),
		cache:    make(map[string]map[string]lookup),
		inserted: make(map[string]int),
	}
}

// Inserted returns the number of rows created per table so far.
func (c *Catalog) Inserted() map[string]int {
	out := make(map[string]int, len(c.inserted))
	for k, v := range c.inserted {
		out[k] = v
	}
	return out
}

// LoadCustomers inserts every distinct customer tuple, keyed on CustomerID.
// Records without a customer ID are skipped.
func (c *Catalog) LoadCustomers(ctx context.Context, records []record.Record) (LoadStats, error) {
	var st LoadStats
	seen := make(map[string]struct{})

	for _, r := range records {
		id, ok := r.Text(record.FieldCustomerID)
		if !ok {
			continue
		}
		values := make([]any, len(customerFields))
		var tuple strings.Builder
		for i, f := range customerFields {
			v := r.Get(f)
			if i == 0 {
				v = id
			}
			values[i] = v
			if v == nil {
				tuple.WriteString("\x00")
			} else {
				tuple.WriteString(storage.NormalizeKey(v))
			}
			tuple.WriteString("\x1f")
		}
		tupleKey := tuple.String()
		if _, dup := seen[tupleKey]; dup {
			continue
		}
		seen[tupleKey] = struct{}{}
		st.Distinct++

		var created bool
		err := c.attempt(ctx, func() error {
			var err error
			created, err = c.tx.InsertIfAbsent(ctx, storage.TableCustomers, customerColumns, values, customerColumns[:1])
			return err
		})
		if err != nil {
			if c.rowFailed(err, "customer", r.Pos, values) {
				st.Failed++
				continue
			}
			return st, err
		}
		if created {
			st.Inserted++
			c.inserted[storage.TableCustomers]++
		}
	}

	c.log.Infow("loaded customers", "distinct", st.Distinct, "inserted", st.Inserted, "failed", st.Failed)
	return st, nil
}

// LoadDimension inserts every distinct value of dim.SourceField and caches
// the resulting IDs.
func (c *Catalog) LoadDimension(ctx context.Context, dim Dimension, records []record.Record) (LoadStats, error) {
	var st LoadStats
	for _, v := range distinct(records, dim.SourceField) {
		st.Distinct++
		created, err := c.ensure(ctx, dim, []string{dim.KeyColumn}, []any{v.key})
		if err != nil {
			if c.rowFailed(err, dim.Table, v.pos, map[string]any{dim.KeyColumn: v.key}) {
				st.Failed++
				continue
			}
			return st, err
		}
		if created {
			st.Inserted++
		}
	}

	c.log.Infow("loaded dimension", "table", dim.Table, "distinct", st.Distinct, "inserted", st.Inserted, "failed", st.Failed)
	return st, nil
}

// LoadCourses inserts distinct (course, cuisine) pairs. The owning cuisine
// must already be in the catalog; pairs whose cuisine does not resolve are
// skipped with a warning.
func (c *Catalog) LoadCourses(ctx context.Context, records []record.Record) (LoadStats, error) {
	var st LoadStats
	seen := make(map[[2]string]struct{})

	for _, r := range records {
		course, ok1 := r.Text(record.FieldCourseName)
		cuisine, ok2 := r.Text(record.FieldCuisineName)
		if !ok1 || !ok2 {
			continue
		}
		pair := [2]string{course, cuisine}
		if _, dup := seen[pair]; dup {
			continue
		}
		seen[pair] = struct{}{}
		st.Distinct++

		cuisineID, found, err := c.Lookup(ctx, Cuisines, cuisine)
		if err != nil {
			return st, err
		}
		if !found {
			st.Unresolved++
			c.log.Warnw("cuisine not found for course", "row", r.Pos, "cuisine", cuisine, "course", course)
			continue
		}

		created, err := c.ensure(ctx, Courses, []string{"CourseName", "CuisineID"}, []any{course, cuisineID})
		if err != nil {
			if c.rowFailed(err, storage.TableCourses, r.Pos, map[string]any{"CourseName": course, "CuisineID": cuisineID}) {
				st.Failed++
				continue
			}
			return st, err
		}
		if created {
			st.Inserted++
		}
	}

	c.log.Infow("loaded dimension", "table", storage.TableCourses, "distinct", st.Distinct, "inserted", st.Inserted,
		"failed", st.Failed, "unresolved", st.Unresolved)
	return st, nil
}

// Lookup resolves a natural key to its surrogate ID. Results, including
// misses, are cached for the rest of the run.
func (c *Catalog) Lookup(ctx context.Context, dim Dimension, key any) (int64, bool, error) {
	k := storage.NormalizeKey(key)
	if k == "" {
		return 0, false, nil
	}
	if hit, ok := c.cache[dim.Table][k]; ok {
		return hit.id, hit.found, nil
	}
	id, found, err := c.tx.LookupID(ctx, dim.Table, dim.KeyColumn, dim.IDColumn, k)
	if err != nil {
		return 0, false, fmt.Errorf("lookup %s %q: %w", dim.Table, k, err)
	}
	c.remember(dim.Table, k, lookup{id: id, found: found})
	return id, found, nil
}

// ensure inserts one row if absent and reads back its surrogate ID. The first
// column/value pair is the natural key.
func (c *Catalog) ensure(ctx context.Context, dim Dimension, columns []string, values []any) (bool, error) {
	var (
		created bool
		id      int64
		found   bool
	)
	err := c.attempt(ctx, func() error {
		var err error
		created, err = c.tx.InsertIfAbsent(ctx, dim.Table, columns, values, columns[:1])
		if err != nil {
			return err
		}
		id, found, err = c.tx.LookupID(ctx, dim.Table, dim.KeyColumn, dim.IDColumn, values[0])
		return err
	})
	if err != nil {
		return false, err
	}

	k := storage.NormalizeKey(values[0])
	c.remember(dim.Table, k, lookup{id: id, found: found})
	if !found {
		c.log.Warnw("inserted key not readable", "table", dim.Table, "key", k)
	}
	if created {
		c.inserted[dim.Table]++
	}
	return created, nil
}

func (c *Catalog) remember(table, key string, v lookup) {
	m := c.cache[table]
	if m == nil {
		m = make(map[string]lookup)
		c.cache[table] = m
	}
	m[key] = v
}

func (c *Catalog) attempt(ctx context.Context, fn func() error) error {
	c.seq++
	return storage.Attempt(ctx, c.tx, fmt.Sprintf("catalog_%d", c.seq), fn)
}

// rowFailed logs a row-scoped failure and reports whether err was one.
func (c *Catalog) rowFailed(err error, what string, pos int, payload any) bool {
	var rowErr *storage.RowError
	if !errors.As(err, &rowErr) {
		return false
	}
	c.log.Errorw("insert failed", "table", what, "row", pos, "error", rowErr.Err)
	c.log.Debugw("insert payload", "table", what, "row", pos, "values", payload)
	return true
}

type firstSeen struct {
	key string
	pos int
}

// distinct returns the non-absent values of field in first-seen order.
func distinct(records []record.Record, field string) []firstSeen {
	seen := make(map[string]struct{})
	var out []firstSeen
	for _, r := range records {
		v, ok := r.Text(field)
		if !ok {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, firstSeen{key: v, pos: r.Pos})
	}
	return out
}

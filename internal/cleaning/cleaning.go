// Package cleaning turns raw order-history records into load-ready records:
// duplicate order IDs are dropped, transposed dates are repaired and
// not-available markers become nil.
package cleaning

import (
	"fmt"
	"math"
	"sort"

	"github.com/golang-sql/civil"

	"lemonetl/internal/logging"
	"lemonetl/internal/record"
	"lemonetl/internal/storage"
)

// DuplicatePolicy decides which record survives when several share an Order ID.
type DuplicatePolicy string

// KeepFirst keeps the first record per Order ID in source order.
const KeepFirst DuplicatePolicy = "keep-first"

// DefaultNullMarkers are the cell values read as "not available".
var DefaultNullMarkers = []string{
	"", "#N/A", "#N/A N/A", "#NA", "-1.#IND", "-1.#QNAN", "-NaN", "-nan",
	"1.#IND", "1.#QNAN", "<NA>", "N/A", "NA", "NULL", "NaN", "None",
	"n/a", "nan", "null",
}

// duplicateSampleSize caps the IDs listed in the integrity warning.
const duplicateSampleSize = 5

type Stats struct {
	InputRows         int
	DuplicatesRemoved int
	RowsSwapped       int
	DateIssues        int // date fields that failed to parse and became nil
	DistinctOrderIDs  int
	// RemainingDuplicates counts IDs still repeating after duplicate
	// elimination. Anything but zero is a data-integrity alarm.
	RemainingDuplicates int
}

type Result struct {
	Records []record.Record
	Stats   Stats
}

// Cleaner runs the cleaning steps in order: duplicate elimination, date
// repair, null normalization.
type Cleaner struct {
	Policy      DuplicatePolicy // "" means KeepFirst
	Normalizer  record.DateNormalizer
	NullMarkers []string // nil means DefaultNullMarkers
	Logger      logging.Logger
}

// Clean returns fresh records; the input slice and its maps are not modified.
func (c Cleaner) Clean(records []record.Record) (Result, error) {
	policy := c.Policy
	if policy == "" {
		policy = KeepFirst
	}
	if policy != KeepFirst {
		return Result{}, fmt.Errorf("cleaning: unsupported duplicate policy %q", policy)
	}

	log := logging.OrNop(c.Logger)
	markers := c.markerSet()
	stats := Stats{InputRows: len(records)}

	kept := c.keepFirst(records, markers)
	stats.DuplicatesRemoved = len(records) - len(kept)
	log.Infow("removed duplicate order rows",
		"removed", stats.DuplicatesRemoved,
		"remaining", len(kept),
	)

	stats.RemainingDuplicates, stats.DistinctOrderIDs = c.checkDuplicates(kept, markers, log)
	log.Infow("distinct order ids", "count", stats.DistinctOrderIDs)

	out := make([]record.Record, len(kept))
	for i, r := range kept {
		r = r.Clone()
		swapped, issues := c.repairDates(r, markers)
		if swapped {
			stats.RowsSwapped++
		}
		stats.DateIssues += issues
		normalizeNulls(r, markers)
		out[i] = r
	}
	log.Infow("swapped order and delivery dates", "rows", stats.RowsSwapped)

	return Result{Records: out, Stats: stats}, nil
}

func (c Cleaner) markerSet() map[string]struct{} {
	list := c.NullMarkers
	if list == nil {
		list = DefaultNullMarkers
	}
	set := make(map[string]struct{}, len(list))
	for _, m := range list {
		set[m] = struct{}{}
	}
	return set
}

// orderKey canonicalizes the Order ID; every absent form maps to "".
// The key is trimmed like the stored OrderID, so " 100" and "100" collide.
func orderKey(r record.Record, markers map[string]struct{}) string {
	v := canonical(r.Get(record.FieldOrderID), markers)
	if v == nil {
		return ""
	}
	return storage.NormalizeKey(v)
}

func (c Cleaner) keepFirst(records []record.Record, markers map[string]struct{}) []record.Record {
	seen := make(map[string]struct{}, len(records))
	out := make([]record.Record, 0, len(records))
	for _, r := range records {
		k := orderKey(r, markers)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}

// checkDuplicates re-scans the kept records and warns about IDs that still
// repeat, listing up to duplicateSampleSize of them (most frequent first).
func (c Cleaner) checkDuplicates(kept []record.Record, markers map[string]struct{}, log logging.Logger) (repeating, distinct int) {
	counts := make(map[string]int, len(kept))
	var order []string
	for _, r := range kept {
		k := orderKey(r, markers)
		if k == "" {
			continue
		}
		if counts[k] == 0 {
			order = append(order, k)
		}
		counts[k]++
	}

	var dups []string
	for _, k := range order {
		if counts[k] > 1 {
			dups = append(dups, k)
		}
	}
	if len(dups) > 0 {
		sort.SliceStable(dups, func(i, j int) bool { return counts[dups[i]] > counts[dups[j]] })
		sample := make([]string, 0, duplicateSampleSize)
		for _, k := range dups {
			if len(sample) == duplicateSampleSize {
				break
			}
			sample = append(sample, fmt.Sprintf("%s (%d)", k, counts[k]))
		}
		log.Warnw("order ids still repeating after duplicate removal",
			"count", len(dups),
			"sample", sample,
		)
	}
	return len(dups), len(order)
}

// repairDates parses both date fields in place, swapping them when delivery
// precedes order. Unparseable or absent dates become nil.
func (c Cleaner) repairDates(r record.Record, markers map[string]struct{}) (swapped bool, issues int) {
	parse := func(field string) (civil.Date, bool) {
		d, issue := c.Normalizer.Normalize(canonical(r.Get(field), markers), field, r.Pos)
		if issue != nil {
			if issue.Kind == record.DateInvalid {
				issues++
			}
			r.Values[field] = nil
			return civil.Date{}, false
		}
		r.Values[field] = d
		return d, true
	}

	order, okOrder := parse(record.FieldOrderDate)
	delivery, okDelivery := parse(record.FieldDeliveryDate)
	if okOrder && okDelivery && delivery.Before(order) {
		r.Values[record.FieldOrderDate] = delivery
		r.Values[record.FieldDeliveryDate] = order
		swapped = true
	}
	return swapped, issues
}

func normalizeNulls(r record.Record, markers map[string]struct{}) {
	for k, v := range r.Values {
		r.Values[k] = canonical(v, markers)
	}
}

// canonical maps null markers and NaN to nil.
func canonical(v any, markers map[string]struct{}) any {
	switch t := v.(type) {
	case string:
		if _, ok := markers[t]; ok {
			return nil
		}
	case float64:
		if math.IsNaN(t) {
			return nil
		}
	case float32:
		if math.IsNaN(float64(t)) {
			return nil
		}
	}
	return v
}

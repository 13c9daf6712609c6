// Package importer runs one complete import: read the order history, clean
// it, load the reference catalog and the orders, then commit.
//
// Every write of a run happens in a single store transaction, so a run either
// commits as a whole or leaves the database untouched.
package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"lemonetl/internal/catalog"
	"lemonetl/internal/cleaning"
	"lemonetl/internal/config"
	"lemonetl/internal/facts"
	"lemonetl/internal/logging"
	"lemonetl/internal/metrics"
	csvsrc "lemonetl/internal/parser/csv"
	"lemonetl/internal/record"
	"lemonetl/internal/storage"
)

// Step names, used as the "step" metric label and in logs.
const (
	StepRead      = "read"
	StepConnect   = "connect"
	StepSchema    = "schema"
	StepTruncate  = "truncate"
	StepClean     = "clean"
	StepCustomers = "customers"
	StepCuisines  = "cuisines"
	StepCourses   = "courses"
	StepMenuItems = "menu_items"
	StepOrders    = "orders"
	StepCommit    = "commit"
)

// Runner executes import runs.
//
// Open and NewRunID are seams for tests; nil means storage.Open and a random
// UUID.
type Runner struct {
	Open     func(ctx context.Context, cfg storage.Config) (storage.Store, error)
	Logger   logging.Logger
	NewRunID func() string
}

func NewDefaultRunner(log logging.Logger) *Runner {
	return &Runner{Open: storage.Open, Logger: log}
}

// run carries the state of one Run call.
type run struct {
	cfg     config.Import
	log     logging.Logger
	summary *Summary

	records []record.Record
	store   storage.Store
	tx      storage.Tx
	cat     *catalog.Catalog
	loader  facts.Loader
}

// Run executes the whole import described by cfg.
//
// The returned Summary is filled as far as the run got, also on error. Any
// returned error is run-scoped: the transaction has been rolled back and the
// store closed.
func (r *Runner) Run(ctx context.Context, cfg config.Import) (Summary, error) {
	start := time.Now()
	log := logging.OrNop(r.Logger)

	newID := r.NewRunID
	if newID == nil {
		newID = uuid.NewString
	}
	s := Summary{RunID: newID(), Job: cfg.Job, Inserted: make(map[string]int)}
	st := &run{cfg: cfg, log: log, summary: &s}

	log.Infow("import started", "run_id", s.RunID, "job", cfg.Job, "source", cfg.Source.Path, "storage", cfg.Storage.Kind)

	err := r.execute(ctx, st)
	s.Duration = time.Since(start)
	if err != nil {
		log.Errorw("import failed", "run_id", s.RunID, "duration", durMS(start), "error", err)
		return s, err
	}
	log.Infow("import finished", "run_id", s.RunID, "duration", durMS(start))
	return s, nil
}

func (r *Runner) execute(ctx context.Context, st *run) error {
	if err := step(st.log, StepRead, func() error { return st.read(ctx) }); err != nil {
		return err
	}

	if err := step(st.log, StepConnect, func() error { return r.connect(ctx, st) }); err != nil {
		return err
	}
	defer func() {
		st.store.Close()
		st.log.Infow("connection closed")
	}()

	if st.cfg.Storage.AutoCreateSchema {
		if err := step(st.log, StepSchema, func() error {
			return st.store.EnsureTables(ctx, storage.LittleLemonTables())
		}); err != nil {
			return err
		}
	}

	tx, err := st.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	st.tx = tx
	committed := false
	defer func() {
		if committed {
			return
		}
		// A fresh context: ctx may be the reason we are rolling back.
		if rbErr := tx.Rollback(context.Background()); rbErr != nil {
			st.log.Errorw("rollback failed", "error", rbErr)
			return
		}
		st.log.Warnw("transaction rolled back")
	}()

	norm := record.DateNormalizer{Layout: st.cfg.Source.DateLayout, Logger: st.log}
	st.cat = catalog.New(tx, st.log)
	st.loader = facts.Loader{Tx: tx, Catalog: st.cat, Normalizer: norm, Logger: st.log}

	stages := []struct {
		name string
		fn   func() error
	}{
		{StepTruncate, func() error { return st.loader.Truncate(ctx) }},
		{StepClean, func() error { return st.clean(norm) }},
		{StepCustomers, func() error { return st.customers(ctx) }},
		{StepCuisines, func() error { return st.dimension(ctx, catalog.Cuisines) }},
		{StepCourses, func() error { return st.courses(ctx) }},
		{StepMenuItems, func() error { return st.menuItems(ctx) }},
		{StepOrders, func() error { return st.orders(ctx) }},
	}
	for _, sg := range stages {
		if err := step(st.log, sg.name, sg.fn); err != nil {
			return err
		}
	}

	if err := step(st.log, StepCommit, func() error { return tx.Commit(ctx) }); err != nil {
		return err
	}
	committed = true
	return nil
}

// step runs fn, records its outcome and wraps a failure with the step name.
func step(log logging.Logger, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.RecordStep(name, err, time.Since(start))
	if err != nil {
		log.Errorw("step failed", "step", name, "duration", durMS(start), "error", err)
		return fmt.Errorf("%s: %w", name, err)
	}
	log.Debugw("step finished", "step", name, "duration", durMS(start))
	return nil
}

func (r *Runner) connect(ctx context.Context, st *run) error {
	open := r.Open
	if open == nil {
		open = storage.Open
	}
	store, err := open(ctx, storage.Config{Kind: st.cfg.Storage.Kind, DSN: st.cfg.Storage.DSN})
	if err != nil {
		return err
	}
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return fmt.Errorf("ping: %w", err)
	}
	st.store = store
	st.log.Infow("connected to database", "kind", st.cfg.Storage.Kind)
	return nil
}

func (st *run) read(ctx context.Context) error {
	f, err := csvsrc.Open(st.cfg.Source.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	opt := csvsrc.Options{Comma: st.cfg.Source.CommaRune(), LazyQuotes: st.cfg.Source.LazyQuotes}
	table, err := csvsrc.ReadTable(ctx, f, opt, func(line int, err error) {
		st.summary.UnreadableLines++
		st.log.Warnw("skipping unreadable line", "line", line, "error", err)
	})
	if err != nil {
		return err
	}

	st.records = table.Records
	st.summary.RowsRead = len(table.Records)
	st.log.Infow("loaded order history", "rows", len(table.Records), "columns", table.Header)
	metrics.RecordRows("rows_read", len(table.Records))
	return nil
}

func (st *run) clean(norm record.DateNormalizer) error {
	res, err := cleaning.Cleaner{
		Policy:      cleaning.KeepFirst,
		Normalizer:  norm,
		NullMarkers: st.cfg.Source.NullMarkers,
		Logger:      st.log,
	}.Clean(st.records)
	if err != nil {
		return err
	}
	st.records = res.Records
	st.summary.Cleaning = res.Stats
	metrics.RecordRows("duplicates_removed", res.Stats.DuplicatesRemoved)
	metrics.RecordRows("rows_swapped", res.Stats.RowsSwapped)
	metrics.RecordRows("date_issues", res.Stats.DateIssues)
	return nil
}

func (st *run) customers(ctx context.Context) error {
	ls, err := st.cat.LoadCustomers(ctx, st.records)
	st.catalogLoaded(storage.TableCustomers, ls)
	return err
}

func (st *run) dimension(ctx context.Context, dim catalog.Dimension) error {
	ls, err := st.cat.LoadDimension(ctx, dim, st.records)
	st.catalogLoaded(dim.Table, ls)
	return err
}

func (st *run) courses(ctx context.Context) error {
	ls, err := st.cat.LoadCourses(ctx, st.records)
	st.catalogLoaded(storage.TableCourses, ls)
	return err
}

func (st *run) menuItems(ctx context.Context) error {
	for _, dim := range catalog.MenuItems {
		if err := st.dimension(ctx, dim); err != nil {
			return fmt.Errorf("%s: %w", dim.Table, err)
		}
	}
	return nil
}

func (st *run) catalogLoaded(table string, ls catalog.LoadStats) {
	st.summary.Inserted[table] = ls.Inserted
	st.summary.CatalogFailures += ls.Failed + ls.Unresolved
	st.log.Infow("reference rows loaded", "table", table, "distinct", ls.Distinct, "inserted", ls.Inserted, "failed", ls.Failed, "unresolved", ls.Unresolved)
	metrics.RecordRows("catalog_inserted", ls.Inserted)
	metrics.RecordRows("catalog_failed", ls.Failed+ls.Unresolved)
}

func (st *run) orders(ctx context.Context) error {
	fs, err := st.loader.Load(ctx, st.records)
	st.summary.Orders = fs
	st.summary.Inserted[storage.TableOrders] = fs.Inserted
	metrics.RecordRows("orders_inserted", fs.Inserted)
	metrics.RecordRows("orders_skipped", fs.Skipped)
	return err
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

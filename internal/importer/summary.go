package importer

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"lemonetl/internal/cleaning"
	"lemonetl/internal/facts"
	"lemonetl/internal/storage"
)

// Summary reports what one run did.
type Summary struct {
	RunID string
	Job   string

	RowsRead        int
	UnreadableLines int
	Cleaning        cleaning.Stats

	// Inserted counts rows created per table, Orders included.
	Inserted        map[string]int
	CatalogFailures int
	Orders          facts.Stats

	Duration time.Duration
}

// reportTables is the order tables are listed in.
var reportTables = []string{
	storage.TableCustomers,
	storage.TableCuisines,
	storage.TableCourses,
	storage.TableStarters,
	storage.TableDesserts,
	storage.TableDrinks,
	storage.TableSides,
	storage.TableOrders,
}

// WriteTo prints a human-readable summary.
func (s Summary) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	tw := tabwriter.NewWriter(cw, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "run\t%s\n", s.RunID)
	fmt.Fprintf(tw, "rows read\t%d\n", s.RowsRead)
	if s.UnreadableLines > 0 {
		fmt.Fprintf(tw, "unreadable lines\t%d\n", s.UnreadableLines)
	}
	fmt.Fprintf(tw, "duplicates removed\t%d\n", s.Cleaning.DuplicatesRemoved)
	fmt.Fprintf(tw, "rows swapped\t%d\n", s.Cleaning.RowsSwapped)
	for _, t := range reportTables {
		fmt.Fprintf(tw, "inserted %s\t%d\n", t, s.Inserted[t])
	}
	fmt.Fprintf(tw, "orders skipped\t%d\n", s.Orders.Skipped)
	if s.Orders.MissingIDs > 0 {
		fmt.Fprintf(tw, "orders without id\t%d\n", s.Orders.MissingIDs)
	}
	fmt.Fprintf(tw, "orders in database\t%d\n", s.Orders.FinalCount)
	fmt.Fprintf(tw, "duration\t%s\n", s.Duration.Truncate(time.Millisecond))

	if err := tw.Flush(); err != nil {
		return cw.n, err
	}
	return cw.n, cw.err
}

type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	if err != nil && c.err == nil {
		c.err = err
	}
	return n, err
}

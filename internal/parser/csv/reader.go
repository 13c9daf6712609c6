package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"lemonetl/internal/record"
)

// ErrMissingColumns is returned when the header lacks required columns.
var ErrMissingColumns = errors.New("csv: missing required columns")

// Options controls how the order-history file is parsed.
type Options struct {
	Comma      rune // 0 means ','
	LazyQuotes bool

	// Required lists header names that must be present. nil means
	// record.RequiredFields.
	Required []string
}

// Open opens path for ReadRecords.
func Open(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source %s: %w", path, err)
	}
	return f, nil
}

// Table is a parsed input file.
type Table struct {
	Header  []string // trimmed, in file order
	Records []record.Record
}

// ReadRecords reads the whole file into records in source order.
// See ReadTable.
func ReadRecords(ctx context.Context, r io.Reader, opt Options, onErr func(line int, err error)) ([]record.Record, error) {
	t, err := ReadTable(ctx, r, opt, onErr)
	if err != nil {
		return nil, err
	}
	return t.Records, nil
}

// ReadTable reads the header and every record in source order.
//
// The input is decoded as UTF-8 unless a UTF-16 BOM says otherwise; a UTF-8
// BOM is dropped. Text is NFC-normalized so visually equal names compare equal.
// Header names are trimmed (" Cost" becomes "Cost"); cell values are kept
// verbatim, including "".
//
// Malformed lines are reported to onErr (may be nil) and skipped. I/O errors,
// a missing header or missing required columns are returned as errors.
func ReadTable(ctx context.Context, r io.Reader, opt Options, onErr func(line int, err error)) (Table, error) {
	dec := transform.NewReader(r, transform.Chain(unicode.BOMOverride(unicode.UTF8.NewDecoder()), norm.NFC))

	cr := csv.NewReader(dec)
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.LazyQuotes = opt.LazyQuotes
	cr.FieldsPerRecord = -1

	hdr, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return Table{}, fmt.Errorf("read header: empty input")
		}
		return Table{}, fmt.Errorf("read header: %w", err)
	}
	header := make([]string, len(hdr))
	seen := make(map[string]bool, len(hdr))
	for i, h := range hdr {
		header[i] = strings.TrimSpace(h)
		seen[header[i]] = true
	}

	required := opt.Required
	if required == nil {
		required = record.RequiredFields
	}
	var missing []string
	for _, f := range required {
		if !seen[f] {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return Table{}, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}

	var out []record.Record
	for {
		if err := ctx.Err(); err != nil {
			return Table{}, err
		}

		rec, err := cr.Read()
		if err == io.EOF {
			return Table{Header: header, Records: out}, nil
		}
		if err != nil {
			var pe *csv.ParseError
			if !errors.As(err, &pe) {
				return Table{}, fmt.Errorf("csv read: %w", err)
			}
			if onErr != nil {
				onErr(pe.StartLine, fmt.Errorf("csv read: %w", err))
			}
			continue
		}

		line, _ := cr.FieldPos(0)
		values := make(map[string]any, len(header))
		for i, name := range header {
			if name == "" {
				continue
			}
			if i < len(rec) {
				values[name] = rec[i]
			} else {
				values[name] = nil
			}
		}
		out = append(out, record.Record{Pos: len(out), Line: line, Values: values})
	}
}

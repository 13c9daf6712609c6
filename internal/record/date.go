package record

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-sql/civil"

	"lemonetl/internal/logging"
)

// DefaultDateLayout is day-month-year with a four-digit year. Day and month
// may be zero-padded or not ("5-1-2023" and "05-01-2023" both parse).
const DefaultDateLayout = "2-1-2006"

type DateIssueKind int

const (
	DateAbsent DateIssueKind = iota + 1
	DateInvalid
)

func (k DateIssueKind) String() string {
	switch k {
	case DateAbsent:
		return "absent"
	case DateInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// DateIssue describes why a value could not be turned into a date.
type DateIssue struct {
	Pos    int
	Field  string
	Raw    any
	Kind   DateIssueKind
	Reason string
}

func (i *DateIssue) Error() string {
	return fmt.Sprintf("row %d: %s %s: %s", i.Pos, i.Field, i.Kind, i.Reason)
}

// DateNormalizer turns raw date values into calendar dates.
type DateNormalizer struct {
	Layout string // "" means DefaultDateLayout
	Logger logging.Logger
}

// Normalize returns the calendar date held by v, or an issue.
//
//   - nil is DateAbsent and is not logged.
//   - civil.Date and time.Time yield their date component.
//   - strings are parsed strictly against Layout; no surrounding text allowed.
//   - anything else is DateInvalid.
//
// Invalid values are logged at error level with the row position.
func (n DateNormalizer) Normalize(v any, field string, pos int) (civil.Date, *DateIssue) {
	switch t := v.(type) {
	case nil:
		return civil.Date{}, &DateIssue{Pos: pos, Field: field, Kind: DateAbsent, Reason: "value is absent"}
	case civil.Date:
		if !t.IsValid() {
			return civil.Date{}, n.invalid(pos, field, v, "not a valid calendar date")
		}
		return t, nil
	case time.Time:
		return civil.DateOf(t), nil
	case string:
		layout := n.Layout
		if layout == "" {
			layout = DefaultDateLayout
		}
		ts, err := time.Parse(layout, t)
		if err != nil {
			return civil.Date{}, n.invalid(pos, field, v, "does not match "+strconv.Quote(layout))
		}
		return civil.DateOf(ts), nil
	default:
		return civil.Date{}, n.invalid(pos, field, v, fmt.Sprintf("unsupported type %T", v))
	}
}

func (n DateNormalizer) invalid(pos int, field string, raw any, reason string) *DateIssue {
	logging.OrNop(n.Logger).Errorw("invalid date",
		"row", pos,
		"field", field,
		"value", raw,
		"reason", reason,
	)
	return &DateIssue{Pos: pos, Field: field, Raw: raw, Kind: DateInvalid, Reason: reason}
}

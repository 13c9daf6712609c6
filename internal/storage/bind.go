package storage

import (
	"time"

	"github.com/golang-sql/civil"
)

// BindValue converts domain values into driver-friendly bind arguments.
// civil.Date becomes a midnight-UTC time.Time; everything else passes through.
func BindValue(v any) any {
	switch t := v.(type) {
	case civil.Date:
		return t.In(time.UTC)
	case *civil.Date:
		if t == nil {
			return nil
		}
		return t.In(time.UTC)
	default:
		return v
	}
}

// BindValues applies BindValue to every element, returning a new slice.
func BindValues(values []any) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = BindValue(v)
	}
	return out
}

package storage

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-sql/civil"
)

// NormalizeKey converts a natural-key value to a canonical string form,
// suitable for in-memory cache keys (e.g. "Italian" or "72-055-7985").
//
// Backends must not assume a particular underlying type for keys; this helper
// keeps lookup caches consistent across backends. nil maps to "".
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case civil.Date:
		return t.String()
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

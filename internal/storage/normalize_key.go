package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// NormalizeKey converts a key value scanned from any backend to its canonical
// string form ("WR-1001", "8429529").
//
// Drivers disagree on the Go type of a TEXT or numeric key (string, []byte,
// int64, float64); callers that compare or map keys must go through this
// helper so every backend produces the same strings.
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
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

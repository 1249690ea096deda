package storage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// NormalizeKey converts a primary-key value to a canonical string so keys
// decoded as different Go types compare equal (int64(7), 7.0, "7",
// json.Number("7") all map to "7").
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return t.String()
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// DuplicateKeys returns the normalized keys that occur more than once in
// column keyIdx of rows, in first-seen order.
func DuplicateKeys(rows [][]any, keyIdx int) []string {
	counts := make(map[string]int, len(rows))
	var order []string
	for _, row := range rows {
		if keyIdx < 0 || keyIdx >= len(row) {
			continue
		}
		k := NormalizeKey(row[keyIdx])
		counts[k]++
		if counts[k] == 2 {
			order = append(order, k)
		}
	}
	return order
}

package loader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"elt/internal/feed"
)

// ShapeRows converts records into tuples ordered by columns.
func ShapeRows(columns []string, records []feed.Record) ([][]any, error) {
	fields := make([]string, len(columns))
	for i, c := range columns {
		fields[i] = feed.SourceField(c)
	}

	rows := make([][]any, 0, len(records))
	for i, rec := range records {
		row := make([]any, len(columns))
		for j, f := range fields {
			v, err := columnValue(rec[f])
			if err != nil {
				return nil, fmt.Errorf("record %d column %s: %w", i, columns[j], err)
			}
			row[j] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// columnValue passes scalars through and encodes maps and slices as JSON
// text. []byte is a scalar.
func columnValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if _, ok := v.([]byte); ok {
		return v, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return nil, nil
		}
	case reflect.Array:
	default:
		return v, nil
	}
	return encodeJSON(v)
}

// encodeJSON returns compact JSON with object keys sorted and no HTML
// escaping, so equal values always produce equal text.
func encodeJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

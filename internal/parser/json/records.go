package json

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"elt/internal/feed"
)

// ErrNotObject is returned when a record position holds a non-object value.
var ErrNotObject = errors.New("json: record is not an object")

// DecodeRecords reads a feed payload from r.
//
// Accepted shapes:
//   - A root array of objects; null elements are skipped.
//   - A root object whose first array-valued field holds the records
//     (envelope pattern); the remaining fields are skipped.
//   - A root object with no array field, decoded as a single record.
//
// Numbers are decoded with UseNumber and normalized: integral values become
// int64, everything else float64. Nested objects and arrays are kept as
// map[string]any and []any.
//
// An empty body yields no records and no error.
func DecodeRecords(r io.Reader) ([]feed.Record, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("json: read first token: %w", err)
	}

	var out []feed.Record
	switch d := tok.(type) {
	case json.Delim:
		switch d {
		case '[':
			if out, err = decodeArray(dec); err != nil {
				return nil, err
			}
			if err := expectDelim(dec, ']'); err != nil {
				return nil, err
			}
		case '{':
			if out, err = decodeEnvelopeOrSingle(dec); err != nil {
				return nil, err
			}
			if err := expectDelim(dec, '}'); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("json: unsupported root delimiter %q", d)
		}
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("json: unsupported root token %T (want object or array)", tok)
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("json: unexpected data after root value")
	}
	return out, nil
}

// decodeArray decodes the elements of the current array ('[' consumed).
func decodeArray(dec *json.Decoder) ([]feed.Record, error) {
	var out []feed.Record
	for i := 0; dec.More(); i++ {
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("json: decode element %d: %w", i, err)
		}
		if raw == nil {
			continue
		}
		obj, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: element %d is %T", ErrNotObject, i, raw)
		}
		out = append(out, feed.Record(normalizeMap(obj)))
	}
	return out, nil
}

// decodeEnvelopeOrSingle walks a root object ('{' consumed).
func decodeEnvelopeOrSingle(dec *json.Decoder) ([]feed.Record, error) {
	single := make(map[string]any)

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("json: read object key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("json: object key not a string (got %T)", keyTok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("json: decode field %q: %w", key, err)
		}

		if len(raw) > 0 && raw[0] == '[' {
			inner := json.NewDecoder(bytes.NewReader(raw))
			inner.UseNumber()
			if _, err := inner.Token(); err != nil {
				return nil, fmt.Errorf("json: envelope %q: %w", key, err)
			}
			recs, err := decodeArray(inner)
			if err != nil {
				return nil, fmt.Errorf("json: envelope %q: %w", key, err)
			}
			// Skip the rest of the envelope.
			for dec.More() {
				var skip json.RawMessage
				if _, err := dec.Token(); err != nil {
					return nil, fmt.Errorf("json: skip envelope key: %w", err)
				}
				if err := dec.Decode(&skip); err != nil {
					return nil, fmt.Errorf("json: skip envelope value: %w", err)
				}
			}
			return recs, nil
		}

		var v any
		if err := unmarshalNumber(raw, &v); err != nil {
			return nil, fmt.Errorf("json: decode field %q: %w", key, err)
		}
		single[key] = normalize(v)
	}

	return []feed.Record{feed.Record(single)}, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	end, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: read %q: %w", want, err)
	}
	if end != want {
		return fmt.Errorf("json: expected %q, got %v", want, end)
	}
	return nil
}

func unmarshalNumber(raw []byte, v *any) error {
	d := json.NewDecoder(bytes.NewReader(raw))
	d.UseNumber()
	return d.Decode(v)
}

// normalize converts json.Number leaves to int64 or float64.
func normalize(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any:
		return normalizeMap(x)
	case []any:
		for i := range x {
			x[i] = normalize(x[i])
		}
		return x
	default:
		return v
	}
}

func normalizeMap(m map[string]any) map[string]any {
	for k, v := range m {
		m[k] = normalize(v)
	}
	return m
}

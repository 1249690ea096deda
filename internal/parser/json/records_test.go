package json

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"elt/internal/feed"
)

func TestDecodeRecords_Shapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  []feed.Record
	}{
		{
			name:  "root array",
			input: `[{"id":1,"title":"a"},{"id":2,"title":"b"}]`,
			want: []feed.Record{
				{"id": int64(1), "title": "a"},
				{"id": int64(2), "title": "b"},
			},
		},
		{
			name:  "null elements skipped",
			input: `[null,{"id":1},null]`,
			want:  []feed.Record{{"id": int64(1)}},
		},
		{
			name:  "empty array",
			input: `[]`,
			want:  nil,
		},
		{
			name:  "envelope uses first array field",
			input: `{"total":2,"products":[{"id":7}],"other":[{"id":8}],"meta":{"x":1}}`,
			want:  []feed.Record{{"id": int64(7)}},
		},
		{
			name:  "single object",
			input: `{"id":3,"name":{"firstname":"j"}}`,
			want:  []feed.Record{{"id": int64(3), "name": map[string]any{"firstname": "j"}}},
		},
		{
			name:  "empty body",
			input: ``,
			want:  nil,
		},
		{
			name:  "null root",
			input: `null`,
			want:  nil,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := DecodeRecords(strings.NewReader(tc.input))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeRecords_NumberNormalization(t *testing.T) {
	t.Parallel()

	got, err := DecodeRecords(strings.NewReader(
		`[{"id":1,"price":109.95,"rating":{"rate":3.9,"count":120},"products":[{"productId":1,"quantity":4}]}]`,
	))
	require.NoError(t, err)
	require.Len(t, got, 1)

	r := got[0]
	assert.Equal(t, int64(1), r["id"])
	assert.Equal(t, 109.95, r["price"])
	assert.Equal(t, map[string]any{"rate": 3.9, "count": int64(120)}, r["rating"])
	assert.Equal(t, []any{map[string]any{"productId": int64(1), "quantity": int64(4)}}, r["products"])
}

func TestDecodeRecords_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		input     string
		notObject bool
	}{
		{name: "scalar root", input: `42`},
		{name: "string root", input: `"x"`},
		{name: "non-object element", input: `[{"id":1}, 2]`, notObject: true},
		{name: "non-object in envelope", input: `{"items":["a"]}`, notObject: true},
		{name: "truncated", input: `[{"id":1}`},
		{name: "malformed", input: `{"id":}`},
		{name: "trailing data", input: `[] []`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := DecodeRecords(strings.NewReader(tc.input))
			require.Error(t, err)
			assert.Nil(t, got)
			assert.Equal(t, tc.notObject, errors.Is(err, ErrNotObject))
		})
	}
}

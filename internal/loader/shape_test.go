package loader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"elt/internal/feed"
)

func TestColumnValue(t *testing.T) {
	t.Parallel()

	var nilMap map[string]any
	var nilSlice []any

	tests := []struct {
		name string
		in   any
		want any
	}{
		{name: "nil", in: nil, want: nil},
		{name: "string", in: "a<b>&c", want: "a<b>&c"},
		{name: "int64", in: int64(7), want: int64(7)},
		{name: "float", in: 109.95, want: 109.95},
		{name: "bool", in: true, want: true},
		{name: "bytes stay scalar", in: []byte("raw"), want: []byte("raw")},
		{name: "nil map", in: nilMap, want: nil},
		{name: "nil slice", in: nilSlice, want: nil},
		{name: "empty map", in: map[string]any{}, want: `{}`},
		{name: "empty slice", in: []any{}, want: `[]`},
		{
			name: "map keys sorted",
			in:   map[string]any{"lastname": "doe", "firstname": "john"},
			want: `{"firstname":"john","lastname":"doe"}`,
		},
		{
			name: "nested",
			in: map[string]any{
				"geolocation": map[string]any{"lat": "-37.3159", "long": "81.1496"},
				"number":      int64(7682),
			},
			want: `{"geolocation":{"lat":"-37.3159","long":"81.1496"},"number":7682}`,
		},
		{name: "no html escaping", in: []any{"<a&b>"}, want: `["<a&b>"]`},
		{name: "typed slice", in: []int{1, 2}, want: `[1,2]`},
		{name: "array", in: [2]string{"x", "y"}, want: `["x","y"]`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := columnValue(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestShapeRows_AliasAndOrder(t *testing.T) {
	t.Parallel()

	rows, err := ShapeRows(
		[]string{"id", "user_id", "date"},
		[]feed.Record{
			{"date": "d1", "userId": int64(3), "id": int64(1), "extra": "ignored"},
			{"id": int64(2), "user_id": int64(9)},
		},
	)
	require.NoError(t, err)
	assert.Equal(t, [][]any{
		{int64(1), int64(3), "d1"},
		// Only the source spelling is read for aliased columns.
		{int64(2), nil, nil},
	}, rows)
}

func TestShapeRows_Empty(t *testing.T) {
	t.Parallel()

	rows, err := ShapeRows([]string{"id"}, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

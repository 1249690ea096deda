// Package feed holds the static catalog of source collections the pipeline
// extracts, and the loosely-typed record shape they decode into.
package feed

import (
	"fmt"
	"strings"
)

// Record is one JSON object returned by a source collection.
//
// Values are nil, string, bool, int64, float64, map[string]any or []any.
type Record map[string]any

// Feed describes one source collection and the bronze table it lands in.
type Feed struct {
	// Name is both the feed identifier and the destination table name.
	Name string
	// Path is appended to the API base URL to build the endpoint.
	Path string
	// PrimaryKey is the conflict column for upserts.
	PrimaryKey string
	// Columns lists the destination columns in insert order.
	Columns []string
}

// Endpoint joins the API base URL and the feed path.
func (f Feed) Endpoint(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(f.Path, "/")
}

var catalog = []Feed{
	{
		Name:       "users",
		Path:       "users",
		PrimaryKey: "id",
		Columns:    []string{"id", "email", "username", "password", "name", "address", "phone"},
	},
	{
		Name:       "products",
		Path:       "products",
		PrimaryKey: "id",
		Columns:    []string{"id", "title", "price", "description", "category", "image"},
	},
	{
		Name:       "carts",
		Path:       "carts",
		PrimaryKey: "id",
		Columns:    []string{"id", "user_id", "date", "products"},
	},
}

// All returns the catalog in load order. The returned slice is a copy.
func All() []Feed {
	out := make([]Feed, len(catalog))
	for i, f := range catalog {
		f.Columns = append([]string(nil), f.Columns...)
		out[i] = f
	}
	return out
}

// Names returns the feed names in load order.
func Names() []string {
	out := make([]string, len(catalog))
	for i, f := range catalog {
		out[i] = f.Name
	}
	return out
}

// Select resolves feed names against the catalog. An empty list selects every
// feed. Unknown names are an error; duplicates are dropped.
func Select(names ...string) ([]Feed, error) {
	if len(names) == 0 {
		return All(), nil
	}

	byName := make(map[string]Feed, len(catalog))
	for _, f := range All() {
		byName[f.Name] = f
	}

	seen := make(map[string]bool, len(names))
	out := make([]Feed, 0, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		f, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("feed: unknown feed %q (known: %s)", n, strings.Join(Names(), ", "))
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, f)
	}
	return out, nil
}

// sourceFields maps a storage column to the field name the API uses for it.
// Columns not listed here use the same name on both sides.
var sourceFields = map[string]string{
	"user_id": "userId",
}

// SourceField returns the record field that feeds the given storage column.
func SourceField(column string) string {
	if f, ok := sourceFields[column]; ok {
		return f
	}
	return column
}

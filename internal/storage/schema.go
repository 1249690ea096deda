package storage

import "strings"

// LoadedAtColumn is the load-timestamp column every bronze table carries.
const LoadedAtColumn = "_loaded_at"

// DefaultNamespace is the schema bronze tables are created in.
const DefaultNamespace = "bronze"

// ColumnType is a logical column type; each backend maps it to its dialect.
//
// TypeVarchar uses Size as the max length, TypeDecimal uses Size as precision
// and Scale as scale, and TypeJSON holds JSON-encoded nested values.
type ColumnType string

const (
	TypeInteger     ColumnType = "integer"
	TypeVarchar     ColumnType = "varchar"
	TypeText        ColumnType = "text"
	TypeJSON        ColumnType = "json"
	TypeDecimal     ColumnType = "decimal"
	TypeTimestamp   ColumnType = "timestamp"
	TypeTimestampTZ ColumnType = "timestamptz"
)

// TableSpec describes one destination table.
type TableSpec struct {
	Name       string
	PrimaryKey string
	Columns    []ColumnSpec
}

// ColumnSpec describes one column.
type ColumnSpec struct {
	Name    string
	Type    ColumnType
	Size    int
	Scale   int
	NotNull bool

	// DefaultNow makes the column default to the current time on insert.
	DefaultNow bool
}

// ColumnNames returns the column names in declaration order.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// BronzeTables returns the fixed raw-layer tables.
func BronzeTables() []TableSpec {
	loadedAt := ColumnSpec{Name: LoadedAtColumn, Type: TypeTimestampTZ, NotNull: true, DefaultNow: true}
	return []TableSpec{
		{
			Name:       "users",
			PrimaryKey: "id",
			Columns: []ColumnSpec{
				{Name: "id", Type: TypeInteger, NotNull: true},
				{Name: "email", Type: TypeVarchar, Size: 255},
				{Name: "username", Type: TypeVarchar, Size: 255},
				{Name: "password", Type: TypeVarchar, Size: 255},
				{Name: "name", Type: TypeJSON},
				{Name: "address", Type: TypeJSON},
				{Name: "phone", Type: TypeVarchar, Size: 255},
				loadedAt,
			},
		},
		{
			Name:       "products",
			PrimaryKey: "id",
			Columns: []ColumnSpec{
				{Name: "id", Type: TypeInteger, NotNull: true},
				{Name: "title", Type: TypeVarchar, Size: 255},
				{Name: "price", Type: TypeDecimal, Size: 10, Scale: 2},
				{Name: "category", Type: TypeVarchar, Size: 255},
				{Name: "description", Type: TypeText},
				{Name: "image", Type: TypeVarchar, Size: 255},
				loadedAt,
			},
		},
		{
			Name:       "carts",
			PrimaryKey: "id",
			Columns: []ColumnSpec{
				{Name: "id", Type: TypeInteger, NotNull: true},
				{Name: "user_id", Type: TypeInteger},
				{Name: "date", Type: TypeTimestamp},
				{Name: "products", Type: TypeJSON},
				loadedAt,
			},
		},
	}
}

// SplitQualifiedName splits "schema.table" into its parts.
//
// Examples:
//   - "bronze.users" => ("bronze", "users")
//   - "users"        => ("", "users")
//
// Only a single dot is understood; anything else is treated as unqualified.
func SplitQualifiedName(name string) (schema string, table string) {
	name = strings.TrimSpace(name)
	parts := strings.Split(name, ".")
	if len(parts) != 2 {
		return "", name
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

package dblib

import (
	"strings"
)

type DatabaseType int

const (
	SQLite DatabaseType = iota
	PostgreSQL
	MySQL
	// Generic covers any other database/sql driver. Schema comes from
	// result-set metadata only.
	Generic
)

func (t DatabaseType) String() string {
	switch t {
	case SQLite:
		return "sqlite"
	case PostgreSQL:
		return "postgres"
	case MySQL:
		return "mysql"
	default:
		return "generic"
	}
}

type databaseFeature struct {
	quote                 byte
	positionalPlaceholder bool
	lastInsertID          bool
	textCastForLike       bool
}

var databaseFeatures = map[DatabaseType]databaseFeature{
	SQLite: {
		quote:                 '"',
		positionalPlaceholder: false,
		lastInsertID:          true,
	},
	PostgreSQL: {
		quote:                 '"',
		positionalPlaceholder: true,
		lastInsertID:          false,
		textCastForLike:       true,
	},
	MySQL: {
		quote:                 '`',
		positionalPlaceholder: false,
		lastInsertID:          true,
	},
	Generic: {
		quote:                 '`',
		positionalPlaceholder: false,
		lastInsertID:          true,
	},
}

func featuresOf(t DatabaseType) databaseFeature {
	if f, ok := databaseFeatures[t]; ok {
		return f
	}
	return databaseFeatures[Generic]
}

// DetectDatabaseType maps a database/sql driver name to a DatabaseType.
// Wrapped or instrumented driver names are matched by prefix.
func DetectDatabaseType(driverName string) DatabaseType {
	name := strings.ToLower(strings.TrimSpace(driverName))
	switch {
	case strings.HasPrefix(name, "mysql"), strings.HasPrefix(name, "mariadb"):
		return MySQL
	case strings.HasPrefix(name, "postgres"), strings.HasPrefix(name, "pgx"), name == "pq":
		return PostgreSQL
	case strings.HasPrefix(name, "sqlite"):
		return SQLite
	default:
		return Generic
	}
}

// FieldKind is the abstract classification of a column used by editors.
type FieldKind string

const (
	KindNone     FieldKind = ""
	KindText     FieldKind = "text"
	KindTextarea FieldKind = "textarea"
	KindNumber   FieldKind = "number"
	KindBoolean  FieldKind = "boolean"
	KindDate     FieldKind = "date"
	KindDatetime FieldKind = "datetime"
	KindTime     FieldKind = "time"
	KindJSON     FieldKind = "json"
	KindSelect   FieldKind = "select"
	KindHidden   FieldKind = "hidden"
)

// ColumnSchema describes one column of a base table.
type ColumnSchema struct {
	Name           string
	RawType        string
	NormalizedType string
	Nullable       bool
}

// TableSchema is the ordered column set of a table. A zero-length schema means
// the metadata could not be loaded.
type TableSchema struct {
	Table   string
	Columns []ColumnSchema
	index   map[string]int
}

func newTableSchema(table string, columns []ColumnSchema) *TableSchema {
	ts := &TableSchema{
		Table:   table,
		Columns: columns,
		index:   make(map[string]int, len(columns)),
	}
	for i, c := range columns {
		ts.index[c.Name] = i
	}
	return ts
}

// Column returns the named column.
func (ts *TableSchema) Column(name string) (ColumnSchema, bool) {
	if ts == nil {
		return ColumnSchema{}, false
	}
	idx, ok := ts.index[name]
	if !ok {
		return ColumnSchema{}, false
	}
	return ts.Columns[idx], true
}

func (ts *TableSchema) Has(name string) bool {
	_, ok := ts.Column(name)
	return ok
}

// Names returns the column names in table order.
func (ts *TableSchema) Names() []string {
	if ts == nil {
		return nil
	}
	names := make([]string, len(ts.Columns))
	for i, c := range ts.Columns {
		names[i] = c.Name
	}
	return names
}

func (ts *TableSchema) Empty() bool {
	return ts == nil || len(ts.Columns) == 0
}

// Row is one result row keyed by column name.
type Row map[string]any

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

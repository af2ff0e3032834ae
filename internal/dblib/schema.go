package dblib

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Introspector loads and caches table metadata for one connection. Results
// live for the lifetime of the Introspector; create a new one to invalidate.
// It is not safe for concurrent use.
type Introspector struct {
	conn    *Conn
	logger  *slog.Logger
	schemas map[string]*TableSchema
	keys    map[string][]string
	uniques map[string][]string
}

// NewIntrospector returns an Introspector reading through conn. A nil logger
// discards warnings.
func NewIntrospector(conn *Conn, logger *slog.Logger) *Introspector {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Introspector{
		conn:    conn,
		logger:  logger,
		schemas: make(map[string]*TableSchema),
		keys:    make(map[string][]string),
		uniques: make(map[string][]string),
	}
}

// Conn returns the connection the introspector reads through.
func (in *Introspector) Conn() *Conn { return in.conn }

// GetSchema returns the ordered columns of table. Catalog failures fall back
// to result-set metadata; if that fails too the result is an empty schema,
// never an error. Only successful loads are cached.
func (in *Introspector) GetSchema(ctx context.Context, table string) *TableSchema {
	if ts, ok := in.schemas[table]; ok {
		return ts
	}
	if !validTableRef(table) {
		in.logger.Warn("schema lookup skipped: invalid table name", "table", table)
		return newTableSchema(table, nil)
	}

	columns, err := in.conn.Handler().LoadColumns(ctx, in.conn, table)
	if err != nil {
		in.logger.Warn("schema query failed, falling back to result-set metadata",
			"table", table, "dialect", in.conn.Type().String(), "error", err)
		columns, err = (&GenericHandler{}).LoadColumns(ctx, in.conn, table)
	}
	if err != nil {
		in.logger.Warn("schema unavailable", "table", table, "error", err)
		return newTableSchema(table, nil)
	}

	ts := newTableSchema(table, columns)
	in.schemas[table] = ts
	return ts
}

// Columns lists the column names of table, or nil when unknown.
func (in *Introspector) Columns(ctx context.Context, table string) []string {
	return in.GetSchema(ctx, table).Names()
}

// DescribeQuery reports the output columns of a custom base query by running
// it wrapped in a LIMIT 0 subquery. Columns that map straight onto a base
// table column take that column's catalog type, since drivers often report
// only a generic type name for result sets.
func (in *Introspector) DescribeQuery(ctx context.Context, query string) *TableSchema {
	key := "query:" + query
	if ts, ok := in.schemas[key]; ok {
		return ts
	}
	wrapped := fmt.Sprintf("SELECT * FROM (%s) AS main LIMIT 0", query)
	columns, err := in.conn.Describe(ctx, "describe query", wrapped)
	if err != nil {
		in.logger.Warn("custom query metadata unavailable", "error", err)
		return newTableSchema("", nil)
	}
	if analysis, err := AnalyzeQuery(query); err == nil {
		in.applyLineage(ctx, columns, analysis)
	} else {
		in.logger.Debug("custom query lineage unavailable", "error", err)
	}
	ts := newTableSchema("", columns)
	in.schemas[key] = ts
	return ts
}

// applyLineage copies catalog types onto result-set columns. Named fields use
// their resolved source column; with a wildcard over a single table, the
// remaining columns are matched by name.
func (in *Introspector) applyLineage(ctx context.Context, columns []ColumnSchema, analysis *QueryAnalysis) {
	sources := make(map[string]ColumnLineage, len(analysis.Columns))
	for _, l := range analysis.Columns {
		if l.Name != "" {
			sources[strings.ToLower(l.Name)] = l
		}
	}
	for i, col := range columns {
		l, named := sources[strings.ToLower(col.Name)]
		switch {
		case named && l.IsDerived:
			continue
		case !named && analysis.HasWildcard && len(analysis.BaseTables) == 1:
			l = ColumnLineage{SourceTable: analysis.BaseTables[0], SourceColumn: col.Name}
		case !named:
			continue
		}
		src, ok := in.GetSchema(ctx, l.SourceTable).Column(l.SourceColumn)
		if !ok {
			continue
		}
		columns[i].RawType = src.RawType
		columns[i].NormalizedType = src.NormalizedType
	}
}

// PrimaryKey returns the single-column primary key of table. Composite or
// missing keys report false.
func (in *Introspector) PrimaryKey(ctx context.Context, table string) (string, bool) {
	cols, ok := in.keys[table]
	if !ok {
		var err error
		cols, err = in.conn.Handler().PrimaryKey(ctx, in.conn, table)
		if err != nil {
			in.logger.Warn("primary key lookup failed", "table", table, "error", err)
			return "", false
		}
		in.keys[table] = cols
	}
	if len(cols) != 1 {
		return "", false
	}
	return cols[0], true
}

// UniqueColumns returns the columns of table that carry a single-column
// unique index.
func (in *Introspector) UniqueColumns(ctx context.Context, table string) ([]string, error) {
	if cols, ok := in.uniques[table]; ok {
		return cols, nil
	}
	cols, err := in.conn.Handler().UniqueColumns(ctx, in.conn, table)
	if err != nil {
		return nil, fmt.Errorf("unique index lookup for %s: %w", table, err)
	}
	in.uniques[table] = cols
	return cols, nil
}

// validTableRef accepts "table" or "schema.table".
func validTableRef(table string) bool {
	for _, part := range strings.Split(table, ".") {
		if !IsValidIdentifier(part) {
			return false
		}
	}
	return table != ""
}

package dblib

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// SQLiteHandler implements DatabaseHandler for SQLite databases.
type SQLiteHandler struct{}

// pragmaSQLite builds a PRAGMA call on a possibly schema-qualified table:
// "aux.users" becomes aux.table_info(users).
func pragmaSQLite(pragma, tableName string) string {
	schema, table, ok := strings.Cut(tableName, ".")
	if !ok {
		return pragmaInSchemaSQLite("", pragma, tableName)
	}
	return pragmaInSchemaSQLite(schema, pragma, table)
}

func pragmaInSchemaSQLite(schema, pragma, arg string) string {
	if schema == "" {
		return fmt.Sprintf("PRAGMA %s(%s)", pragma, QuoteIdent(SQLite, arg))
	}
	return fmt.Sprintf("PRAGMA %s.%s(%s)", QuoteIdent(SQLite, schema), pragma, QuoteIdent(SQLite, arg))
}

// loadColumnsSQLite loads columns for a SQLite table.
func loadColumnsSQLite(ctx context.Context, q Queryer, tableName string) ([]ColumnSchema, error) {
	query := pragmaSQLite("table_info", tableName)
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []ColumnSchema
	for rows.Next() {
		var col ColumnSchema
		var cid, notNull, pk int
		var dfltValue sql.NullString

		if err := rows.Scan(&cid, &col.Name, &col.RawType, &notNull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		col.Nullable = notNull != 1
		col.NormalizedType = NormalizeType(col.RawType)
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s not found", tableName)
	}
	return columns, nil
}

// primaryKeySQLite reads PK columns from PRAGMA table_info, ordered by the pk
// ordinal.
func primaryKeySQLite(ctx context.Context, q Queryer, tableName string) ([]string, error) {
	type pkEntry struct {
		ord  int
		name string
	}
	var pkEntries []pkEntry

	query := pragmaSQLite("table_info", tableName)
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query table_info: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cid, notNull, pk int
		var name, dtype string
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &dtype, &notNull, &dflt, &pk); err != nil {
			continue
		}
		if pk > 0 {
			pkEntries = append(pkEntries, pkEntry{ord: pk, name: name})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(pkEntries, func(i, j int) bool { return pkEntries[i].ord < pkEntries[j].ord })
	cols := make([]string, 0, len(pkEntries))
	for _, e := range pkEntries {
		cols = append(cols, e.name)
	}
	return cols, nil
}

// uniqueColumnsSQLite walks PRAGMA index_list and keeps unique, non-PK
// indexes that cover exactly one column.
func uniqueColumnsSQLite(ctx context.Context, q Queryer, tableName string) ([]string, error) {
	query := pragmaSQLite("index_list", tableName)
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query index_list: %w", err)
	}

	var indexNames []string
	for rows.Next() {
		var seq, unique, partial int
		var name, origin string
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			continue
		}
		// Skip non-unique and primary key indexes
		if unique != 1 || origin == "pk" {
			continue
		}
		indexNames = append(indexNames, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var cols []string
	seen := map[string]bool{}
	var schema string
	if before, _, ok := strings.Cut(tableName, "."); ok {
		schema = before
	}
	for _, name := range indexNames {
		ii, err := q.QueryContext(ctx, pragmaInSchemaSQLite(schema, "index_info", name))
		if err != nil {
			continue
		}
		var idxCols []string
		for ii.Next() {
			var seqno, cid int
			var cname sql.NullString
			if err := ii.Scan(&seqno, &cid, &cname); err == nil && cname.Valid {
				idxCols = append(idxCols, cname.String)
			}
		}
		ii.Close()
		if len(idxCols) == 1 && !seen[idxCols[0]] {
			seen[idxCols[0]] = true
			cols = append(cols, idxCols[0])
		}
	}
	return cols, nil
}

// LoadColumns implements DatabaseHandler.LoadColumns for SQLite.
func (h *SQLiteHandler) LoadColumns(ctx context.Context, q Queryer, table string) ([]ColumnSchema, error) {
	return loadColumnsSQLite(ctx, q, table)
}

// PrimaryKey implements DatabaseHandler.PrimaryKey for SQLite.
func (h *SQLiteHandler) PrimaryKey(ctx context.Context, q Queryer, table string) ([]string, error) {
	return primaryKeySQLite(ctx, q, table)
}

// UniqueColumns implements DatabaseHandler.UniqueColumns for SQLite.
func (h *SQLiteHandler) UniqueColumns(ctx context.Context, q Queryer, table string) ([]string, error) {
	return uniqueColumnsSQLite(ctx, q, table)
}

// QuoteIdent implements DatabaseHandler.QuoteIdent for SQLite.
func (h *SQLiteHandler) QuoteIdent(ident string) string {
	return QuoteIdent(SQLite, ident)
}

// Placeholder implements DatabaseHandler.Placeholder for SQLite.
func (h *SQLiteHandler) Placeholder(position int) string {
	return placeholder(SQLite, position)
}

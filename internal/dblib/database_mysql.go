package dblib

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// MySQLHandler implements DatabaseHandler for MySQL and MariaDB.
type MySQLHandler struct{}

// scanNamed reads every row of a SHOW statement into maps keyed by lowercased
// column name. SHOW output varies in width across server versions, so columns
// are never scanned by position.
func scanNamed(rows *sql.Rows) ([]map[string]string, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]string
	for rows.Next() {
		values := make([]sql.NullString, len(names))
		scanArgs := make([]any, len(names))
		for i := range values {
			scanArgs[i] = &values[i]
		}
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, err
		}
		rec := make(map[string]string, len(names))
		for i, n := range names {
			rec[strings.ToLower(n)] = values[i].String
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func showMySQL(ctx context.Context, q Queryer, query string) ([]map[string]string, error) {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNamed(rows)
}

// loadColumnsMySQL loads columns with SHOW FULL COLUMNS. The Type field keeps
// display widths like tinyint(1).
func loadColumnsMySQL(ctx context.Context, q Queryer, tableName string) ([]ColumnSchema, error) {
	recs, err := showMySQL(ctx, q, "SHOW FULL COLUMNS FROM "+QuoteQualified(MySQL, tableName))
	if err != nil {
		return nil, err
	}

	columns := make([]ColumnSchema, 0, len(recs))
	for _, rec := range recs {
		columns = append(columns, ColumnSchema{
			Name:           rec["field"],
			RawType:        rec["type"],
			NormalizedType: NormalizeType(rec["type"]),
			Nullable:       strings.EqualFold(rec["null"], "yes"),
		})
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s not found", tableName)
	}
	return columns, nil
}

// indexesMySQL groups SHOW INDEX output by key name, preserving first-seen
// order and column sequence.
func indexesMySQL(ctx context.Context, q Queryer, tableName string) ([]string, map[string][]string, map[string]bool, error) {
	recs, err := showMySQL(ctx, q, "SHOW INDEX FROM "+QuoteQualified(MySQL, tableName))
	if err != nil {
		return nil, nil, nil, err
	}
	var order []string
	idxCols := map[string][]string{}
	unique := map[string]bool{}
	for _, rec := range recs {
		name := rec["key_name"]
		if _, ok := idxCols[name]; !ok {
			order = append(order, name)
		}
		idxCols[name] = append(idxCols[name], rec["column_name"])
		unique[name] = rec["non_unique"] == "0"
	}
	return order, idxCols, unique, nil
}

func primaryKeyMySQL(ctx context.Context, q Queryer, tableName string) ([]string, error) {
	_, idxCols, _, err := indexesMySQL(ctx, q, tableName)
	if err != nil {
		return nil, err
	}
	if cols, ok := idxCols["PRIMARY"]; ok {
		return cols, nil
	}
	return []string{}, nil
}

// uniqueColumnsMySQL keeps unique, non-primary indexes over a single column.
func uniqueColumnsMySQL(ctx context.Context, q Queryer, tableName string) ([]string, error) {
	order, idxCols, unique, err := indexesMySQL(ctx, q, tableName)
	if err != nil {
		return nil, err
	}
	var cols []string
	seen := map[string]bool{}
	for _, name := range order {
		if name == "PRIMARY" || !unique[name] {
			continue
		}
		if c := idxCols[name]; len(c) == 1 && !seen[c[0]] {
			seen[c[0]] = true
			cols = append(cols, c[0])
		}
	}
	return cols, nil
}

// LoadColumns implements DatabaseHandler.LoadColumns for MySQL.
func (h *MySQLHandler) LoadColumns(ctx context.Context, q Queryer, table string) ([]ColumnSchema, error) {
	return loadColumnsMySQL(ctx, q, table)
}

// PrimaryKey implements DatabaseHandler.PrimaryKey for MySQL.
func (h *MySQLHandler) PrimaryKey(ctx context.Context, q Queryer, table string) ([]string, error) {
	return primaryKeyMySQL(ctx, q, table)
}

// UniqueColumns implements DatabaseHandler.UniqueColumns for MySQL.
func (h *MySQLHandler) UniqueColumns(ctx context.Context, q Queryer, table string) ([]string, error) {
	return uniqueColumnsMySQL(ctx, q, table)
}

// QuoteIdent implements DatabaseHandler.QuoteIdent for MySQL.
func (h *MySQLHandler) QuoteIdent(ident string) string {
	return QuoteIdent(MySQL, ident)
}

// Placeholder implements DatabaseHandler.Placeholder for MySQL.
func (h *MySQLHandler) Placeholder(position int) string {
	return placeholder(MySQL, position)
}

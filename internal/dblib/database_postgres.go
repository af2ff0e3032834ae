package dblib

import (
	"context"
	"fmt"
	"strings"
)

// PostgresHandler implements DatabaseHandler for PostgreSQL databases.
type PostgresHandler struct{}

// splitSchema extracts an explicit schema from "schema.table". An empty schema
// means the connection's current_schema().
func splitSchema(tableName string) (string, string) {
	if dot := strings.IndexByte(tableName, '.'); dot != -1 {
		return tableName[:dot], tableName[dot+1:]
	}
	return "", tableName
}

// loadColumnsPostgreSQL loads columns for a PostgreSQL table. User-defined
// types (enums, domains) report their udt_name instead of "USER-DEFINED".
func loadColumnsPostgreSQL(ctx context.Context, q Queryer, tableName string) ([]ColumnSchema, error) {
	schema, rel := splitSchema(tableName)

	query := `SELECT column_name,
	                 CASE WHEN data_type = 'USER-DEFINED' THEN udt_name ELSE data_type END,
	                 is_nullable
	          FROM information_schema.columns
	          WHERE table_schema = COALESCE(NULLIF($1, ''), current_schema()) AND table_name = $2
	          ORDER BY ordinal_position`
	rows, err := q.QueryContext(ctx, query, schema, rel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []ColumnSchema
	for rows.Next() {
		var col ColumnSchema
		var nullable string
		if err := rows.Scan(&col.Name, &col.RawType, &nullable); err != nil {
			return nil, err
		}
		col.Nullable = strings.ToLower(nullable) == "yes"
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

func primaryKeyPostgreSQL(ctx context.Context, q Queryer, tableName string) ([]string, error) {
	schema, rel := splitSchema(tableName)

	pkQuery := `SELECT a.attname
	            FROM pg_index i
	            JOIN pg_class c ON c.oid = i.indrelid
	            JOIN pg_namespace n ON n.oid = c.relnamespace
	            JOIN LATERAL unnest(i.indkey) WITH ORDINALITY AS k(attnum, ord) ON TRUE
	            JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = k.attnum
	            WHERE n.nspname = COALESCE(NULLIF($1, ''), current_schema()) AND c.relname = $2 AND i.indisprimary
	            ORDER BY k.ord`
	return queryStrings(ctx, q, pkQuery, schema, rel)
}

func uniqueColumnsPostgreSQL(ctx context.Context, q Queryer, tableName string) ([]string, error) {
	schema, rel := splitSchema(tableName)

	uQuery := `SELECT DISTINCT a.attname
	           FROM pg_index idx
	           JOIN pg_class c ON c.oid = idx.indrelid
	           JOIN pg_namespace n ON n.oid = c.relnamespace
	           JOIN pg_attribute a ON a.attrelid = idx.indrelid AND a.attnum = idx.indkey[0]
	           WHERE n.nspname = COALESCE(NULLIF($1, ''), current_schema()) AND c.relname = $2
	             AND idx.indisunique AND NOT idx.indisprimary AND idx.indnatts = 1`
	return queryStrings(ctx, q, uQuery, schema, rel)
}

// queryStrings collects the first column of every row as a string.
func queryStrings(ctx context.Context, q Queryer, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// LoadColumns implements DatabaseHandler.LoadColumns for PostgreSQL.
func (h *PostgresHandler) LoadColumns(ctx context.Context, q Queryer, table string) ([]ColumnSchema, error) {
	return loadColumnsPostgreSQL(ctx, q, table)
}

// PrimaryKey implements DatabaseHandler.PrimaryKey for PostgreSQL.
func (h *PostgresHandler) PrimaryKey(ctx context.Context, q Queryer, table string) ([]string, error) {
	return primaryKeyPostgreSQL(ctx, q, table)
}

// UniqueColumns implements DatabaseHandler.UniqueColumns for PostgreSQL.
func (h *PostgresHandler) UniqueColumns(ctx context.Context, q Queryer, table string) ([]string, error) {
	return uniqueColumnsPostgreSQL(ctx, q, table)
}

// QuoteIdent implements DatabaseHandler.QuoteIdent for PostgreSQL.
func (h *PostgresHandler) QuoteIdent(ident string) string {
	return QuoteIdent(PostgreSQL, ident)
}

// Placeholder implements DatabaseHandler.Placeholder for PostgreSQL.
func (h *PostgresHandler) Placeholder(position int) string {
	return placeholder(PostgreSQL, position)
}

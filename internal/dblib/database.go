package dblib

import (
	"context"
	"database/sql"
	"fmt"
)

// Queryer runs a raw query. Implemented by *sql.DB, *sql.Tx and *Conn.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// DB is the database handle a Conn drives. *sql.DB and *sql.Tx satisfy it.
type DB interface {
	Queryer
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// Conn executes compiled statements against one database handle. Every
// statement is prepared and executed separately so callers can tell a
// rejected statement from a failed execution.
//
// A Conn does not serialize access; share it across goroutines only if the
// underlying handle allows that.
type Conn struct {
	db      DB
	dbType  DatabaseType
	handler DatabaseHandler
}

// NewConn wraps db for the given dialect.
func NewConn(db DB, dbType DatabaseType) *Conn {
	return &Conn{
		db:      db,
		dbType:  dbType,
		handler: NewDatabaseHandler(dbType),
	}
}

// Type returns the active dialect.
func (c *Conn) Type() DatabaseType { return c.dbType }

// Handler returns the dialect handler.
func (c *Conn) Handler() DatabaseHandler { return c.handler }

// Quote quotes a single identifier for this dialect.
func (c *Conn) Quote(ident string) string { return QuoteIdent(c.dbType, ident) }

// QuoteQualified quotes a dotted reference for this dialect.
func (c *Conn) QuoteQualified(expr string) string { return QuoteQualified(c.dbType, expr) }

// SupportsLastInsertID reports whether the driver exposes last-insert ids.
func (c *Conn) SupportsLastInsertID() bool { return featuresOf(c.dbType).lastInsertID }

// TextCastForLike reports whether LIKE operands need a text cast.
func (c *Conn) TextCastForLike() bool { return featuresOf(c.dbType).textCastForLike }

// QueryContext implements Queryer by delegating to the wrapped handle.
func (c *Conn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, query, args...)
}

func (c *Conn) prepare(ctx context.Context, op string, stmt Statement) (*sql.Stmt, []any, error) {
	query, args := stmt.Bind(c.dbType)
	debugLog("%s: %s %v\n", op, query, args)
	prepared, err := c.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, nil, &QueryError{Op: op, Stage: StagePrepare, Dialect: c.dbType, SQL: query, Err: err}
	}
	return prepared, args, nil
}

// Query runs stmt and returns every row.
func (c *Conn) Query(ctx context.Context, op string, stmt Statement) ([]Row, error) {
	prepared, args, err := c.prepare(ctx, op, stmt)
	if err != nil {
		return nil, err
	}
	defer prepared.Close()

	rows, err := prepared.QueryContext(ctx, args...)
	if err != nil {
		return nil, c.execErr(op, stmt, err)
	}
	defer rows.Close()

	result, err := scanRows(rows)
	if err != nil {
		return nil, c.execErr(op, stmt, err)
	}
	return result, nil
}

// QueryRow runs stmt and returns its first row, or nil when there is none.
func (c *Conn) QueryRow(ctx context.Context, op string, stmt Statement) (Row, error) {
	rows, err := c.Query(ctx, op, stmt)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// Scalar runs stmt and returns the first column of the first row.
func (c *Conn) Scalar(ctx context.Context, op string, stmt Statement) (any, error) {
	prepared, args, err := c.prepare(ctx, op, stmt)
	if err != nil {
		return nil, err
	}
	defer prepared.Close()

	var v any
	if err := prepared.QueryRowContext(ctx, args...).Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, c.execErr(op, stmt, err)
	}
	return normalizeValue(v), nil
}

// Exec runs a statement that returns no rows.
func (c *Conn) Exec(ctx context.Context, op string, stmt Statement) (sql.Result, error) {
	prepared, args, err := c.prepare(ctx, op, stmt)
	if err != nil {
		return nil, err
	}
	defer prepared.Close()

	res, err := prepared.ExecContext(ctx, args...)
	if err != nil {
		return nil, c.execErr(op, stmt, err)
	}
	return res, nil
}

// Describe runs query (expected to return no rows, e.g. LIMIT 0) and reports
// the result-set column metadata.
func (c *Conn) Describe(ctx context.Context, op, query string) ([]ColumnSchema, error) {
	return describeQuery(ctx, c.db, query, func(err error) error {
		return &QueryError{Op: op, Stage: StageExecute, Dialect: c.dbType, SQL: query, Err: err}
	})
}

func (c *Conn) execErr(op string, stmt Statement, err error) error {
	query, _ := stmt.Bind(c.dbType)
	return &QueryError{Op: op, Stage: StageExecute, Dialect: c.dbType, SQL: query, Err: err}
}

func describeQuery(ctx context.Context, q Queryer, query string, wrap func(error) error) ([]ColumnSchema, error) {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, wrap(err)
	}
	columns := make([]ColumnSchema, 0, len(types))
	for _, ct := range types {
		nullable, _ := ct.Nullable()
		raw := ct.DatabaseTypeName()
		columns = append(columns, ColumnSchema{
			Name:           ct.Name(),
			RawType:        raw,
			NormalizedType: NormalizeType(raw),
			Nullable:       nullable,
		})
	}
	return columns, nil
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var result []Row
	for rows.Next() {
		values := make([]any, len(columns))
		scanArgs := make([]any, len(columns))
		for i := range values {
			scanArgs[i] = &values[i]
		}
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		row := make(Row, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// normalizeValue converts driver byte slices to strings so rows compare and
// serialize predictably.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

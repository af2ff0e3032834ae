package dblib

import (
	"context"
	"fmt"
)

// DatabaseHandler defines database-specific operations for a particular database type.
// Each backend (MySQL, PostgreSQL, SQLite, and a generic database/sql fallback)
// implements this interface to provide schema introspection, key discovery and
// identifier utilities.
//
// The interface keeps dialect-specific catalog queries out of the compiler and
// mutator, which only ever talk to a handler through the Introspector.
type DatabaseHandler interface {
	// LoadColumns loads ordered column metadata for a table.
	// Returns an error if the table doesn't exist or cannot be queried.
	LoadColumns(ctx context.Context, q Queryer, table string) ([]ColumnSchema, error)

	// PrimaryKey returns the primary key columns in key order, or an empty
	// slice when the table has none.
	PrimaryKey(ctx context.Context, q Queryer, table string) ([]string, error)

	// UniqueColumns returns columns covered by a single-column unique index
	// or constraint. Primary keys are not included.
	UniqueColumns(ctx context.Context, q Queryer, table string) ([]string, error)

	// QuoteIdent quotes an identifier for safe use in SQL.
	//   - MySQL: backticks `identifier`
	//   - PostgreSQL, SQLite: double quotes "identifier"
	QuoteIdent(ident string) string

	// Placeholder returns the parameter placeholder for position i (1-indexed).
	//   - PostgreSQL: $1, $2, $3, ...
	//   - MySQL, SQLite: ?, ?, ?, ...
	Placeholder(position int) string
}

// NewDatabaseHandler returns the DatabaseHandler for dbType. Unknown types get
// the generic handler, which relies on result-set metadata only.
func NewDatabaseHandler(dbType DatabaseType) DatabaseHandler {
	switch dbType {
	case MySQL:
		return &MySQLHandler{}
	case PostgreSQL:
		return &PostgresHandler{}
	case SQLite:
		return &SQLiteHandler{}
	default:
		return &GenericHandler{}
	}
}

func placeholder(dbType DatabaseType, position int) string {
	if featuresOf(dbType).positionalPlaceholder {
		return fmt.Sprintf("$%d", position)
	}
	return "?"
}

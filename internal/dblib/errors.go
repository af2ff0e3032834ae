package dblib

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Stage identifies where a statement failed.
type Stage string

const (
	StagePrepare Stage = "prepare"
	StageExecute Stage = "execute"
)

// QueryError wraps a driver failure with the operation that issued it.
type QueryError struct {
	Op      string
	Stage   Stage
	Dialect DatabaseType
	SQL     string
	Err     error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: %s failed (%s): %v", e.Op, e.Stage, e.Dialect, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// IsPrepareError reports whether err failed while preparing a statement.
func IsPrepareError(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe) && qe.Stage == StagePrepare
}

// IsExecuteError reports whether err failed while executing a statement.
func IsExecuteError(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe) && qe.Stage == StageExecute
}

const (
	pgUniqueViolation   = "23505"
	mysqlDuplicateEntry = 1062
)

// sqlStateError is implemented by pgx and a few other drivers.
type sqlStateError interface {
	SQLState() string
}

// IsUniqueViolation reports whether err resulted from a duplicate key on a
// unique index or primary key.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgUniqueViolation
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	var stateErr sqlStateError
	if errors.As(err, &stateErr) && stateErr.SQLState() == pgUniqueViolation {
		return true
	}

	// Fallback to string matching for drivers without typed errors
	msg := err.Error()
	for _, sub := range []string{
		"Error 1062",
		"Duplicate entry",
		"violates unique constraint",
		"UNIQUE constraint failed",
	} {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}

package grid

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNotFound is returned when a mutation targets a row that does not exist.
var ErrNotFound = errors.New("row not found")

// ErrNoFields is returned by Create when nothing insertable remains.
var ErrNoFields = errors.New("no insertable fields")

// ConfigError reports an invalid configuration entry. It is raised before any
// SQL is built.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config: " + e.Msg
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

// IsConfigError reports whether err carries a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// SchemaError reports a table or column that is missing from the live schema.
type SchemaError struct {
	Table  string
	Column string
	Msg    string
}

func (e *SchemaError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("schema: table %s: %s", e.Table, e.Msg)
	}
	return fmt.Sprintf("schema: %s.%s: %s", e.Table, e.Column, e.Msg)
}

// ValidationError collects every field that failed validation. Nothing is
// written when it is returned.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + ": " + e.Fields[name]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// AsValidationError unwraps err into a ValidationError.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}

package grid

import (
	"sqlgrid/internal/dblib"
)

// ColumnTransform rewrites a fetched cell for display. Hosts register
// transforms by name and configs refer to them by that name.
type ColumnTransform interface {
	Transform(value any, row dblib.Row) any
}

// TransformFunc adapts a function to ColumnTransform.
type TransformFunc func(value any, row dblib.Row) any

func (f TransformFunc) Transform(value any, row dblib.Row) any { return f(value, row) }

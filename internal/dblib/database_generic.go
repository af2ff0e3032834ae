package dblib

import (
	"context"
	"fmt"
)

// GenericHandler implements DatabaseHandler for drivers without a dedicated
// catalog handler. Columns come from the metadata of an empty result set;
// keys are unknown.
type GenericHandler struct{}

func (h *GenericHandler) LoadColumns(ctx context.Context, q Queryer, table string) ([]ColumnSchema, error) {
	query := fmt.Sprintf("SELECT * FROM %s LIMIT 0", QuoteQualified(Generic, table))
	columns, err := describeQuery(ctx, q, query, func(err error) error { return err })
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s not found", table)
	}
	return columns, nil
}

func (h *GenericHandler) PrimaryKey(ctx context.Context, q Queryer, table string) ([]string, error) {
	return []string{}, nil
}

func (h *GenericHandler) UniqueColumns(ctx context.Context, q Queryer, table string) ([]string, error) {
	return []string{}, nil
}

func (h *GenericHandler) QuoteIdent(ident string) string {
	return QuoteIdent(Generic, ident)
}

func (h *GenericHandler) Placeholder(position int) string {
	return placeholder(Generic, position)
}

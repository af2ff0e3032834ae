package dblib

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pingcap/tidb/parser"
	"github.com/pingcap/tidb/parser/ast"
	_ "github.com/pingcap/tidb/parser/test_driver"
)

// ErrNotSelect is returned when a base query is not a single SELECT.
var ErrNotSelect = errors.New("base query must be a single SELECT statement")

// QueryAnalysis contains the result of parsing a custom base query.
type QueryAnalysis struct {
	Columns     []ColumnLineage
	BaseTables  []string
	Aliases     map[string]string // alias -> actual table name in FROM clause
	HasGroupBy  bool
	HasDistinct bool
	HasWildcard bool
}

// ColumnLineage tracks where an output column comes from
type ColumnLineage struct {
	Name         string // output name (alias or column name), empty for unnamed expressions
	SourceTable  string // table from the FROM clause (empty if derived)
	SourceColumn string // base column name (empty if derived)
	IsDerived    bool   // true for aggregates, expressions
}

// AnalyzeQuery parses sqlStr and reports its tables and output columns.
// Only a single SELECT statement is accepted.
func AnalyzeQuery(sqlStr string) (*QueryAnalysis, error) {
	p := parser.New()

	stmtNodes, _, err := p.Parse(sqlStr, "", "")
	if err != nil {
		return nil, fmt.Errorf("failed to parse SQL: %w", err)
	}
	if len(stmtNodes) != 1 {
		return nil, ErrNotSelect
	}
	stmt, ok := stmtNodes[0].(*ast.SelectStmt)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrNotSelect, stmtNodes[0])
	}

	analysis := &QueryAnalysis{
		Columns:     []ColumnLineage{},
		BaseTables:  []string{},
		Aliases:     make(map[string]string),
		HasGroupBy:  stmt.GroupBy != nil,
		HasDistinct: stmt.Distinct,
	}
	if stmt.From != nil && stmt.From.TableRefs != nil {
		tables, aliases, err := extractTablesWithAliases(stmt.From.TableRefs)
		if err != nil {
			return nil, err
		}
		analysis.BaseTables = tables
		analysis.Aliases = aliases
	}

	if stmt.Fields != nil {
		for _, field := range stmt.Fields.Fields {
			if field.WildCard != nil {
				analysis.HasWildcard = true
				continue
			}
			analysis.Columns = append(analysis.Columns, analyzeSelectField(field, analysis))
		}
	}
	return analysis, nil
}

// ValidateBaseQuery checks that sqlStr is a single read-only SELECT. The
// parser speaks the MySQL grammar, so for other dialects a parse failure only
// falls back to rejecting statement separators.
func ValidateBaseQuery(dbType DatabaseType, sqlStr string) error {
	trimmed := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(sqlStr), ";"))
	if trimmed == "" {
		return ErrNotSelect
	}
	if hasStatementSeparator(trimmed) {
		return ErrNotSelect
	}
	_, err := AnalyzeQuery(trimmed)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotSelect) {
		return err
	}
	switch dbType {
	case MySQL, Generic:
		return err
	}
	if !strings.HasPrefix(strings.ToLower(trimmed), "select") && !strings.HasPrefix(strings.ToLower(trimmed), "with") {
		return ErrNotSelect
	}
	return nil
}

// hasStatementSeparator reports a ';' outside quoted runs.
func hasStatementSeparator(src string) bool {
	for i := 0; i < len(src); i++ {
		switch src[i] {
		case '\'', '"', '`':
			i = skipQuoted(src, i) - 1
		case ';':
			return true
		}
	}
	return false
}

// extractTablesWithAliases extracts table names and alias mappings from FROM clause
// Returns: (list of actual table names, alias->actualName map, error)
func extractTablesWithAliases(tableRefs ast.ResultSetNode) ([]string, map[string]string, error) {
	var tables []string
	aliases := make(map[string]string)

	switch ref := tableRefs.(type) {
	case *ast.TableSource:
		// Simple table reference with possible alias
		var actualTableName string
		switch src := ref.Source.(type) {
		case *ast.TableName:
			actualTableName = src.Name.String()
			if src.Schema.String() != "" {
				actualTableName = src.Schema.String() + "." + actualTableName
			}
			tables = append(tables, actualTableName)
		case *ast.Join:
			return extractTablesFromJoin(src)
		case *ast.SelectStmt:
			// Subquery - extract tables from it
			if src.From != nil && src.From.TableRefs != nil {
				return extractTablesWithAliases(src.From.TableRefs)
			}
		}
		// Check for alias (e.g., "products p" or "products AS p")
		if ref.AsName.String() != "" && actualTableName != "" {
			aliases[ref.AsName.String()] = actualTableName
		}
	case *ast.Join:
		return extractTablesFromJoin(ref)
	case *ast.TableName:
		tables = append(tables, ref.Name.String())
	case nil:
	default:
		return nil, nil, fmt.Errorf("unsupported table reference type: %T", ref)
	}

	return tables, aliases, nil
}

// extractTablesFromJoin extracts tables and aliases from both sides of a JOIN
func extractTablesFromJoin(join *ast.Join) ([]string, map[string]string, error) {
	tables, aliases, err := extractTablesWithAliases(join.Left)
	if err != nil {
		return nil, nil, err
	}
	if join.Right == nil {
		return tables, aliases, nil
	}
	rightTables, rightAliases, err := extractTablesWithAliases(join.Right)
	if err != nil {
		return nil, nil, err
	}
	tables = append(tables, rightTables...)
	for k, v := range rightAliases {
		aliases[k] = v
	}
	return tables, aliases, nil
}

// analyzeSelectField resolves one non-wildcard SELECT field.
func analyzeSelectField(field *ast.SelectField, analysis *QueryAnalysis) ColumnLineage {
	lineage := ColumnLineage{
		Name:      field.AsName.String(),
		IsDerived: true, // Assume derived unless proven otherwise
	}

	colNameExpr, ok := field.Expr.(*ast.ColumnNameExpr)
	if !ok {
		return lineage
	}
	tableRef := colNameExpr.Name.Table.String() // This might be an alias
	columnName := colNameExpr.Name.Name.String()
	if lineage.Name == "" {
		lineage.Name = columnName
	}

	var actualTableName string
	switch {
	case tableRef != "":
		if resolved, ok := analysis.Aliases[tableRef]; ok {
			actualTableName = resolved
		} else {
			actualTableName = tableRef
		}
	case len(analysis.BaseTables) == 1:
		actualTableName = analysis.BaseTables[0]
	}
	if actualTableName != "" {
		lineage.SourceTable = actualTableName
		lineage.SourceColumn = columnName
		lineage.IsDerived = false
	}
	return lineage
}

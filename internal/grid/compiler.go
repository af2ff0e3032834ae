package grid

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"sqlgrid/internal/dblib"
)

// Request carries the request-time parameters of a listing query.
type Request struct {
	// Limit <= 0 disables pagination.
	Limit        int
	Offset       int
	SearchTerm   string
	SearchColumn string
	// Sort replaces the configured order when it names at least one known
	// display column.
	Sort []OrderSpec
}

// SearchColumn is a searchable display column and its SQL expression.
type SearchColumn struct {
	Name string
	Expr string
}

// Compiler turns a Config plus request parameters into parameterized SQL.
// Schema lookups go through the Introspector and are cached there.
type Compiler struct {
	cfg *Config
	in  *dblib.Introspector
	pk  string
}

func NewCompiler(cfg *Config, in *dblib.Introspector) *Compiler {
	return &Compiler{cfg: cfg, in: in}
}

func (c *Compiler) dbType() dblib.DatabaseType { return c.in.Conn().Type() }

func (c *Compiler) quote(ident string) string {
	return dblib.QuoteIdent(c.dbType(), ident)
}

// PrimaryKey resolves the key column: the configured one, else the table's
// single-column primary key, else "id".
func (c *Compiler) PrimaryKey(ctx context.Context) string {
	if c.pk != "" {
		return c.pk
	}
	switch {
	case c.cfg.primaryKey != "":
		c.pk = c.cfg.primaryKey
	default:
		if pk, ok := c.in.PrimaryKey(ctx, c.cfg.table); ok {
			c.pk = pk
		} else {
			c.pk = "id"
		}
	}
	return c.pk
}

// BaseSchema returns the columns behind main: the table, or the custom base
// query when one is configured.
func (c *Compiler) BaseSchema(ctx context.Context) *dblib.TableSchema {
	if c.cfg.query != "" {
		return c.in.DescribeQuery(ctx, c.cfg.query)
	}
	return c.in.GetSchema(ctx, c.cfg.table)
}

// AvailableColumns lists every display column in SELECT order: base columns,
// subselect aliases, then alias__column for each joined table.
func (c *Compiler) AvailableColumns(ctx context.Context) []string {
	cols := c.BaseSchema(ctx).Names()
	for _, s := range c.cfg.subselects {
		cols = append(cols, s.Alias)
	}
	for _, j := range c.cfg.joins {
		for _, name := range c.in.Columns(ctx, j.TargetTable) {
			cols = append(cols, j.Alias+aliasSep+name)
		}
	}
	return cols
}

// ColumnNames returns the visibility-resolved display columns.
func (c *Compiler) ColumnNames(ctx context.Context) []string {
	return ResolveVisibleColumns(c.AvailableColumns(ctx), c.cfg.columns, c.cfg.reverse)
}

// columnType returns the raw type of a display column, if known.
func (c *Compiler) columnType(ctx context.Context, name string) (string, bool) {
	alias, col := QualifyColumn(name)
	var ts *dblib.TableSchema
	if j, ok := c.cfg.joinByAlias(alias); ok {
		ts = c.in.GetSchema(ctx, j.TargetTable)
	} else {
		ts, col = c.BaseSchema(ctx), name
	}
	cs, ok := ts.Column(col)
	if !ok {
		return "", false
	}
	return cs.RawType, true
}

// SearchableColumns maps visible columns to the SQL expressions a search may
// reference. Subselect aliases and binary, JSON or geometry columns are left
// out, as is anything outside a configured search column list.
func (c *Compiler) SearchableColumns(ctx context.Context) []SearchColumn {
	allowed := map[string]bool{}
	for _, s := range c.cfg.searchColumns {
		allowed[s] = true
	}
	var out []SearchColumn
	for _, name := range c.ColumnNames(ctx) {
		if c.cfg.isSubselect(name) {
			continue
		}
		if len(allowed) > 0 && !allowed[name] {
			continue
		}
		if raw, ok := c.columnType(ctx, name); ok && !dblib.IsSearchableType(raw) {
			continue
		}
		out = append(out, SearchColumn{Name: name, Expr: c.columnExpr(name)})
	}
	return out
}

// columnExpr qualifies a display or configured column for use in SQL.
func (c *Compiler) columnExpr(name string) string {
	if dblib.IsRawExpression(name) {
		return name
	}
	if col, ok := strings.CutPrefix(name, c.cfg.table+"."); ok && c.cfg.query == "" {
		return "main." + c.quote(col)
	}
	if strings.Contains(name, ".") {
		return dblib.QuoteQualified(c.dbType(), name)
	}
	if alias, col, ok := strings.Cut(name, aliasSep); ok {
		if _, isJoin := c.cfg.joinByAlias(alias); isJoin {
			return c.quote(alias) + "." + c.quote(col)
		}
	}
	if c.cfg.isSubselect(name) {
		return c.quote(name)
	}
	return "main." + c.quote(name)
}

type params []dblib.Param

func (p *params) add(name string, v any) string {
	*p = append(*p, dblib.Param{Name: name, Value: v})
	return ":" + name
}

func (c *Compiler) from() string {
	var b strings.Builder
	if c.cfg.query != "" {
		fmt.Fprintf(&b, " FROM (%s) AS main", c.cfg.query)
	} else {
		fmt.Fprintf(&b, " FROM %s AS main", dblib.QuoteQualified(c.dbType(), c.cfg.table))
	}
	for _, j := range c.cfg.joins {
		left := j.SourceField
		if col, ok := strings.CutPrefix(left, c.cfg.table+"."); ok && c.cfg.query == "" {
			left = "main." + c.quote(col)
		} else if strings.Contains(left, ".") {
			left = dblib.QuoteQualified(c.dbType(), left)
		} else {
			left = "main." + c.quote(left)
		}
		fmt.Fprintf(&b, " LEFT JOIN %s AS %s ON %s = %s.%s",
			dblib.QuoteQualified(c.dbType(), j.TargetTable), c.quote(j.Alias),
			left, c.quote(j.Alias), c.quote(j.TargetField))
	}
	return b.String()
}

func (c *Compiler) where(ctx context.Context, req Request, p *params) string {
	var conds strings.Builder
	for i, cond := range c.cfg.conditions {
		if i > 0 {
			fmt.Fprintf(&conds, " %s ", cond.conditionGlue())
		}
		switch cc := cond.(type) {
		case RawCondition:
			conds.WriteString("(" + cc.SQL + ")")
		case ColumnCondition:
			conds.WriteString(c.condition(i, cc, p))
		}
	}

	search := c.search(ctx, req, p)
	switch {
	case conds.Len() == 0 && search == "":
		return ""
	case search == "":
		return " WHERE " + conds.String()
	case conds.Len() == 0:
		return " WHERE " + search
	case len(c.cfg.conditions) > 1:
		return " WHERE (" + conds.String() + ") AND " + search
	default:
		return " WHERE " + conds.String() + " AND " + search
	}
}

func (c *Compiler) condition(i int, cc ColumnCondition, p *params) string {
	expr := c.columnExpr(cc.Column)
	if cc.Operator.isNullary() {
		return fmt.Sprintf("%s %s", expr, cc.Operator)
	}
	verbatim := c.cfg.noQuotes[cc.Column]
	if cc.Operator.isList() {
		list, _ := cc.Value.([]any)
		items := make([]string, len(list))
		for j, v := range list {
			if verbatim {
				items[j] = fmt.Sprint(v)
			} else {
				items[j] = p.add(fmt.Sprintf("w_%d_%d", i, j), v)
			}
		}
		return fmt.Sprintf("%s %s (%s)", expr, cc.Operator, strings.Join(items, ", "))
	}
	if verbatim {
		return fmt.Sprintf("%s %s %v", expr, cc.Operator, cc.Value)
	}
	return fmt.Sprintf("%s %s %s", expr, cc.Operator, p.add(fmt.Sprintf("w_%d", i), cc.Value))
}

// search builds the LIKE clause for a non-empty term. A named, searchable
// column gets a single comparison; otherwise every searchable column is
// OR-ed.
func (c *Compiler) search(ctx context.Context, req Request, p *params) string {
	term := strings.TrimSpace(req.SearchTerm)
	if term == "" {
		return ""
	}
	searchable := c.SearchableColumns(ctx)

	column := NormalizeColumn(req.SearchColumn)
	if column == "" {
		column = c.cfg.defaultSearch
	}
	targets := searchable
	if column != "" {
		for _, sc := range searchable {
			if sc.Name == column {
				targets = []SearchColumn{sc}
				break
			}
		}
	}
	if len(targets) == 0 {
		return ""
	}

	ph := p.add("s_0", "%"+term+"%")
	parts := make([]string, len(targets))
	for i, sc := range targets {
		parts[i] = c.likeOperand(sc.Expr) + " LIKE " + ph
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

func (c *Compiler) likeOperand(expr string) string {
	if c.in.Conn().TextCastForLike() {
		return "CAST(" + expr + " AS TEXT)"
	}
	return expr
}

// requestOrder keeps the request sort entries that name an available column.
func (c *Compiler) requestOrder(ctx context.Context, sort []OrderSpec) []OrderSpec {
	available := c.AvailableColumns(ctx)
	var out []OrderSpec
	for _, o := range sort {
		name := NormalizeColumn(strings.TrimSpace(o.Column))
		if !slices.Contains(available, name) {
			continue
		}
		dir := strings.ToUpper(strings.TrimSpace(o.Direction))
		if dir != "DESC" {
			dir = "ASC"
		}
		out = append(out, OrderSpec{Column: name, Direction: dir})
	}
	return out
}

func (c *Compiler) orderBy(ctx context.Context, req Request) string {
	order := c.cfg.order
	if len(req.Sort) > 0 {
		if requested := c.requestOrder(ctx, req.Sort); len(requested) > 0 {
			order = requested
		}
	}
	var parts []string
	for _, o := range order {
		if !dblib.IsRawExpression(o.Column) && !IsSortable(o.Column, c.cfg.sortDisabled) {
			continue
		}
		parts = append(parts, c.columnExpr(o.Column)+" "+o.Direction)
	}
	if len(parts) == 0 {
		return ""
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

// Select compiles the page query.
func (c *Compiler) Select(ctx context.Context, req Request) dblib.Statement {
	var p params
	cols := []string{"main.*"}
	for _, s := range c.cfg.subselects {
		cols = append(cols, fmt.Sprintf("(%s) AS %s", s.SQL, c.quote(s.Alias)))
	}
	for _, j := range c.cfg.joins {
		for _, name := range c.in.Columns(ctx, j.TargetTable) {
			cols = append(cols, fmt.Sprintf("%s.%s AS %s", c.quote(j.Alias), c.quote(name), c.quote(j.Alias+aliasSep+name)))
		}
	}

	var b strings.Builder
	b.WriteString("SELECT " + strings.Join(cols, ", "))
	b.WriteString(c.from())
	b.WriteString(c.where(ctx, req, &p))
	b.WriteString(c.orderBy(ctx, req))
	if req.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", req.Limit)
		if req.Offset > 0 {
			fmt.Fprintf(&b, " OFFSET %d", req.Offset)
		}
	}
	return dblib.Statement{SQL: b.String(), Params: p}
}

// Count compiles the total-row query. Joins can multiply rows, so they switch
// to a distinct count of the primary key.
func (c *Compiler) Count(ctx context.Context, req Request) dblib.Statement {
	var p params
	expr := "COUNT(*)"
	if len(c.cfg.joins) > 0 {
		expr = "COUNT(DISTINCT main." + c.quote(c.PrimaryKey(ctx)) + ")"
	}
	sql := "SELECT " + expr + c.from() + c.where(ctx, req, &p)
	return dblib.Statement{SQL: sql, Params: p}
}

// Aggregate compiles one summary over the filtered rows.
func (c *Compiler) Aggregate(ctx context.Context, spec SummarySpec, req Request) dblib.Statement {
	var p params
	expr := c.columnExpr(NormalizeColumn(spec.Column))
	for _, s := range c.cfg.subselects {
		if s.Alias == spec.Column {
			expr = "(" + s.SQL + ")"
		}
	}
	sql := fmt.Sprintf("SELECT %s(%s) AS aggregate", strings.ToUpper(string(spec.Kind)), expr) +
		c.from() + c.where(ctx, req, &p)
	return dblib.Statement{SQL: sql, Params: p}
}

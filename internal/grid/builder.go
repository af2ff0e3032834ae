package grid

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"sqlgrid/internal/dblib"
)

// Builder accumulates a Config through chained calls. Invalid entries are
// recorded and reported together by Build; the offending entry is dropped.
type Builder struct {
	cfg  *Config
	mode Mode
	errs []error
}

// NewBuilder starts a grid definition over table.
func NewBuilder(table string) *Builder {
	b := &Builder{
		cfg: &Config{
			table:        table,
			noQuotes:     map[string]bool{},
			sortDisabled: map[string]bool{},
			transforms:   map[string]string{},
			behaviors:    map[Mode]map[string]Behavior{},
		},
		mode: ModeAll,
	}
	if !validTableRef(table) {
		b.fail("table", "invalid table name %q", table)
	}
	return b
}

func (b *Builder) fail(field, format string, args ...any) {
	b.errs = append(b.errs, &ConfigError{Field: field, Msg: fmt.Sprintf(format, args...)})
}

// Build validates the accumulated definition and returns an immutable copy.
func (b *Builder) Build() (*Config, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	return b.cfg.clone(), nil
}

// PrimaryKey sets the key column used by mutations and distinct counts.
func (b *Builder) PrimaryKey(column string) *Builder {
	if !dblib.IsValidIdentifier(column) {
		b.fail("primary_key", "invalid column name %q", column)
		return b
	}
	b.cfg.primaryKey = column
	return b
}

// Where adds an AND-ed column condition.
func (b *Builder) Where(column, op string, value any) *Builder {
	return b.addCondition(And, column, op, value)
}

// OrWhere adds an OR-ed column condition.
func (b *Builder) OrWhere(column, op string, value any) *Builder {
	return b.addCondition(Or, column, op, value)
}

// WhereRaw adds an AND-ed SQL fragment. The fragment is trusted as is.
func (b *Builder) WhereRaw(sql string) *Builder {
	return b.addRaw(And, sql)
}

// OrWhereRaw adds an OR-ed SQL fragment.
func (b *Builder) OrWhereRaw(sql string) *Builder {
	return b.addRaw(Or, sql)
}

func (b *Builder) addRaw(glue Glue, sql string) *Builder {
	if strings.TrimSpace(sql) == "" {
		b.fail("where", "empty raw condition")
		return b
	}
	b.cfg.conditions = append(b.cfg.conditions, RawCondition{Glue: glue, SQL: sql})
	return b
}

func (b *Builder) addCondition(glue Glue, column, op string, value any) *Builder {
	cond, err := newColumnCondition(glue, column, op, value)
	if err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	b.cfg.conditions = append(b.cfg.conditions, cond)
	return b
}

func newColumnCondition(glue Glue, column, op string, value any) (ColumnCondition, error) {
	if !validColumnRef(column) {
		return ColumnCondition{}, &ConfigError{Field: "where", Msg: fmt.Sprintf("invalid column name %q", column)}
	}
	operator, ok := ParseOperator(op)
	if !ok {
		return ColumnCondition{}, &ConfigError{Field: "where", Msg: fmt.Sprintf("unsupported operator %q", op)}
	}
	switch {
	case operator.isNullary():
		value = nil
	case operator.isList():
		list, ok := toList(value)
		if !ok || len(list) == 0 {
			return ColumnCondition{}, &ConfigError{Field: "where", Msg: fmt.Sprintf("%s on %s needs a non-empty list", operator, column)}
		}
		value = list
	case operator.isNumeric():
		n, ok := coerceNumeric(value)
		if !ok {
			return ColumnCondition{}, &ConfigError{Field: "where", Msg: fmt.Sprintf("%s on %s needs a numeric value, got %v", operator, column, value)}
		}
		value = n
	}
	return ColumnCondition{Glue: glue, Column: column, Operator: operator, Value: value}, nil
}

// NoQuotes marks columns whose condition values are interpolated verbatim
// instead of bound. The values are trusted as is.
func (b *Builder) NoQuotes(columns ...string) *Builder {
	for _, c := range columns {
		if !validColumnRef(c) {
			b.fail("no_quotes", "invalid column name %q", c)
			continue
		}
		b.cfg.noQuotes[c] = true
	}
	return b
}

// Join adds a LEFT JOIN. An empty alias becomes j<index>.
func (b *Builder) Join(j JoinSpec) *Builder {
	if j.Alias == "" {
		j.Alias = fmt.Sprintf("j%d", len(b.cfg.joins))
	}
	switch {
	case !validColumnRef(j.SourceField):
		b.fail("joins", "invalid source field %q", j.SourceField)
	case !validTableRef(j.TargetTable):
		b.fail("joins", "invalid target table %q", j.TargetTable)
	case !dblib.IsValidIdentifier(j.TargetField):
		b.fail("joins", "invalid target field %q", j.TargetField)
	case !dblib.IsValidIdentifier(j.Alias) || j.Alias == "main":
		b.fail("joins", "invalid alias %q", j.Alias)
	default:
		if _, dup := b.cfg.joinByAlias(j.Alias); dup {
			b.fail("joins", "duplicate alias %q", j.Alias)
			return b
		}
		b.cfg.joins = append(b.cfg.joins, j)
	}
	return b
}

// Relation adds a lookup that replaces LocalField keys with labels.
func (b *Builder) Relation(r RelationSpec) *Builder {
	switch {
	case !dblib.IsValidIdentifier(r.LocalField):
		b.fail("relations", "invalid local field %q", r.LocalField)
	case !validTableRef(r.TargetTable):
		b.fail("relations", "invalid target table %q", r.TargetTable)
	case !dblib.IsValidIdentifier(r.TargetKeyField):
		b.fail("relations", "invalid key field %q", r.TargetKeyField)
	case len(r.LabelFields) == 0:
		b.fail("relations", "relation on %s needs at least one label field", r.LocalField)
	default:
		for _, f := range r.LabelFields {
			if !dblib.IsValidIdentifier(f) {
				b.fail("relations", "invalid label field %q", f)
				return b
			}
		}
		r.LabelFields = append([]string(nil), r.LabelFields...)
		b.cfg.relations = append(b.cfg.relations, r)
	}
	return b
}

// Query replaces the FROM source with (query) AS main.
func (b *Builder) Query(query string) *Builder {
	query = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(query), ";"))
	if query == "" {
		b.fail("query", "empty base query")
		return b
	}
	b.cfg.query = query
	return b
}

// Subselect adds a computed column (sql) AS alias.
func (b *Builder) Subselect(alias, sql string) *Builder {
	switch {
	case !dblib.IsValidIdentifier(alias):
		b.fail("subselects", "invalid alias %q", alias)
	case strings.TrimSpace(sql) == "":
		b.fail("subselects", "empty expression for %s", alias)
	default:
		b.cfg.subselects = append(b.cfg.subselects, Subselect{Alias: alias, SQL: sql})
	}
	return b
}

// Columns sets an ordered allow-list of visible columns. "*" expands to the
// remaining columns at its position.
func (b *Builder) Columns(columns ...string) *Builder {
	return b.setColumns(columns, false)
}

// HideColumns sets a deny-list of columns.
func (b *Builder) HideColumns(columns ...string) *Builder {
	return b.setColumns(columns, true)
}

func (b *Builder) setColumns(columns []string, reverse bool) *Builder {
	kept := make([]string, 0, len(columns))
	for _, c := range columns {
		if c != "*" && !validColumnRef(c) {
			b.fail("columns", "invalid column name %q", c)
			continue
		}
		kept = append(kept, c)
	}
	b.cfg.columns = kept
	b.cfg.reverse = reverse
	return b
}

// OrderBy appends a sort entry. column may be a raw expression.
func (b *Builder) OrderBy(column, direction string) *Builder {
	dir := strings.ToUpper(strings.TrimSpace(direction))
	if dir == "" {
		dir = "ASC"
	}
	switch {
	case dir != "ASC" && dir != "DESC":
		b.fail("order_by", "invalid direction %q", direction)
	case !dblib.IsRawExpression(column) && !validColumnRef(column):
		b.fail("order_by", "invalid column name %q", column)
	default:
		b.cfg.order = append(b.cfg.order, OrderSpec{Column: column, Direction: dir})
	}
	return b
}

// DisableSort marks columns as not sortable.
func (b *Builder) DisableSort(columns ...string) *Builder {
	for _, c := range columns {
		if !validColumnRef(c) {
			b.fail("sort_disabled", "invalid column name %q", c)
			continue
		}
		b.cfg.sortDisabled[NormalizeColumn(c)] = true
	}
	return b
}

// SearchColumns restricts which columns a search may target.
func (b *Builder) SearchColumns(columns ...string) *Builder {
	for _, c := range columns {
		if !validColumnRef(c) {
			b.fail("search_columns", "invalid column name %q", c)
			continue
		}
		b.cfg.searchColumns = append(b.cfg.searchColumns, NormalizeColumn(c))
	}
	return b
}

// DefaultSearchColumn sets the column searched when a request names none.
func (b *Builder) DefaultSearchColumn(column string) *Builder {
	if !validColumnRef(column) {
		b.fail("default_search_column", "invalid column name %q", column)
		return b
	}
	b.cfg.defaultSearch = NormalizeColumn(column)
	return b
}

// Summary adds an aggregate over the filtered rows.
func (b *Builder) Summary(s SummarySpec) *Builder {
	s.Kind = AggregateKind(strings.ToLower(string(s.Kind)))
	switch {
	case !validColumnRef(s.Column):
		b.fail("summaries", "invalid column name %q", s.Column)
	case !s.Kind.valid():
		b.fail("summaries", "unsupported aggregate %q", s.Kind)
	case s.Precision != nil && *s.Precision < 0:
		b.fail("summaries", "negative precision for %s", s.Column)
	default:
		if s.Precision != nil {
			p := *s.Precision
			s.Precision = &p
		}
		b.cfg.summaries = append(b.cfg.summaries, s)
	}
	return b
}

// Transform binds column to a ColumnTransform registered under name by the
// host application.
func (b *Builder) Transform(column, name string) *Builder {
	if !validColumnRef(column) {
		b.fail("transforms", "invalid column name %q", column)
		return b
	}
	if name == "" {
		b.fail("transforms", "empty transform name for %s", column)
		return b
	}
	b.cfg.transforms[NormalizeColumn(column)] = name
	return b
}

// Mode scopes the behavior calls that follow. The default is ModeAll.
func (b *Builder) Mode(m Mode) *Builder {
	if !m.valid() {
		b.fail("behaviors", "unsupported mode %q", m)
		return b
	}
	b.mode = m
	return b
}

// Behavior merges rule into the behavior of field in the current mode.
func (b *Builder) Behavior(field string, rule Behavior) *Builder {
	if !dblib.IsValidIdentifier(field) {
		b.fail("behaviors", "invalid field name %q", field)
		return b
	}
	if rule.When != nil && !dblib.IsValidIdentifier(rule.When.Field) {
		b.fail("behaviors", "invalid condition field %q", rule.When.Field)
		return b
	}
	if rule.ChangeType != nil && !validKind(rule.ChangeType.Kind) {
		b.fail("behaviors", "unsupported field type %q", rule.ChangeType.Kind)
		return b
	}
	fields := b.cfg.behaviors[b.mode]
	if fields == nil {
		fields = map[string]Behavior{}
		b.cfg.behaviors[b.mode] = fields
	}
	fields[field] = fields[field].overlay(rule)
	return b
}

// ChangeType overrides the inferred field kind.
func (b *Builder) ChangeType(field string, kind dblib.FieldKind, def any, params map[string]any) *Builder {
	return b.Behavior(field, Behavior{ChangeType: &FieldType{Kind: kind, Default: def, Params: params}})
}

func (b *Builder) Readonly(fields ...string) *Builder {
	for _, f := range fields {
		b.Behavior(f, Behavior{Readonly: true})
	}
	return b
}

func (b *Builder) Disabled(fields ...string) *Builder {
	for _, f := range fields {
		b.Behavior(f, Behavior{Disabled: true})
	}
	return b
}

// PassVar always overwrites field with the templated value.
func (b *Builder) PassVar(field string, value any) *Builder {
	return b.Behavior(field, Behavior{PassVar: value})
}

// PassDefault fills field with the templated value when it is empty.
func (b *Builder) PassDefault(field string, value any) *Builder {
	return b.Behavior(field, Behavior{PassDefault: value})
}

// ValidationRequired requires at least minLength trimmed characters.
func (b *Builder) ValidationRequired(field string, minLength int) *Builder {
	if minLength < 1 {
		minLength = 1
	}
	return b.Behavior(field, Behavior{ValidationRequired: minLength})
}

// ValidationPattern requires values to match pattern. Patterns without
// delimiters are anchored; "/.../i" style patterns are honored.
func (b *Builder) ValidationPattern(field, pattern string) *Builder {
	return b.Behavior(field, Behavior{ValidationPattern: pattern})
}

func (b *Builder) Unique(field string) *Builder {
	return b.Behavior(field, Behavior{Unique: true})
}

func validKind(k dblib.FieldKind) bool {
	switch k {
	case dblib.KindText, dblib.KindTextarea, dblib.KindNumber, dblib.KindBoolean, dblib.KindDate,
		dblib.KindDatetime, dblib.KindTime, dblib.KindJSON, dblib.KindSelect, dblib.KindHidden:
		return true
	}
	return false
}

// validTableRef accepts "table" or "schema.table".
func validTableRef(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return false
	}
	for _, p := range parts {
		if !dblib.IsValidIdentifier(p) {
			return false
		}
	}
	return true
}

// validColumnRef accepts "column", "alias.column" or "schema.table.column".
func validColumnRef(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) > 3 {
		return false
	}
	for _, p := range parts {
		if !dblib.IsValidIdentifier(p) {
			return false
		}
	}
	return true
}

// toList flattens slices and arrays (other than []byte) into []any.
func toList(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if list, ok := v.([]any); ok {
		return append([]any(nil), list...), true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// coerceNumeric accepts Go numbers as they are and turns numeric strings
// into int64 or float64. Anything else is rejected.
func coerceNumeric(v any) (any, bool) {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
		return nil, false
	}
	if v == nil {
		return nil, false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return v, true
	}
	return nil, false
}

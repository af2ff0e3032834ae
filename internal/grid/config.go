package grid

import (
	"maps"
	"slices"
	"strings"

	"sqlgrid/internal/dblib"
)

// Mode is the edit mode a form behavior applies to.
type Mode string

const (
	ModeCreate Mode = "create"
	ModeEdit   Mode = "edit"
	ModeView   Mode = "view"
	ModeAll    Mode = "all"
)

func (m Mode) valid() bool {
	switch m {
	case ModeCreate, ModeEdit, ModeView, ModeAll:
		return true
	}
	return false
}

// Glue joins a condition to the one before it.
type Glue string

const (
	And Glue = "AND"
	Or  Glue = "OR"
)

// Operator is a comparison operator accepted in a ColumnCondition.
type Operator string

const (
	OpEq        Operator = "="
	OpNe        Operator = "!="
	OpNeAlt     Operator = "<>"
	OpGt        Operator = ">"
	OpGte       Operator = ">="
	OpLt        Operator = "<"
	OpLte       Operator = "<="
	OpLike      Operator = "LIKE"
	OpNotLike   Operator = "NOT LIKE"
	OpIn        Operator = "IN"
	OpNotIn     Operator = "NOT IN"
	OpIsNull    Operator = "IS NULL"
	OpIsNotNull Operator = "IS NOT NULL"
)

var operators = map[Operator]bool{
	OpEq: true, OpNe: true, OpNeAlt: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true,
	OpLike: true, OpNotLike: true, OpIn: true, OpNotIn: true, OpIsNull: true, OpIsNotNull: true,
}

// ParseOperator normalizes case and spacing of op.
func ParseOperator(op string) (Operator, bool) {
	o := Operator(strings.ToUpper(strings.Join(strings.Fields(op), " ")))
	return o, operators[o]
}

func (o Operator) isList() bool    { return o == OpIn || o == OpNotIn }
func (o Operator) isNullary() bool { return o == OpIsNull || o == OpIsNotNull }
func (o Operator) isNumeric() bool { return o == OpGt || o == OpGte || o == OpLt || o == OpLte }

// Condition is one WHERE entry: a ColumnCondition or a RawCondition.
type Condition interface {
	conditionGlue() Glue
}

// ColumnCondition compares a column against a bound value.
type ColumnCondition struct {
	Glue     Glue
	Column   string
	Operator Operator
	Value    any
}

func (c ColumnCondition) conditionGlue() Glue { return c.Glue }

// RawCondition is a caller-trusted SQL fragment.
type RawCondition struct {
	Glue Glue
	SQL  string
}

func (c RawCondition) conditionGlue() Glue { return c.Glue }

// JoinSpec is a LEFT JOIN of TargetTable on SourceField = Alias.TargetField.
type JoinSpec struct {
	SourceField       string
	TargetTable       string
	TargetField       string
	Alias             string
	ExcludeFromInsert bool
}

// RelationSpec replaces LocalField keys with labels from TargetTable.
type RelationSpec struct {
	LocalField     string
	TargetTable    string
	TargetKeyField string
	LabelFields    []string
	ExtraWhere     string
	OrderBy        string
	MultiValued    bool
}

// Subselect is a computed column: (SQL) AS Alias.
type Subselect struct {
	Alias string
	SQL   string
}

// OrderSpec is one ORDER BY entry. Column may be a raw expression.
type OrderSpec struct {
	Column    string
	Direction string
}

// AggregateKind names a summary function.
type AggregateKind string

const (
	Sum   AggregateKind = "sum"
	Avg   AggregateKind = "avg"
	Min   AggregateKind = "min"
	Max   AggregateKind = "max"
	Count AggregateKind = "count"
)

func (k AggregateKind) valid() bool {
	switch k {
	case Sum, Avg, Min, Max, Count:
		return true
	}
	return false
}

// SummarySpec is an aggregate computed over the filtered grid.
type SummarySpec struct {
	Column    string
	Kind      AggregateKind
	Label     string
	Precision *int
}

// FieldType overrides the inferred field kind of a column.
type FieldType struct {
	Kind    dblib.FieldKind
	Default any
	Params  map[string]any
}

// When restricts a Behavior to rows whose Field equals Value.
type When struct {
	Field string
	Value any
}

// Behavior is the editing rule set for one field in one mode.
type Behavior struct {
	ChangeType         *FieldType
	Readonly           bool
	Disabled           bool
	PassVar            any
	PassDefault        any
	ValidationRequired int
	ValidationPattern  string
	Unique             bool
	When               *When
}

// overlay merges o on top of b: flags accumulate, set values replace.
func (b Behavior) overlay(o Behavior) Behavior {
	if o.ChangeType != nil {
		b.ChangeType = o.ChangeType
	}
	b.Readonly = b.Readonly || o.Readonly
	b.Disabled = b.Disabled || o.Disabled
	if o.PassVar != nil {
		b.PassVar = o.PassVar
	}
	if o.PassDefault != nil {
		b.PassDefault = o.PassDefault
	}
	if o.ValidationRequired > 0 {
		b.ValidationRequired = o.ValidationRequired
	}
	if o.ValidationPattern != "" {
		b.ValidationPattern = o.ValidationPattern
	}
	b.Unique = b.Unique || o.Unique
	if o.When != nil {
		b.When = o.When
	}
	return b
}

// Config is the immutable description of one grid over one table. Build one
// with a Builder or FromPayload.
type Config struct {
	table         string
	primaryKey    string
	conditions    []Condition
	noQuotes      map[string]bool
	joins         []JoinSpec
	relations     []RelationSpec
	query         string
	subselects    []Subselect
	columns       []string
	reverse       bool
	order         []OrderSpec
	sortDisabled  map[string]bool
	searchColumns []string
	defaultSearch string
	summaries     []SummarySpec
	transforms    map[string]string
	behaviors     map[Mode]map[string]Behavior
}

func (c *Config) Table() string { return c.table }

// PrimaryKey returns the configured key column, or "" when it should be
// detected from the table.
func (c *Config) PrimaryKey() string          { return c.primaryKey }
func (c *Config) Query() string               { return c.query }
func (c *Config) Conditions() []Condition     { return slices.Clone(c.conditions) }
func (c *Config) Joins() []JoinSpec           { return slices.Clone(c.joins) }
func (c *Config) Subselects() []Subselect     { return slices.Clone(c.subselects) }
func (c *Config) OrderBy() []OrderSpec        { return slices.Clone(c.order) }
func (c *Config) SearchColumns() []string     { return slices.Clone(c.searchColumns) }
func (c *Config) DefaultSearchColumn() string { return c.defaultSearch }
func (c *Config) Transforms() map[string]string {
	return maps.Clone(c.transforms)
}

func (c *Config) Relations() []RelationSpec {
	out := slices.Clone(c.relations)
	for i := range out {
		out[i].LabelFields = slices.Clone(out[i].LabelFields)
	}
	return out
}

func (c *Config) Summaries() []SummarySpec {
	out := slices.Clone(c.summaries)
	for i, s := range out {
		if s.Precision != nil {
			p := *s.Precision
			out[i].Precision = &p
		}
	}
	return out
}

// VisibleColumns returns the configured visibility list and whether it is a
// deny-list.
func (c *Config) VisibleColumns() ([]string, bool) {
	return slices.Clone(c.columns), c.reverse
}

// Relation returns the relation configured for field.
func (c *Config) Relation(field string) (RelationSpec, bool) {
	for _, r := range c.relations {
		if r.LocalField == field {
			return r, true
		}
	}
	return RelationSpec{}, false
}

func (c *Config) joinByAlias(alias string) (JoinSpec, bool) {
	for _, j := range c.joins {
		if j.Alias == alias {
			return j, true
		}
	}
	return JoinSpec{}, false
}

func (c *Config) isSubselect(name string) bool {
	for _, s := range c.subselects {
		if s.Alias == name {
			return true
		}
	}
	return false
}

// excludedFromInsert lists base columns that joins mark as not insertable.
func (c *Config) excludedFromInsert() map[string]bool {
	out := map[string]bool{}
	for _, j := range c.joins {
		if !j.ExcludeFromInsert {
			continue
		}
		field := j.SourceField
		if strings.HasPrefix(field, "main.") {
			field = strings.TrimPrefix(field, "main.")
		}
		if !strings.Contains(field, ".") {
			out[field] = true
		}
	}
	return out
}

// clone returns a deep copy so a built Config never shares state with its
// Builder.
func (c *Config) clone() *Config {
	out := *c
	out.conditions = slices.Clone(c.conditions)
	out.noQuotes = maps.Clone(c.noQuotes)
	out.joins = slices.Clone(c.joins)
	out.relations = c.Relations()
	out.subselects = slices.Clone(c.subselects)
	out.columns = slices.Clone(c.columns)
	out.order = slices.Clone(c.order)
	out.sortDisabled = maps.Clone(c.sortDisabled)
	out.searchColumns = slices.Clone(c.searchColumns)
	out.summaries = c.Summaries()
	out.transforms = maps.Clone(c.transforms)
	out.behaviors = make(map[Mode]map[string]Behavior, len(c.behaviors))
	for mode, fields := range c.behaviors {
		out.behaviors[mode] = maps.Clone(fields)
	}
	return &out
}

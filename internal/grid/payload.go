package grid

import (
	"encoding/base64"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"

	"sqlgrid/internal/dblib"
)

type conditionPayload struct {
	Glue   string `mapstructure:"glue"`
	Column string `mapstructure:"column"`
	Op     string `mapstructure:"op"`
	Value  any    `mapstructure:"value"`
	Raw    string `mapstructure:"raw"`
}

type joinPayload struct {
	SourceField       string `mapstructure:"source_field"`
	TargetTable       string `mapstructure:"target_table"`
	TargetField       string `mapstructure:"target_field"`
	Alias             string `mapstructure:"alias"`
	ExcludeFromInsert bool   `mapstructure:"exclude_from_insert"`
}

type relationPayload struct {
	LocalField     string   `mapstructure:"local_field"`
	TargetTable    string   `mapstructure:"target_table"`
	TargetKeyField string   `mapstructure:"target_key_field"`
	LabelFields    []string `mapstructure:"label_fields"`
	ExtraWhere     string   `mapstructure:"extra_where"`
	OrderBy        string   `mapstructure:"order_by"`
	MultiValued    bool     `mapstructure:"multi_valued"`
}

type subselectPayload struct {
	Alias string `mapstructure:"alias"`
	SQL   string `mapstructure:"sql"`
}

type orderPayload struct {
	Column    string `mapstructure:"column"`
	Direction string `mapstructure:"direction"`
}

type summaryPayload struct {
	Column    string `mapstructure:"column"`
	Kind      string `mapstructure:"kind"`
	Label     string `mapstructure:"label"`
	Precision *int   `mapstructure:"precision"`
}

type fieldTypePayload struct {
	Kind    string         `mapstructure:"kind"`
	Default any            `mapstructure:"default"`
	Params  map[string]any `mapstructure:"params"`
}

type whenPayload struct {
	Field string `mapstructure:"field"`
	Value any    `mapstructure:"value"`
}

type behaviorPayload struct {
	ChangeType         *fieldTypePayload `mapstructure:"change_type"`
	Readonly           bool              `mapstructure:"readonly"`
	Disabled           bool              `mapstructure:"disabled"`
	PassVar            any               `mapstructure:"pass_var"`
	PassDefault        any               `mapstructure:"pass_default"`
	ValidationRequired int               `mapstructure:"validation_required"`
	ValidationPattern  string            `mapstructure:"validation_pattern"`
	Unique             bool              `mapstructure:"unique"`
	When               *whenPayload      `mapstructure:"when"`
}

// ToPayload renders cfg as a plain nested map with snake_case keys. The
// result survives YAML, JSON and msgpack encoding and FromPayload rebuilds an
// equivalent Config from it.
func ToPayload(cfg *Config) map[string]any {
	p := map[string]any{"table": cfg.table}
	if cfg.primaryKey != "" {
		p["primary_key"] = cfg.primaryKey
	}

	if len(cfg.conditions) > 0 {
		where := make([]any, 0, len(cfg.conditions))
		for _, cond := range cfg.conditions {
			switch c := cond.(type) {
			case ColumnCondition:
				m := map[string]any{"glue": string(c.Glue), "column": c.Column, "op": string(c.Operator)}
				if c.Value != nil {
					m["value"] = c.Value
				}
				where = append(where, m)
			case RawCondition:
				where = append(where, map[string]any{"glue": string(c.Glue), "raw": c.SQL})
			}
		}
		p["where"] = where
	}
	if len(cfg.noQuotes) > 0 {
		p["no_quotes"] = toAnySlice(sortedKeys(cfg.noQuotes))
	}

	if len(cfg.joins) > 0 {
		joins := make([]any, len(cfg.joins))
		for i, j := range cfg.joins {
			joins[i] = map[string]any{
				"source_field":        j.SourceField,
				"target_table":        j.TargetTable,
				"target_field":        j.TargetField,
				"alias":               j.Alias,
				"exclude_from_insert": j.ExcludeFromInsert,
			}
		}
		p["joins"] = joins
	}
	if len(cfg.relations) > 0 {
		rels := make([]any, len(cfg.relations))
		for i, r := range cfg.relations {
			m := map[string]any{
				"local_field":      r.LocalField,
				"target_table":     r.TargetTable,
				"target_key_field": r.TargetKeyField,
				"label_fields":     toAnySlice(r.LabelFields),
				"multi_valued":     r.MultiValued,
			}
			if r.ExtraWhere != "" {
				m["extra_where"] = r.ExtraWhere
			}
			if r.OrderBy != "" {
				m["order_by"] = r.OrderBy
			}
			rels[i] = m
		}
		p["relations"] = rels
	}

	if cfg.query != "" {
		p["query"] = cfg.query
	}
	if len(cfg.subselects) > 0 {
		subs := make([]any, len(cfg.subselects))
		for i, s := range cfg.subselects {
			subs[i] = map[string]any{"alias": s.Alias, "sql": s.SQL}
		}
		p["subselects"] = subs
	}
	if len(cfg.columns) > 0 {
		p["columns"] = toAnySlice(cfg.columns)
		p["columns_reverse"] = cfg.reverse
	}
	if len(cfg.order) > 0 {
		order := make([]any, len(cfg.order))
		for i, o := range cfg.order {
			order[i] = map[string]any{"column": o.Column, "direction": o.Direction}
		}
		p["order_by"] = order
	}
	if len(cfg.sortDisabled) > 0 {
		p["sort_disabled"] = toAnySlice(sortedKeys(cfg.sortDisabled))
	}
	if len(cfg.searchColumns) > 0 {
		p["search_columns"] = toAnySlice(cfg.searchColumns)
	}
	if cfg.defaultSearch != "" {
		p["default_search_column"] = cfg.defaultSearch
	}
	if len(cfg.summaries) > 0 {
		sums := make([]any, len(cfg.summaries))
		for i, s := range cfg.summaries {
			m := map[string]any{"column": s.Column, "kind": string(s.Kind)}
			if s.Label != "" {
				m["label"] = s.Label
			}
			if s.Precision != nil {
				m["precision"] = *s.Precision
			}
			sums[i] = m
		}
		p["summaries"] = sums
	}
	if len(cfg.transforms) > 0 {
		t := make(map[string]any, len(cfg.transforms))
		for col, name := range cfg.transforms {
			t[col] = name
		}
		p["transforms"] = t
	}
	if len(cfg.behaviors) > 0 {
		modes := make(map[string]any, len(cfg.behaviors))
		for mode, fields := range cfg.behaviors {
			fm := make(map[string]any, len(fields))
			for field, b := range fields {
				fm[field] = behaviorToMap(b)
			}
			modes[string(mode)] = fm
		}
		p["behaviors"] = modes
	}
	return p
}

func behaviorToMap(b Behavior) map[string]any {
	m := map[string]any{}
	if b.ChangeType != nil {
		ct := map[string]any{"kind": string(b.ChangeType.Kind)}
		if b.ChangeType.Default != nil {
			ct["default"] = b.ChangeType.Default
		}
		if len(b.ChangeType.Params) > 0 {
			ct["params"] = b.ChangeType.Params
		}
		m["change_type"] = ct
	}
	if b.Readonly {
		m["readonly"] = true
	}
	if b.Disabled {
		m["disabled"] = true
	}
	if b.PassVar != nil {
		m["pass_var"] = b.PassVar
	}
	if b.PassDefault != nil {
		m["pass_default"] = b.PassDefault
	}
	if b.ValidationRequired > 0 {
		m["validation_required"] = b.ValidationRequired
	}
	if b.ValidationPattern != "" {
		m["validation_pattern"] = b.ValidationPattern
	}
	if b.Unique {
		m["unique"] = true
	}
	if b.When != nil {
		m["when"] = map[string]any{"field": b.When.Field, "value": b.When.Value}
	}
	return m
}

// FromPayload rebuilds a Config from a payload map. Keys it does not know and
// entries of the wrong shape are skipped. Entries that decode but name
// invalid identifiers still fail the build with a ConfigError.
func FromPayload(p map[string]any) (*Config, error) {
	var table string
	if err := decode(p["table"], &table); err != nil || table == "" {
		return nil, &ConfigError{Field: "table", Msg: "missing table"}
	}
	b := NewBuilder(table)

	var s string
	if decode(p["primary_key"], &s) == nil && s != "" {
		b.PrimaryKey(s)
	}

	for _, el := range elements(p["where"]) {
		var c conditionPayload
		if decode(el, &c) != nil {
			continue
		}
		glue := And
		if strings.EqualFold(c.Glue, string(Or)) {
			glue = Or
		}
		switch {
		case c.Raw != "":
			b.addRaw(glue, c.Raw)
		case c.Column != "":
			b.addCondition(glue, c.Column, c.Op, c.Value)
		}
	}
	b.NoQuotes(stringList(p["no_quotes"])...)

	for _, el := range elements(p["joins"]) {
		var j joinPayload
		if decode(el, &j) == nil && j.SourceField != "" {
			b.Join(JoinSpec(j))
		}
	}
	for _, el := range elements(p["relations"]) {
		var r relationPayload
		if decode(el, &r) == nil && r.LocalField != "" {
			b.Relation(RelationSpec(r))
		}
	}

	if decode(p["query"], &s) == nil && s != "" {
		b.Query(s)
	}
	for _, el := range elements(p["subselects"]) {
		var sub subselectPayload
		if decode(el, &sub) == nil && sub.Alias != "" {
			b.Subselect(sub.Alias, sub.SQL)
		}
	}
	if cols := stringList(p["columns"]); len(cols) > 0 {
		var reverse bool
		_ = decode(p["columns_reverse"], &reverse)
		b.setColumns(cols, reverse)
	}
	for _, el := range elements(p["order_by"]) {
		var o orderPayload
		if decode(el, &o) == nil && o.Column != "" {
			b.OrderBy(o.Column, o.Direction)
		}
	}
	b.DisableSort(stringList(p["sort_disabled"])...)
	b.SearchColumns(stringList(p["search_columns"])...)
	if decode(p["default_search_column"], &s) == nil && s != "" {
		b.DefaultSearchColumn(s)
	}
	for _, el := range elements(p["summaries"]) {
		var sum summaryPayload
		if decode(el, &sum) == nil && sum.Column != "" {
			b.Summary(SummarySpec{Column: sum.Column, Kind: AggregateKind(sum.Kind), Label: sum.Label, Precision: sum.Precision})
		}
	}

	var transforms map[string]string
	if decode(p["transforms"], &transforms) == nil {
		for _, col := range sortedKeys(transforms) {
			b.Transform(col, transforms[col])
		}
	}

	var modes map[string]map[string]any
	if decode(p["behaviors"], &modes) == nil {
		for _, mode := range sortedKeys(modes) {
			if !Mode(mode).valid() {
				continue
			}
			b.Mode(Mode(mode))
			fields := modes[mode]
			for _, field := range sortedKeys(fields) {
				var bp behaviorPayload
				if decode(fields[field], &bp) != nil {
					continue
				}
				b.Behavior(field, bp.behavior())
			}
		}
		b.Mode(ModeAll)
	}
	return b.Build()
}

func (bp behaviorPayload) behavior() Behavior {
	out := Behavior{
		Readonly:           bp.Readonly,
		Disabled:           bp.Disabled,
		PassVar:            bp.PassVar,
		PassDefault:        bp.PassDefault,
		ValidationRequired: bp.ValidationRequired,
		ValidationPattern:  bp.ValidationPattern,
		Unique:             bp.Unique,
	}
	if bp.ChangeType != nil {
		out.ChangeType = &FieldType{Kind: dblib.FieldKind(bp.ChangeType.Kind), Default: bp.ChangeType.Default, Params: bp.ChangeType.Params}
	}
	if bp.When != nil {
		out.When = &When{Field: bp.When.Field, Value: bp.When.Value}
	}
	return out
}

// EncodeState packs cfg into an opaque URL-safe token a client can hold and
// send back.
func EncodeState(cfg *Config) (string, error) {
	b, err := msgpack.Marshal(ToPayload(cfg))
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DecodeState reverses EncodeState.
func DecodeState(token string) (*Config, error) {
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	var p map[string]any
	if err := msgpack.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return FromPayload(p)
}

// LoadDefinition reads a YAML grid definition in payload shape.
func LoadDefinition(r io.Reader) (*Config, error) {
	var p map[string]any
	if err := yaml.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("read grid definition: %w", err)
	}
	return FromPayload(p)
}

func decode(in, out any) error {
	if in == nil {
		return fmt.Errorf("missing value")
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

// elements returns the items of any slice value, or nil.
func elements(v any) []any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

// stringList keeps the string-convertible items of a list.
func stringList(v any) []string {
	var out []string
	for _, el := range elements(v) {
		var s string
		if decode(el, &s) == nil && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package grid

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"sqlgrid/internal/dblib"
)

// RawValues holds, per row, the key values that relation labels replaced.
type RawValues []map[string]any

// Get returns the original value of field in row i.
func (r RawValues) Get(i int, field string) (any, bool) {
	if i < 0 || i >= len(r) || r[i] == nil {
		return nil, false
	}
	v, ok := r[i][field]
	return v, ok
}

// RelationOption is one selectable key of a relation.
type RelationOption struct {
	Key   any
	Label string
}

// RelationResolver substitutes relation labels with one lookup query per
// relation. It caches option lists for its lifetime and is not safe for
// concurrent use.
type RelationResolver struct {
	conn    *dblib.Conn
	logger  *slog.Logger
	options map[string][]RelationOption
}

func NewRelationResolver(conn *dblib.Conn, logger *slog.Logger) *RelationResolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RelationResolver{conn: conn, logger: logger, options: map[string][]RelationOption{}}
}

// Resolve rewrites relation fields of rows in place and returns the original
// values. A failed lookup leaves that relation's values untouched.
func (r *RelationResolver) Resolve(ctx context.Context, rows []dblib.Row, relations []RelationSpec) RawValues {
	raw := make(RawValues, len(rows))
	for _, spec := range relations {
		var keys []any
		seen := map[string]bool{}
		for i, row := range rows {
			v, ok := row[spec.LocalField]
			if !ok || v == nil {
				continue
			}
			if raw[i] == nil {
				raw[i] = map[string]any{}
			}
			raw[i][spec.LocalField] = v
			for _, k := range splitKeys(v, spec.MultiValued) {
				if !seen[k.str] {
					seen[k.str] = true
					keys = append(keys, k.val)
				}
			}
		}
		if len(keys) == 0 {
			continue
		}

		labels, err := r.lookup(ctx, spec, keys)
		if err != nil {
			r.logger.Warn("relation lookup failed", "field", spec.LocalField, "table", spec.TargetTable, "error", err)
			continue
		}
		for _, row := range rows {
			if v, ok := row[spec.LocalField]; ok && v != nil {
				row[spec.LocalField] = substitute(v, spec.MultiValued, labels)
			}
		}
	}
	return raw
}

type relationKey struct {
	str string
	val any
}

// splitKeys returns the lookup keys held by v. Multi-valued fields hold a
// comma-separated list.
func splitKeys(v any, multi bool) []relationKey {
	if !multi {
		return []relationKey{{str: fmt.Sprint(v), val: v}}
	}
	var out []relationKey
	for _, part := range strings.Split(fmt.Sprint(v), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, relationKey{str: part, val: part})
		}
	}
	return out
}

// labelComma stands in for commas inside multi-valued labels so the joined
// result still splits into one segment per key.
const labelComma = "，"

func substitute(v any, multi bool, labels map[string]string) any {
	if !multi {
		if label, ok := labels[fmt.Sprint(v)]; ok {
			return label
		}
		return v
	}
	keys := splitKeys(v, true)
	out := make([]string, len(keys))
	for i, k := range keys {
		if label, ok := labels[k.str]; ok {
			out[i] = strings.ReplaceAll(label, ",", labelComma)
		} else {
			out[i] = k.str
		}
	}
	return strings.Join(out, ", ")
}

func (r *RelationResolver) selectList(spec RelationSpec) string {
	dbType := r.conn.Type()
	cols := []string{dblib.QuoteIdent(dbType, spec.TargetKeyField) + " AS rel_key"}
	for _, f := range spec.LabelFields {
		cols = append(cols, dblib.QuoteIdent(dbType, f))
	}
	return "SELECT " + strings.Join(cols, ", ") + " FROM " + dblib.QuoteQualified(dbType, spec.TargetTable)
}

func (r *RelationResolver) orderBy(spec RelationSpec) string {
	if spec.OrderBy == "" {
		return ""
	}
	return " ORDER BY " + dblib.QuoteQualified(r.conn.Type(), spec.OrderBy)
}

func (r *RelationResolver) lookup(ctx context.Context, spec RelationSpec, keys []any) (map[string]string, error) {
	var p params
	placeholders := make([]string, len(keys))
	for i, k := range keys {
		placeholders[i] = p.add(fmt.Sprintf("r_%d", i), k)
	}
	var b strings.Builder
	b.WriteString(r.selectList(spec))
	fmt.Fprintf(&b, " WHERE %s IN (%s)", dblib.QuoteIdent(r.conn.Type(), spec.TargetKeyField), strings.Join(placeholders, ", "))
	if spec.ExtraWhere != "" {
		b.WriteString(" AND (" + spec.ExtraWhere + ")")
	}
	b.WriteString(r.orderBy(spec))

	rows, err := r.conn.Query(ctx, "relation lookup", dblib.Statement{SQL: b.String(), Params: p})
	if err != nil {
		return nil, err
	}
	labels := make(map[string]string, len(rows))
	for _, row := range rows {
		labels[fmt.Sprint(row["rel_key"])] = joinLabel(row, spec.LabelFields)
	}
	return labels, nil
}

// joinLabel space-joins the non-blank label fields of row.
func joinLabel(row dblib.Row, fields []string) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		v := row[f]
		if v == nil {
			continue
		}
		if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// Options lists every key and label of a relation, honoring its extra WHERE
// and ORDER BY. Results are cached per field.
func (r *RelationResolver) Options(ctx context.Context, spec RelationSpec) ([]RelationOption, error) {
	if opts, ok := r.options[spec.LocalField]; ok {
		return opts, nil
	}
	sql := r.selectList(spec)
	if spec.ExtraWhere != "" {
		sql += " WHERE " + spec.ExtraWhere
	}
	sql += r.orderBy(spec)

	rows, err := r.conn.Query(ctx, "relation options", dblib.Statement{SQL: sql})
	if err != nil {
		return nil, err
	}
	opts := make([]RelationOption, 0, len(rows))
	for _, row := range rows {
		opts = append(opts, RelationOption{Key: row["rel_key"], Label: joinLabel(row, spec.LabelFields)})
	}
	r.options[spec.LocalField] = opts
	return opts, nil
}

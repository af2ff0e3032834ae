package grid

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"sqlgrid/internal/dblib"
)

// maxCopyProbes bounds the search for a free "(copy N)" value.
const maxCopyProbes = 100

var copySuffixRe = regexp.MustCompile(` \(copy(?: \d+)?\)$`)

// Mutator writes single rows of the configured table: update, create, delete
// and duplicate. Every write is parameterized and validated against the
// behaviors of the mode it runs in.
type Mutator struct {
	cfg    *Config
	conn   *dblib.Conn
	in     *dblib.Introspector
	logger *slog.Logger
	tpl    templater
	keyOf  func(context.Context) string
}

func NewMutator(cfg *Config, in *dblib.Introspector, logger *slog.Logger) *Mutator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	comp := NewCompiler(cfg, in)
	return &Mutator{
		cfg:    cfg,
		conn:   in.Conn(),
		in:     in,
		logger: logger,
		tpl:    newTemplater(nil),
		keyOf:  comp.PrimaryKey,
	}
}

func (m *Mutator) table() string             { return m.conn.QuoteQualified(m.cfg.table) }
func (m *Mutator) quote(ident string) string { return m.conn.Quote(ident) }

// target loads the table schema and resolves the key column. An empty
// pkColumn means the grid's own primary key.
func (m *Mutator) target(ctx context.Context, pkColumn string) (*dblib.TableSchema, string, error) {
	schema := m.in.GetSchema(ctx, m.cfg.table)
	if schema.Empty() {
		return nil, "", &SchemaError{Table: m.cfg.table, Msg: "table not found"}
	}
	pk := pkColumn
	if pk == "" {
		pk = m.keyOf(ctx)
	}
	if !dblib.IsValidIdentifier(pk) || !schema.Has(pk) {
		return nil, "", &SchemaError{Table: m.cfg.table, Column: pk, Msg: "key column not found"}
	}
	return schema, pk, nil
}

func (m *Mutator) load(ctx context.Context, pk string, pkValue any) (dblib.Row, error) {
	var p params
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = %s", m.table(), m.quote(pk), p.add("pk", pkValue))
	row, err := m.conn.QueryRow(ctx, "load row", dblib.Statement{SQL: query, Params: p})
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrNotFound
	}
	return row, nil
}

// inject applies passDefault to empty fields and then passVar to every field
// that has one. Both write into values and merged.
func (m *Mutator) inject(rules map[string]Behavior, schema *dblib.TableSchema, skip string, create bool, values, merged map[string]any) {
	for field, rule := range rules {
		if field == skip || !schema.Has(field) {
			continue
		}
		def := rule.PassDefault
		if def == nil && create && rule.ChangeType != nil {
			def = rule.ChangeType.Default
		}
		if def != nil && isEmpty(merged[field]) {
			v := m.tpl.render(def, merged)
			values[field], merged[field] = v, v
		}
	}
	for field, rule := range rules {
		if field == skip || !schema.Has(field) || rule.PassVar == nil {
			continue
		}
		v := m.tpl.render(rule.PassVar, merged)
		values[field], merged[field] = v, v
	}
}

// Update writes fields to the row whose pkColumn equals pkValue and returns
// the row as stored afterwards. Unknown, readonly and disabled fields are
// dropped; the key itself is never rewritten. When nothing remains to write
// the current row is returned unchanged.
func (m *Mutator) Update(ctx context.Context, pkColumn string, pkValue any, fields map[string]any, mode Mode) (dblib.Row, error) {
	if mode == "" {
		mode = ModeEdit
	}
	schema, pk, err := m.target(ctx, pkColumn)
	if err != nil {
		return nil, err
	}
	current, err := m.load(ctx, pk, pkValue)
	if err != nil {
		return nil, err
	}
	rules := m.cfg.rules(mode, current, schema)

	values := map[string]any{}
	for k, v := range fields {
		if k == pk || !schema.Has(k) {
			continue
		}
		if r := rules[k]; r.Readonly || r.Disabled {
			m.logger.Debug("dropping protected field", "table", m.cfg.table, "field", k)
			continue
		}
		values[k] = v
	}
	merged := map[string]any(current.Clone())
	for k, v := range values {
		merged[k] = v
	}
	m.inject(rules, schema, pk, false, values, merged)
	if len(values) == 0 {
		return current, nil
	}
	if err := m.validate(ctx, values, rules, pk, pkValue, false); err != nil {
		return nil, err
	}

	var p params
	var sets []string
	for _, col := range schema.Columns {
		v, ok := values[col.Name]
		if !ok {
			continue
		}
		ph := p.add(fmt.Sprintf("u_%d", len(sets)), toDBValue(col, v))
		sets = append(sets, m.quote(col.Name)+" = "+ph)
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s", m.table(), strings.Join(sets, ", "), m.quote(pk), p.add("pk", pkValue))
	if _, err := m.conn.Exec(ctx, "update row", dblib.Statement{SQL: query, Params: p}); err != nil {
		return nil, err
	}
	m.logger.Info("row updated", "table", m.cfg.table, "pk", pkValue, "fields", len(sets))

	// A rewritten key would make the reload miss; fall back to the merged view.
	row, err := m.load(ctx, pk, pkValue)
	if errors.Is(err, ErrNotFound) {
		return dblib.Row(merged), nil
	}
	return row, err
}

// Create inserts a new row from fields and returns it as stored.
func (m *Mutator) Create(ctx context.Context, fields map[string]any) (dblib.Row, error) {
	schema, pk, err := m.target(ctx, "")
	if err != nil {
		return nil, err
	}
	rules := m.cfg.rules(ModeCreate, fields, schema)
	excluded := m.cfg.excludedFromInsert()

	values := map[string]any{}
	for k, v := range fields {
		if !schema.Has(k) || excluded[k] {
			continue
		}
		if k == pk && isEmpty(v) {
			continue
		}
		if r := rules[k]; r.Readonly || r.Disabled {
			continue
		}
		values[k] = v
	}
	merged := map[string]any{}
	for k, v := range values {
		merged[k] = v
	}
	m.inject(rules, schema, "", true, values, merged)
	if err := m.validate(ctx, values, rules, pk, nil, true); err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, ErrNoFields
	}

	res, err := m.insert(ctx, "create row", schema, values)
	if err != nil {
		return nil, err
	}
	m.logger.Info("row created", "table", m.cfg.table)
	return m.inserted(ctx, pk, res, values)
}

func (m *Mutator) insert(ctx context.Context, op string, schema *dblib.TableSchema, values map[string]any) (sql.Result, error) {
	var p params
	var cols, phs []string
	for _, col := range schema.Columns {
		v, ok := values[col.Name]
		if !ok {
			continue
		}
		cols = append(cols, m.quote(col.Name))
		phs = append(phs, p.add(fmt.Sprintf("d_%d", len(phs)), toDBValue(col, v)))
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", m.table(), strings.Join(cols, ", "), strings.Join(phs, ", "))
	return m.conn.Exec(ctx, op, dblib.Statement{SQL: query, Params: p})
}

// inserted re-reads a freshly inserted row: by its explicit key, by the
// driver's last insert id, or as the newest row by key.
func (m *Mutator) inserted(ctx context.Context, pk string, res sql.Result, values map[string]any) (dblib.Row, error) {
	if v, ok := values[pk]; ok && !isEmpty(v) {
		return m.load(ctx, pk, v)
	}
	if m.conn.SupportsLastInsertID() {
		if id, err := res.LastInsertId(); err == nil && id > 0 {
			return m.load(ctx, pk, id)
		}
	}
	query := fmt.Sprintf("SELECT * FROM %s ORDER BY %s DESC LIMIT 1", m.table(), m.quote(pk))
	row, err := m.conn.QueryRow(ctx, "load newest row", dblib.Statement{SQL: query})
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrNotFound
	}
	return row, nil
}

// Delete removes the row whose pkColumn equals pkValue and reports whether a
// row was affected.
func (m *Mutator) Delete(ctx context.Context, pkColumn string, pkValue any) (bool, error) {
	_, pk, err := m.target(ctx, pkColumn)
	if err != nil {
		return false, err
	}
	var p params
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", m.table(), m.quote(pk), p.add("pk", pkValue))
	res, err := m.conn.Exec(ctx, "delete row", dblib.Statement{SQL: query, Params: p})
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		m.logger.Info("row deleted", "table", m.cfg.table, "pk", pkValue)
	}
	return n > 0, nil
}

// Duplicate copies every column but the key into a new row. If the insert
// hits a unique constraint, string values of the table's unique columns get
// a " (copy)" or " (copy N)" suffix and the insert is retried once.
func (m *Mutator) Duplicate(ctx context.Context, pkColumn string, pkValue any) (dblib.Row, error) {
	schema, pk, err := m.target(ctx, pkColumn)
	if err != nil {
		return nil, err
	}
	source, err := m.load(ctx, pk, pkValue)
	if err != nil {
		return nil, err
	}
	data := map[string]any{}
	for _, col := range schema.Columns {
		if col.Name != pk {
			data[col.Name] = source[col.Name]
		}
	}

	res, err := m.insert(ctx, "duplicate row", schema, data)
	if err != nil {
		if !dblib.IsUniqueViolation(err) {
			return nil, err
		}
		if !m.makeUnique(ctx, data) {
			return nil, err
		}
		var retryErr error
		res, retryErr = m.insert(ctx, "duplicate row", schema, data)
		if retryErr != nil {
			m.logger.Warn("duplicate retry failed", "table", m.cfg.table, "err", retryErr)
			return nil, err
		}
	}
	m.logger.Info("row duplicated", "table", m.cfg.table, "source", pkValue)
	return m.inserted(ctx, pk, res, data)
}

// makeUnique rewrites the string values of unique columns in data and
// reports whether anything changed.
func (m *Mutator) makeUnique(ctx context.Context, data map[string]any) bool {
	uniques, err := m.in.UniqueColumns(ctx, m.cfg.table)
	if err != nil {
		m.logger.Warn("unique columns unavailable", "table", m.cfg.table, "err", err)
		return false
	}
	changed := false
	for _, col := range uniques {
		s, ok := data[col].(string)
		if !ok {
			continue
		}
		data[col] = m.nextCopy(ctx, col, s)
		changed = true
	}
	return changed
}

func (m *Mutator) nextCopy(ctx context.Context, column, value string) string {
	base := copySuffixRe.ReplaceAllString(value, "")
	var candidate string
	for n := 1; n <= maxCopyProbes; n++ {
		candidate = base + " (copy)"
		if n > 1 {
			candidate = fmt.Sprintf("%s (copy %d)", base, n)
		}
		taken, err := m.exists(ctx, column, candidate, "", nil)
		if err != nil || !taken {
			return candidate
		}
	}
	return candidate
}

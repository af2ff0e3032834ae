package grid

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"time"

	"sqlgrid/internal/dblib"
)

// Grid serves one Config over one connection: paged listing, field metadata
// and row mutations. Its schema and relation caches live as long as the Grid
// and are not safe for concurrent use.
type Grid struct {
	cfg        *Config
	conn       *dblib.Conn
	in         *dblib.Introspector
	compiler   *Compiler
	mutator    *Mutator
	relations  *RelationResolver
	transforms map[string]ColumnTransform
	logger     *slog.Logger
	clock      func() time.Time
}

// Option configures a Grid.
type Option func(*Grid)

// WithLogger routes degraded-path warnings to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Grid) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithTransforms registers the column transforms configs may refer to.
func WithTransforms(t map[string]ColumnTransform) Option {
	return func(g *Grid) {
		for name, fn := range t {
			g.transforms[name] = fn
		}
	}
}

// WithClock sets the time source of {now} and {today} templates.
func WithClock(now func() time.Time) Option {
	return func(g *Grid) { g.clock = now }
}

// New binds cfg to conn. A custom base query is checked to be a single
// SELECT before anything runs.
func New(conn *dblib.Conn, cfg *Config, opts ...Option) (*Grid, error) {
	if conn == nil {
		return nil, fmt.Errorf("grid: nil connection")
	}
	if cfg == nil {
		return nil, &ConfigError{Msg: "nil config"}
	}
	if cfg.query != "" {
		if err := dblib.ValidateBaseQuery(conn.Type(), cfg.query); err != nil {
			return nil, &ConfigError{Field: "query", Msg: err.Error()}
		}
	}

	g := &Grid{
		cfg:        cfg,
		conn:       conn,
		transforms: map[string]ColumnTransform{},
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.in = dblib.NewIntrospector(conn, g.logger)
	g.compiler = NewCompiler(cfg, g.in)
	g.mutator = NewMutator(cfg, g.in, g.logger)
	g.mutator.keyOf = g.compiler.PrimaryKey
	g.mutator.tpl = newTemplater(g.clock)
	g.relations = NewRelationResolver(conn, g.logger)
	return g, nil
}

func (g *Grid) Config() *Config     { return g.cfg }
func (g *Grid) Compiler() *Compiler { return g.compiler }
func (g *Grid) Conn() *dblib.Conn   { return g.conn }

// Schema returns the introspected schema of the grid's table.
func (g *Grid) Schema(ctx context.Context) *dblib.TableSchema {
	return g.in.GetSchema(ctx, g.cfg.table)
}

// ColumnNames returns the visibility-resolved display columns.
func (g *Grid) ColumnNames(ctx context.Context) []string {
	return g.compiler.ColumnNames(ctx)
}

// PageRequest selects one page of the grid. PageSize <= 0 returns every row.
type PageRequest struct {
	Page         int
	PageSize     int
	Search       string
	SearchColumn string
	Sort         []OrderSpec
}

type Pagination struct {
	CurrentPage int
	TotalPages  int
	TotalRows   int
	PerPage     int
}

// Summary is a computed aggregate. Value is nil when it could not be
// computed, and a fixed-precision string when a precision is configured.
type Summary struct {
	Column string
	Kind   AggregateKind
	Label  string
	Value  any
}

type Page struct {
	Rows       []dblib.Row
	Raw        RawValues
	Columns    []string
	Pagination Pagination
	Summaries  []Summary
}

// FetchPage counts the filtered rows, loads the requested page, resolves
// relations, applies transforms and computes summaries. Only the count and
// page queries can fail the call.
func (g *Grid) FetchPage(ctx context.Context, req PageRequest) (*Page, error) {
	base := Request{SearchTerm: req.Search, SearchColumn: req.SearchColumn, Sort: req.Sort}

	n, err := g.conn.Scalar(ctx, "count rows", g.compiler.Count(ctx, base))
	if err != nil {
		return nil, err
	}
	total := 0
	if f, ok := toFloat(n); ok {
		total = int(f)
	}

	pg := Pagination{CurrentPage: 1, TotalPages: 1, TotalRows: total, PerPage: req.PageSize}
	q := base
	if req.PageSize > 0 {
		pg.TotalPages = max(1, int(math.Ceil(float64(total)/float64(req.PageSize))))
		pg.CurrentPage = min(max(req.Page, 1), pg.TotalPages)
		q.Limit = req.PageSize
		q.Offset = (pg.CurrentPage - 1) * req.PageSize
	} else {
		pg.PerPage = total
	}

	rows, err := g.conn.Query(ctx, "select page", g.compiler.Select(ctx, q))
	if err != nil {
		return nil, err
	}
	raw := g.relations.Resolve(ctx, rows, g.cfg.relations)
	g.applyTransforms(rows)

	cols := g.compiler.ColumnNames(ctx)
	if len(cols) == 0 && len(rows) > 0 {
		for name := range rows[0] {
			cols = append(cols, name)
		}
		sort.Strings(cols)
	}

	return &Page{
		Rows:       rows,
		Raw:        raw,
		Columns:    cols,
		Pagination: pg,
		Summaries:  g.summaries(ctx, base),
	}, nil
}

func (g *Grid) applyTransforms(rows []dblib.Row) {
	for _, col := range sortedKeys(g.cfg.transforms) {
		name := g.cfg.transforms[col]
		t, ok := g.transforms[name]
		if !ok {
			g.logger.Warn("unknown column transform", "column", col, "transform", name)
			continue
		}
		for _, row := range rows {
			if v, ok := row[col]; ok {
				row[col] = t.Transform(v, row)
			}
		}
	}
}

func (g *Grid) summaries(ctx context.Context, req Request) []Summary {
	out := make([]Summary, 0, len(g.cfg.summaries))
	for _, spec := range g.cfg.summaries {
		s := Summary{Column: spec.Column, Kind: spec.Kind, Label: spec.Label}
		v, err := g.conn.Scalar(ctx, "summary", g.compiler.Aggregate(ctx, spec, req))
		if err != nil {
			g.logger.Warn("summary failed", "column", spec.Column, "kind", spec.Kind, "err", err)
		} else {
			s.Value = formatAggregate(v, spec.Precision)
		}
		out = append(out, s)
	}
	return out
}

func formatAggregate(v any, precision *int) any {
	if precision == nil || v == nil {
		return v
	}
	f, ok := toFloat(v)
	if !ok {
		return v
	}
	return strconv.FormatFloat(f, 'f', *precision, 64)
}

// Field describes one editable column for a form in a given mode.
type Field struct {
	Name     string
	Kind     dblib.FieldKind
	Step     string
	Default  any
	Params   map[string]any
	Key      bool
	Nullable bool
	Readonly bool
	Disabled bool
	Required int
	Pattern  string
	Unique   bool
	Relation bool
}

// Fields describes the visible base columns for mode. row is the record being
// edited, or nil; conditional behaviors only apply against a row.
func (g *Grid) Fields(ctx context.Context, mode Mode, row map[string]any) []Field {
	schema := g.in.GetSchema(ctx, g.cfg.table)
	pk := g.compiler.PrimaryKey(ctx)

	var names []string
	for _, name := range g.compiler.ColumnNames(ctx) {
		if schema.Has(name) {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		names = schema.Names()
	}

	fields := make([]Field, 0, len(names))
	for _, name := range names {
		col, _ := schema.Column(name)
		rule := g.cfg.behaviorFor(mode, name, row, schema)
		kind, step := g.cfg.fieldKind(mode, name, schema)
		f := Field{
			Name:     name,
			Kind:     kind,
			Step:     step,
			Key:      name == pk,
			Nullable: col.Nullable,
			Readonly: rule.Readonly,
			Disabled: rule.Disabled,
			Required: rule.ValidationRequired,
			Pattern:  rule.ValidationPattern,
			Unique:   rule.Unique,
		}
		if _, ok := g.cfg.Relation(name); ok {
			f.Relation = true
			f.Kind = dblib.KindSelect
		}
		if rule.ChangeType != nil {
			f.Kind = rule.ChangeType.Kind
			f.Default = rule.ChangeType.Default
			f.Params = rule.ChangeType.Params
		}
		fields = append(fields, f)
	}
	return fields
}

// RelationOptions lists the selectable keys of the relation on field.
func (g *Grid) RelationOptions(ctx context.Context, field string) ([]RelationOption, error) {
	spec, ok := g.cfg.Relation(field)
	if !ok {
		return nil, &ConfigError{Field: "relations", Msg: fmt.Sprintf("no relation on %s", field)}
	}
	return g.relations.Options(ctx, spec)
}

func (g *Grid) Update(ctx context.Context, pkColumn string, pkValue any, fields map[string]any, mode Mode) (dblib.Row, error) {
	return g.mutator.Update(ctx, pkColumn, pkValue, fields, mode)
}

func (g *Grid) Create(ctx context.Context, fields map[string]any) (dblib.Row, error) {
	return g.mutator.Create(ctx, fields)
}

func (g *Grid) Delete(ctx context.Context, pkColumn string, pkValue any) (bool, error) {
	return g.mutator.Delete(ctx, pkColumn, pkValue)
}

func (g *Grid) Duplicate(ctx context.Context, pkColumn string, pkValue any) (dblib.Row, error) {
	return g.mutator.Duplicate(ctx, pkColumn, pkValue)
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"sqlgrid/internal/dblib"
	"sqlgrid/internal/grid"
)

var version = "dev"

func main() {
	InitBreadcrumbs(100)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	FlushAndShutdown()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// run executes one CLI invocation and reports a failure to Sentry.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{}
	defer a.close()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if _, invalid := grid.AsValidationError(err); err != nil && !invalid {
		CaptureError(err, a.command)
	}
	return err
}

// app carries the state shared by every subcommand of one invocation.
type app struct {
	settings *Settings
	logger   *slog.Logger
	command  string
	db       *sql.DB
	conn     *dblib.Conn
}

func (a *app) close() {
	if a.db != nil {
		a.db.Close()
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "sqlgrid",
		Short: "sqlgrid compiles grid definitions into SQL and runs them",
		Long: `sqlgrid turns a declarative grid definition (table, filters, joins,
relations, search, sort, summaries and field behaviors) into SQL for
MySQL, PostgreSQL or SQLite, and reads or edits the rows it describes.

Examples:
  sqlgrid -d app.db --table users page --search alice
  sqlgrid -d shop -f orders.yaml fields --mode create
  sqlgrid -d app.db -f posts.yaml update --pk 5 --set title="Hello"`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	pf := root.PersistentFlags()
	pf.BoolP("help", "", false, "help for sqlgrid")
	pf.String("driver", "", "Database driver: sqlite3, postgres or mysql (detected when empty)")
	pf.StringP("database", "d", "", "Database name or SQLite file")
	pf.StringP("host", "h", "", "Database host")
	pf.StringP("port", "p", "", "Database port")
	pf.StringP("username", "U", "", "Database username")
	pf.StringP("password", "W", "", "Database password")
	pf.StringP("definition", "f", "", "Grid definition YAML file")
	pf.StringP("table", "t", "", "Table to browse with a default definition")
	pf.String("state", "", "Opaque state token produced by the state command")
	pf.StringP("output", "o", "table", "Output format: table or json")
	pf.Int("page-size", 25, "Rows per page; 0 returns every row")
	pf.String("sentry-dsn", "", "Report failures to this Sentry DSN")
	pf.BoolP("verbose", "v", false, "Log debug output to stderr")

	root.AddCommand(
		newPageCmd(a),
		newColumnsCmd(a),
		newFieldsCmd(a),
		newSchemaCmd(a),
		newOptionsCmd(a),
		newUpdateCmd(a),
		newCreateCmd(a),
		newDeleteCmd(a),
		newDuplicateCmd(a),
		newStateCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	a.command = cmd.Name()
	breadcrumbs.RecordCommand(cmd.CommandPath(), args)

	settings, err := LoadSettings(cmd.Flags())
	if err != nil {
		return err
	}
	a.settings = settings

	level := slog.LevelWarn
	if settings.Verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	if settings.SentryDSN != "" {
		if err := InitSentry(settings.SentryDSN, version); err != nil {
			a.logger.Warn("error reporting disabled", "error", err)
		}
	}
	return nil
}

// definition resolves the grid definition from --state, --definition or
// --table, in that order.
func (a *app) definition() (*grid.Config, error) {
	switch {
	case a.settings.State != "":
		return grid.DecodeState(a.settings.State)
	case a.settings.Definition != "":
		f, err := os.Open(a.settings.Definition)
		if err != nil {
			return nil, fmt.Errorf("could not open definition: %w", err)
		}
		defer f.Close()
		return grid.LoadDefinition(f)
	case a.settings.Table != "":
		return grid.NewBuilder(a.settings.Table).Build()
	default:
		return nil, errors.New("a grid definition is required: use --definition, --table or --state")
	}
}

func (a *app) grid(ctx context.Context) (*grid.Grid, error) {
	cfg, err := a.definition()
	if err != nil {
		return nil, err
	}
	if a.conn == nil {
		if a.settings.Connection.Database == "" {
			return nil, errors.New("must specify a database with --database")
		}
		db, conn, err := openConnection(ctx, a.settings.Connection)
		if err != nil {
			return nil, err
		}
		a.db, a.conn = db, conn
		a.logger.Debug("connected", "dialect", conn.Type().String())
	}
	return grid.New(a.conn, cfg,
		grid.WithLogger(a.logger),
		grid.WithTransforms(builtinTransforms),
	)
}

func (a *app) jsonOutput() bool {
	return strings.EqualFold(a.settings.Output, "json")
}

// parseAssignments turns repeated key=value flags into a field map.
func parseAssignments(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid assignment %q: expected column=value", pair)
		}
		out[key] = value
	}
	return out, nil
}

func parseMode(s string) (grid.Mode, error) {
	switch m := grid.Mode(strings.ToLower(s)); m {
	case grid.ModeCreate, grid.ModeEdit, grid.ModeView, grid.ModeAll:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// printError renders a validation failure field by field.
func printError(w io.Writer, err error) error {
	if ve, ok := grid.AsValidationError(err); ok {
		for _, field := range slices.Sorted(maps.Keys(ve.Fields)) {
			fmt.Fprintf(w, "%s: %s\n", field, ve.Fields[field])
		}
	}
	return err
}

func newPageCmd(a *app) *cobra.Command {
	var (
		req   grid.PageRequest
		sorts []string
	)
	cmd := &cobra.Command{
		Use:   "page",
		Short: "Print one page of rows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.grid(cmd.Context())
			if err != nil {
				return err
			}
			req.PageSize = a.settings.PageSize
			for _, sort := range sorts {
				col, dir, _ := strings.Cut(sort, ":")
				req.Sort = append(req.Sort, grid.OrderSpec{Column: col, Direction: dir})
			}
			page, err := g.FetchPage(cmd.Context(), req)
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), page)
			}
			return renderPage(cmd.OutOrStdout(), page)
		},
	}
	cmd.Flags().IntVarP(&req.Page, "page", "n", 1, "Page number, starting at 1")
	cmd.Flags().StringVarP(&req.Search, "search", "s", "", "Search term")
	cmd.Flags().StringVar(&req.SearchColumn, "column", "", "Restrict the search to one column")
	cmd.Flags().StringArrayVar(&sorts, "sort", nil, "Sort by column, optionally column:desc (repeatable)")
	return cmd
}

func newColumnsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "columns",
		Short: "List the visible columns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.grid(cmd.Context())
			if err != nil {
				return err
			}
			cols := g.ColumnNames(cmd.Context())
			if a.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), cols)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), strings.Join(cols, "\n"))
			return err
		},
	}
}

func newFieldsCmd(a *app) *cobra.Command {
	var (
		mode string
		sets []string
	)
	cmd := &cobra.Command{
		Use:   "fields",
		Short: "Describe the form fields for a mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := parseMode(mode)
			if err != nil {
				return err
			}
			row, err := parseAssignments(sets)
			if err != nil {
				return err
			}
			if len(row) == 0 {
				row = nil
			}
			g, err := a.grid(cmd.Context())
			if err != nil {
				return err
			}
			fields := g.Fields(cmd.Context(), m, row)
			if a.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), fields)
			}
			return renderFields(cmd.OutOrStdout(), fields)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(grid.ModeEdit), "Form mode: create, edit or view")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Row value used by conditional behaviors (column=value)")
	return cmd
}

func newSchemaCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the base table's column metadata",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.grid(cmd.Context())
			if err != nil {
				return err
			}
			schema := g.Schema(cmd.Context())
			if schema.Empty() {
				return fmt.Errorf("table %s not found", g.Config().Table())
			}
			if a.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), schema.Columns)
			}
			return renderSchema(cmd.OutOrStdout(), schema)
		},
	}
}

func newOptionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "options FIELD",
		Short: "List the selectable keys of a relation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.grid(cmd.Context())
			if err != nil {
				return err
			}
			opts, err := g.RelationOptions(cmd.Context(), args[0])
			if grid.IsConfigError(err) {
				var fields []string
				for _, r := range g.Config().Relations() {
					fields = append(fields, r.LocalField)
				}
				return withSuggestion(err, args[0], fields)
			}
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), opts)
			}
			rows := make([][]string, len(opts))
			for i, o := range opts {
				rows[i] = []string{formatCell(o.Key), o.Label}
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"key", "label"}, rows))
			return err
		},
	}
}

// keyFlags are the flags selecting one row by key.
type keyFlags struct {
	column string
	value  string
}

func (k *keyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&k.column, "pk-column", "", "Key column (defaults to the table's primary key)")
	cmd.Flags().StringVar(&k.value, "pk", "", "Key value of the row")
	_ = cmd.MarkFlagRequired("pk")
}

func (a *app) printRow(w io.Writer, row dblib.Row) error {
	if a.jsonOutput() {
		return writeJSON(w, row)
	}
	return renderRow(w, row)
}

func newUpdateCmd(a *app) *cobra.Command {
	var (
		key  keyFlags
		mode string
		sets []string
	)
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update one row",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := parseMode(mode)
			if err != nil {
				return err
			}
			fields, err := parseAssignments(sets)
			if err != nil {
				return err
			}
			g, err := a.grid(cmd.Context())
			if err != nil {
				return err
			}
			row, err := g.Update(cmd.Context(), key.column, key.value, fields, m)
			if err != nil {
				return printError(cmd.ErrOrStderr(), err)
			}
			return a.printRow(cmd.OutOrStdout(), row)
		},
	}
	key.register(cmd)
	cmd.Flags().StringVar(&mode, "mode", string(grid.ModeEdit), "Behavior mode")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Field value to write (column=value)")
	return cmd
}

func newCreateCmd(a *app) *cobra.Command {
	var sets []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Insert one row",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseAssignments(sets)
			if err != nil {
				return err
			}
			g, err := a.grid(cmd.Context())
			if err != nil {
				return err
			}
			row, err := g.Create(cmd.Context(), fields)
			if err != nil {
				return printError(cmd.ErrOrStderr(), err)
			}
			return a.printRow(cmd.OutOrStdout(), row)
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Field value to insert (column=value)")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	var key keyFlags
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete one row",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.grid(cmd.Context())
			if err != nil {
				return err
			}
			deleted, err := g.Delete(cmd.Context(), key.column, key.value)
			if err != nil {
				return err
			}
			if !deleted {
				return fmt.Errorf("no row with key %s", key.value)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "deleted")
			return err
		},
	}
	key.register(cmd)
	return cmd
}

func newDuplicateCmd(a *app) *cobra.Command {
	var key keyFlags
	cmd := &cobra.Command{
		Use:   "duplicate",
		Short: "Copy one row, renaming unique values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.grid(cmd.Context())
			if err != nil {
				return err
			}
			row, err := g.Duplicate(cmd.Context(), key.column, key.value)
			if err != nil {
				return err
			}
			return a.printRow(cmd.OutOrStdout(), row)
		},
	}
	key.register(cmd)
	return cmd
}

func newStateCmd(a *app) *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Print the definition as an opaque state token",
		Long: `state encodes the resolved grid definition as a compact token that can be
passed back with --state. With --yaml it prints the definition document instead,
which also decodes a token given with --state.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.definition()
			if err != nil {
				return err
			}
			if asYAML {
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(grid.ToPayload(cfg)); err != nil {
					return err
				}
				return enc.Close()
			}
			token, err := grid.EncodeState(cfg)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Print the definition as YAML")
	return cmd
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"sqlgrid/internal/dblib"
	"sqlgrid/internal/grid"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	nullStyle   = cellStyle.Foreground(lipgloss.Color("8"))
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

const nullText = "NULL"

// formatCell renders a cell value the way the editor shows it.
func formatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return nullText
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.Format("2006-01-02 15:04:05")
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

// renderTable draws headers and rows as a bordered terminal table. Cells
// holding NULL are dimmed.
func renderTable(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if row >= 0 && row < len(rows) && col < len(rows[row]) && rows[row][col] == nullText {
				return nullStyle
			}
			return cellStyle
		})
	return t.Render()
}

func renderPage(w io.Writer, page *grid.Page) error {
	rows := make([][]string, len(page.Rows))
	for i, row := range page.Rows {
		cells := make([]string, len(page.Columns))
		for j, col := range page.Columns {
			cells[j] = formatCell(row[col])
		}
		rows[i] = cells
	}

	var b strings.Builder
	b.WriteString(renderTable(page.Columns, rows))
	b.WriteByte('\n')

	p := page.Pagination
	b.WriteString(footerStyle.Render(fmt.Sprintf("page %d of %d, %d rows", p.CurrentPage, p.TotalPages, p.TotalRows)))
	b.WriteByte('\n')
	for _, s := range page.Summaries {
		label := s.Label
		if label == "" {
			label = fmt.Sprintf("%s(%s)", s.Kind, s.Column)
		}
		fmt.Fprintf(&b, "%s: %s\n", label, formatCell(s.Value))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func renderFields(w io.Writer, fields []grid.Field) error {
	rows := make([][]string, len(fields))
	for i, f := range fields {
		var flags []string
		for _, flag := range []struct {
			on   bool
			name string
		}{
			{f.Key, "key"},
			{f.Nullable, "nullable"},
			{f.Readonly, "readonly"},
			{f.Disabled, "disabled"},
			{f.Unique, "unique"},
		} {
			if flag.on {
				flags = append(flags, flag.name)
			}
		}
		required := ""
		if f.Required > 0 {
			required = strconv.Itoa(f.Required)
		}
		def := ""
		if f.Default != nil {
			def = formatCell(f.Default)
		}
		rows[i] = []string{f.Name, string(f.Kind), f.Step, def, required, f.Pattern, strings.Join(flags, ",")}
	}
	_, err := fmt.Fprintln(w, renderTable([]string{"field", "kind", "step", "default", "required", "pattern", "flags"}, rows))
	return err
}

func renderSchema(w io.Writer, schema *dblib.TableSchema) error {
	rows := make([][]string, 0, len(schema.Columns))
	for _, col := range schema.Columns {
		kind, _ := dblib.MapTypeToFieldKind(col.RawType)
		rows = append(rows, []string{col.Name, col.RawType, col.NormalizedType, strconv.FormatBool(col.Nullable), string(kind)})
	}
	_, err := fmt.Fprintln(w, renderTable([]string{"column", "type", "normalized", "nullable", "kind"}, rows))
	return err
}

func renderRow(w io.Writer, row dblib.Row) error {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	rows := make([][]string, len(keys))
	for i, k := range keys {
		rows[i] = []string{k, formatCell(row[k])}
	}
	_, err := fmt.Fprintln(w, renderTable([]string{"column", "value"}, rows))
	return err
}

// writeJSON prints v as indented JSON for scripting.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// builtinTransforms are the display transforms a definition can name.
var builtinTransforms = map[string]grid.ColumnTransform{
	"upper": grid.TransformFunc(func(v any, _ dblib.Row) any {
		if v == nil {
			return nil
		}
		return strings.ToUpper(formatCell(v))
	}),
	"lower": grid.TransformFunc(func(v any, _ dblib.Row) any {
		if v == nil {
			return nil
		}
		return strings.ToLower(formatCell(v))
	}),
	"mask": grid.TransformFunc(func(v any, _ dblib.Row) any {
		if v == nil {
			return nil
		}
		return maskValue(formatCell(v))
	}),
}

// maskValue keeps the first character and any e-mail domain.
func maskValue(s string) string {
	local, domain, isEmail := strings.Cut(s, "@")
	if local == "" {
		return s
	}
	masked := local[:1] + strings.Repeat("*", len(local)-1)
	if isEmail {
		return masked + "@" + domain
	}
	return masked
}

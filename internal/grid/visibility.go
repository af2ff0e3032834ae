package grid

import (
	"strings"
)

const aliasSep = "__"

// NormalizeColumn maps a qualified reference to its display name:
// "main.email" -> "email", "j0.name" -> "j0__name". Other names pass through.
func NormalizeColumn(name string) string {
	alias, col, ok := strings.Cut(name, ".")
	if !ok || strings.Contains(col, ".") {
		return name
	}
	if alias == "main" {
		return col
	}
	return alias + aliasSep + col
}

// QualifyColumn is the inverse of NormalizeColumn for join-derived names:
// "j0__name" -> ("j0", "name"). Base columns report alias "main".
func QualifyColumn(name string) (alias, column string) {
	if a, c, ok := strings.Cut(name, aliasSep); ok && a != "" && c != "" {
		return a, c
	}
	if a, c, ok := strings.Cut(name, "."); ok {
		return a, c
	}
	return "main", name
}

// ResolveVisibleColumns orders available according to the visibility list.
// With reverse the list is a deny-list. An allow-list may contain "*", which
// expands to every column not yet added. The result is never empty when
// available is not.
func ResolveVisibleColumns(available, configured []string, reverse bool) []string {
	if len(configured) == 0 {
		return append([]string(nil), available...)
	}

	present := make(map[string]bool, len(available))
	for _, c := range available {
		present[c] = true
	}

	if reverse {
		hidden := make(map[string]bool, len(configured))
		for _, c := range configured {
			hidden[NormalizeColumn(c)] = true
		}
		out := make([]string, 0, len(available))
		for _, c := range available {
			if !hidden[c] {
				out = append(out, c)
			}
		}
		if len(out) == 0 {
			return append([]string(nil), available...)
		}
		return out
	}

	added := make(map[string]bool, len(available))
	out := make([]string, 0, len(available))
	for _, c := range configured {
		if c == "*" {
			for _, a := range available {
				if !added[a] {
					added[a] = true
					out = append(out, a)
				}
			}
			continue
		}
		name := NormalizeColumn(c)
		if present[name] && !added[name] {
			added[name] = true
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), available...)
	}
	return out
}

// IsSortable reports whether column may appear in ORDER BY.
func IsSortable(column string, disabled map[string]bool) bool {
	return !disabled[NormalizeColumn(column)]
}

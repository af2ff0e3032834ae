package grid

import (
	"fmt"
	"strconv"
	"strings"

	"sqlgrid/internal/dblib"
)

// toDBValue converts an incoming value to the Go type the column expects.
// Strings are parsed for boolean and numeric columns; an empty string in a
// nullable non-text column becomes NULL. Anything unparseable is passed
// through for the database to judge.
func toDBValue(col dblib.ColumnSchema, v any) any {
	raw, ok := v.(string)
	if !ok {
		return v
	}
	kind, _ := dblib.MapTypeToFieldKind(col.RawType)
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" && col.Nullable && kind != dblib.KindNone && kind != dblib.KindTextarea {
		return nil
	}
	switch kind {
	case dblib.KindBoolean:
		if b, ok := parseBool(trimmed); ok {
			return b
		}
	case dblib.KindNumber:
		if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return f
		}
	}
	return raw
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "t", "yes", "y", "on":
		return true, true
	case "0", "false", "f", "no", "n", "off", "":
		return false, true
	}
	return false, false
}

// isEmpty reports whether v counts as "not filled in".
func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// valueString renders v for length and pattern checks.
func valueString(v any) string {
	if v == nil {
		return ""
	}
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprint(v)
}

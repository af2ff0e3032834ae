package grid

import (
	"strconv"
	"strings"

	"sqlgrid/internal/dblib"
)

// Equal compares a stored value against a configured one under the rules of
// kind. Booleans and numbers are parsed on both sides; everything else is
// compared as its string form. nil equals nil and the empty string.
func Equal(kind dblib.FieldKind, a, b any) bool {
	switch kind {
	case dblib.KindBoolean:
		ab, aok := toBool(a)
		bb, bok := toBool(b)
		if aok && bok {
			return ab == bb
		}
	case dblib.KindNumber:
		af, aok := toFloat(a)
		bf, bok := toFloat(b)
		if aok && bok {
			return af == bf
		}
	}
	return valueString(a) == valueString(b)
}

func toBool(v any) (bool, bool) {
	switch t := v.(type) {
	case nil:
		return false, true
	case bool:
		return t, true
	case string:
		return parseBool(t)
	}
	if f, ok := toFloat(v); ok {
		return f != 0, true
	}
	return false, false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(t)), 64)
		return f, err == nil
	}
	return 0, false
}

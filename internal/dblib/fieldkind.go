package dblib

import (
	"strings"
)

var numericTypes = map[string]bool{
	"int": true, "integer": true, "smallint": true, "tinyint": true, "mediumint": true,
	"bigint": true, "decimal": true, "numeric": true, "float": true, "double": true,
	"real": true, "serial": true, "bigserial": true, "smallserial": true, "money": true,
	"year": true, "int2": true, "int4": true, "int8": true, "float4": true, "float8": true,
}

var continuousTypes = map[string]bool{
	"decimal": true, "numeric": true, "float": true, "double": true, "real": true, "money": true,
	"float4": true, "float8": true,
}

var unsearchableTypes = map[string]bool{
	// binary
	"binary": true, "varbinary": true, "blob": true, "tinyblob": true, "mediumblob": true,
	"longblob": true, "bytea": true, "bit": true, "varbit": true,
	// json
	"json": true, "jsonb": true,
	// geometry
	"geometry": true, "geography": true, "point": true, "linestring": true, "polygon": true,
	"multipoint": true, "multilinestring": true, "multipolygon": true, "geometrycollection": true,
}

// MapTypeToFieldKind infers the editor field kind from a raw database type.
// The second result is the numeric step hint: "any" for continuous numbers,
// "1" for integers and empty otherwise. KindNone means no specific mapping;
// callers treat it as plain text.
func MapTypeToFieldKind(rawType string) (FieldKind, string) {
	raw := strings.ToLower(strings.TrimSpace(rawType))
	if raw == "" {
		return KindNone, ""
	}
	compact := strings.ReplaceAll(raw, " ", "")
	if strings.HasPrefix(compact, "tinyint(1)") || strings.HasPrefix(compact, "bit(1)") {
		return KindBoolean, ""
	}

	tokens := strings.Fields(NormalizeType(raw))
	has := func(names ...string) bool {
		for _, tok := range tokens {
			for _, n := range names {
				if tok == n {
					return true
				}
			}
		}
		return false
	}

	switch {
	case has("bool", "boolean"):
		return KindBoolean, ""
	case has("json", "jsonb"):
		return KindJSON, ""
	case has("xml") || hasSuffixToken(tokens, "text"):
		return KindTextarea, ""
	case has("timestamp", "datetime", "timestamptz"):
		return KindDatetime, ""
	case has("date"):
		return KindDate, ""
	case has("time", "timetz"):
		return KindTime, ""
	}

	for _, tok := range tokens {
		if numericTypes[tok] {
			if continuousTypes[tok] {
				return KindNumber, "any"
			}
			return KindNumber, "1"
		}
	}
	return KindNone, ""
}

func hasSuffixToken(tokens []string, suffix string) bool {
	for _, tok := range tokens {
		if strings.HasSuffix(tok, suffix) {
			return true
		}
	}
	return false
}

// IsSearchableType reports whether a LIKE search against a column of the given
// type makes sense. Binary, JSON and geometry families are excluded.
func IsSearchableType(rawType string) bool {
	for _, tok := range strings.Fields(NormalizeType(rawType)) {
		if unsearchableTypes[tok] {
			return false
		}
	}
	return true
}

package dblib

import (
	"regexp"
	"strings"
)

var identifierRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// IsValidIdentifier reports whether s is a bare table or column name.
func IsValidIdentifier(s string) bool {
	return s != "" && len(s) <= 128 && identifierRe.MatchString(s)
}

// QuoteIdent safely quotes an identifier (table/column) for the target DB.
// Attempts to minimize quoting by returning the identifier unquoted when it is
// obviously safe to do so:
// - comprised of lowercase letters, digits, and underscores
// - does not start with a digit
// - not a common SQL reserved keyword
// Otherwise it applies database-appropriate quoting with escaping. An
// identifier that already carries quotes is returned unchanged.
func QuoteIdent(dbType DatabaseType, ident string) string {
	if isQuoted(ident) {
		return ident
	}
	// Fast-path: return plain if it's clearly safe to be unquoted
	if isSafeUnquotedIdent(ident) {
		return ident
	}

	q := string(featuresOf(dbType).quote)
	escaped := strings.ReplaceAll(ident, q, q+q)
	return q + escaped + q
}

// QuoteQualified splits on '.' and quotes each identifier part independently.
// Expressions containing whitespace or parentheses are raw SQL fragments and
// pass through untouched; callers own their safety.
func QuoteQualified(dbType DatabaseType, qualified string) string {
	if IsRawExpression(qualified) {
		return qualified
	}
	parts := strings.Split(qualified, ".")
	for i, p := range parts {
		parts[i] = QuoteIdent(dbType, p)
	}
	return strings.Join(parts, ".")
}

// IsRawExpression reports whether s is a free-form SQL fragment rather than a
// (possibly qualified) identifier.
func IsRawExpression(s string) bool {
	return strings.ContainsAny(s, " \t\r\n()")
}

func isQuoted(ident string) bool {
	if len(ident) < 2 {
		return false
	}
	first, last := ident[0], ident[len(ident)-1]
	return first == last && (first == '"' || first == '`')
}

// isSafeUnquotedIdent returns true if ident can be used without quotes in a
// portable way across supported databases (lowercase [a-z_][a-z0-9_]* and not a
// common reserved keyword).
func isSafeUnquotedIdent(ident string) bool {
	if ident == "" {
		return false
	}
	// First char must be lowercase letter or underscore
	c0 := ident[0]
	if !((c0 >= 'a' && c0 <= 'z') || c0 == '_') {
		return false
	}
	// Remaining chars must be lowercase letters, digits, or underscore
	for i := 1; i < len(ident); i++ {
		c := ident[i]
		if !((c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_') {
			return false
		}
	}
	// Avoid common reserved keywords
	if _, ok := commonReservedIdents[ident]; ok {
		return false
	}
	return true
}

// Small, conservative set of common SQL reserved keywords to avoid unquoted.
var commonReservedIdents = map[string]struct{}{
	// DML/DDL
	"select": {}, "insert": {}, "update": {}, "delete": {}, "into": {}, "values": {},
	"create": {}, "alter": {}, "drop": {}, "table": {}, "index": {}, "view": {},
	// Clauses
	"from": {}, "where": {}, "group": {}, "order": {}, "by": {}, "having": {},
	"limit": {}, "offset": {}, "join": {}, "inner": {}, "left": {}, "right": {}, "full": {}, "outer": {},
	// Operators/Predicates
	"and": {}, "or": {}, "not": {}, "in": {}, "is": {}, "like": {}, "between": {}, "exists": {},
	// Literals
	"null": {}, "true": {}, "false": {},
	// Misc
	"as": {}, "on": {}, "key": {}, "user": {}, "default": {}, "column": {},
}

var (
	typeParensRe = regexp.MustCompile(`\([^)]*\)`)
	spaceRe      = regexp.MustCompile(`\s+`)
)

// NormalizeType lowercases a raw column type, strips size/precision
// parentheses and the unsigned/zerofill qualifiers, and collapses whitespace.
//
//	"DECIMAL(10, 2) UNSIGNED" -> "decimal"
//	"character varying(255)"  -> "character varying"
func NormalizeType(raw string) string {
	t := strings.ToLower(raw)
	t = typeParensRe.ReplaceAllString(t, " ")
	fields := strings.Fields(t)
	kept := fields[:0]
	for _, f := range fields {
		if f == "unsigned" || f == "zerofill" {
			continue
		}
		kept = append(kept, f)
	}
	return spaceRe.ReplaceAllString(strings.Join(kept, " "), " ")
}

package grid

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"sqlgrid/internal/dblib"
)

// compilePattern turns a validation pattern into a regexp. "/body/flags"
// patterns keep their own anchoring and honor the i, m and s flags; bare
// patterns must match the whole value. An invalid pattern yields nil, which
// means no constraint.
func compilePattern(pattern string) *regexp.Regexp {
	if pattern == "" {
		return nil
	}
	expr := "^(?:" + pattern + ")$"
	if len(pattern) > 2 && pattern[0] == '/' {
		if end := strings.LastIndexByte(pattern, '/'); end > 0 {
			flags := ""
			for _, f := range pattern[end+1:] {
				if f == 'i' || f == 'm' || f == 's' {
					flags += string(f)
				}
			}
			expr = pattern[1:end]
			if flags != "" {
				expr = "(?" + flags + ")" + expr
			}
		}
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil
	}
	return re
}

// validate runs required, pattern and unique checks over values and
// collects every failure. With checkAll, fields absent from values are
// validated as empty. pkValue nil means the row does not exist yet.
func (m *Mutator) validate(ctx context.Context, values map[string]any, rules map[string]Behavior, pk string, pkValue any, checkAll bool) error {
	fields := make([]string, 0, len(rules))
	for f := range rules {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	failures := map[string]string{}
	for _, field := range fields {
		rule := rules[field]
		v, present := values[field]
		if !present && !checkAll {
			continue
		}

		if rule.ValidationRequired > 0 {
			n := utf8.RuneCountInString(strings.TrimSpace(valueString(v)))
			if n < rule.ValidationRequired {
				if rule.ValidationRequired == 1 {
					failures[field] = "is required"
				} else {
					failures[field] = fmt.Sprintf("must be at least %d characters", rule.ValidationRequired)
				}
				continue
			}
		}
		if isEmpty(v) {
			continue
		}
		if re := compilePattern(rule.ValidationPattern); re != nil && !re.MatchString(valueString(v)) {
			failures[field] = "has an invalid format"
			continue
		}
		if rule.Unique {
			taken, err := m.exists(ctx, field, v, pk, pkValue)
			if err != nil {
				return err
			}
			if taken {
				failures[field] = "must be unique"
			}
		}
	}
	if len(failures) > 0 {
		return &ValidationError{Fields: failures}
	}
	return nil
}

// exists reports whether another row already holds value in column.
func (m *Mutator) exists(ctx context.Context, column string, value any, pk string, pkValue any) (bool, error) {
	var p params
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = %s", m.table(), m.quote(column), p.add("v", value))
	if pkValue != nil {
		query += fmt.Sprintf(" AND %s <> %s", m.quote(pk), p.add("pk", pkValue))
	}
	n, err := m.conn.Scalar(ctx, "unique check", dblib.Statement{SQL: query, Params: p})
	if err != nil {
		return false, err
	}
	count, _ := toFloat(n)
	return count > 0, nil
}

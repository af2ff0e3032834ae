package dblib

import (
	"fmt"
	"strings"
)

// Param is a named bind value. Statement SQL refers to it as :Name.
type Param struct {
	Name  string
	Value any
}

// Statement is a compiled, dialect-neutral SQL statement. Values never appear
// in SQL; they are carried in Params and bound at execution time.
type Statement struct {
	SQL    string
	Params []Param
}

// Value returns the value bound to name.
func (s Statement) Value(name string) (any, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return nil, false
}

// Bind rewrites :name placeholders into the driver placeholder style of the
// target dialect and returns the positional argument list. Quoted literals,
// quoted identifiers and :: casts are left alone, as are :words that do not
// name a parameter.
func (s Statement) Bind(dbType DatabaseType) (string, []any) {
	if len(s.Params) == 0 {
		return s.SQL, nil
	}
	values := make(map[string]any, len(s.Params))
	for _, p := range s.Params {
		values[p.Name] = p.Value
	}
	positional := featuresOf(dbType).positionalPlaceholder

	var b strings.Builder
	b.Grow(len(s.SQL))
	args := make([]any, 0, len(s.Params))
	src := s.SQL
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch c {
		case '\'', '"', '`':
			end := skipQuoted(src, i)
			b.WriteString(src[i:end])
			i = end - 1
		case ':':
			if i+1 < len(src) && src[i+1] == ':' {
				b.WriteString("::")
				i++
				continue
			}
			j := i + 1
			for j < len(src) && isIdentByte(src[j]) {
				j++
			}
			name := src[i+1 : j]
			v, ok := values[name]
			if name == "" || !ok {
				b.WriteByte(c)
				continue
			}
			args = append(args, v)
			if positional {
				fmt.Fprintf(&b, "$%d", len(args))
			} else {
				b.WriteByte('?')
			}
			i = j - 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), args
}

// skipQuoted returns the index just past the quoted run starting at start.
// Doubled quote characters are treated as escapes.
func skipQuoted(src string, start int) int {
	q := src[start]
	for i := start + 1; i < len(src); i++ {
		if src[i] != q {
			continue
		}
		if i+1 < len(src) && src[i+1] == q {
			i++
			continue
		}
		return i + 1
	}
	return len(src)
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

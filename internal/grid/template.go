package grid

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

var templateTokenRe = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// templater expands {column}, {now}, {today} and {uuid} in behavior values.
type templater struct {
	now   func() time.Time
	newID func() string
}

func newTemplater(clock func() time.Time) templater {
	if clock == nil {
		clock = time.Now
	}
	return templater{now: clock, newID: func() string { return uuid.NewString() }}
}

// render expands v against row. Non-string values pass through. A value that
// is exactly one {column} token keeps the column value's type. Unknown tokens
// are left in place.
func (t templater) render(v any, row map[string]any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if m := templateTokenRe.FindStringSubmatch(s); m != nil && m[0] == s {
		if val, ok := row[m[1]]; ok {
			return val
		}
	}
	return templateTokenRe.ReplaceAllStringFunc(s, func(tok string) string {
		name := tok[1 : len(tok)-1]
		switch name {
		case "now":
			return t.now().Format("2006-01-02 15:04:05")
		case "today":
			return t.now().Format("2006-01-02")
		case "uuid":
			return t.newID()
		}
		if val, ok := row[name]; ok {
			return valueString(val)
		}
		return tok
	})
}

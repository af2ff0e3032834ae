package grid

import (
	"sqlgrid/internal/dblib"
)

// fieldKind returns the effective kind of field in mode and its numeric step
// hint: an explicit ChangeType wins over the kind inferred from the column
// type, and plain text is the default.
func (c *Config) fieldKind(mode Mode, field string, schema *dblib.TableSchema) (dblib.FieldKind, string) {
	var kind dblib.FieldKind
	var step string
	if col, ok := schema.Column(field); ok {
		kind, step = dblib.MapTypeToFieldKind(col.RawType)
	}
	for _, m := range []Mode{ModeAll, mode} {
		if b, ok := c.behaviors[m][field]; ok && b.ChangeType != nil {
			kind = b.ChangeType.Kind
		}
	}
	if kind == dblib.KindNone {
		kind = dblib.KindText
	}
	return kind, step
}

func (c *Config) whenMatches(mode Mode, w *When, row map[string]any, schema *dblib.TableSchema) bool {
	if row == nil {
		return false
	}
	v, ok := row[w.Field]
	if !ok {
		return false
	}
	kind, _ := c.fieldKind(mode, w.Field, schema)
	return Equal(kind, v, w.Value)
}

// behaviorFor merges the ModeAll rule of field with the rule for mode.
// Conditional rules apply only when row satisfies them.
func (c *Config) behaviorFor(mode Mode, field string, row map[string]any, schema *dblib.TableSchema) Behavior {
	modes := []Mode{ModeAll}
	if mode != ModeAll {
		modes = append(modes, mode)
	}
	var out Behavior
	for _, m := range modes {
		b, ok := c.behaviors[m][field]
		if !ok {
			continue
		}
		if b.When != nil && !c.whenMatches(mode, b.When, row, schema) {
			continue
		}
		out = out.overlay(b)
	}
	out.When = nil
	return out
}

// rules returns the effective behavior of every field that has one in mode.
func (c *Config) rules(mode Mode, row map[string]any, schema *dblib.TableSchema) map[string]Behavior {
	out := map[string]Behavior{}
	for _, m := range []Mode{ModeAll, mode} {
		for field := range c.behaviors[m] {
			if _, done := out[field]; !done {
				out[field] = c.behaviorFor(mode, field, row, schema)
			}
		}
	}
	return out
}

package grid

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlgrid/internal/dblib"
)

func TestBuilderCollectsErrors(t *testing.T) {
	_, err := NewBuilder("users; drop").
		Where("email", "~~", "x").
		Where("id", "in", []int{}).
		Join(JoinSpec{SourceField: "role_id", TargetTable: "roles", TargetField: "id", Alias: "main"}).
		Relation(RelationSpec{LocalField: "role_id", TargetTable: "roles", TargetKeyField: "id"}).
		OrderBy("email", "sideways").
		Summary(SummarySpec{Column: "score", Kind: "median"}).
		Mode("archive").
		ChangeType("email", "colour", nil, nil).
		Build()
	require.Error(t, err)

	var ces []*ConfigError
	for _, e := range err.(interface{ Unwrap() []error }).Unwrap() {
		var ce *ConfigError
		require.True(t, errors.As(e, &ce), "%v", e)
		ces = append(ces, ce)
	}
	fields := make([]string, len(ces))
	for i, ce := range ces {
		fields[i] = ce.Field
	}
	assert.Equal(t, []string{"table", "where", "where", "joins", "relations", "order_by", "summaries", "behaviors", "behaviors"}, fields)
}

func TestBuilderConditions(t *testing.T) {
	cfg := mustBuild(t, NewBuilder("users").
		Where("score", ">=", " 2.5 ").
		Where("name", "not like", "a%").
		OrWhere("deleted_at", "is not null", "ignored").
		Where("id", "IN", [2]int{1, 2}))

	conds := cfg.Conditions()
	require.Len(t, conds, 4)
	assert.Equal(t, ColumnCondition{Glue: And, Column: "score", Operator: OpGte, Value: 2.5}, conds[0])
	assert.Equal(t, OpNotLike, conds[1].(ColumnCondition).Operator)
	assert.Equal(t, ColumnCondition{Glue: Or, Column: "deleted_at", Operator: OpIsNotNull}, conds[2])
	assert.Equal(t, []any{1, 2}, conds[3].(ColumnCondition).Value)
}

func TestBuilderRejectsNonNumericComparison(t *testing.T) {
	for _, tc := range []struct {
		op    string
		value any
	}{
		{">", "abc"},
		{"<", true},
		{">=", nil},
		{"<=", []int{1}},
	} {
		_, err := NewBuilder("users").Where("score", tc.op, tc.value).Build()
		var ce *ConfigError
		require.ErrorAs(t, err, &ce, "%s %v", tc.op, tc.value)
		assert.Equal(t, "where", ce.Field)
	}

	cfg := mustBuild(t, NewBuilder("users").Where("score", "<", uint8(3)).Where("score", ">", "5"))
	assert.Equal(t, uint8(3), cfg.Conditions()[0].(ColumnCondition).Value)
	assert.Equal(t, int64(5), cfg.Conditions()[1].(ColumnCondition).Value)
}

func TestBuiltConfigIsImmutable(t *testing.T) {
	b := NewBuilder("users").Columns("email").Relation(RelationSpec{
		LocalField: "role_id", TargetTable: "roles", TargetKeyField: "id", LabelFields: []string{"name"},
	})
	cfg := mustBuild(t, b)
	b.Columns("id").Readonly("email")

	cols, _ := cfg.VisibleColumns()
	assert.Equal(t, []string{"email"}, cols)
	assert.Empty(t, cfg.behaviors)

	rels := cfg.Relations()
	rels[0].LabelFields[0] = "mutated"
	assert.Equal(t, "name", cfg.Relations()[0].LabelFields[0])
}

func TestBehaviorResolution(t *testing.T) {
	cfg := mustBuild(t, NewBuilder("posts").
		ValidationRequired("title", 0).
		PassDefault("status", "draft").
		Mode(ModeEdit).
		Readonly("slug").
		ValidationRequired("title", 5).
		Behavior("status", Behavior{Disabled: true, When: &When{Field: "published", Value: true}}).
		ChangeType("published", dblib.KindBoolean, nil, nil))
	schema := &dblib.TableSchema{}

	edit := cfg.rules(ModeEdit, map[string]any{"published": "1"}, schema)
	assert.Equal(t, 5, edit["title"].ValidationRequired)
	assert.True(t, edit["slug"].Readonly)
	assert.True(t, edit["status"].Disabled)
	assert.Equal(t, "draft", edit["status"].PassDefault)
	assert.Nil(t, edit["status"].When)

	edit = cfg.rules(ModeEdit, map[string]any{"published": "no"}, schema)
	assert.False(t, edit["status"].Disabled)

	create := cfg.rules(ModeCreate, nil, schema)
	assert.Equal(t, 1, create["title"].ValidationRequired)
	assert.False(t, create["slug"].Readonly)
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(dblib.KindBoolean, int64(1), "true"))
	assert.True(t, Equal(dblib.KindBoolean, nil, false))
	assert.False(t, Equal(dblib.KindBoolean, "yes", 0))
	assert.True(t, Equal(dblib.KindNumber, "1.0", 1))
	assert.False(t, Equal(dblib.KindNumber, "1.5", 1))
	assert.True(t, Equal(dblib.KindText, []byte("abc"), "abc"))
	assert.False(t, Equal(dblib.KindText, "1", "1.0"))
	assert.True(t, Equal(dblib.KindText, nil, ""))
}

func TestToDBValue(t *testing.T) {
	boolCol := dblib.ColumnSchema{Name: "active", RawType: "tinyint(1)", Nullable: true}
	numCol := dblib.ColumnSchema{Name: "score", RawType: "decimal(10,2)", Nullable: true}
	intCol := dblib.ColumnSchema{Name: "qty", RawType: "int", Nullable: false}
	textCol := dblib.ColumnSchema{Name: "bio", RawType: "text", Nullable: true}

	assert.Equal(t, true, toDBValue(boolCol, "on"))
	assert.Nil(t, toDBValue(boolCol, ""))
	assert.Equal(t, 2.5, toDBValue(numCol, "2.5"))
	assert.Equal(t, int64(3), toDBValue(intCol, " 3 "))
	assert.Equal(t, "", toDBValue(intCol, ""), "non-nullable columns keep the empty string")
	assert.Equal(t, "", toDBValue(textCol, ""))
	assert.Equal(t, "abc", toDBValue(numCol, "abc"))
	assert.Equal(t, 7, toDBValue(numCol, 7))
}

func TestTemplater(t *testing.T) {
	tpl := templater{
		now:   func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
		newID: func() string { return "id-1" },
	}
	row := map[string]any{"title": "Hi", "count": int64(4)}

	assert.Equal(t, int64(4), tpl.render("{count}", row), "a lone token keeps the value's type")
	assert.Equal(t, "Hi x4", tpl.render("{title} x{count}", row))
	assert.Equal(t, "2026-01-02 03:04:05 / 2026-01-02", tpl.render("{now} / {today}", row))
	assert.Equal(t, "id-1", tpl.render("{uuid}", row))
	assert.Equal(t, "{missing}", tpl.render("{missing}", row))
	assert.Equal(t, 12, tpl.render(12, row))

	assert.Len(t, newTemplater(nil).render("{uuid}", nil), 36)
}

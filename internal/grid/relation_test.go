package grid

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlgrid/internal/dblib"
)

func TestResolveMultiValued(t *testing.T) {
	_, conn := setupGridDB(t)
	r := NewRelationResolver(conn, nil)
	rows := []dblib.Row{
		{"id": int64(1), "tag_ids": "1,3"},
		{"id": int64(2), "tag_ids": "2, 9 ,1"},
		{"id": int64(3), "tag_ids": nil},
	}
	spec := RelationSpec{LocalField: "tag_ids", TargetTable: "tags", TargetKeyField: "id", LabelFields: []string{"label"}, MultiValued: true}

	raw := r.Resolve(context.Background(), rows, []RelationSpec{spec})

	assert.Equal(t, "go, web", rows[0]["tag_ids"])
	assert.Equal(t, "sql, 9, go", rows[1]["tag_ids"], "unknown keys keep their raw value")
	assert.Nil(t, rows[2]["tag_ids"])

	for i, row := range rows[:2] {
		orig, ok := raw.Get(i, "tag_ids")
		require.True(t, ok)
		keys := splitKeys(orig, true)
		assert.Len(t, strings.Split(row["tag_ids"].(string), ","), len(keys))
	}
	_, ok := raw.Get(2, "tag_ids")
	assert.False(t, ok)
}

func TestResolveMultiValuedLabelWithComma(t *testing.T) {
	db, conn := setupGridDB(t)
	_, err := db.Exec(`UPDATE tags SET label = 'go, lang' WHERE id = 1`)
	require.NoError(t, err)
	r := NewRelationResolver(conn, nil)
	rows := []dblib.Row{{"id": int64(1), "tag_ids": "1,3"}}
	spec := RelationSpec{LocalField: "tag_ids", TargetTable: "tags", TargetKeyField: "id", LabelFields: []string{"label"}, MultiValued: true}

	r.Resolve(context.Background(), rows, []RelationSpec{spec})

	resolved := rows[0]["tag_ids"].(string)
	assert.Equal(t, "go， lang, web", resolved)
	assert.Len(t, strings.Split(resolved, ","), len(splitKeys("1,3", true)))
}

func TestResolveSkipsFailedRelation(t *testing.T) {
	_, conn := setupGridDB(t)
	r := NewRelationResolver(conn, nil)
	rows := []dblib.Row{{"role_id": int64(1), "owner_id": int64(2)}}
	relations := []RelationSpec{
		{LocalField: "owner_id", TargetTable: "missing_table", TargetKeyField: "id", LabelFields: []string{"name"}},
		{LocalField: "role_id", TargetTable: "roles", TargetKeyField: "id", LabelFields: []string{"name", "id"}},
	}

	r.Resolve(context.Background(), rows, relations)

	assert.Equal(t, int64(2), rows[0]["owner_id"])
	assert.Equal(t, "admin 1", rows[0]["role_id"])
}

func TestResolveExtraWhere(t *testing.T) {
	_, conn := setupGridDB(t)
	r := NewRelationResolver(conn, nil)
	rows := []dblib.Row{{"role_id": int64(1)}, {"role_id": int64(2)}}
	spec := RelationSpec{LocalField: "role_id", TargetTable: "roles", TargetKeyField: "id", LabelFields: []string{"name"}, ExtraWhere: "name <> 'admin'"}

	r.Resolve(context.Background(), rows, []RelationSpec{spec})

	assert.Equal(t, int64(1), rows[0]["role_id"])
	assert.Equal(t, "editor", rows[1]["role_id"])

	opts, err := r.Options(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, []RelationOption{{Key: int64(2), Label: "editor"}}, opts)
}

func TestJoinLabel(t *testing.T) {
	row := dblib.Row{"first": "Ada", "middle": "  ", "last": "Lovelace", "none": nil}
	assert.Equal(t, "Ada Lovelace", joinLabel(row, []string{"first", "middle", "none", "last"}))
}

package grid

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeColumn(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"email", "email"},
		{"main.email", "email"},
		{"j0.name", "j0__name"},
		{"j0__name", "j0__name"},
		{"public.users.email", "public.users.email"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeColumn(tt.in), tt.in)
	}

	alias, col := QualifyColumn("j0__name")
	assert.Equal(t, "j0", alias)
	assert.Equal(t, "name", col)
	alias, col = QualifyColumn("email")
	assert.Equal(t, "main", alias)
	assert.Equal(t, "email", col)
}

func TestResolveVisibleColumns(t *testing.T) {
	available := []string{"id", "email", "active", "j0__name"}
	tests := []struct {
		name       string
		configured []string
		reverse    bool
		want       []string
	}{
		{"no filter", nil, false, available},
		{"allow list keeps configured order", []string{"email", "id"}, false, []string{"email", "id"}},
		{"qualified names normalize", []string{"j0.name", "main.email"}, false, []string{"j0__name", "email"}},
		{"star expands in place", []string{"email", "*", "id"}, false, []string{"email", "id", "active", "j0__name"}},
		{"duplicates suppressed", []string{"email", "email"}, false, []string{"email"}},
		{"unknown columns fail open", []string{"nope"}, false, available},
		{"deny list", []string{"active", "j0.name"}, true, []string{"id", "email"}},
		{"deny everything fails open", available, true, available},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveVisibleColumns(available, tt.configured, tt.reverse)
			assert.Equal(t, tt.want, got)
			assert.NotEmpty(t, got)
		})
	}
}

func TestColumnNamesWithJoin(t *testing.T) {
	_, conn := setupGridDB(t)
	g := newGrid(t, conn, NewBuilder("users").
		Join(JoinSpec{SourceField: "users.role_id", TargetTable: "roles", TargetField: "id", Alias: "j0"}).
		Columns("email", "j0__name"))

	assert.Equal(t, []string{"email", "j0__name"}, g.ColumnNames(context.Background()))

	page, err := g.FetchPage(context.Background(), PageRequest{Page: 1, PageSize: 1})
	assert.NoError(t, err)
	if assert.Len(t, page.Rows, 1) {
		assert.Contains(t, []any{"admin", "editor"}, page.Rows[0]["j0__name"])
	}
}

func TestIsSortable(t *testing.T) {
	disabled := map[string]bool{"email": true, "j0__name": true}
	assert.False(t, IsSortable("main.email", disabled))
	assert.False(t, IsSortable("j0.name", disabled))
	assert.True(t, IsSortable("id", disabled))
	assert.True(t, IsSortable("id", nil))
}

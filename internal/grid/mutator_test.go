package grid

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlgrid/internal/dblib"
)

func countRows(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(query, args...).Scan(&n))
	return n
}

func TestUpdate(t *testing.T) {
	db, conn := setupGridDB(t)
	g := newGrid(t, conn, NewBuilder("users"))
	ctx := context.Background()

	row, err := g.Update(ctx, "id", 2, map[string]any{"email": "robert@example.com", "active": "true", "unknown": "x", "id": 99}, ModeEdit)
	require.NoError(t, err)
	assert.Equal(t, "robert@example.com", row["email"])
	assert.EqualValues(t, 1, row["active"])
	assert.EqualValues(t, 2, row["id"])
	assert.Equal(t, 1, countRows(t, db, "SELECT COUNT(*) FROM users WHERE id = 2 AND email = 'robert@example.com'"))
}

func TestUpdateIdempotent(t *testing.T) {
	db, conn := setupGridDB(t)
	g := newGrid(t, conn, NewBuilder("users"))
	ctx := context.Background()

	before, err := conn.QueryRow(ctx, "test", dblib.Statement{SQL: "SELECT * FROM users WHERE id = 1"})
	require.NoError(t, err)

	after, err := g.Update(ctx, "id", int64(1), before.Clone(), ModeEdit)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 3, countRows(t, db, "SELECT COUNT(*) FROM users"))
}

func TestUpdateNothingToWrite(t *testing.T) {
	conn, mock := newMockConn(t, dblib.SQLite)
	mock.ExpectQuery("PRAGMA table_info").WillReturnRows(
		sqlmock.NewRows([]string{"cid", "name", "type", "notnull", "dflt_value", "pk"}).
			AddRow(0, "id", "INTEGER", 0, nil, 1).
			AddRow(1, "email", "TEXT", 1, nil, 0))
	mock.ExpectPrepare("SELECT \\* FROM users WHERE id = \\?").
		ExpectQuery().WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email"}).AddRow(7, "x@example.com"))

	g := newGrid(t, conn, NewBuilder("users").PrimaryKey("id").Mode(ModeEdit).Readonly("email"))
	row, err := g.Update(context.Background(), "", 7, map[string]any{"email": "changed", "bogus": 1}, ModeEdit)
	require.NoError(t, err)
	assert.Equal(t, "x@example.com", row["email"])
	assert.NoError(t, mock.ExpectationsWereMet(), "no UPDATE is issued")
}

func TestUpdateErrors(t *testing.T) {
	_, conn := setupGridDB(t)
	g := newGrid(t, conn, NewBuilder("users"))
	ctx := context.Background()

	_, err := g.Update(ctx, "id", 42, map[string]any{"email": "x"}, ModeEdit)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = g.Update(ctx, "nope", 1, map[string]any{"email": "x"}, ModeEdit)
	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "nope", se.Column)

	missing := newGrid(t, conn, NewBuilder("ghosts"))
	_, err = missing.Update(ctx, "id", 1, map[string]any{"email": "x"}, ModeEdit)
	assert.ErrorAs(t, err, &se)
}

func TestUpdateValidation(t *testing.T) {
	db, conn := setupGridDB(t)
	g := newGrid(t, conn, NewBuilder("posts").
		ValidationRequired("title", 3).
		ValidationPattern("slug", "[a-z0-9-]+").
		ValidationPattern("status", "/^(draft|published)$/i").
		ValidationPattern("note", "([").
		Unique("slug"))
	ctx := context.Background()

	_, err := g.Create(ctx, map[string]any{"title": "Other", "slug": "other"})
	require.NoError(t, err)

	_, err = g.Update(ctx, "id", 5, map[string]any{"title": " ab ", "slug": "Bad Slug", "status": "DRAFT", "note": "anything"}, ModeEdit)
	ve, ok := AsValidationError(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, map[string]string{
		"title": "must be at least 3 characters",
		"slug":  "has an invalid format",
	}, ve.Fields)
	assert.Equal(t, 1, countRows(t, db, "SELECT COUNT(*) FROM posts WHERE id = 5 AND title = 'Post'"), "nothing is written")

	_, err = g.Update(ctx, "id", 5, map[string]any{"slug": "other"}, ModeEdit)
	ve, ok = AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, "must be unique", ve.Fields["slug"])

	row, err := g.Update(ctx, "id", 5, map[string]any{"slug": "post", "status": "Published"}, ModeEdit)
	require.NoError(t, err, "a row may keep its own unique value")
	assert.Equal(t, "Published", row["status"])
}

func TestUpdateBehaviors(t *testing.T) {
	_, conn := setupGridDB(t)
	g := newGrid(t, conn, NewBuilder("posts").
		PassDefault("note", "about {title}").
		Mode(ModeEdit).
		PassVar("status", "edited").
		Behavior("title", Behavior{Readonly: true, When: &When{Field: "status", Value: "published"}}))
	ctx := context.Background()

	row, err := g.Update(ctx, "id", 5, map[string]any{"title": "Renamed", "status": "ignored"}, ModeEdit)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", row["title"])
	assert.Equal(t, "edited", row["status"])
	assert.Equal(t, "about Renamed", row["note"])

	_, err = conn.Exec(ctx, "test", dblib.Statement{SQL: "UPDATE posts SET status = 'published' WHERE id = 5"})
	require.NoError(t, err)
	row, err = g.Update(ctx, "id", 5, map[string]any{"title": "Locked"}, ModeEdit)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", row["title"], "conditional readonly applies to published rows")
}

func TestCreate(t *testing.T) {
	db, conn := setupGridDB(t)
	g := newGrid(t, conn, NewBuilder("users").
		Join(JoinSpec{SourceField: "role_id", TargetTable: "roles", TargetField: "id", ExcludeFromInsert: true}).
		Mode(ModeCreate).
		ValidationRequired("email", 1).
		ChangeType("score", dblib.KindNumber, "1.5", nil))
	ctx := context.Background()

	row, err := g.Create(ctx, map[string]any{"id": "", "email": "dave@example.com", "active": "0", "role_id": 1})
	require.NoError(t, err)
	assert.Equal(t, "dave@example.com", row["email"])
	assert.EqualValues(t, 0, row["active"])
	assert.Nil(t, row["role_id"], "join source fields are not inserted")
	assert.EqualValues(t, 1.5, row["score"])
	assert.EqualValues(t, 4, row["id"])

	row, err = g.Create(ctx, map[string]any{"id": 10, "email": "erin@example.com"})
	require.NoError(t, err)
	assert.EqualValues(t, 10, row["id"])

	_, err = g.Create(ctx, map[string]any{"active": 1})
	ve, ok := AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, "is required", ve.Fields["email"])
	assert.Equal(t, 5, countRows(t, db, "SELECT COUNT(*) FROM users"))

	bare := newGrid(t, conn, NewBuilder("roles"))
	_, err = bare.Create(ctx, map[string]any{"unknown": 1})
	assert.ErrorIs(t, err, ErrNoFields)
}

func TestDelete(t *testing.T) {
	db, conn := setupGridDB(t)
	g := newGrid(t, conn, NewBuilder("users"))
	ctx := context.Background()

	ok, err := g.Delete(ctx, "id", 3)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = g.Delete(ctx, "id", 3)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, countRows(t, db, "SELECT COUNT(*) FROM users"))

	_, err = g.Delete(ctx, "id; DROP TABLE users", 1)
	var se *SchemaError
	assert.ErrorAs(t, err, &se)
}

func TestDuplicate(t *testing.T) {
	db, conn := setupGridDB(t)
	g := newGrid(t, conn, NewBuilder("posts"))
	ctx := context.Background()

	row, err := g.Duplicate(ctx, "id", 5)
	require.NoError(t, err)
	assert.Equal(t, "post (copy)", row["slug"])
	assert.Equal(t, "Post", row["title"], "non-unique columns are copied as is")
	assert.EqualValues(t, 6, row["id"])

	row, err = g.Duplicate(ctx, "id", 5)
	require.NoError(t, err)
	assert.Equal(t, "post (copy 2)", row["slug"])

	row, err = g.Duplicate(ctx, "id", row["id"])
	require.NoError(t, err)
	assert.Equal(t, "post (copy 3)", row["slug"], "an existing copy suffix is replaced")
	assert.Equal(t, 4, countRows(t, db, "SELECT COUNT(*) FROM posts"))

	_, err = g.Duplicate(ctx, "id", 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDuplicateOnMySQLRenamesUniqueColumns(t *testing.T) {
	conn, mock := newMockConn(t, dblib.MySQL)
	postRow := func(id int64, slug string) *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "title", "slug"}).AddRow(id, "Post", slug)
	}
	mock.ExpectQuery("SHOW FULL COLUMNS FROM posts").WillReturnRows(
		sqlmock.NewRows([]string{"Field", "Type", "Collation", "Null", "Key", "Default", "Extra", "Privileges", "Comment"}).
			AddRow("id", "int(11)", nil, "NO", "PRI", nil, "auto_increment", "", "").
			AddRow("title", "varchar(200)", nil, "YES", "", nil, "", "", "").
			AddRow("slug", "varchar(200)", nil, "YES", "UNI", nil, "", "", ""))
	mock.ExpectPrepare(regexp.QuoteMeta("SELECT * FROM posts WHERE id = ?")).
		ExpectQuery().WithArgs(5).WillReturnRows(postRow(5, "post"))
	mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO posts (title, slug) VALUES (?, ?)")).
		ExpectExec().WithArgs("Post", "post").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'post' for key 'slug'"})
	mock.ExpectQuery("SHOW INDEX FROM posts").WillReturnRows(
		sqlmock.NewRows([]string{"Table", "Non_unique", "Key_name", "Seq_in_index", "Column_name"}).
			AddRow("posts", 0, "PRIMARY", 1, "id").
			AddRow("posts", 1, "title_idx", 1, "title").
			AddRow("posts", 0, "slug", 1, "slug"))
	mock.ExpectPrepare(regexp.QuoteMeta("SELECT COUNT(*) FROM posts WHERE slug = ?")).
		ExpectQuery().WithArgs("post (copy)").WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(0))
	mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO posts (title, slug) VALUES (?, ?)")).
		ExpectExec().WithArgs("Post", "post (copy)").WillReturnResult(sqlmock.NewResult(6, 1))
	mock.ExpectPrepare(regexp.QuoteMeta("SELECT * FROM posts WHERE id = ?")).
		ExpectQuery().WithArgs(int64(6)).WillReturnRows(postRow(6, "post (copy)"))

	g := newGrid(t, conn, NewBuilder("posts").PrimaryKey("id"))
	row, err := g.Duplicate(context.Background(), "id", 5)
	require.NoError(t, err)
	assert.Equal(t, "post (copy)", row["slug"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDuplicateWithoutUniqueColumnsSurfacesError(t *testing.T) {
	db, conn := setupGridDB(t)
	_, err := db.Exec(`CREATE TABLE pairs (id INTEGER PRIMARY KEY, a INTEGER, b INTEGER, UNIQUE (a, b))`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO pairs (id, a, b) VALUES (1, 1, 2)`)
	require.NoError(t, err)

	g := newGrid(t, conn, NewBuilder("pairs"))
	_, err = g.Duplicate(context.Background(), "id", 1)
	require.Error(t, err)
	assert.True(t, dblib.IsUniqueViolation(err))
	assert.True(t, dblib.IsExecuteError(err))
}

func TestCompilePattern(t *testing.T) {
	assert.Nil(t, compilePattern(""))
	assert.Nil(t, compilePattern("(["))
	assert.True(t, compilePattern("[a-z]+").MatchString("abc"))
	assert.False(t, compilePattern("[a-z]+").MatchString("abc1"), "bare patterns are anchored")
	assert.True(t, compilePattern("/abc/i").MatchString("xxABCxx"), "delimited patterns keep their own anchoring")
	assert.False(t, compilePattern("/^abc$/").MatchString("ABC"))
}

func TestMutatorErrorsWrapDriverFailures(t *testing.T) {
	conn, mock := newMockConn(t, dblib.MySQL)
	mock.ExpectQuery("SHOW FULL COLUMNS FROM").WillReturnRows(
		sqlmock.NewRows([]string{"Field", "Type", "Collation", "Null", "Key", "Default", "Extra", "Privileges", "Comment"}).
			AddRow("id", "int(11)", nil, "NO", "PRI", nil, "auto_increment", "", "").
			AddRow("name", "varchar(50)", nil, "YES", "", nil, "", "", ""))
	mock.ExpectPrepare("DELETE FROM roles WHERE id = \\?").
		ExpectExec().WithArgs(1).
		WillReturnError(errors.New("connection reset"))

	g := newGrid(t, conn, NewBuilder("roles").PrimaryKey("id"))
	_, err := g.Delete(context.Background(), "id", 1)
	require.Error(t, err)
	assert.True(t, dblib.IsExecuteError(err))
	var qe *dblib.QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "delete row", qe.Op)
	assert.NoError(t, mock.ExpectationsWereMet())
}

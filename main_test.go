package main

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates a sqlite file with a users table and a roles lookup.
func setupTestDB(t *testing.T) string {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	path := filepath.Join(t.TempDir(), "app.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	defer db.Close()

	for _, stmt := range []string{
		`CREATE TABLE roles (id INTEGER PRIMARY KEY, name TEXT)`,
		`INSERT INTO roles (id, name) VALUES (1, 'admin'), (2, 'editor')`,
		`CREATE TABLE users (id INTEGER PRIMARY KEY, email VARCHAR(255) UNIQUE, role_id INTEGER, score DECIMAL(10, 2))`,
		`INSERT INTO users (id, email, role_id, score) VALUES
			(1, 'alice@example.com', 1, 10.5),
			(2, 'bob@example.com', 2, 20),
			(3, 'carol@example.com', 1, 30.25)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("Failed to prepare test database: %v", err)
		}
	}
	return path
}

func writeDefinition(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "grid.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, &stdout, &stderr)
	return stdout.String() + stderr.String(), err
}

const usersDefinition = `table: users
primary_key: id
relations:
  - local_field: role_id
    target_table: roles
    target_key_field: id
    label_fields: [name]
search_columns: [email]
order_by:
  - column: email
    direction: desc
summaries:
  - column: score
    kind: sum
    label: Total
    precision: 2
transforms:
  email: mask
behaviors:
  all:
    email:
      validation_required: 3
      unique: true
`

func TestPageCommand(t *testing.T) {
	db := setupTestDB(t)
	def := writeDefinition(t, usersDefinition)

	out, err := runCLI(t, "-d", db, "-f", def, "page", "--page-size", "2")
	if err != nil {
		t.Fatalf("page failed: %v\n%s", err, out)
	}
	for _, want := range []string{"c****@example.com", "b**@example.com", "editor", "page 1 of 2, 3 rows", "Total: 60.75"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "alice") {
		t.Errorf("third row should be on page 2:\n%s", out)
	}

	out, err = runCLI(t, "-d", db, "-f", def, "page", "--page-size", "1", "--sort", "score:asc")
	if err != nil {
		t.Fatalf("page failed: %v", err)
	}
	if !strings.Contains(out, "a****@example.com") || !strings.Contains(out, "page 1 of 3, 3 rows") {
		t.Errorf("sorted page should start with the lowest score:\n%s", out)
	}

	out, err = runCLI(t, "-d", db, "-f", def, "-o", "json", "page", "--search", "ali")
	if err != nil {
		t.Fatalf("page failed: %v", err)
	}
	if !strings.Contains(out, `"TotalRows": 1`) || !strings.Contains(out, `"a****@example.com"`) {
		t.Errorf("unexpected json output:\n%s", out)
	}
}

func TestEditCommands(t *testing.T) {
	db := setupTestDB(t)
	def := writeDefinition(t, usersDefinition)

	out, err := runCLI(t, "-d", db, "-f", def, "create", "--set", "email=dave@example.com", "--set", "role_id=2")
	if err != nil {
		t.Fatalf("create failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "dave@example.com") {
		t.Errorf("created row not printed:\n%s", out)
	}

	out, err = runCLI(t, "-d", db, "-f", def, "update", "--pk", "4", "--set", "email=x")
	if err == nil {
		t.Fatalf("expected a validation failure, got:\n%s", out)
	}
	if !strings.Contains(out, "email: must be at least 3 characters") {
		t.Errorf("validation messages not printed:\n%s", out)
	}

	out, err = runCLI(t, "-d", db, "-f", def, "duplicate", "--pk", "1")
	if err != nil {
		t.Fatalf("duplicate failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "alice@example.com (copy)") {
		t.Errorf("duplicate should rename the unique email:\n%s", out)
	}

	if out, err = runCLI(t, "-d", db, "--table", "users", "delete", "--pk", "2"); err != nil || !strings.Contains(out, "deleted") {
		t.Errorf("delete: %v\n%s", err, out)
	}
	if _, err = runCLI(t, "-d", db, "--table", "users", "delete", "--pk", "2"); err == nil {
		t.Error("deleting a missing row should fail")
	}
}

func TestStateRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	def := writeDefinition(t, "table: users\ncolumns: [email, score]\n")

	token, err := runCLI(t, "-f", def, "state")
	if err != nil {
		t.Fatalf("state failed: %v", err)
	}
	token = strings.TrimSpace(token)

	out, err := runCLI(t, "-d", db, "--state", token, "columns")
	if err != nil {
		t.Fatalf("columns failed: %v", err)
	}
	if strings.TrimSpace(out) != "email\nscore" {
		t.Errorf("unexpected columns %q", out)
	}

	out, err = runCLI(t, "--state", token, "state", "--yaml")
	if err != nil {
		t.Fatalf("state --yaml failed: %v", err)
	}
	if !strings.Contains(out, "table: users") {
		t.Errorf("unexpected yaml:\n%s", out)
	}
}

func TestSchemaFieldsAndOptions(t *testing.T) {
	db := setupTestDB(t)
	def := writeDefinition(t, usersDefinition)

	out, err := runCLI(t, "-d", db, "-f", def, "schema")
	if err != nil {
		t.Fatalf("schema failed: %v", err)
	}
	if !strings.Contains(out, "varchar(255)") && !strings.Contains(out, "VARCHAR(255)") {
		t.Errorf("schema output missing email type:\n%s", out)
	}

	out, err = runCLI(t, "-d", db, "-f", def, "fields", "--mode", "create")
	if err != nil {
		t.Fatalf("fields failed: %v", err)
	}
	if !strings.Contains(out, "select") || !strings.Contains(out, "unique") {
		t.Errorf("fields output missing relation kind or unique flag:\n%s", out)
	}

	out, err = runCLI(t, "-d", db, "-f", def, "options", "role_id")
	if err != nil {
		t.Fatalf("options failed: %v", err)
	}
	if !strings.Contains(out, "admin") || !strings.Contains(out, "editor") {
		t.Errorf("options output missing labels:\n%s", out)
	}

	_, err = runCLI(t, "-d", db, "-f", def, "options", "role")
	if err == nil || !strings.Contains(err.Error(), "did you mean role_id?") {
		t.Errorf("expected a suggestion, got %v", err)
	}

	if _, err = runCLI(t, "-d", db, "-f", def, "fields", "--mode", "archive"); err == nil {
		t.Error("expected an unknown mode error")
	}
}

func TestMissingDefinition(t *testing.T) {
	db := setupTestDB(t)
	if _, err := runCLI(t, "-d", db, "page"); err == nil || !strings.Contains(err.Error(), "definition is required") {
		t.Errorf("unexpected error %v", err)
	}
}

func TestMaskValue(t *testing.T) {
	tests := map[string]string{
		"alice@example.com": "a****@example.com",
		"secret":            "s*****",
		"@host":             "@host",
		"":                  "",
	}
	for in, want := range tests {
		if got := maskValue(in); got != want {
			t.Errorf("maskValue(%q) = %q, want %q", in, got, want)
		}
	}
}

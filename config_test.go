package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDetectDriver(t *testing.T) {
	tests := []struct {
		config ConnectionConfig
		want   string
	}{
		{ConnectionConfig{Database: "app.db"}, "sqlite3"},
		{ConnectionConfig{Database: "app.sqlite3"}, "sqlite3"},
		{ConnectionConfig{Database: "shop"}, "postgres"},
		{ConnectionConfig{Driver: "MySQL", Database: "app.db"}, "mysql"},
		{ConnectionConfig{Driver: "pg", Database: "shop"}, "postgres"},
		{ConnectionConfig{Driver: "sqlite", Database: "shop"}, "sqlite3"},
	}
	for _, tt := range tests {
		if got := tt.config.detectDriver(); got != tt.want {
			t.Errorf("detectDriver(%+v) = %q, want %q", tt.config, got, tt.want)
		}
	}
}

func TestBuildConnectionString(t *testing.T) {
	pg := ConnectionConfig{Driver: "postgres", Database: "shop", Host: "db", Port: "5433", Username: "bob", Password: "pw"}
	connStr, driver, err := pg.buildConnectionString()
	if err != nil {
		t.Fatal(err)
	}
	if driver != "postgres" || connStr != "dbname=shop host=db port=5433 user=bob password=pw sslmode=disable" {
		t.Errorf("postgres: got %q (%s)", connStr, driver)
	}

	my := ConnectionConfig{Driver: "mysql", Database: "shop", Host: "db", Port: "3307", Username: "bob", Password: "pw"}
	if connStr, _, _ = my.buildConnectionString(); connStr != "bob:pw@tcp(db:3307)/shop" {
		t.Errorf("mysql: got %q", connStr)
	}

	my = ConnectionConfig{Driver: "mysql", Database: "shop", Username: "root"}
	if connStr, _, _ = my.buildConnectionString(); connStr != "root@tcp(localhost:3306)/shop" {
		t.Errorf("mysql defaults: got %q", connStr)
	}

	if _, _, err := (ConnectionConfig{Database: filepath.Join(t.TempDir(), "missing.db")}).buildConnectionString(); err == nil {
		t.Error("expected an error for a missing sqlite file")
	}

	if _, _, err := (ConnectionConfig{Driver: "oracle", Database: "x"}).buildConnectionString(); err == nil {
		t.Error("expected an error for an unsupported driver")
	}
}

func TestSettingsLayering(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	if err := os.MkdirAll(filepath.Join(dir, "sqlgrid"), 0o755); err != nil {
		t.Fatal(err)
	}
	doc := "connection:\n  database: from-file.db\n  host: filehost\npage_size: 10\n"
	if err := os.WriteFile(filepath.Join(dir, "sqlgrid", "settings.yaml"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SQLGRID_CONNECTION__HOST", "envhost")
	t.Setenv("SQLGRID_OUTPUT", "json")

	flags := newRootCmd(&app{}).PersistentFlags()
	if err := flags.Parse([]string{"--page-size", "5", "-U", "carol"}); err != nil {
		t.Fatal(err)
	}

	s, err := LoadSettings(flags)
	if err != nil {
		t.Fatal(err)
	}
	if s.Connection.Database != "from-file.db" {
		t.Errorf("database = %q, want the settings file value", s.Connection.Database)
	}
	if s.Connection.Host != "envhost" {
		t.Errorf("host = %q, want the environment value", s.Connection.Host)
	}
	if s.Connection.Username != "carol" {
		t.Errorf("username = %q, want the flag value", s.Connection.Username)
	}
	if s.Output != "json" {
		t.Errorf("output = %q, want json", s.Output)
	}
	if s.PageSize != 5 {
		t.Errorf("page size = %d, want 5", s.PageSize)
	}
}

func TestSettingsDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	s, err := LoadSettings(nil)
	if err != nil {
		t.Fatal(err)
	}
	if s.Output != "table" || s.PageSize != 25 || s.Verbose {
		t.Errorf("unexpected defaults: %+v", s)
	}
}

package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/user"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"sqlgrid/internal/dblib"
)

// ConnectionConfig holds the parameters used to reach one database.
type ConnectionConfig struct {
	// Driver selects the database/sql driver: sqlite3, postgres or mysql.
	// Empty means detect from Database.
	Driver   string `koanf:"driver"`
	Database string `koanf:"database"`
	Host     string `koanf:"host"`
	Port     string `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

var sqliteSuffixes = []string{".sqlite", ".sqlite3", ".db"}

func (c ConnectionConfig) detectDriver() string {
	switch strings.ToLower(c.Driver) {
	case "sqlite", "sqlite3":
		return "sqlite3"
	case "postgres", "postgresql", "pg":
		return "postgres"
	case "mysql", "mariadb":
		return "mysql"
	case "":
	default:
		return c.Driver
	}
	for _, suffix := range sqliteSuffixes {
		if strings.HasSuffix(c.Database, suffix) {
			return "sqlite3"
		}
	}
	return "postgres"
}

func currentUsername() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}

func (c ConnectionConfig) buildConnectionString() (string, string, error) {
	driver := c.detectDriver()

	switch driver {
	case "sqlite3":
		if _, err := os.Stat(c.Database); os.IsNotExist(err) {
			return "", driver, fmt.Errorf("sqlite file does not exist: %s", c.Database)
		}
		return c.Database, driver, nil

	case "postgres":
		connStr := fmt.Sprintf("dbname=%s", c.Database)
		if c.Host != "" {
			connStr += fmt.Sprintf(" host=%s", c.Host)
		}
		if c.Port != "" {
			connStr += fmt.Sprintf(" port=%s", c.Port)
		}
		if c.Username != "" {
			connStr += fmt.Sprintf(" user=%s", c.Username)
		} else if name := currentUsername(); name != "" {
			connStr += fmt.Sprintf(" user=%s", name)
		}
		if c.Password != "" {
			connStr += fmt.Sprintf(" password=%s", c.Password)
		}
		connStr += " sslmode=disable"
		return connStr, driver, nil

	case "mysql":
		connStr := c.Username
		if connStr == "" {
			connStr = currentUsername()
		}
		if c.Password != "" {
			connStr += ":" + c.Password
		}
		connStr += "@"

		host := c.Host
		if host == "" {
			host = "localhost"
		}
		port := c.Port
		if port == "" {
			port = "3306"
		}
		connStr += fmt.Sprintf("tcp(%s:%s)/%s", host, port, c.Database)
		return connStr, driver, nil

	default:
		return "", driver, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// connect opens and pings the database. The handle is wrapped so every
// prepared and raw query leaves a breadcrumb.
func (c ConnectionConfig) connect(ctx context.Context) (*sql.DB, *dblib.Conn, error) {
	connStr, driver, err := c.buildConnectionString()
	if err != nil {
		return nil, nil, err
	}

	db, err := sql.Open(driver, connStr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, dblib.NewConn(tracedDB{db: db}, dblib.DetectDatabaseType(driver)), nil
}

// openConnection connects with c. Without an explicit driver or a sqlite
// file name it tries a local PostgreSQL and then a local MySQL server.
func openConnection(ctx context.Context, c ConnectionConfig) (*sql.DB, *dblib.Conn, error) {
	if c.Driver != "" || c.detectDriver() == "sqlite3" {
		return c.connect(ctx)
	}
	return tryFallbackConnections(ctx, c)
}

func tryFallbackConnections(ctx context.Context, c ConnectionConfig) (*sql.DB, *dblib.Conn, error) {
	pg := c
	pg.Driver = "postgres"
	if pg.Host == "" {
		pg.Host, pg.Port = "localhost", "5432"
	}
	db, conn, pgErr := pg.connect(ctx)
	if pgErr == nil {
		return db, conn, nil
	}

	my := c
	my.Driver = "mysql"
	if my.Host == "" {
		my.Host, my.Port = "localhost", "3306"
	}
	if my.Username == "" {
		my.Username = "root"
	}
	db, conn, myErr := my.connect(ctx)
	if myErr == nil {
		return db, conn, nil
	}

	return nil, nil, fmt.Errorf("failed to connect to both PostgreSQL (%v) and MySQL: %w", pgErr, myErr)
}

// tracedDB records a database breadcrumb for every statement it runs.
type tracedDB struct {
	db *sql.DB
}

func (t tracedDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	breadcrumbs.RecordDatabase("query", query)
	return t.db.QueryContext(ctx, query, args...)
}

func (t tracedDB) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	breadcrumbs.RecordDatabase("prepare", query)
	return t.db.PrepareContext(ctx, query)
}

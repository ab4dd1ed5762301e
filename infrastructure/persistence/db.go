package persistence

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sync"
	"time"

	"crosspost/infrastructure/configuration"
	"crosspost/infrastructure/logger"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// Dialect names the SQL flavour a repository speaks. The values double as goose dialects.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var embedMigrations embed.FS

// goose keeps its base FS and dialect in package state.
var migrateMu sync.Mutex

var placeholder = regexp.MustCompile(`\$(\d+)`)

// rebind rewrites $N placeholders into SQLite's ?N form.
func rebind(d Dialect, query string) string {
	if d != DialectSQLite {
		return query
	}
	return placeholder.ReplaceAllString(query, "?${1}")
}

func NewPostgreSQLDB() (*sql.DB, error) {
	cfg := configuration.C.Database.Psql
	dsn := fmt.Sprintf("host=%s port=%s user=%s password='%s' dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewSQLiteDB opens a single-connection SQLite database. path may be ":memory:".
func NewSQLiteDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps an in-memory database alive and serialises writers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Open connects to the store selected by configuration and applies migrations.
func Open() (*sql.DB, Dialect, error) {
	var (
		db      *sql.DB
		dialect Dialect
		err     error
	)
	switch configuration.C.Database.Driver {
	case "sqlite", "sqlite3":
		dialect = DialectSQLite
		db, err = NewSQLiteDB(configuration.C.Database.Sqlite.Path)
	case "postgres", "":
		dialect = DialectPostgres
		db, err = NewPostgreSQLDB()
	default:
		return nil, "", fmt.Errorf("unsupported database driver %q", configuration.C.Database.Driver)
	}
	if err != nil {
		return nil, "", err
	}
	if err := Migrate(db, dialect); err != nil {
		_ = db.Close()
		return nil, "", err
	}
	return db, dialect, nil
}

// Migrate applies the embedded migrations for dialect.
func Migrate(db *sql.DB, dialect Dialect) error {
	dir := "migrations/postgres"
	if dialect == DialectSQLite {
		dir = "migrations/sqlite"
	}
	if _, err := fs.Stat(embedMigrations, dir); err != nil {
		return fmt.Errorf("migrations for %s: %w", dialect, err)
	}

	migrateMu.Lock()
	defer migrateMu.Unlock()

	logger.GetLogger().WithField("dialect", string(dialect)).Info("Running database migrations")
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(string(dialect)); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

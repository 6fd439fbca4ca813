package store

import (
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/relq/internal/querysql"
)

// Config selects a database.
type Config struct {
	// Driver is "sqlite3" or "postgres".
	Driver string

	// DSN is a file path (or ":memory:") for SQLite, a connection string for
	// PostgreSQL.
	DSN string

	// MaxInList overrides the dialect's IN-list limit when positive.
	MaxInList int

	// Logger receives query logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// Store executes finished queries against a SQL database.
type Store struct {
	db        *sqlx.DB
	dialect   Dialect
	compiler  *querysql.SQLCompiler
	maxInList int
	logger    *slog.Logger
}

// Open connects to the configured database and applies dialect settings.
//
// SQLite databases are configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
func Open(cfg Config) (*Store, error) {
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(dialect.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify connection works
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if dialect.Name == SQLite.Name {
		// SQLite only supports one writer at a time, and every connection to
		// ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		if err := applyPragmas(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	}

	maxInList := dialect.MaxInList
	if cfg.MaxInList > 0 {
		maxInList = cfg.MaxInList
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		db:        db,
		dialect:   dialect,
		compiler:  querysql.NewCompiler(dialect.Placeholder),
		maxInList: maxInList,
		logger:    logger,
	}, nil
}

// OpenSQLite opens a SQLite database at path with default settings.
func OpenSQLite(path string) (*Store, error) {
	return Open(Config{Driver: SQLite.Name, DSN: path})
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sqlx handle for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Dialect returns the store's SQL dialect.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Compiler returns the SQL compiler matching the store's placeholder style.
func (s *Store) Compiler() *querysql.SQLCompiler {
	return s.compiler
}

// MaxInList returns the largest IN list one query may carry.
func (s *Store) MaxInList() int {
	return s.maxInList
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

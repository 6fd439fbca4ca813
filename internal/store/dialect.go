package store

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/roach88/relq/internal/schema"
)

// Dialect holds the per-database settings the store needs.
type Dialect struct {
	Name        string
	Driver      string
	Placeholder sq.PlaceholderFormat
	MaxInList   int

	columnTypes map[schema.ColumnType]string
	// Column definition of a single integer primary key.
	serialKey string
}

// SQLite is the mattn/go-sqlite3 dialect. SQLITE_MAX_VARIABLE_NUMBER
// defaults to 999 in older builds.
var SQLite = Dialect{
	Name:        "sqlite3",
	Driver:      "sqlite3",
	Placeholder: sq.Question,
	MaxInList:   999,
	columnTypes: map[schema.ColumnType]string{
		schema.TypeInteger: "INTEGER",
		schema.TypeFloat:   "REAL",
		schema.TypeDecimal: "NUMERIC",
		schema.TypeString:  "TEXT",
		schema.TypeBoolean: "BOOLEAN",
		schema.TypeTime:    "TIMESTAMP",
	},
	serialKey: "INTEGER PRIMARY KEY",
}

// Postgres is the lib/pq dialect. The protocol caps bind parameters at 65535.
var Postgres = Dialect{
	Name:        "postgres",
	Driver:      "postgres",
	Placeholder: sq.Dollar,
	MaxInList:   65535,
	columnTypes: map[schema.ColumnType]string{
		schema.TypeInteger: "BIGINT",
		schema.TypeFloat:   "DOUBLE PRECISION",
		schema.TypeDecimal: "NUMERIC",
		schema.TypeString:  "TEXT",
		schema.TypeBoolean: "BOOLEAN",
		schema.TypeTime:    "TIMESTAMPTZ",
	},
	serialKey: "BIGSERIAL PRIMARY KEY",
}

// DialectFor returns the dialect for a driver name. "sqlite" is accepted as
// an alias of "sqlite3", "postgresql" of "postgres".
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql":
		return Postgres, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported driver %q", driver)
	}
}

// ColumnType returns the DDL type for a column type.
func (d Dialect) ColumnType(t schema.ColumnType) string {
	if s, ok := d.columnTypes[t]; ok {
		return s
	}
	return "TEXT"
}

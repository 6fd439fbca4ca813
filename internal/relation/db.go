// Package relation is the lazy query builder and association preloader.
//
// A Relation accumulates query fragments for one entity type without doing
// any I/O. Execution happens only when results are needed: materialization
// (ToA, Each, First...), calculations (Count, Sum...), batch iteration
// (FindEach, FindInBatches) or preloading (Includes, DB.Preload).
//
// Builder methods are copy-on-write: each returns a new Relation with an
// empty result cache, so a materialized Relation never observes fragments
// added after it ran. A Relation materializes at most once; the cache is
// guarded by a mutex so concurrent readers of one Relation cannot race to
// execute it.
//
// Configuration errors (unknown column, table, association, bad limit) are
// recorded at the builder call that caused them. The first one sticks, is
// reported by Err, and is returned by every execution method.
package relation

import (
	"context"
	"log/slog"

	"github.com/roach88/relq/internal/qerr"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/record"
	"github.com/roach88/relq/internal/schema"
)

// DefaultMaxInList is used when neither the engine nor the DB declares an
// IN-list limit.
const DefaultMaxInList = 1000

// Engine executes finished queries.
type Engine interface {
	// Rows returns every row of a Select or grouped Aggregate.
	Rows(ctx context.Context, q queryir.Query) ([]queryir.Row, error)

	// Scalar returns the single value of an ungrouped Aggregate, nil when
	// no row is produced.
	Scalar(ctx context.Context, q queryir.Query) (any, error)

	// MaxInList is the largest number of values one IN list may carry.
	// Zero means no declared limit.
	MaxInList() int
}

// Mapper turns raw rows into typed records.
type Mapper interface {
	Map(t *schema.EntityType, row queryir.Row) (*record.Record, error)
}

// DB binds an engine and entity metadata. It is the entry point for
// building relations and preloading associations.
//
// A DB is safe for concurrent use; it holds no mutable state.
type DB struct {
	engine    Engine
	mapper    Mapper
	registry  *schema.Registry
	logger    *slog.Logger
	maxInList int
}

// Option configures a DB.
type Option func(*DB)

// WithMapper replaces the default record mapper.
func WithMapper(m Mapper) Option {
	return func(db *DB) {
		db.mapper = m
	}
}

// WithLogger sets the logger used for batch and preload diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(db *DB) {
		db.logger = l
	}
}

// WithMaxInList overrides the engine's IN-list limit.
func WithMaxInList(n int) Option {
	return func(db *DB) {
		db.maxInList = n
	}
}

// New creates a DB over engine and reg.
func New(engine Engine, reg *schema.Registry, opts ...Option) *DB {
	db := &DB{
		engine:   engine,
		mapper:   record.Mapper{},
		registry: reg,
		logger:   slog.Default(),
	}

	// Apply options
	for _, opt := range opts {
		opt(db)
	}

	return db
}

// Registry returns the entity metadata.
func (db *DB) Registry() *schema.Registry {
	return db.registry
}

// From starts a relation over the named entity type, including its default
// scope. An unknown type yields a relation carrying a CONFIGURATION error.
func (db *DB) From(typeName string) *Relation {
	t, ok := db.registry.Lookup(typeName)
	if !ok {
		return &Relation{
			db:    db,
			frag:  queryir.Fragments{Target: typeName},
			err:   qerr.Configuration(typeName, "unknown entity type %q", typeName),
			state: &loadState{},
		}
	}

	frag := queryir.Fragments{Target: t.Name}
	if t.DefaultScope != nil {
		frag = t.DefaultScope.Clone()
		frag.Target = t.Name
	}
	return &Relation{db: db, typ: t, frag: frag, state: &loadState{}}
}

// inListLimit returns the effective IN-list limit.
func (db *DB) inListLimit() int {
	if db.maxInList > 0 {
		return db.maxInList
	}
	if n := db.engine.MaxInList(); n > 0 {
		return n
	}
	return DefaultMaxInList
}

// mapRows converts rows into records of type t.
func (db *DB) mapRows(t *schema.EntityType, rows []queryir.Row) ([]*record.Record, error) {
	records := make([]*record.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := db.mapper.Map(t, row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

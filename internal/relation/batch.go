package relation

import (
	"context"
	"iter"

	"github.com/roach88/relq/internal/qerr"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/record"
)

// DefaultBatchSize is the page size when BatchSize is not given.
const DefaultBatchSize = 1000

type batchConfig struct {
	size   int
	start  any
	finish any
}

// BatchOption configures batch iteration.
type BatchOption func(*batchConfig)

// BatchSize sets the number of records per page.
func BatchSize(n int) BatchOption {
	return func(c *batchConfig) {
		c.size = n
	}
}

// StartAt starts iteration at primary key v, inclusive.
func StartAt(v any) BatchOption {
	return func(c *batchConfig) {
		c.start = v
	}
}

// FinishAt stops iteration at primary key v, inclusive.
func FinishAt(v any) BatchOption {
	return func(c *batchConfig) {
		c.finish = v
	}
}

// FindInBatches iterates the relation in pages ordered by primary key.
//
// Pages are fetched with keyset pagination: the first page starts at the
// start key (or the smallest key), each later page continues strictly after
// the last key seen. Iteration ends on an empty or short page. Every record
// matching the relation at the time of its page is yielded exactly once,
// whatever the page size.
//
// The relation's order is replaced by primary key order and its offset is
// ignored, both with a warning. A relation limit caps the total number of
// records. Includes are preloaded per page. Each range over the returned
// sequence queries afresh; an error ends iteration after it is yielded.
func (r *Relation) FindInBatches(ctx context.Context, opts ...BatchOption) iter.Seq2[[]*record.Record, error] {
	cfg := batchConfig{size: DefaultBatchSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(yield func([]*record.Record, error) bool) {
		if r.err != nil {
			yield(nil, r.err)
			return
		}
		if cfg.size <= 0 {
			yield(nil, qerr.Configuration("batch_size", "batch size must be positive, got %d", cfg.size))
			return
		}
		pk := r.typ.PrimaryKey()
		if pk == "" {
			yield(nil, qerr.Configuration(r.typ.Name, "batch iteration requires a single-column primary key on %s", r.typ.Name))
			return
		}

		if !selectsColumn(r.frag.Select, r.typ.Table, pk) {
			yield(nil, qerr.Configuration(r.typ.Table+"."+pk, "batch iteration requires %s.%s in the selected columns", r.typ.Table, pk))
			return
		}

		if len(r.frag.Order) > 0 {
			r.db.logger.Warn("batch iteration replaces relation order with primary key order",
				"type", r.typ.Name,
				"primary_key", pk)
		}
		if r.frag.Offset != nil {
			r.db.logger.Warn("batch iteration ignores relation offset",
				"type", r.typ.Name,
				"offset", *r.frag.Offset)
		}

		remaining := -1
		if r.frag.Limit != nil {
			remaining = *r.frag.Limit
		}

		key := r.typ.Table + "." + pk
		base := r.Except(queryir.KindOrder, queryir.KindLimit, queryir.KindOffset).
			Reorder(queryir.Asc(key))
		if cfg.finish != nil {
			base = base.Where(queryir.Lte(key, cfg.finish))
		}

		var last any
		for page := 0; remaining != 0; page++ {
			size := cfg.size
			if remaining > 0 && remaining < size {
				size = remaining
			}

			q := base
			switch {
			case page > 0:
				q = q.Where(queryir.Gt(key, last))
			case cfg.start != nil:
				q = q.Where(queryir.Gte(key, cfg.start))
			}

			records, err := q.Limit(size).ToA(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			if len(records) == 0 {
				return
			}

			r.db.logger.Debug("batch fetched",
				"type", r.typ.Name,
				"page", page,
				"records", len(records))

			if remaining > 0 {
				remaining -= len(records)
			}
			last = records[len(records)-1].Value(pk)
			if !yield(records, nil) {
				return
			}
			if len(records) < size {
				return
			}
		}
	}
}

// selectsColumn reports whether a projection includes table.name. An empty
// projection selects every column.
func selectsColumn(sel []queryir.Column, table, name string) bool {
	if len(sel) == 0 {
		return true
	}
	for _, c := range sel {
		if c.Table == table && (c.Name == name || c.Name == "*") {
			return true
		}
	}
	return false
}

// FindEach yields the records of FindInBatches one at a time.
func (r *Relation) FindEach(ctx context.Context, opts ...BatchOption) iter.Seq2[*record.Record, error] {
	return func(yield func(*record.Record, error) bool) {
		for batch, err := range r.FindInBatches(ctx, opts...) {
			if err != nil {
				yield(nil, err)
				return
			}
			for _, rec := range batch {
				if !yield(rec, nil) {
					return
				}
			}
		}
	}
}

package relation

import (
	"context"
	"slices"

	"github.com/roach88/relq/internal/qerr"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/record"
	"github.com/roach88/relq/internal/typecast"
)

// Each materializes the relation and calls fn for every record, stopping at
// the first error.
func (r *Relation) Each(ctx context.Context, fn func(*record.Record) error) error {
	records, err := r.ToA(ctx)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// Map materializes r and applies fn to every record.
func Map[T any](ctx context.Context, r *Relation, fn func(*record.Record) (T, error)) ([]T, error) {
	records, err := r.ToA(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(records))
	for _, rec := range records {
		v, err := fn(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// First returns the first record, by primary key unless the relation is
// ordered. A loaded relation answers from its records.
func (r *Relation) First(ctx context.Context) (*record.Record, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.Loaded() {
		return firstOf(r.state.records)
	}

	q := r
	if len(r.frag.Order) == 0 {
		if pk := r.typ.PrimaryKey(); pk != "" {
			q = q.Order(queryir.Asc(r.typ.Table + "." + pk))
		}
	}
	records, err := q.Limit(1).ToA(ctx)
	if err != nil {
		return nil, err
	}
	return firstOf(records)
}

// Last returns the last record: the relation's order reversed, or
// descending primary key. With a limit or offset the relation is
// materialized and its last record returned.
func (r *Relation) Last(ctx context.Context) (*record.Record, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.Loaded() || r.frag.Limit != nil || r.frag.Offset != nil {
		records, err := r.ToA(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, ErrRecordNotFound
		}
		return records[len(records)-1], nil
	}

	var terms []queryir.OrderTerm
	for _, o := range r.frag.Order {
		terms = append(terms, o.Reverse())
	}
	if len(terms) == 0 {
		pk := r.typ.PrimaryKey()
		if pk == "" {
			return nil, qerr.Configuration(r.typ.Name, "last requires an order or a primary key on %s", r.typ.Name)
		}
		terms = []queryir.OrderTerm{queryir.Desc(r.typ.Table + "." + pk)}
	}
	records, err := r.Reorder(terms...).Limit(1).ToA(ctx)
	if err != nil {
		return nil, err
	}
	return firstOf(records)
}

// Find returns the record with primary key id within the relation.
func (r *Relation) Find(ctx context.Context, id any) (*record.Record, error) {
	if r.err != nil {
		return nil, r.err
	}
	pk := r.typ.PrimaryKey()
	if pk == "" {
		return nil, qerr.Configuration(r.typ.Name, "find requires a single-column primary key on %s", r.typ.Name)
	}
	return r.Where(queryir.Eq(r.typ.Table+"."+pk, id)).First(ctx)
}

func firstOf(records []*record.Record) (*record.Record, error) {
	if len(records) == 0 {
		return nil, ErrRecordNotFound
	}
	return records[0], nil
}

// Size returns the number of records: the loaded count when materialized,
// a COUNT query otherwise.
func (r *Relation) Size(ctx context.Context) (int64, error) {
	if r.err != nil {
		return 0, r.err
	}
	if r.Loaded() {
		return int64(len(r.state.records)), nil
	}
	return r.Count(ctx)
}

// IsEmpty reports whether the relation has no records.
func (r *Relation) IsEmpty(ctx context.Context) (bool, error) {
	n, err := r.Size(ctx)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// Pluck returns the values of one column. A loaded relation answers from
// its records when the column belongs to the target table; otherwise only
// the column is selected.
func (r *Relation) Pluck(ctx context.Context, column string) ([]any, error) {
	if r.err != nil {
		return nil, r.err
	}
	c, err := r.checkColumn(queryir.Col(column))
	if err != nil {
		return nil, err
	}

	if r.Loaded() && c.Table == r.typ.Table {
		records := slices.Clone(r.state.records)
		out := make([]any, len(records))
		for i, rec := range records {
			out[i] = rec.Value(c.Name)
		}
		return out, nil
	}

	q, err := r.Except(queryir.KindSelect, queryir.KindIncludes).Select(c.Qualified()).ToQuery()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.engine.Rows(ctx, q)
	if err != nil {
		return nil, err
	}

	colType, typed := r.columnType(c)
	out := make([]any, 0, len(rows))
	for _, row := range rows {
		if len(row.Values) == 0 {
			continue
		}
		v := row.Values[0]
		if typed {
			if v, err = typecast.Cast(v, colType); err != nil {
				return nil, err
			}
		}
		out = append(out, v)
	}
	return out, nil
}

// IDs plucks the primary key.
func (r *Relation) IDs(ctx context.Context) ([]any, error) {
	if r.err != nil {
		return nil, r.err
	}
	pk := r.typ.PrimaryKey()
	if pk == "" {
		return nil, qerr.Configuration(r.typ.Name, "ids requires a single-column primary key on %s", r.typ.Name)
	}
	return r.Pluck(ctx, r.typ.Table+"."+pk)
}

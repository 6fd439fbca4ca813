package relation

import (
	"context"
	"slices"

	"github.com/cockroachdb/apd/v3"

	"github.com/roach88/relq/internal/qerr"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/record"
	"github.com/roach88/relq/internal/schema"
	"github.com/roach88/relq/internal/typecast"
)

// Op is a calculation operation.
type Op string

const (
	OpCount   Op = "count"
	OpSum     Op = "sum"
	OpAverage Op = "average"
	OpMinimum Op = "minimum"
	OpMaximum Op = "maximum"
)

var opFuncs = map[Op]queryir.AggregateFunc{
	OpCount:   queryir.FuncCount,
	OpSum:     queryir.FuncSum,
	OpAverage: queryir.FuncAvg,
	OpMinimum: queryir.FuncMin,
	OpMaximum: queryir.FuncMax,
}

// ParseOp returns the Op named s.
func ParseOp(s string) (Op, error) {
	op := Op(s)
	if _, ok := opFuncs[op]; !ok {
		return "", qerr.Configuration(s, "unknown calculation %q", s)
	}
	return op, nil
}

const (
	// Alias of the aggregated column inside a calculation subquery.
	subqueryColumn = "calc_column"
)

type calcConfig struct {
	distinct bool
}

// CalcOption configures one calculation.
type CalcOption func(*calcConfig)

// DistinctValues aggregates distinct values only: AGG(DISTINCT col).
func DistinctValues() CalcOption {
	return func(c *calcConfig) {
		c.distinct = true
	}
}

// Group is one row of a grouped calculation.
type Group struct {
	Key   []any          // Group column values, cast to their column types
	Owner *record.Record // Associated record when grouped by association
	Value any
}

// Result holds a calculation result: a single Value, or Groups when the
// relation is grouped.
type Result struct {
	Value   any
	Groups  []Group
	grouped bool
}

// Grouped reports whether the result holds groups.
func (r Result) Grouped() bool {
	return r.grouped
}

// Lookup returns the group with the given key. Keys are compared after
// normalization, so int and int64 keys match.
func (r Result) Lookup(key ...any) (Group, bool) {
	for _, g := range r.Groups {
		if sameKey(g.Key, key) {
			return g, true
		}
	}
	return Group{}, false
}

func sameKey(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if typecast.Key(a[i]) != typecast.Key(b[i]) {
			return false
		}
	}
	return true
}

// calculation is one resolved Calculate call.
type calculation struct {
	op       Op
	fn       queryir.AggregateFunc
	column   queryir.Column // zero for "*"
	colType  schema.ColumnType
	typed    bool
	distinct bool
}

// Calculate runs an aggregate over the relation.
//
// Ungrouped relations produce one scalar. When a limit or offset is set the
// aggregate is computed over a subquery so it honors them. Grouped relations
// produce one Group per result row, in row order.
func (r *Relation) Calculate(ctx context.Context, op Op, column string, opts ...CalcOption) (Result, error) {
	if r.err != nil {
		return Result{}, r.err
	}

	c, err := r.calculation(op, column, opts)
	if err != nil {
		return Result{}, err
	}

	if len(r.frag.Group) > 0 {
		return r.calculateGrouped(ctx, c)
	}

	if r.frag.Limit != nil && *r.frag.Limit == 0 {
		return Result{Value: c.empty()}, nil
	}

	var q queryir.Aggregate
	if r.frag.Limit != nil || r.frag.Offset != nil || (c.column.IsZero() && r.frag.Distinct) {
		q, err = r.subqueryAggregate(c)
	} else {
		q, err = r.simpleAggregate(c)
	}
	if err != nil {
		return Result{}, err
	}

	v, err := r.db.engine.Scalar(ctx, q)
	if err != nil {
		return Result{}, err
	}
	v, err = c.cast(v)
	if err != nil {
		return Result{}, err
	}
	return Result{Value: v}, nil
}

func (r *Relation) calculation(op Op, column string, opts []CalcOption) (calculation, error) {
	fn, ok := opFuncs[op]
	if !ok {
		return calculation{}, qerr.Configuration(string(op), "unknown calculation %q", op)
	}

	var cfg calcConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	c := calculation{op: op, fn: fn, distinct: cfg.distinct}
	if column == "" || column == "*" {
		if op != OpCount {
			return calculation{}, qerr.Configuration(string(op), "%s requires a column", op)
		}
		return c, nil
	}

	col, err := r.checkColumn(queryir.Col(column))
	if err != nil {
		return calculation{}, err
	}
	c.column = col
	c.colType, c.typed = r.columnType(col)
	// count(col) on a distinct relation counts distinct values.
	if r.frag.Distinct {
		c.distinct = true
	}
	return c, nil
}

// simpleAggregate is SELECT AGG(col) FROM ... with order removed.
func (r *Relation) simpleAggregate(c calculation) (queryir.Aggregate, error) {
	src, err := r.ToQuery()
	if err != nil {
		return queryir.Aggregate{}, err
	}
	src.Columns = nil
	src.Order = nil
	src.Distinct = false
	return queryir.Aggregate{Func: c.fn, Column: c.column, Distinct: c.distinct, Source: src}, nil
}

// subqueryAggregate computes the aggregate over the relation's rows as a
// derived table, keeping order, limit and offset on the inner query.
func (r *Relation) subqueryAggregate(c calculation) (queryir.Aggregate, error) {
	inner, err := r.ToQuery()
	if err != nil {
		return queryir.Aggregate{}, err
	}

	outer := queryir.Aggregate{
		Func:     c.fn,
		Distinct: c.distinct,
		Subquery: true,
		Alias:    "subquery_for_" + string(c.op),
	}
	switch {
	case !c.column.IsZero():
		inner.Columns = []queryir.Column{{Table: c.column.Table, Name: c.column.Name, Alias: subqueryColumn}}
		outer.Column = queryir.Column{Name: subqueryColumn}
	case inner.Distinct:
		// Distinctness is over the selected columns, so keep them.
	default:
		inner.Columns = []queryir.Column{{Name: "1", Alias: "one"}}
	}
	if c.column.IsZero() {
		outer.Distinct = false
	}
	outer.Source = inner
	return outer, nil
}

// calculateGrouped runs one grouped aggregate query. With a group
// association, group keys are resolved to owner records using batched
// primary key lookups.
func (r *Relation) calculateGrouped(ctx context.Context, c calculation) (Result, error) {
	src, err := r.ToQuery()
	if err != nil {
		return Result{}, err
	}
	src.Columns = nil
	src.Distinct = false

	rows, err := r.db.engine.Rows(ctx, queryir.Aggregate{Func: c.fn, Column: c.column, Distinct: c.distinct, Source: src})
	if err != nil {
		return Result{}, err
	}

	n := len(src.Group)
	groups := make([]Group, 0, len(rows))
	for _, row := range rows {
		if len(row.Values) != n+1 {
			return Result{}, qerr.Execution("", errGroupedRowWidth(len(row.Values), n+1))
		}
		key := make([]any, n)
		for i, gc := range src.Group {
			key[i] = row.Values[i]
			if t, ok := r.columnType(gc); ok {
				if key[i], err = typecast.Cast(row.Values[i], t); err != nil {
					return Result{}, err
				}
			}
		}
		v, err := c.cast(row.Values[n])
		if err != nil {
			return Result{}, err
		}
		groups = append(groups, Group{Key: key, Value: v})
	}

	if r.frag.GroupAssociation != "" {
		if err := r.resolveGroupOwners(ctx, groups, src.Group); err != nil {
			return Result{}, err
		}
	}

	return Result{Groups: groups, grouped: true}, nil
}

// resolveGroupOwners sets Group.Owner from the group association's foreign
// key. Keys without a matching record keep a nil Owner.
func (r *Relation) resolveGroupOwners(ctx context.Context, groups []Group, groupCols []queryir.Column) error {
	refl, ok := r.typ.Association(r.frag.GroupAssociation)
	if !ok {
		return qerr.Configuration(r.typ.Name+"."+r.frag.GroupAssociation,
			"unknown association %s on %s", r.frag.GroupAssociation, r.typ.Name)
	}
	target, ok := r.db.registry.Target(refl)
	if !ok {
		return qerr.Configuration(refl.Name, "association %s targets unknown type %q", refl.Name, refl.Target)
	}
	idx := slices.Index(groupCols, queryir.Column{Table: r.typ.Table, Name: refl.ForeignKey})
	if idx < 0 {
		return nil
	}

	var keys []any
	seen := map[any]bool{}
	for _, g := range groups {
		k := g.Key[idx]
		if k == nil || seen[typecast.Key(k)] {
			continue
		}
		seen[typecast.Key(k)] = true
		keys = append(keys, k)
	}

	pkCol := col(target.Table, refl.PrimaryKey)
	owners := map[any]*record.Record{}
	for chunk := range slices.Chunk(keys, r.db.inListLimit()) {
		records, err := r.db.From(target.Name).Unscoped().
			Where(queryir.In{Column: pkCol, Values: chunk}).
			ToA(ctx)
		if err != nil {
			return err
		}
		for _, rec := range records {
			owners[typecast.Key(rec.Value(refl.PrimaryKey))] = rec
		}
	}

	for i := range groups {
		if k := groups[i].Key[idx]; k != nil {
			groups[i].Owner = owners[typecast.Key(k)]
		}
	}
	return nil
}

// empty is the result over no rows.
func (c calculation) empty() any {
	switch c.op {
	case OpCount:
		return int64(0)
	case OpSum:
		if c.typed {
			return typecast.Zero(c.colType)
		}
		return int64(0)
	default:
		return nil
	}
}

// cast converts a raw aggregate value. Columns of unknown type (for
// example introduced by a clause join) are returned as the driver gave them.
func (c calculation) cast(v any) (any, error) {
	if v == nil {
		return c.empty(), nil
	}
	switch c.op {
	case OpCount:
		return typecast.Cast(v, schema.TypeInteger)
	case OpAverage:
		d, err := typecast.ToDecimal(v)
		if err != nil {
			return nil, qerr.TypeCast(v, string(schema.TypeDecimal), err)
		}
		return d, nil
	default:
		if !c.typed {
			return v, nil
		}
		return typecast.Cast(v, c.colType)
	}
}

// Count returns the number of rows.
func (r *Relation) Count(ctx context.Context) (int64, error) {
	res, err := r.scalar(ctx, OpCount, "")
	if err != nil {
		return 0, err
	}
	return res.(int64), nil
}

// Sum returns the sum of column, the column type's zero over no rows.
func (r *Relation) Sum(ctx context.Context, column string) (any, error) {
	return r.scalar(ctx, OpSum, column)
}

// Average returns the mean of column, nil over no rows.
func (r *Relation) Average(ctx context.Context, column string) (*apd.Decimal, error) {
	v, err := r.scalar(ctx, OpAverage, column)
	if err != nil || v == nil {
		return nil, err
	}
	return v.(*apd.Decimal), nil
}

// Minimum returns the smallest value of column, nil over no rows.
func (r *Relation) Minimum(ctx context.Context, column string) (any, error) {
	return r.scalar(ctx, OpMinimum, column)
}

// Maximum returns the largest value of column, nil over no rows.
func (r *Relation) Maximum(ctx context.Context, column string) (any, error) {
	return r.scalar(ctx, OpMaximum, column)
}

// GroupedCount counts rows per group of a grouped relation.
func (r *Relation) GroupedCount(ctx context.Context) ([]Group, error) {
	if r.err != nil {
		return nil, r.err
	}
	if len(r.frag.Group) == 0 {
		return nil, qerr.Configuration(r.frag.Target, "grouped count on a relation without group")
	}
	res, err := r.Calculate(ctx, OpCount, "")
	if err != nil {
		return nil, err
	}
	return res.Groups, nil
}

func (r *Relation) scalar(ctx context.Context, op Op, column string) (any, error) {
	if r.err == nil && len(r.frag.Group) > 0 {
		return nil, qerr.Configuration(r.frag.Target, "%s on a grouped relation returns groups; use Calculate", op)
	}
	res, err := r.Calculate(ctx, op, column)
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

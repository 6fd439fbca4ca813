package relation

import (
	"context"
	"slices"
	"sync"

	"github.com/roach88/relq/internal/qerr"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/record"
	"github.com/roach88/relq/internal/schema"
)

// Relation is a deferred query over one entity type.
type Relation struct {
	db    *DB
	typ   *schema.EntityType
	frag  queryir.Fragments
	err   error
	state *loadState
}

// loadState is the materialized cache of one Relation instance.
type loadState struct {
	mu      sync.Mutex
	loaded  bool
	records []*record.Record
}

// Err returns the first configuration error recorded by a builder call.
func (r *Relation) Err() error {
	return r.err
}

// Type returns the target entity type, nil when the relation was started
// from an unknown type.
func (r *Relation) Type() *schema.EntityType {
	return r.typ
}

// Fragments returns a copy of the accumulated fragments.
func (r *Relation) Fragments() queryir.Fragments {
	return r.frag.Clone()
}

// clone returns a copy with an empty cache.
func (r *Relation) clone() *Relation {
	return &Relation{
		db:    r.db,
		typ:   r.typ,
		frag:  r.frag.Clone(),
		err:   r.err,
		state: &loadState{},
	}
}

// with applies fn to a copy unless an error is already recorded.
func (r *Relation) with(fn func(out *Relation) error) *Relation {
	out := r.clone()
	if out.err != nil {
		return out
	}
	if err := fn(out); err != nil {
		out.err = err
	}
	return out
}

// Where adds predicates. Unqualified columns are qualified with the target
// table. Raw predicates are not checked.
func (r *Relation) Where(preds ...queryir.Predicate) *Relation {
	return r.with(func(out *Relation) error {
		for _, p := range preds {
			q, err := out.checkPredicate(p)
			if err != nil {
				return err
			}
			out.frag.Where = append(out.frag.Where, q)
		}
		return nil
	})
}

// Joins adds joins. Association paths must exist; repeated joins are kept
// once.
func (r *Relation) Joins(joins ...queryir.Join) *Relation {
	return r.with(func(out *Relation) error {
		for _, j := range joins {
			if aj, ok := j.(queryir.AssociationJoin); ok {
				if _, _, err := out.db.walkPath(out.typ, aj.Path, false); err != nil {
					return err
				}
			}
			out.frag.Joins = appendJoin(out.frag.Joins, j)
		}
		return nil
	})
}

// JoinsAssociation is shorthand for Joins(queryir.Association(path)...).
func (r *Relation) JoinsAssociation(paths ...string) *Relation {
	joins := make([]queryir.Join, len(paths))
	for i, p := range paths {
		joins[i] = queryir.Association(p)
	}
	return r.Joins(joins...)
}

// Order appends order terms.
func (r *Relation) Order(terms ...queryir.OrderTerm) *Relation {
	return r.with(func(out *Relation) error {
		checked, err := out.checkOrder(terms)
		if err != nil {
			return err
		}
		out.frag.Order = append(out.frag.Order, checked...)
		return nil
	})
}

// Reorder replaces every order term, including inherited ones, and marks the
// relation so a merge replaces rather than extends the base order.
func (r *Relation) Reorder(terms ...queryir.OrderTerm) *Relation {
	return r.with(func(out *Relation) error {
		checked, err := out.checkOrder(terms)
		if err != nil {
			return err
		}
		out.frag.Order = checked
		out.frag.Reorder = true
		return nil
	})
}

// Group adds grouping columns.
func (r *Relation) Group(columns ...string) *Relation {
	return r.with(func(out *Relation) error {
		for _, c := range columns {
			col, err := out.checkColumn(queryir.Col(c))
			if err != nil {
				return err
			}
			if !slices.Contains(out.frag.Group, col) {
				out.frag.Group = append(out.frag.Group, col)
			}
		}
		return nil
	})
}

// GroupByAssociation groups by a belongs_to association's foreign key.
// Grouped calculations then resolve each key to the associated record.
func (r *Relation) GroupByAssociation(name string) *Relation {
	return r.with(func(out *Relation) error {
		refl, ok := out.typ.Association(name)
		if !ok {
			return qerr.Configuration(out.typ.Name+"."+name, "unknown association %s on %s", name, out.typ.Name)
		}
		if refl.Macro != schema.BelongsTo || refl.Polymorphic {
			return qerr.Configuration(out.typ.Name+"."+name, "cannot group by %s association %s", refl.Macro, name)
		}
		col := queryir.Column{Table: out.typ.Table, Name: refl.ForeignKey}
		if !slices.Contains(out.frag.Group, col) {
			out.frag.Group = append(out.frag.Group, col)
		}
		out.frag.GroupAssociation = name
		return nil
	})
}

// Having adds predicates on grouped rows.
func (r *Relation) Having(preds ...queryir.Predicate) *Relation {
	return r.with(func(out *Relation) error {
		for _, p := range preds {
			q, err := out.checkPredicate(p)
			if err != nil {
				return err
			}
			out.frag.Having = append(out.frag.Having, q)
		}
		return nil
	})
}

// Limit caps the number of rows.
func (r *Relation) Limit(n int) *Relation {
	return r.with(func(out *Relation) error {
		if n < 0 {
			return qerr.Configuration("limit", "limit must be non-negative, got %d", n)
		}
		out.frag.Limit = queryir.Int(n)
		return nil
	})
}

// Offset skips rows.
func (r *Relation) Offset(n int) *Relation {
	return r.with(func(out *Relation) error {
		if n < 0 {
			return qerr.Configuration("offset", "offset must be non-negative, got %d", n)
		}
		out.frag.Offset = queryir.Int(n)
		return nil
	})
}

// Select restricts the selected columns. The default is every column of the
// target table.
func (r *Relation) Select(columns ...string) *Relation {
	return r.with(func(out *Relation) error {
		for _, c := range columns {
			col, err := out.checkColumn(queryir.Col(c))
			if err != nil {
				return err
			}
			out.frag.Select = append(out.frag.Select, col)
		}
		return nil
	})
}

// Distinct sets SELECT DISTINCT.
func (r *Relation) Distinct(distinct bool) *Relation {
	return r.with(func(out *Relation) error {
		out.frag.Distinct = distinct
		return nil
	})
}

// Includes requests preloading of association paths on materialization.
// Dotted paths preload nested associations level by level.
func (r *Relation) Includes(paths ...string) *Relation {
	return r.with(func(out *Relation) error {
		for _, p := range paths {
			if _, _, err := out.db.walkPath(out.typ, p, true); err != nil {
				return err
			}
			out.frag.Includes = appendInclude(out.frag.Includes, queryir.Include{Path: p})
		}
		return nil
	})
}

// IncludesScoped preloads path narrowed by scope, which must target the
// association's target type.
func (r *Relation) IncludesScoped(path string, scope *Relation) *Relation {
	return r.with(func(out *Relation) error {
		if scope != nil && scope.err != nil {
			return scope.err
		}
		_, target, err := out.db.walkPath(out.typ, path, true)
		if err != nil {
			return err
		}
		inc := queryir.Include{Path: path}
		if scope != nil {
			if target == nil {
				return qerr.Configuration(path, "cannot scope polymorphic association %s", path)
			}
			if scope.typ != target {
				return qerr.Configuration(path, "scope targets %s but association %s targets %s", scope.typ.Name, path, target.Name)
			}
			f := scope.frag.Clone()
			inc.Scope = &f
		}
		out.frag.Includes = appendInclude(out.frag.Includes, inc)
		return nil
	})
}

// Unscoped removes every fragment, including the default scope.
func (r *Relation) Unscoped() *Relation {
	return r.with(func(out *Relation) error {
		out.frag = queryir.Fragments{Target: out.frag.Target}
		return nil
	})
}

// Except removes the given fragment classes.
func (r *Relation) Except(kinds ...queryir.Kind) *Relation {
	return r.with(func(out *Relation) error {
		out.frag = out.frag.Except(kinds...)
		return nil
	})
}

// Merge folds other's fragments into a copy of r. See MergeFragments.
func (r *Relation) Merge(other *Relation) *Relation {
	return r.with(func(out *Relation) error {
		if other.err != nil {
			return other.err
		}
		merged, err := MergeFragments(out.db.registry, out.frag, other.frag)
		if err != nil {
			return err
		}
		out.frag = merged
		return nil
	})
}

// mergeScope merges stored fragments, e.g. an association scope.
func (r *Relation) mergeScope(scope *queryir.Fragments) *Relation {
	if scope == nil {
		return r
	}
	return r.with(func(out *Relation) error {
		merged, err := MergeFragments(out.db.registry, out.frag, *scope)
		if err != nil {
			return err
		}
		out.frag = merged
		return nil
	})
}

// Reset returns a copy with an empty cache.
func (r *Relation) Reset() *Relation {
	return r.clone()
}

// ToQuery resolves the fragments into a finished Select. Association joins
// are expanded into table joins.
func (r *Relation) ToQuery() (queryir.Select, error) {
	if r.err != nil {
		return queryir.Select{}, r.err
	}

	joins, err := r.db.resolveJoins(r.typ, r.frag.Joins)
	if err != nil {
		return queryir.Select{}, err
	}
	if err := r.checkJoinedTables(joins); err != nil {
		return queryir.Select{}, err
	}

	f := r.frag.Clone()
	return queryir.Select{
		Table:    r.typ.Table,
		Columns:  f.Select,
		Distinct: f.Distinct,
		Joins:    joins,
		Where:    f.Where,
		Group:    f.Group,
		Having:   f.Having,
		Order:    f.Order,
		Limit:    f.Limit,
		Offset:   f.Offset,
	}, nil
}

// checkJoinedTables verifies that every column the fragments reference
// belongs to the target table or to a joined one. Clause joins may bring in
// any table, so they disable the check.
func (r *Relation) checkJoinedTables(joins []queryir.Join) error {
	if r.frag.HasClauseJoin() {
		return nil
	}
	tables := map[string]bool{r.typ.Table: true}
	for _, j := range joins {
		if tj, ok := j.(queryir.TableJoin); ok {
			tables[tj.Table] = true
		}
	}

	var cols []queryir.Column
	for _, p := range slices.Concat(r.frag.Where, r.frag.Having) {
		cols = append(cols, queryir.PredicateColumns(p)...)
	}
	for _, t := range r.frag.Order {
		cols = append(cols, t.Column)
	}
	cols = append(cols, r.frag.Group...)
	cols = append(cols, r.frag.Select...)

	for _, c := range cols {
		if c.Table != "" && !tables[c.Table] {
			return qerr.Configuration(c.Qualified(), "column %s references table %s, which is not joined", c.Qualified(), c.Table)
		}
	}
	return nil
}

// Loaded reports whether the relation has been materialized.
func (r *Relation) Loaded() bool {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	return r.state.loaded
}

// ToA materializes the relation: one query through the engine, rows mapped
// to records, includes preloaded. Later calls return the cached records.
// A failed execution is not cached.
func (r *Relation) ToA(ctx context.Context) ([]*record.Record, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	if r.err != nil {
		return nil, r.err
	}
	if r.state.loaded {
		return slices.Clone(r.state.records), nil
	}

	q, err := r.ToQuery()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.engine.Rows(ctx, q)
	if err != nil {
		return nil, err
	}
	records, err := r.db.mapRows(r.typ, rows)
	if err != nil {
		return nil, err
	}

	for _, inc := range r.frag.Includes {
		if err := r.db.preloadPath(ctx, records, inc.Path, inc.Scope); err != nil {
			return nil, err
		}
	}

	r.state.records = records
	r.state.loaded = true
	return slices.Clone(records), nil
}

// Load materializes the relation and returns it.
func (r *Relation) Load(ctx context.Context) (*Relation, error) {
	if _, err := r.ToA(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// checkPredicate validates and qualifies the columns of p.
func (r *Relation) checkPredicate(p queryir.Predicate) (queryir.Predicate, error) {
	for _, c := range queryir.PredicateColumns(p) {
		if _, err := r.checkColumn(c); err != nil {
			return nil, err
		}
	}
	return queryir.QualifyPredicate(p, r.typ.Table), nil
}

func (r *Relation) checkOrder(terms []queryir.OrderTerm) ([]queryir.OrderTerm, error) {
	out := make([]queryir.OrderTerm, len(terms))
	for i, t := range terms {
		col, err := r.checkColumn(t.Column)
		if err != nil {
			return nil, err
		}
		if t.Direction == "" {
			t.Direction = queryir.Ascending
		}
		t.Column = col
		out[i] = t
	}
	return out, nil
}

// checkColumn qualifies c and verifies it exists. Columns of the target
// table and of any registered table are checked against metadata. Other
// tables are only accepted when an explicit join clause may introduce them.
func (r *Relation) checkColumn(c queryir.Column) (queryir.Column, error) {
	c = c.Qualify(r.typ.Table)
	if c.Name == "" {
		return c, qerr.Configuration(c.Table, "empty column reference")
	}

	t, ok := r.db.registry.ByTable(c.Table)
	if !ok {
		if r.frag.HasClauseJoin() {
			return c, nil
		}
		return c, qerr.Configuration(c.Qualified(), "unknown table %s", c.Table)
	}
	if c.Name != "*" && !t.HasColumn(c.Name) {
		return c, qerr.Configuration(c.Qualified(), "unknown column %s on %s", c.Name, c.Table)
	}
	return c, nil
}

// columnType returns the declared type of a qualified column.
func (r *Relation) columnType(c queryir.Column) (schema.ColumnType, bool) {
	t, ok := r.db.registry.ByTable(c.Table)
	if !ok {
		return "", false
	}
	col, ok := t.Column(c.Name)
	return col.Type, ok
}

func appendJoin(joins []queryir.Join, j queryir.Join) []queryir.Join {
	for _, existing := range joins {
		if queryir.SameJoin(existing, j) {
			return joins
		}
	}
	return append(joins, j)
}

func appendInclude(includes []queryir.Include, inc queryir.Include) []queryir.Include {
	for _, existing := range includes {
		if existing.Path == inc.Path {
			return includes
		}
	}
	return append(includes, inc)
}

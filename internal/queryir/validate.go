package queryir

import (
	"fmt"
	"strings"
)

// ValidationResult lists structural problems found in a finished query.
//
// Validation is structural only: it does not know entity metadata. Column
// and association references are checked by the relation engine when
// fragments are added.
type ValidationResult struct {
	// Valid is true when Problems is empty.
	Valid bool

	// Problems describes each structural defect.
	Problems []string
}

// Err returns the problems as a single error, or nil when valid.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return fmt.Errorf("invalid query: %s", strings.Join(r.Problems, "; "))
}

// Validate checks that a finished query can be rendered by a backend.
//
// Rules:
//  1. Every Select names a table.
//  2. Association joins must be resolved into TableJoins before execution.
//  3. Table joins name a table and at least one ON condition.
//  4. Predicates reference named columns and known operators.
//  5. Raw fragments carry one bind per "?" placeholder.
//  6. Limit and offset are non-negative.
//  7. Aggregates over "*" are COUNT only.
//
// Validate is a pure function with no side effects.
func Validate(query Query) ValidationResult {
	v := &validator{
		problems: []string{},
	}
	v.validateQuery(query)

	return ValidationResult{
		Valid:    len(v.problems) == 0,
		Problems: v.problems,
	}
}

// validator accumulates problems during traversal.
type validator struct {
	problems []string
}

func (v *validator) addProblem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) validateQuery(q Query) {
	switch query := q.(type) {
	case Select:
		v.validateSelect(query)
	case *Select:
		v.validateSelect(*query)
	case Aggregate:
		v.validateAggregate(query)
	case *Aggregate:
		v.validateAggregate(*query)
	case nil:
		v.addProblem("nil query")
	default:
		v.addProblem("unknown query type: %T", q)
	}
}

func (v *validator) validateSelect(sel Select) {
	if sel.Table == "" {
		v.addProblem("select without table")
	}
	for _, j := range sel.Joins {
		v.validateJoin(j)
	}
	for _, p := range sel.Where {
		v.validatePredicate(p)
	}
	for _, p := range sel.Having {
		v.validatePredicate(p)
	}
	for _, c := range sel.Group {
		if c.Name == "" {
			v.addProblem("group by column without name")
		}
	}
	for _, o := range sel.Order {
		if o.Column.Name == "" {
			v.addProblem("order term without column")
		}
		if o.Direction != Ascending && o.Direction != Descending {
			v.addProblem("order term %s has unknown direction %q", o.Column.Qualified(), o.Direction)
		}
	}
	if sel.Limit != nil && *sel.Limit < 0 {
		v.addProblem("negative limit %d", *sel.Limit)
	}
	if sel.Offset != nil && *sel.Offset < 0 {
		v.addProblem("negative offset %d", *sel.Offset)
	}
}

func (v *validator) validateAggregate(agg Aggregate) {
	switch agg.Func {
	case FuncCount, FuncSum, FuncAvg, FuncMin, FuncMax:
	default:
		v.addProblem("unknown aggregate function %q", agg.Func)
	}
	if agg.Column.IsZero() && agg.Func != FuncCount {
		v.addProblem("%s requires a column", agg.Func)
	}
	if agg.Subquery && agg.Alias == "" {
		v.addProblem("subquery aggregate without alias")
	}
	v.validateSelect(agg.Source)
}

func (v *validator) validateJoin(j Join) {
	switch join := j.(type) {
	case AssociationJoin:
		v.addProblem("unresolved association join %q", join.Path)
	case ClauseJoin:
		if strings.TrimSpace(join.SQL) == "" {
			v.addProblem("empty join clause")
		}
		v.checkBinds("join clause", join.SQL, join.Binds)
	case TableJoin:
		if join.Table == "" {
			v.addProblem("table join without table")
		}
		if len(join.On) == 0 {
			v.addProblem("table join %s without ON condition", join.Table)
		}
		for _, p := range join.Filters {
			v.validatePredicate(p)
		}
	default:
		v.addProblem("unknown join type: %T", j)
	}
}

func (v *validator) validatePredicate(p Predicate) {
	switch pred := p.(type) {
	case Compare:
		if !pred.Op.Valid() {
			v.addProblem("unknown comparison operator %q on %s", pred.Op, pred.Column.Qualified())
		}
	case Raw:
		if strings.TrimSpace(pred.SQL) == "" {
			v.addProblem("empty raw predicate")
		}
		v.checkBinds("raw predicate", pred.SQL, pred.Binds)
		return
	case Equal, NotEqual, In, NotIn:
	default:
		v.addProblem("unknown predicate type: %T", p)
		return
	}
	for _, c := range PredicateColumns(p) {
		if c.Name == "" {
			v.addProblem("predicate without column: %T", p)
		}
	}
}

func (v *validator) checkBinds(what, sql string, binds []any) {
	if n := strings.Count(sql, "?"); n != len(binds) {
		v.addProblem("%s %q has %d placeholders but %d binds", what, sql, n, len(binds))
	}
}

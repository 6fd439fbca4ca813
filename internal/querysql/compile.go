// Package querysql compiles finished queryir queries to parameterized SQL.
//
// Rendering is delegated to Masterminds/squirrel. All values are bound as
// parameters; only identifiers and operators are written into the SQL text.
// Raw predicates and clause joins are inserted verbatim with their binds.
package querysql

import (
	"fmt"
	"math"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/roach88/relq/internal/queryir"
)

// SQLCompiler compiles queryir queries for one placeholder style.
type SQLCompiler struct {
	format sq.PlaceholderFormat
}

// NewSQLCompiler creates a compiler using "?" placeholders (SQLite, MySQL).
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{format: sq.Question}
}

// NewCompiler creates a compiler using the given placeholder format, e.g.
// squirrel.Dollar for PostgreSQL.
func NewCompiler(format sq.PlaceholderFormat) *SQLCompiler {
	return &SQLCompiler{format: format}
}

// Compile converts a finished query to parameterized SQL.
// Returns (sql, params, error) tuple.
//
// The query is validated first; unresolved association joins and other
// structural problems are reported without rendering.
func (c *SQLCompiler) Compile(q queryir.Query) (string, []any, error) {
	if q == nil {
		return "", nil, fmt.Errorf("cannot compile nil query")
	}
	if err := queryir.Validate(q).Err(); err != nil {
		return "", nil, err
	}

	var (
		b   sq.SelectBuilder
		err error
	)
	switch query := q.(type) {
	case queryir.Select:
		b, err = c.compileSelect(query)
	case *queryir.Select:
		b, err = c.compileSelect(*query)
	case queryir.Aggregate:
		b, err = c.compileAggregate(query)
	case *queryir.Aggregate:
		b, err = c.compileAggregate(*query)
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}
	if err != nil {
		return "", nil, err
	}

	sql, args, err := b.PlaceholderFormat(c.format).ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("render sql: %w", err)
	}
	return sql, args, nil
}

// compileSelect renders a row query.
func (c *SQLCompiler) compileSelect(q queryir.Select) (sq.SelectBuilder, error) {
	return c.builder(q, selectColumns(q), true)
}

// compileAggregate renders one of three shapes:
//
//	SELECT AGG(col) FROM t ...                               simple
//	SELECT g1, g2, AGG(col) AS calc_value FROM t ... GROUP BY g1, g2   grouped
//	SELECT AGG(col) FROM (SELECT ... LIMIT n) AS alias       subquery
func (c *SQLCompiler) compileAggregate(q queryir.Aggregate) (sq.SelectBuilder, error) {
	expr := aggregateExpr(q)

	if q.Subquery {
		inner, err := c.compileSelect(q.Source)
		if err != nil {
			return sq.SelectBuilder{}, err
		}
		return sq.Select(expr).FromSelect(inner, q.Alias), nil
	}

	if len(q.Source.Group) > 0 {
		columns := make([]string, 0, len(q.Source.Group)+1)
		for _, g := range q.Source.Group {
			columns = append(columns, g.Qualified())
		}
		columns = append(columns, expr+" AS "+queryir.ValueColumn)
		return c.builder(q.Source, columns, false)
	}

	return c.builder(q.Source, []string{expr}, false)
}

// builder renders every clause of sel with the given select list. DISTINCT
// applies to row queries only; aggregates express distinctness in the
// aggregate call.
func (c *SQLCompiler) builder(sel queryir.Select, columns []string, distinct bool) (sq.SelectBuilder, error) {
	b := sq.Select(columns...).From(sel.Table)
	if distinct && sel.Distinct {
		b = b.Distinct()
	}

	for _, j := range sel.Joins {
		clause, err := compileJoin(j)
		if err != nil {
			return sq.SelectBuilder{}, err
		}
		b = b.JoinClause(clause)
	}

	for _, p := range sel.Where {
		s, err := predicateSqlizer(p)
		if err != nil {
			return sq.SelectBuilder{}, err
		}
		b = b.Where(s)
	}

	if len(sel.Group) > 0 {
		groups := make([]string, len(sel.Group))
		for i, g := range sel.Group {
			groups[i] = g.Qualified()
		}
		b = b.GroupBy(groups...)
	}

	for _, p := range sel.Having {
		s, err := predicateSqlizer(p)
		if err != nil {
			return sq.SelectBuilder{}, err
		}
		b = b.Having(s)
	}

	if len(sel.Order) > 0 {
		terms := make([]string, len(sel.Order))
		for i, o := range sel.Order {
			terms[i] = o.Column.Qualified() + " " + string(o.Direction)
		}
		b = b.OrderBy(terms...)
	}

	switch {
	case sel.Limit != nil:
		b = b.Limit(uint64(*sel.Limit))
	case sel.Offset != nil:
		// SQLite rejects OFFSET without LIMIT.
		b = b.Limit(math.MaxInt64)
	}
	if sel.Offset != nil {
		b = b.Offset(uint64(*sel.Offset))
	}
	return b, nil
}

func selectColumns(q queryir.Select) []string {
	if len(q.Columns) == 0 {
		return []string{q.Table + ".*"}
	}
	cols := make([]string, len(q.Columns))
	for i, c := range q.Columns {
		cols[i] = c.String()
	}
	return cols
}

func aggregateExpr(q queryir.Aggregate) string {
	arg := "*"
	if !q.Column.IsZero() {
		arg = q.Column.Qualified()
	}
	if q.Distinct && arg != "*" {
		arg = "DISTINCT " + arg
	}
	return fmt.Sprintf("%s(%s)", q.Func, arg)
}

// compileJoin renders one resolved join as a complete clause.
func compileJoin(j queryir.Join) (sq.Sqlizer, error) {
	switch join := j.(type) {
	case queryir.ClauseJoin:
		return sq.Expr(join.SQL, join.Binds...), nil
	case queryir.TableJoin:
		conds := make([]string, 0, len(join.On)+len(join.Filters))
		for _, on := range join.On {
			conds = append(conds, on.Left.Qualified()+" = "+on.Right.Qualified())
		}
		var args []any
		for _, p := range join.Filters {
			s, err := predicateSqlizer(p)
			if err != nil {
				return nil, err
			}
			sql, a, err := s.ToSql()
			if err != nil {
				return nil, fmt.Errorf("render join filter: %w", err)
			}
			conds = append(conds, sql)
			args = append(args, a...)
		}
		kind := join.Kind
		if kind == "" {
			kind = queryir.InnerJoin
		}
		text := fmt.Sprintf("%s %s ON %s", kind, join.Table, strings.Join(conds, " AND "))
		return sq.Expr(text, args...), nil
	default:
		return nil, fmt.Errorf("cannot compile join %T", j)
	}
}

// predicateSqlizer maps a predicate onto squirrel's expression types.
//
// Equal with nil renders IS NULL; In with an empty list renders (1=0) and
// matches nothing; NotIn with an empty list renders (1=1).
func predicateSqlizer(p queryir.Predicate) (sq.Sqlizer, error) {
	switch pred := p.(type) {
	case queryir.Equal:
		return sq.Eq{pred.Column.Qualified(): pred.Value}, nil
	case queryir.NotEqual:
		return sq.NotEq{pred.Column.Qualified(): pred.Value}, nil
	case queryir.Compare:
		col := pred.Column.Qualified()
		switch pred.Op {
		case queryir.OpGt:
			return sq.Gt{col: pred.Value}, nil
		case queryir.OpGte:
			return sq.GtOrEq{col: pred.Value}, nil
		case queryir.OpLt:
			return sq.Lt{col: pred.Value}, nil
		case queryir.OpLte:
			return sq.LtOrEq{col: pred.Value}, nil
		}
		return nil, fmt.Errorf("unknown comparison operator %q", pred.Op)
	case queryir.In:
		return sq.Eq{pred.Column.Qualified(): listValues(pred.Values)}, nil
	case queryir.NotIn:
		return sq.NotEq{pred.Column.Qualified(): listValues(pred.Values)}, nil
	case queryir.Raw:
		return sq.Expr("("+pred.SQL+")", pred.Binds...), nil
	default:
		return nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// listValues guarantees a non-nil slice so squirrel renders a list even for
// an empty In.
func listValues(values []any) []any {
	if values == nil {
		return []any{}
	}
	return values
}

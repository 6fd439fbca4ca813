package queryir

import (
	"reflect"
	"strings"
)

// Column references a column, optionally qualified by its owning table.
//
// A zero Column in an aggregate position means "*". Name "*" with a table
// selects every column of that table.
type Column struct {
	Table string // Owning table ("" = unqualified)
	Name  string // Column name, "*" or a literal such as "1"
	Alias string // Optional output alias (select lists only)
}

// Col parses "table.column" or "column" into a Column.
func Col(ref string) Column {
	if i := strings.LastIndexByte(ref, '.'); i >= 0 {
		return Column{Table: ref[:i], Name: ref[i+1:]}
	}
	return Column{Name: ref}
}

// Qualify returns the column qualified with table when it has no qualifier.
func (c Column) Qualify(table string) Column {
	if c.Table == "" {
		c.Table = table
	}
	return c
}

// Qualified renders "table.name" or "name".
func (c Column) Qualified() string {
	if c.Table == "" {
		return c.Name
	}
	return c.Table + "." + c.Name
}

// String renders the column as it appears in a select list.
func (c Column) String() string {
	if c.Alias == "" {
		return c.Qualified()
	}
	return c.Qualified() + " AS " + c.Alias
}

// IsZero reports whether the column is the zero value.
func (c Column) IsZero() bool {
	return c == Column{}
}

// Predicate represents a filter condition.
//
// This is a sealed interface - only types in this package implement it.
//
// Predicate types:
//   - Equal: column = value (value nil renders IS NULL)
//   - NotEqual: column <> value
//   - Compare: column > | >= | < | <= value
//   - In: column IN (values)
//   - NotIn: column NOT IN (values)
//   - Raw: an SQL fragment with its own bind values
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Equal represents column = value.
type Equal struct {
	Column Column
	Value  any
}

func (Equal) predicateNode() {}

// NotEqual represents column <> value.
type NotEqual struct {
	Column Column
	Value  any
}

func (NotEqual) predicateNode() {}

// CompareOp is a range comparison operator.
type CompareOp string

const (
	OpGt  CompareOp = ">"
	OpGte CompareOp = ">="
	OpLt  CompareOp = "<"
	OpLte CompareOp = "<="
)

// Valid reports whether op is a known range operator.
func (op CompareOp) Valid() bool {
	switch op {
	case OpGt, OpGte, OpLt, OpLte:
		return true
	}
	return false
}

// Compare represents a range comparison against a single value.
type Compare struct {
	Column Column
	Op     CompareOp
	Value  any
}

func (Compare) predicateNode() {}

// In represents column IN (values). An empty list matches nothing.
type In struct {
	Column Column
	Values []any
}

func (In) predicateNode() {}

// NotIn represents column NOT IN (values). An empty list matches everything.
type NotIn struct {
	Column Column
	Values []any
}

func (NotIn) predicateNode() {}

// Raw is an SQL fragment with positional "?" bind values.
// Raw fragments are not validated against entity metadata.
type Raw struct {
	SQL   string
	Binds []any
}

func (Raw) predicateNode() {}

// Eq builds an Equal predicate from a "table.column" or "column" reference.
func Eq(col string, value any) Equal { return Equal{Column: Col(col), Value: value} }

// Neq builds a NotEqual predicate.
func Neq(col string, value any) NotEqual { return NotEqual{Column: Col(col), Value: value} }

// Gt builds a Compare predicate with >.
func Gt(col string, value any) Compare { return Compare{Column: Col(col), Op: OpGt, Value: value} }

// Gte builds a Compare predicate with >=.
func Gte(col string, value any) Compare { return Compare{Column: Col(col), Op: OpGte, Value: value} }

// Lt builds a Compare predicate with <.
func Lt(col string, value any) Compare { return Compare{Column: Col(col), Op: OpLt, Value: value} }

// Lte builds a Compare predicate with <=.
func Lte(col string, value any) Compare { return Compare{Column: Col(col), Op: OpLte, Value: value} }

// AnyOf builds an In predicate.
func AnyOf(col string, values ...any) In { return In{Column: Col(col), Values: values} }

// NoneOf builds a NotIn predicate.
func NoneOf(col string, values ...any) NotIn { return NotIn{Column: Col(col), Values: values} }

// SQL builds a Raw predicate.
func SQL(fragment string, binds ...any) Raw { return Raw{SQL: fragment, Binds: binds} }

// PredicateColumns returns the columns a predicate references.
// Raw predicates reference none that can be checked.
func PredicateColumns(p Predicate) []Column {
	switch pred := p.(type) {
	case Equal:
		return []Column{pred.Column}
	case NotEqual:
		return []Column{pred.Column}
	case Compare:
		return []Column{pred.Column}
	case In:
		return []Column{pred.Column}
	case NotIn:
		return []Column{pred.Column}
	default:
		return nil
	}
}

// QualifyPredicate returns p with unqualified columns qualified by table.
func QualifyPredicate(p Predicate, table string) Predicate {
	switch pred := p.(type) {
	case Equal:
		pred.Column = pred.Column.Qualify(table)
		return pred
	case NotEqual:
		pred.Column = pred.Column.Qualify(table)
		return pred
	case Compare:
		pred.Column = pred.Column.Qualify(table)
		return pred
	case In:
		pred.Column = pred.Column.Qualify(table)
		return pred
	case NotIn:
		pred.Column = pred.Column.Qualify(table)
		return pred
	default:
		return p
	}
}

// SamePredicate reports whether a and b are the same predicate value.
// Values are compared deeply, so two Raw fragments with the same SQL and
// binds are the same predicate.
func SamePredicate(a, b Predicate) bool {
	return reflect.DeepEqual(a, b)
}

// Join represents a join requirement.
//
// This is a sealed interface - only types in this package implement it.
//
// Join types:
//   - AssociationJoin: join through a declared association (resolved later)
//   - ClauseJoin: an explicit SQL join clause, appended as-is
//   - TableJoin: a resolved join-dependency node
type Join interface {
	joinNode() // Marker method - seals interface to this package
}

// AssociationJoin joins through a named association. Path may be dotted
// ("books.reviews") to walk nested associations.
type AssociationJoin struct {
	Path string
}

func (AssociationJoin) joinNode() {}

// ClauseJoin is a complete SQL join clause, e.g. "LEFT JOIN tags ON ...".
type ClauseJoin struct {
	SQL   string
	Binds []any
}

func (ClauseJoin) joinNode() {}

// JoinKind selects the join type of a TableJoin.
type JoinKind string

const (
	InnerJoin JoinKind = "JOIN"
	LeftJoin  JoinKind = "LEFT OUTER JOIN"
)

// JoinOn is one column-to-column equality in a join condition.
type JoinOn struct {
	Left  Column
	Right Column
}

// TableJoin is a resolved join-dependency node.
type TableJoin struct {
	Kind    JoinKind
	Table   string
	On      []JoinOn
	Filters []Predicate // Extra conditions, e.g. polymorphic type or association scope
}

func (TableJoin) joinNode() {}

// Association builds an AssociationJoin.
func Association(path string) AssociationJoin { return AssociationJoin{Path: path} }

// Clause builds a ClauseJoin.
func Clause(sql string, binds ...any) ClauseJoin { return ClauseJoin{SQL: sql, Binds: binds} }

// SameJoin reports whether a and b are the same join.
func SameJoin(a, b Join) bool {
	return reflect.DeepEqual(a, b)
}

// Direction is an ordering direction.
type Direction string

const (
	Ascending  Direction = "ASC"
	Descending Direction = "DESC"
)

// OrderTerm is one ORDER BY term.
type OrderTerm struct {
	Column    Column
	Direction Direction
}

// Asc orders by col ascending.
func Asc(col string) OrderTerm { return OrderTerm{Column: Col(col), Direction: Ascending} }

// Desc orders by col descending.
func Desc(col string) OrderTerm { return OrderTerm{Column: Col(col), Direction: Descending} }

// Reverse returns the term with the opposite direction.
func (o OrderTerm) Reverse() OrderTerm {
	if o.Direction == Descending {
		o.Direction = Ascending
	} else {
		o.Direction = Descending
	}
	return o
}

// Query represents a finished query specification.
//
// This is a sealed interface - only types in this package implement it.
//
// Query types:
//   - Select: rows of one table, with joins and every fragment resolved
//   - Aggregate: COUNT/SUM/AVG/MIN/MAX over a Select, optionally grouped or
//     computed over a subquery
type Query interface {
	queryNode() // Marker method - seals interface to this package
}

// Select is a finished row query. Every join is resolved (no AssociationJoin).
type Select struct {
	Table    string
	Columns  []Column // Empty = Table.*
	Distinct bool
	Joins    []Join
	Where    []Predicate
	Group    []Column
	Having   []Predicate
	Order    []OrderTerm
	Limit    *int
	Offset   *int
}

func (Select) queryNode() {}

// AggregateFunc is an SQL aggregate function.
type AggregateFunc string

const (
	FuncCount AggregateFunc = "COUNT"
	FuncSum   AggregateFunc = "SUM"
	FuncAvg   AggregateFunc = "AVG"
	FuncMin   AggregateFunc = "MIN"
	FuncMax   AggregateFunc = "MAX"
)

// ValueColumn is the alias of the aggregate column in grouped results.
const ValueColumn = "calc_value"

// Aggregate computes Func over Source.
//
// Semantics:
//   - Source.Group empty, Subquery false: SELECT FUNC(col) FROM <source>
//   - Source.Group set: SELECT <group>, FUNC(col) AS calc_value FROM <source> GROUP BY <group>
//   - Subquery true: SELECT FUNC(col) FROM (<source>) AS <alias>
//
// A zero Column means "*" and is only meaningful for COUNT.
type Aggregate struct {
	Func     AggregateFunc
	Column   Column
	Distinct bool
	Source   Select
	Subquery bool
	Alias    string
}

func (Aggregate) queryNode() {}

// Row is one raw result row as returned by a query engine.
type Row struct {
	Columns []string
	Values  []any
}

// Get returns the value of the named column.
func (r Row) Get(name string) (any, bool) {
	for i, c := range r.Columns {
		if c == name && i < len(r.Values) {
			return r.Values[i], true
		}
	}
	return nil, false
}

// Int returns a pointer to n, for Limit and Offset fields.
func Int(n int) *int {
	return &n
}

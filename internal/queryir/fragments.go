package queryir

import "slices"

// Kind names one class of fragment.
type Kind string

const (
	KindWhere    Kind = "where"
	KindJoins    Kind = "joins"
	KindOrder    Kind = "order"
	KindGroup    Kind = "group"
	KindHaving   Kind = "having"
	KindLimit    Kind = "limit"
	KindOffset   Kind = "offset"
	KindSelect   Kind = "select"
	KindDistinct Kind = "distinct"
	KindIncludes Kind = "includes"
)

// Include requests preloading of an association path, optionally narrowed by
// a scope on the association's target type.
type Include struct {
	Path  string
	Scope *Fragments
}

// Fragments is the accumulated, unexecuted query intent of a relation.
//
// Slices hold fragments in call order; merge and reorder semantics depend on
// that order.
type Fragments struct {
	Target           string // Entity type name
	Where            []Predicate
	Joins            []Join
	Order            []OrderTerm
	Reorder          bool // Order replaces, rather than extends, an inherited order
	Group            []Column
	GroupAssociation string // belongs_to association whose keys Group holds
	Having           []Predicate
	Limit            *int
	Offset           *int
	Select           []Column
	Distinct         bool
	Includes         []Include
}

// Clone returns a copy that shares no mutable state with f.
func (f Fragments) Clone() Fragments {
	out := f
	out.Where = slices.Clone(f.Where)
	out.Joins = slices.Clone(f.Joins)
	out.Order = slices.Clone(f.Order)
	out.Group = slices.Clone(f.Group)
	out.Having = slices.Clone(f.Having)
	out.Select = slices.Clone(f.Select)
	out.Includes = slices.Clone(f.Includes)
	if f.Limit != nil {
		out.Limit = Int(*f.Limit)
	}
	if f.Offset != nil {
		out.Offset = Int(*f.Offset)
	}
	return out
}

// Except returns a copy of f with the given fragment classes removed.
func (f Fragments) Except(kinds ...Kind) Fragments {
	out := f.Clone()
	for _, k := range kinds {
		switch k {
		case KindWhere:
			out.Where = nil
		case KindJoins:
			out.Joins = nil
		case KindOrder:
			out.Order = nil
			out.Reorder = false
		case KindGroup:
			out.Group = nil
			out.GroupAssociation = ""
		case KindHaving:
			out.Having = nil
		case KindLimit:
			out.Limit = nil
		case KindOffset:
			out.Offset = nil
		case KindSelect:
			out.Select = nil
		case KindDistinct:
			out.Distinct = false
		case KindIncludes:
			out.Includes = nil
		}
	}
	return out
}

// HasClauseJoin reports whether any join is an explicit SQL clause, whose
// tables cannot be checked against metadata.
func (f Fragments) HasClauseJoin() bool {
	for _, j := range f.Joins {
		if _, ok := j.(ClauseJoin); ok {
			return true
		}
	}
	return false
}

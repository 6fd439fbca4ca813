// Package queryir provides the predicate and fragment model for relq's lazy
// relations, and the finished query specifications handed to query engines.
//
// ARCHITECTURE:
//
// Relations accumulate Fragments (where, joins, order, group, having, limit,
// offset, select, distinct, includes). When a relation is executed its
// fragments are resolved into a finished Query:
//
//	[Relation.Fragments] → [queryir.Select / queryir.Aggregate] → [query engine]
//
// The finished query is the contract between the relation engine and any
// backend. The reference backend (internal/querysql + internal/store)
// renders it to parameterized SQL.
//
// SEALED INTERFACES:
//
// Query, Predicate and Join are sealed interfaces using the marker method
// pattern. Only types in this package implement them, so merge logic and
// backends can switch exhaustively:
//
//	switch p := pred.(type) {
//	case Equal:
//	case NotEqual:
//	case Compare:
//	case In:
//	case NotIn:
//	case Raw:
//	}
//
// VALUE SEMANTICS:
//
// Predicates, joins and order terms are immutable values. Merging never edits
// a predicate in place; it only decides whether to keep, drop or append it.
// Column references carry a table qualifier so predicates on joined tables
// never collide during merges.
package queryir

package relation

import (
	"slices"

	"github.com/roach88/relq/internal/qerr"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/schema"
)

// MergeFragments combines other into base. Rules per fragment class:
//
//   - Where: concatenated. An Equal in other drops every base Equal on the
//     same table-qualified column. A Raw predicate already present (same SQL
//     and binds) is not added again.
//   - Having: concatenated with the same Raw de-duplication.
//   - Joins: appended without duplicates. When other targets a different
//     type, its association joins are resolved against that type first.
//   - Order: replaced when other is a reorder, appended otherwise.
//   - Limit, Offset, Select, GroupAssociation: base keeps its value when set.
//   - Distinct: set when either side sets it.
//   - Group: appended without duplicates.
//   - Includes: union by path, base entries first.
//
// When other targets a different type, its GroupAssociation, Select and
// Includes name associations and columns of that type. They cannot be
// re-rooted on base, so merging them is a configuration error.
//
// The result targets base's type. Merging is order-sensitive:
// MergeFragments(a, b) need not equal MergeFragments(b, a).
func MergeFragments(reg *schema.Registry, base, other queryir.Fragments) (queryir.Fragments, error) {
	out := base.Clone()

	out.Where = mergeWhere(out.Where, other.Where)
	out.Having = appendPredicates(out.Having, other.Having)

	crossType := other.Target != "" && base.Target != "" && other.Target != base.Target
	if crossType {
		if err := checkCrossType(base.Target, other); err != nil {
			return queryir.Fragments{}, err
		}
	}
	for _, j := range other.Joins {
		aj, ok := j.(queryir.AssociationJoin)
		if !ok || !crossType {
			out.Joins = appendJoin(out.Joins, j)
			continue
		}
		// Association names only make sense relative to other's type.
		t, found := reg.Lookup(other.Target)
		if !found {
			return queryir.Fragments{}, qerr.Configuration(other.Target, "unknown entity type %q", other.Target)
		}
		resolved, err := associationJoins(reg, t, aj.Path)
		if err != nil {
			return queryir.Fragments{}, err
		}
		for _, tj := range resolved {
			out.Joins = appendJoin(out.Joins, tj)
		}
	}

	if other.Reorder {
		out.Order = slices.Clone(other.Order)
		out.Reorder = true
	} else {
		out.Order = append(out.Order, other.Order...)
	}

	for _, g := range other.Group {
		if !slices.Contains(out.Group, g) {
			out.Group = append(out.Group, g)
		}
	}
	if out.GroupAssociation == "" {
		out.GroupAssociation = other.GroupAssociation
	}

	if out.Limit == nil && other.Limit != nil {
		out.Limit = queryir.Int(*other.Limit)
	}
	if out.Offset == nil && other.Offset != nil {
		out.Offset = queryir.Int(*other.Offset)
	}
	if len(out.Select) == 0 {
		out.Select = slices.Clone(other.Select)
	}
	out.Distinct = out.Distinct || other.Distinct

	for _, inc := range other.Includes {
		out.Includes = appendInclude(out.Includes, inc)
	}

	return out, nil
}

// checkCrossType rejects fragments of other that only make sense on other's
// own type.
func checkCrossType(baseTarget string, other queryir.Fragments) error {
	switch {
	case other.GroupAssociation != "":
		return qerr.Configuration(other.Target+"."+other.GroupAssociation,
			"cannot merge group by association %s of %s into %s", other.GroupAssociation, other.Target, baseTarget)
	case len(other.Select) > 0:
		return qerr.Configuration(other.Target,
			"cannot merge select of %s into %s", other.Target, baseTarget)
	case len(other.Includes) > 0:
		return qerr.Configuration(other.Target+"."+other.Includes[0].Path,
			"cannot merge includes of %s into %s", other.Target, baseTarget)
	}
	return nil
}

// mergeWhere applies last-one-wins to same-column equality.
func mergeWhere(base, other []queryir.Predicate) []queryir.Predicate {
	replaced := map[queryir.Column]bool{}
	for _, p := range other {
		if eq, ok := p.(queryir.Equal); ok {
			replaced[eq.Column] = true
		}
	}

	out := make([]queryir.Predicate, 0, len(base)+len(other))
	for _, p := range base {
		if eq, ok := p.(queryir.Equal); ok && replaced[eq.Column] {
			continue
		}
		out = append(out, p)
	}
	return appendPredicates(out, other)
}

// appendPredicates appends preds, skipping Raw fragments already present so
// their binds are sent once.
func appendPredicates(base, preds []queryir.Predicate) []queryir.Predicate {
	for _, p := range preds {
		if raw, ok := p.(queryir.Raw); ok && containsPredicate(base, raw) {
			continue
		}
		base = append(base, p)
	}
	return base
}

func containsPredicate(preds []queryir.Predicate, p queryir.Predicate) bool {
	for _, existing := range preds {
		if queryir.SamePredicate(existing, p) {
			return true
		}
	}
	return false
}

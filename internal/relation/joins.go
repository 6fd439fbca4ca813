package relation

import (
	"strings"

	"github.com/roach88/relq/internal/qerr"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/schema"
)

// walkPath follows a dotted association path from t. It returns the
// reflections on the path and the final target type. When allowPolymorphic
// is set a polymorphic belongs_to may appear; segments after it cannot be
// checked and the returned type is nil.
func walkPath(reg *schema.Registry, t *schema.EntityType, path string, allowPolymorphic bool) ([]*schema.Reflection, *schema.EntityType, error) {
	if path == "" {
		return nil, nil, qerr.Configuration(t.Name, "empty association path")
	}

	var refls []*schema.Reflection
	cur := t
	for _, seg := range strings.Split(path, ".") {
		refl, ok := cur.Association(seg)
		if !ok {
			return nil, nil, qerr.Configuration(cur.Name+"."+seg, "unknown association %s on %s", seg, cur.Name)
		}
		refls = append(refls, refl)

		if refl.Polymorphic {
			if !allowPolymorphic {
				return nil, nil, qerr.Configuration(cur.Name+"."+seg, "cannot join polymorphic association %s", seg)
			}
			return refls, nil, nil
		}
		next, ok := reg.Target(refl)
		if !ok {
			return nil, nil, qerr.Configuration(cur.Name+"."+seg, "association %s targets unknown type %q", seg, refl.Target)
		}
		cur = next
	}
	return refls, cur, nil
}

// walkPath is walkPath over the DB's registry.
func (db *DB) walkPath(t *schema.EntityType, path string, allowPolymorphic bool) ([]*schema.Reflection, *schema.EntityType, error) {
	return walkPath(db.registry, t, path, allowPolymorphic)
}

// resolveJoins expands association joins into table joins, keeping clause
// and table joins as they are. Shared path prefixes produce one join.
func (db *DB) resolveJoins(t *schema.EntityType, joins []queryir.Join) ([]queryir.Join, error) {
	var out []queryir.Join
	for _, j := range joins {
		aj, ok := j.(queryir.AssociationJoin)
		if !ok {
			out = appendJoin(out, j)
			continue
		}
		tjs, err := associationJoins(db.registry, t, aj.Path)
		if err != nil {
			return nil, err
		}
		for _, tj := range tjs {
			out = appendJoin(out, tj)
		}
	}
	return out, nil
}

// associationJoins builds the join-dependency chain for a path.
//
//	belongs_to              JOIN target ON target.pk = owner.fk
//	has_one / has_many      JOIN target ON target.fk = owner.pk [AND target.type = owner]
//	has_and_belongs_to_many JOIN jt ON jt.fk = owner.pk JOIN target ON target.pk = jt.afk
//
// The association scope's where predicates become join filters.
func associationJoins(reg *schema.Registry, t *schema.EntityType, path string) ([]queryir.Join, error) {
	refls, _, err := walkPath(reg, t, path, false)
	if err != nil {
		return nil, err
	}

	var out []queryir.Join
	owner := t
	for _, refl := range refls {
		target, _ := reg.Target(refl)
		var filters []queryir.Predicate
		if refl.Scope != nil {
			filters = append(filters, refl.Scope.Where...)
		}

		switch refl.Macro {
		case schema.BelongsTo:
			out = append(out, queryir.TableJoin{
				Kind:    queryir.InnerJoin,
				Table:   target.Table,
				On:      []queryir.JoinOn{{Left: col(target.Table, refl.PrimaryKey), Right: col(owner.Table, refl.ForeignKey)}},
				Filters: filters,
			})
		case schema.HasOne, schema.HasMany:
			if refl.As != "" {
				filters = append([]queryir.Predicate{queryir.Equal{Column: col(target.Table, refl.TypeColumn), Value: owner.Name}}, filters...)
			}
			out = append(out, queryir.TableJoin{
				Kind:    queryir.InnerJoin,
				Table:   target.Table,
				On:      []queryir.JoinOn{{Left: col(target.Table, refl.ForeignKey), Right: col(owner.Table, refl.PrimaryKey)}},
				Filters: filters,
			})
		case schema.HasAndBelongsToMany:
			out = append(out,
				queryir.TableJoin{
					Kind:  queryir.InnerJoin,
					Table: refl.JoinTable,
					On:    []queryir.JoinOn{{Left: col(refl.JoinTable, refl.ForeignKey), Right: col(owner.Table, refl.PrimaryKey)}},
				},
				queryir.TableJoin{
					Kind:    queryir.InnerJoin,
					Table:   target.Table,
					On:      []queryir.JoinOn{{Left: col(target.Table, target.PrimaryKey()), Right: col(refl.JoinTable, refl.AssociationForeignKey)}},
					Filters: filters,
				},
			)
		}
		owner = target
	}
	return out, nil
}

func col(table, name string) queryir.Column {
	return queryir.Column{Table: table, Name: name}
}

package relation

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/relq/internal/qerr"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/record"
	"github.com/roach88/relq/internal/schema"
	"github.com/roach88/relq/internal/typecast"
)

// ownerKeyAlias carries the join-table owner key in has_and_belongs_to_many
// preload rows.
const ownerKeyAlias = "relq_owner_key"

// attachment is one owner's loaded targets, applied only after every query
// of a Preload call has succeeded.
type attachment struct {
	owner    *record.Record
	name     string
	singular bool
	targets  []*record.Record
}

func (a attachment) apply() {
	if a.singular {
		var target *record.Record
		if len(a.targets) > 0 {
			target = a.targets[0]
		}
		a.owner.SetTarget(a.name, target)
		return
	}
	a.owner.SetTargets(a.name, slices.Clone(a.targets))
}

// keyed is a loaded target together with the owner key it belongs to.
type keyed struct {
	key any
	rec *record.Record
}

// Preload attaches the association path to owners, issuing one query per
// association level per IN-list slice of distinct owner keys. Dotted paths
// are loaded level by level. Scope, when given, narrows the last segment
// and must target that association's type.
//
// Owners whose association is already loaded are not queried again. Either
// every owner gets its targets or, on error, nothing is attached.
func (db *DB) Preload(ctx context.Context, owners []*record.Record, path string, scope *Relation) error {
	var frag *queryir.Fragments
	if scope != nil {
		if scope.err != nil {
			return scope.err
		}
		if len(owners) > 0 {
			_, target, err := db.walkPath(owners[0].Type(), path, true)
			if err != nil {
				return err
			}
			if target != nil && target != scope.typ {
				return qerr.Configuration(path, "scope targets %s but association %s targets %s", scope.typ.Name, path, target.Name)
			}
		}
		f := scope.frag.Clone()
		frag = &f
	}
	return db.preloadPath(ctx, owners, path, frag)
}

func (db *DB) preloadPath(ctx context.Context, owners []*record.Record, path string, scope *queryir.Fragments) error {
	if path == "" {
		return qerr.Configuration("", "empty association path")
	}

	segments := strings.Split(path, ".")
	var pending []attachment
	level := owners
	for i, seg := range segments {
		var segScope *queryir.Fragments
		if i == len(segments)-1 {
			segScope = scope
		}

		var next []*record.Record
		seen := map[*record.Record]bool{}
		for _, group := range groupByType(level) {
			t := group[0].Type()
			refl, ok := t.Association(seg)
			if !ok {
				return qerr.Configuration(t.Name+"."+seg, "unknown association %s on %s", seg, t.Name)
			}
			attachments, targets, err := db.preloadAssociation(ctx, group, refl, segScope)
			if err != nil {
				return err
			}
			pending = append(pending, attachments...)
			for _, rec := range targets {
				if !seen[rec] {
					seen[rec] = true
					next = append(next, rec)
				}
			}
		}
		level = next
		if len(level) == 0 {
			break
		}
	}

	for _, a := range pending {
		a.apply()
	}
	return nil
}

// groupByType splits records by entity type, in first-seen order.
func groupByType(records []*record.Record) [][]*record.Record {
	var order []*schema.EntityType
	groups := map[*schema.EntityType][]*record.Record{}
	for _, rec := range records {
		t := rec.Type()
		if _, ok := groups[t]; !ok {
			order = append(order, t)
		}
		groups[t] = append(groups[t], rec)
	}
	out := make([][]*record.Record, len(order))
	for i, t := range order {
		out[i] = groups[t]
	}
	return out
}

// preloadAssociation loads one association for owners of one type. It
// returns the attachments to apply and every target reachable through the
// association, including targets of owners that were already loaded, so
// nested paths can continue from them.
func (db *DB) preloadAssociation(ctx context.Context, owners []*record.Record, refl *schema.Reflection, scope *queryir.Fragments) ([]attachment, []*record.Record, error) {
	var targets []*record.Record
	var todo []*record.Record
	for _, o := range owners {
		if a, ok := o.Association(refl.Name); ok {
			targets = append(targets, a.Targets()...)
			continue
		}
		todo = append(todo, o)
	}
	if len(todo) == 0 {
		return nil, targets, nil
	}

	ownerType := todo[0].Type()
	db.logger.Debug("preloading association",
		"owner", ownerType.Name,
		"association", refl.Name,
		"macro", refl.Macro,
		"owners", len(todo))

	if refl.Polymorphic {
		return db.preloadPolymorphic(ctx, todo, refl, scope, targets)
	}

	target, ok := db.registry.Target(refl)
	if !ok {
		return nil, nil, qerr.Configuration(ownerType.Name+"."+refl.Name, "association %s targets unknown type %q", refl.Name, refl.Target)
	}
	attachments, loaded, err := db.preloadGroup(ctx, todo, refl, target, refl.AssociationKey(), scope)
	if err != nil {
		return nil, nil, err
	}
	return attachments, append(targets, loaded...), nil
}

// preloadPolymorphic loads a polymorphic belongs_to: owners are grouped by
// their type column and each target type is loaded separately.
func (db *DB) preloadPolymorphic(ctx context.Context, owners []*record.Record, refl *schema.Reflection, scope *queryir.Fragments, targets []*record.Record) ([]attachment, []*record.Record, error) {
	var order []string
	byType := map[string][]*record.Record{}
	var attachments []attachment
	for _, o := range owners {
		v := o.Value(refl.TypeColumn)
		if v == nil {
			attachments = append(attachments, attachment{owner: o, name: refl.Name, singular: true})
			continue
		}
		name := fmt.Sprint(typecast.Key(v))
		if _, ok := byType[name]; !ok {
			order = append(order, name)
		}
		byType[name] = append(byType[name], o)
	}

	for _, name := range order {
		target, ok := db.registry.Lookup(name)
		if !ok {
			return nil, nil, qerr.Configuration(refl.Owner+"."+refl.Name, "association %s references unknown type %q", refl.Name, name)
		}
		if scope != nil && scope.Target != target.Name {
			return nil, nil, qerr.Configuration(refl.Owner+"."+refl.Name, "scope targets %s but %s rows reference %s", scope.Target, refl.Name, target.Name)
		}
		key := refl.PrimaryKey
		if key == "" {
			key = target.PrimaryKey()
		}
		if key == "" {
			return nil, nil, qerr.Configuration(refl.Owner+"."+refl.Name, "association %s needs a single-column primary key on %s", refl.Name, target.Name)
		}
		a, loaded, err := db.preloadGroup(ctx, byType[name], refl, target, key, scope)
		if err != nil {
			return nil, nil, err
		}
		attachments = append(attachments, a...)
		targets = append(targets, loaded...)
	}
	return attachments, targets, nil
}

// preloadGroup loads targets for owners sharing one target type and pairs
// them by key. targetKey is the target-side column matched against the
// owner key (ignored for has_and_belongs_to_many, which matches on the join
// table).
func (db *DB) preloadGroup(ctx context.Context, owners []*record.Record, refl *schema.Reflection, target *schema.EntityType, targetKey string, scope *queryir.Fragments) ([]attachment, []*record.Record, error) {
	ownerType := owners[0].Type()
	ownerKey := refl.OwnerKey()
	keyType := schema.TypeString
	if c, ok := ownerType.Column(ownerKey); ok {
		keyType = c.Type
	}

	// owners_by_key, in first-seen key order.
	var keys []any
	byKey := map[any][]*record.Record{}
	var attachments []attachment
	for _, o := range owners {
		k := o.Value(ownerKey)
		if k == nil {
			attachments = append(attachments, attachment{owner: o, name: refl.Name, singular: !refl.Collection()})
			continue
		}
		nk := typecast.Key(k)
		if _, ok := byKey[nk]; !ok {
			keys = append(keys, k)
		}
		byKey[nk] = append(byKey[nk], o)
	}
	if len(keys) == 0 {
		return attachments, nil, nil
	}

	loaded, err := db.loadTargets(ctx, refl, ownerType, target, targetKey, keys, scope)
	if err != nil {
		return nil, nil, err
	}

	byTarget := map[any][]*record.Record{}
	targets := make([]*record.Record, 0, len(loaded))
	for _, kr := range loaded {
		k, err := typecast.Cast(kr.key, keyType)
		if err != nil {
			return nil, nil, err
		}
		nk := typecast.Key(k)
		byTarget[nk] = append(byTarget[nk], kr.rec)
		targets = append(targets, kr.rec)
	}

	for _, k := range keys {
		nk := typecast.Key(k)
		for _, o := range byKey[nk] {
			attachments = append(attachments, attachment{
				owner:    o,
				name:     refl.Name,
				singular: !refl.Collection(),
				targets:  byTarget[nk],
			})
		}
	}
	return attachments, targets, nil
}

// loadTargets runs one query per IN-list slice of keys. The target query is
// the target type's default scope merged with the association scope and
// then the caller's scope.
func (db *DB) loadTargets(ctx context.Context, refl *schema.Reflection, ownerType, target *schema.EntityType, targetKey string, keys []any, scope *queryir.Fragments) ([]keyed, error) {
	sel, err := db.From(target.Name).mergeScope(refl.Scope).mergeScope(scope).ToQuery()
	if err != nil {
		return nil, err
	}

	var keyCol queryir.Column
	alias := ""
	switch {
	case refl.Macro == schema.HasAndBelongsToMany:
		keyCol = col(refl.JoinTable, refl.ForeignKey)
		alias = ownerKeyAlias
		sel.Joins = append(sel.Joins, queryir.TableJoin{
			Kind:  queryir.InnerJoin,
			Table: refl.JoinTable,
			On:    []queryir.JoinOn{{Left: col(target.Table, target.PrimaryKey()), Right: col(refl.JoinTable, refl.AssociationForeignKey)}},
		})
		if len(sel.Columns) == 0 {
			sel.Columns = []queryir.Column{{Table: target.Table, Name: "*"}}
		}
		sel.Columns = append(sel.Columns, queryir.Column{Table: refl.JoinTable, Name: refl.ForeignKey, Alias: ownerKeyAlias})
	default:
		keyCol = col(target.Table, targetKey)
		if refl.As != "" {
			sel.Where = append(sel.Where, queryir.Equal{Column: col(target.Table, refl.TypeColumn), Value: ownerType.Name})
		}
		if len(sel.Columns) > 0 && !slices.Contains(sel.Columns, keyCol) {
			sel.Columns = append(sel.Columns, keyCol)
		}
	}

	var out []keyed
	for chunk := range slices.Chunk(keys, db.inListLimit()) {
		q := sel
		q.Where = append(slices.Clone(sel.Where), queryir.In{Column: keyCol, Values: chunk})

		rows, err := db.engine.Rows(ctx, q)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			rec, err := db.mapper.Map(target, row)
			if err != nil {
				return nil, err
			}
			var k any
			if alias != "" {
				k, _ = row.Get(alias)
			} else {
				k = rec.Value(keyCol.Name)
			}
			out = append(out, keyed{key: k, rec: rec})
		}
	}
	return out, nil
}

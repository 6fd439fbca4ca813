package schema

import (
	"github.com/roach88/relq/internal/qerr"
	"github.com/roach88/relq/internal/queryir"
)

// Registry indexes entity types by name and by table.
type Registry struct {
	types   []*EntityType
	byName  map[string]*EntityType
	byTable map[string]*EntityType
}

// NewRegistry validates the given types and resolves association defaults.
//
// Resolution rules:
//   - belongs_to: ForeignKey defaults to "<name>_id", PrimaryKey to the
//     target's primary key. Polymorphic adds TypeColumn "<name>_type".
//   - has_one/has_many: ForeignKey defaults to "<snake owner>_id" (or
//     "<as>_id" with As, plus TypeColumn "<as>_type"), PrimaryKey to the
//     owner's primary key.
//   - has_and_belongs_to_many: JoinTable defaults to both tables sorted and
//     joined by "_"; ForeignKey to "<snake owner>_id";
//     AssociationForeignKey to "<snake target>_id".
//
// The input types are copied; callers may reuse them.
func NewRegistry(types ...*EntityType) (*Registry, error) {
	reg := &Registry{
		byName:  make(map[string]*EntityType, len(types)),
		byTable: make(map[string]*EntityType, len(types)),
	}

	for _, in := range types {
		t := copyType(in)
		if t.Name == "" {
			return nil, qerr.Configuration("", "entity type without name")
		}
		if t.Table == "" {
			return nil, qerr.Configuration(t.Name, "entity type %s has no table", t.Name)
		}
		if _, dup := reg.byName[t.Name]; dup {
			return nil, qerr.Configuration(t.Name, "duplicate entity type %s", t.Name)
		}
		if other, dup := reg.byTable[t.Table]; dup {
			return nil, qerr.Configuration(t.Table, "table %s used by both %s and %s", t.Table, other.Name, t.Name)
		}
		for _, c := range t.Columns {
			if !c.Type.Valid() {
				return nil, qerr.Configuration(t.Table+"."+c.Name, "column %s has unknown type %q", c.Name, c.Type)
			}
		}
		for _, pk := range t.PrimaryKeys {
			if !t.HasColumn(pk) {
				return nil, qerr.Configuration(t.Table+"."+pk, "primary key %s is not a column of %s", pk, t.Table)
			}
		}
		reg.types = append(reg.types, t)
		reg.byName[t.Name] = t
		reg.byTable[t.Table] = t
	}

	for _, t := range reg.types {
		for _, r := range t.Associations {
			if err := reg.resolve(t, r); err != nil {
				return nil, err
			}
		}
		if t.DefaultScope != nil {
			if err := reg.resolveScope(t, t.DefaultScope); err != nil {
				return nil, err
			}
		}
	}

	return reg, nil
}

// Lookup returns the entity type with the given name.
func (r *Registry) Lookup(name string) (*EntityType, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// ByTable returns the entity type persisted in table.
func (r *Registry) ByTable(table string) (*EntityType, bool) {
	t, ok := r.byTable[table]
	return t, ok
}

// Types returns every entity type in declaration order.
func (r *Registry) Types() []*EntityType {
	return r.types
}

// Target returns the target type of a non-polymorphic reflection.
func (r *Registry) Target(refl *Reflection) (*EntityType, bool) {
	return r.Lookup(refl.Target)
}

func (r *Registry) resolve(owner *EntityType, refl *Reflection) error {
	ref := owner.Name + "." + refl.Name
	if refl.Name == "" {
		return qerr.Configuration(owner.Name, "association without name on %s", owner.Name)
	}
	refl.Owner = owner.Name

	if refl.Macro == BelongsTo && refl.Polymorphic {
		if refl.Target != "" {
			return qerr.Configuration(ref, "polymorphic association %s cannot name a target", ref)
		}
		refl.ForeignKey = orDefault(refl.ForeignKey, refl.Name+"_id")
		refl.TypeColumn = orDefault(refl.TypeColumn, refl.Name+"_type")
		if refl.Scope != nil {
			return qerr.Configuration(ref, "polymorphic association %s cannot carry a scope", ref)
		}
		return requireColumns(owner, ref, refl.ForeignKey, refl.TypeColumn)
	}

	target, ok := r.Lookup(refl.Target)
	if !ok {
		return qerr.Configuration(ref, "association %s targets unknown type %q", ref, refl.Target)
	}

	switch refl.Macro {
	case BelongsTo:
		refl.ForeignKey = orDefault(refl.ForeignKey, refl.Name+"_id")
		refl.PrimaryKey = orDefault(refl.PrimaryKey, target.PrimaryKey())
		if err := requireColumns(owner, ref, refl.ForeignKey); err != nil {
			return err
		}
		if err := requireColumns(target, ref, refl.PrimaryKey); err != nil {
			return err
		}
	case HasOne, HasMany:
		refl.PrimaryKey = orDefault(refl.PrimaryKey, owner.PrimaryKey())
		if refl.As != "" {
			refl.ForeignKey = orDefault(refl.ForeignKey, refl.As+"_id")
			refl.TypeColumn = orDefault(refl.TypeColumn, refl.As+"_type")
			if err := requireColumns(target, ref, refl.TypeColumn); err != nil {
				return err
			}
		} else {
			refl.ForeignKey = orDefault(refl.ForeignKey, snake(owner.Name)+"_id")
		}
		if err := requireColumns(owner, ref, refl.PrimaryKey); err != nil {
			return err
		}
		if err := requireColumns(target, ref, refl.ForeignKey); err != nil {
			return err
		}
	case HasAndBelongsToMany:
		refl.PrimaryKey = orDefault(refl.PrimaryKey, owner.PrimaryKey())
		refl.JoinTable = orDefault(refl.JoinTable, joinTableName(owner.Table, target.Table))
		refl.ForeignKey = orDefault(refl.ForeignKey, snake(owner.Name)+"_id")
		refl.AssociationForeignKey = orDefault(refl.AssociationForeignKey, snake(target.Name)+"_id")
		if err := requireColumns(owner, ref, refl.PrimaryKey); err != nil {
			return err
		}
		if target.PrimaryKey() == "" {
			return qerr.Configuration(ref, "association %s needs a single-column primary key on %s", ref, target.Name)
		}
	default:
		return qerr.Configuration(ref, "association %s has unknown macro %q", ref, refl.Macro)
	}

	if refl.Scope != nil {
		return r.resolveScope(target, refl.Scope)
	}
	return nil
}

// resolveScope binds a scope to its type and qualifies its columns.
func (r *Registry) resolveScope(t *EntityType, scope *queryir.Fragments) error {
	if scope.Target != "" && scope.Target != t.Name {
		return qerr.Configuration(scope.Target, "scope for %s declared on %s", scope.Target, t.Name)
	}
	scope.Target = t.Name

	for i, p := range scope.Where {
		for _, c := range queryir.PredicateColumns(p) {
			if c.Table == "" && !t.HasColumn(c.Name) {
				return qerr.Configuration(t.Table+"."+c.Name, "unknown column %s on %s", c.Name, t.Table)
			}
		}
		scope.Where[i] = queryir.QualifyPredicate(p, t.Table)
	}
	for i, o := range scope.Order {
		if o.Column.Table == "" && !t.HasColumn(o.Column.Name) {
			return qerr.Configuration(t.Table+"."+o.Column.Name, "unknown column %s on %s", o.Column.Name, t.Table)
		}
		scope.Order[i].Column = o.Column.Qualify(t.Table)
	}
	return nil
}

func requireColumns(t *EntityType, ref string, cols ...string) error {
	for _, c := range cols {
		if c == "" {
			return qerr.Configuration(ref, "association %s needs a single-column key on %s", ref, t.Name)
		}
		if !t.HasColumn(c) {
			return qerr.Configuration(t.Table+"."+c, "association %s: unknown column %s on %s", ref, c, t.Table)
		}
	}
	return nil
}

func copyType(in *EntityType) *EntityType {
	t := *in
	t.PrimaryKeys = append([]string(nil), in.PrimaryKeys...)
	t.Columns = append([]Column(nil), in.Columns...)
	t.Associations = make([]*Reflection, len(in.Associations))
	for i, r := range in.Associations {
		rc := *r
		if r.Scope != nil {
			s := r.Scope.Clone()
			rc.Scope = &s
		}
		t.Associations[i] = &rc
	}
	if in.DefaultScope != nil {
		s := in.DefaultScope.Clone()
		t.DefaultScope = &s
	}
	return &t
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/roach88/relq/internal/schema"
)

// Migrate creates a table for every entity type in reg, plus the join table
// of every has_and_belongs_to_many association. Existing tables are kept.
//
// This function is idempotent.
func (s *Store) Migrate(ctx context.Context, reg *schema.Registry) error {
	joinTables := map[string]string{}
	var joinOrder []string

	for _, t := range reg.Types() {
		if _, err := s.db.ExecContext(ctx, s.createTableSQL(t)); err != nil {
			return fmt.Errorf("create table %s: %w", t.Table, err)
		}

		for _, r := range t.Associations {
			if r.Macro != schema.HasAndBelongsToMany {
				continue
			}
			if _, seen := joinTables[r.JoinTable]; seen {
				continue
			}
			ddl, err := s.createJoinTableSQL(reg, t, r)
			if err != nil {
				return err
			}
			joinTables[r.JoinTable] = ddl
			joinOrder = append(joinOrder, r.JoinTable)
		}
	}

	for _, name := range joinOrder {
		if _, err := s.db.ExecContext(ctx, joinTables[name]); err != nil {
			return fmt.Errorf("create join table %s: %w", name, err)
		}
	}

	s.logger.Debug("migrated schema", "tables", len(reg.Types()), "join_tables", len(joinOrder))
	return nil
}

func (s *Store) createTableSQL(t *schema.EntityType) string {
	serial := ""
	if pk := t.PrimaryKey(); pk != "" {
		if col, _ := t.Column(pk); col.Type == schema.TypeInteger {
			serial = pk
		}
	}

	defs := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		if c.Name == serial {
			defs = append(defs, c.Name+" "+s.dialect.serialKey)
			continue
		}
		defs = append(defs, c.Name+" "+s.dialect.ColumnType(c.Type))
	}
	if serial == "" && len(t.PrimaryKeys) > 0 {
		defs = append(defs, "PRIMARY KEY ("+strings.Join(t.PrimaryKeys, ", ")+")")
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", t.Table, strings.Join(defs, ", "))
}

func (s *Store) createJoinTableSQL(reg *schema.Registry, owner *schema.EntityType, r *schema.Reflection) (string, error) {
	target, ok := reg.Target(r)
	if !ok {
		return "", fmt.Errorf("join table %s: unknown target %q", r.JoinTable, r.Target)
	}
	ownerKey, _ := owner.Column(r.PrimaryKey)
	targetKey, _ := target.Column(target.PrimaryKey())

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s %s, %s %s)",
		r.JoinTable,
		r.ForeignKey, s.dialect.ColumnType(ownerKey.Type),
		r.AssociationForeignKey, s.dialect.ColumnType(targetKey.Type),
	), nil
}

// Insert writes one row. Columns are written in sorted order.
func (s *Store) Insert(ctx context.Context, table string, attrs map[string]any) error {
	columns := slices.Sorted(maps.Keys(attrs))
	values := make([]any, len(columns))
	for i, c := range columns {
		values[i] = attrs[c]
	}

	sql, args, err := sq.Insert(table).
		Columns(columns...).
		Values(values...).
		PlaceholderFormat(s.dialect.Placeholder).
		ToSql()
	if err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}

	if _, err := s.db.ExecContext(ctx, sql, bindArgs(args)...); err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}

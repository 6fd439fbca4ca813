package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/schema"
	"github.com/roach88/relq/internal/store"
)

// LibraryTypes returns a small library domain covering every association
// kind:
//
//	Author  has_many books, has_many recent_books (published, newest first),
//	        has_one profile, has_many comments as commentable
//	Book    belongs_to author, has_many reviews, habtm tags,
//	        has_many comments as commentable
//	Review  belongs_to book
//	Tag     habtm books
//	Profile belongs_to author
//	Comment belongs_to commentable (polymorphic)
//
// A new slice is returned on every call.
func LibraryTypes() []*schema.EntityType {
	return []*schema.EntityType{
		{
			Name:        "Author",
			Table:       "authors",
			PrimaryKeys: []string{"id"},
			Columns: []schema.Column{
				{Name: "id", Type: schema.TypeInteger},
				{Name: "name", Type: schema.TypeString},
			},
			Associations: []*schema.Reflection{
				{Name: "books", Macro: schema.HasMany, Target: "Book"},
				{
					Name:   "recent_books",
					Macro:  schema.HasMany,
					Target: "Book",
					Scope: &queryir.Fragments{
						Where: []queryir.Predicate{queryir.Eq("published", true)},
						Order: []queryir.OrderTerm{queryir.Desc("id")},
					},
				},
				{Name: "profile", Macro: schema.HasOne, Target: "Profile"},
				{Name: "comments", Macro: schema.HasMany, Target: "Comment", As: "commentable"},
			},
		},
		{
			Name:        "Book",
			Table:       "books",
			PrimaryKeys: []string{"id"},
			Columns: []schema.Column{
				{Name: "id", Type: schema.TypeInteger},
				{Name: "author_id", Type: schema.TypeInteger},
				{Name: "title", Type: schema.TypeString},
				{Name: "price", Type: schema.TypeDecimal},
				{Name: "pages", Type: schema.TypeInteger},
				{Name: "rating", Type: schema.TypeFloat},
				{Name: "published", Type: schema.TypeBoolean},
			},
			Associations: []*schema.Reflection{
				{Name: "author", Macro: schema.BelongsTo, Target: "Author"},
				{Name: "reviews", Macro: schema.HasMany, Target: "Review"},
				{Name: "tags", Macro: schema.HasAndBelongsToMany, Target: "Tag"},
				{Name: "comments", Macro: schema.HasMany, Target: "Comment", As: "commentable"},
			},
		},
		{
			Name:        "Review",
			Table:       "reviews",
			PrimaryKeys: []string{"id"},
			Columns: []schema.Column{
				{Name: "id", Type: schema.TypeInteger},
				{Name: "book_id", Type: schema.TypeInteger},
				{Name: "stars", Type: schema.TypeInteger},
			},
			Associations: []*schema.Reflection{
				{Name: "book", Macro: schema.BelongsTo, Target: "Book"},
			},
		},
		{
			Name:        "Tag",
			Table:       "tags",
			PrimaryKeys: []string{"id"},
			Columns: []schema.Column{
				{Name: "id", Type: schema.TypeInteger},
				{Name: "name", Type: schema.TypeString},
			},
			Associations: []*schema.Reflection{
				{Name: "books", Macro: schema.HasAndBelongsToMany, Target: "Book"},
			},
		},
		{
			Name:        "Profile",
			Table:       "profiles",
			PrimaryKeys: []string{"id"},
			Columns: []schema.Column{
				{Name: "id", Type: schema.TypeInteger},
				{Name: "author_id", Type: schema.TypeInteger},
				{Name: "bio", Type: schema.TypeString},
			},
			Associations: []*schema.Reflection{
				{Name: "author", Macro: schema.BelongsTo, Target: "Author"},
			},
		},
		{
			Name:        "Comment",
			Table:       "comments",
			PrimaryKeys: []string{"id"},
			Columns: []schema.Column{
				{Name: "id", Type: schema.TypeInteger},
				{Name: "body", Type: schema.TypeString},
				{Name: "commentable_id", Type: schema.TypeInteger},
				{Name: "commentable_type", Type: schema.TypeString},
			},
			Associations: []*schema.Reflection{
				{Name: "commentable", Macro: schema.BelongsTo, Polymorphic: true},
			},
		},
	}
}

// LibraryRegistry resolves LibraryTypes.
func LibraryRegistry(t testing.TB) *schema.Registry {
	t.Helper()
	reg, err := schema.NewRegistry(LibraryTypes()...)
	require.NoError(t, err)
	return reg
}

// OpenLibrary creates a migrated, empty library database under t.TempDir().
func OpenLibrary(t testing.TB) (*store.Store, *schema.Registry) {
	t.Helper()
	reg := LibraryRegistry(t)
	return OpenStore(t, reg), reg
}

// OpenStore creates a file-backed SQLite store migrated for reg.
func OpenStore(t testing.TB, reg *schema.Registry) *store.Store {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background(), reg))
	return st
}

// Seed inserts rows into table.
func Seed(t testing.TB, st *store.Store, table string, rows ...map[string]any) {
	t.Helper()
	ctx := context.Background()
	for _, row := range rows {
		require.NoError(t, st.Insert(ctx, table, row))
	}
}

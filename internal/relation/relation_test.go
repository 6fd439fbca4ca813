package relation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/qerr"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/record"
	"github.com/roach88/relq/internal/schema"
	"github.com/roach88/relq/internal/store"
	"github.com/roach88/relq/internal/testutil"
)

var errBoom = errors.New("boom")

type fixture struct {
	db  *DB
	st  *store.Store
	eng *testutil.CountingEngine
	reg *schema.Registry
}

// newFixture opens an empty library database behind a counting engine.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, reg := testutil.OpenLibrary(t)
	return fixtureFor(st, reg)
}

func fixtureFor(st *store.Store, reg *schema.Registry) *fixture {
	eng := testutil.NewCountingEngine(st)
	return &fixture{db: New(eng, reg), st: st, eng: eng, reg: reg}
}

// seededFixture is newFixture plus:
//
//	authors  1 Ursula, 2 Octavia, 3 Ted
//	books    1 Earthsea (a1, 10.50, 200p, published)
//	         2 Dispossessed (a1, 12.25, 380p, published)
//	         3 Lathe (a1, 8.00, 180p, unpublished)
//	         4 Kindred (a2, 9.75, 260p, published)
//	reviews  two on book 1, one on book 4
//	tags     1 fantasy (book 1), 2 scifi (books 2, 4)
//	profiles one for author 2
//	comments two on Book 1, one on Author 2
func seededFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	testutil.Seed(t, f.st, "authors",
		map[string]any{"id": 1, "name": "Ursula"},
		map[string]any{"id": 2, "name": "Octavia"},
		map[string]any{"id": 3, "name": "Ted"},
	)
	testutil.Seed(t, f.st, "books",
		map[string]any{"id": 1, "author_id": 1, "title": "Earthsea", "price": "10.50", "pages": 200, "rating": 4.5, "published": true},
		map[string]any{"id": 2, "author_id": 1, "title": "Dispossessed", "price": "12.25", "pages": 380, "rating": 4.0, "published": true},
		map[string]any{"id": 3, "author_id": 1, "title": "Lathe", "price": "8.00", "pages": 180, "rating": 3.5, "published": false},
		map[string]any{"id": 4, "author_id": 2, "title": "Kindred", "price": "9.75", "pages": 260, "rating": 5.0, "published": true},
	)
	testutil.Seed(t, f.st, "reviews",
		map[string]any{"id": 1, "book_id": 1, "stars": 5},
		map[string]any{"id": 2, "book_id": 1, "stars": 4},
		map[string]any{"id": 3, "book_id": 4, "stars": 5},
	)
	testutil.Seed(t, f.st, "tags",
		map[string]any{"id": 1, "name": "fantasy"},
		map[string]any{"id": 2, "name": "scifi"},
	)
	testutil.Seed(t, f.st, "books_tags",
		map[string]any{"book_id": 1, "tag_id": 1},
		map[string]any{"book_id": 2, "tag_id": 2},
		map[string]any{"book_id": 4, "tag_id": 2},
	)
	testutil.Seed(t, f.st, "profiles",
		map[string]any{"id": 1, "author_id": 2, "bio": "Parable"},
	)
	testutil.Seed(t, f.st, "comments",
		map[string]any{"id": 1, "body": "great", "commentable_id": 1, "commentable_type": "Book"},
		map[string]any{"id": 2, "body": "hello", "commentable_id": 2, "commentable_type": "Author"},
		map[string]any{"id": 3, "body": "again", "commentable_id": 1, "commentable_type": "Book"},
	)
	return f
}

func ids(records []*record.Record) []any {
	out := make([]any, len(records))
	for i, r := range records {
		out[i] = r.ID()
	}
	return out
}

func titles(records []*record.Record) []any {
	out := make([]any, len(records))
	for i, r := range records {
		out[i] = r.Value("title")
	}
	return out
}

func TestRelation_NoQueryUntilMaterialized(t *testing.T) {
	f := seededFixture(t)
	ctx := context.Background()

	rel := f.db.From("Book").
		Where(queryir.Eq("published", true)).
		Order(queryir.Asc("id")).
		Includes("author")
	assert.Equal(t, 0, f.eng.Count())
	assert.False(t, rel.Loaded())

	records, err := rel.ToA(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2), int64(4)}, ids(records))
	assert.Equal(t, 2, f.eng.Count(), "one query for books, one for authors")
	assert.True(t, rel.Loaded())

	again, err := rel.ToA(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids(records), ids(again))
	assert.Equal(t, 2, f.eng.Count(), "materialized relation must not query again")
}

func TestRelation_ConcurrentToAExecutesOnce(t *testing.T) {
	f := seededFixture(t)
	ctx := context.Background()
	rel := f.db.From("Book")

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			records, err := rel.ToA(ctx)
			assert.NoError(t, err)
			assert.Len(t, records, 4)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.eng.Count())
}

func TestRelation_FailedExecutionIsNotCached(t *testing.T) {
	f := seededFixture(t)
	ctx := context.Background()
	rel := f.db.From("Book")

	f.eng.FailAt(1, errBoom)
	_, err := rel.ToA(ctx)
	require.ErrorIs(t, err, errBoom)
	assert.False(t, rel.Loaded())

	records, err := rel.ToA(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 4)
	assert.Equal(t, 2, f.eng.Count())
}

func TestRelation_BuildersAreCopyOnWrite(t *testing.T) {
	f := seededFixture(t)
	ctx := context.Background()

	base := f.db.From("Book")
	_, err := base.ToA(ctx)
	require.NoError(t, err)

	narrowed := base.Where(queryir.Eq("author_id", 2))
	assert.Empty(t, base.Fragments().Where)
	assert.False(t, narrowed.Loaded(), "derived relation starts with an empty cache")

	records, err := narrowed.ToA(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{"Kindred"}, titles(records))

	reset := base.Reset()
	assert.False(t, reset.Loaded())
	assert.True(t, base.Loaded())
}

func TestRelation_ConfigurationErrors(t *testing.T) {
	f := seededFixture(t)

	tests := []struct {
		name string
		rel  func() *Relation
		ref  string
	}{
		{"unknown type", func() *Relation { return f.db.From("Ghost") }, "Ghost"},
		{"unknown column", func() *Relation { return f.db.From("Book").Where(queryir.Eq("isbn", "x")) }, "books.isbn"},
		{"unknown table", func() *Relation { return f.db.From("Book").Where(queryir.Eq("ghosts.id", 1)) }, "ghosts.id"},
		{"unknown order column", func() *Relation { return f.db.From("Book").Order(queryir.Asc("isbn")) }, "books.isbn"},
		{"unknown association join", func() *Relation { return f.db.From("Book").JoinsAssociation("sequels") }, "Book.sequels"},
		{"nested unknown association", func() *Relation { return f.db.From("Author").JoinsAssociation("books.blurbs") }, "Book.blurbs"},
		{"polymorphic join", func() *Relation { return f.db.From("Comment").JoinsAssociation("commentable") }, "Comment.commentable"},
		{"unknown include", func() *Relation { return f.db.From("Book").Includes("sequels") }, "Book.sequels"},
		{"negative limit", func() *Relation { return f.db.From("Book").Limit(-1) }, "limit"},
		{"negative offset", func() *Relation { return f.db.From("Book").Offset(-3) }, "offset"},
		{"group by has_many", func() *Relation { return f.db.From("Book").GroupByAssociation("reviews") }, "Book.reviews"},
		{"scope type mismatch", func() *Relation {
			return f.db.From("Author").IncludesScoped("books", f.db.From("Review"))
		}, "books"},
		{"first error sticks", func() *Relation {
			return f.db.From("Book").Where(queryir.Eq("isbn", "x")).Limit(-1)
		}, "books.isbn"},
		{"merge propagates error", func() *Relation {
			return f.db.From("Book").Merge(f.db.From("Book").Limit(-1))
		}, "limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rel := tt.rel()
			err := rel.Err()
			require.Error(t, err)
			assert.True(t, qerr.IsConfiguration(err), "expected CONFIGURATION, got %v", err)

			var qe *qerr.Error
			require.True(t, errors.As(err, &qe))
			assert.Equal(t, tt.ref, qe.Ref)

			_, toAErr := rel.ToA(context.Background())
			assert.Equal(t, err, toAErr)
			_, countErr := rel.Count(context.Background())
			assert.Equal(t, err, countErr)
		})
	}

	assert.Equal(t, 0, f.eng.Count(), "invalid relations must not reach the engine")
}

func TestRelation_WhereAndOrder(t *testing.T) {
	f := seededFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		rel  *Relation
		want []any
	}{
		{
			name: "range and descending order",
			rel:  f.db.From("Book").Where(queryir.Gt("pages", 190)).Order(queryir.Desc("pages")),
			want: []any{"Dispossessed", "Kindred", "Earthsea"},
		},
		{
			name: "in list",
			rel:  f.db.From("Book").Where(queryir.AnyOf("id", 4, 1)).Order(queryir.Asc("id")),
			want: []any{"Earthsea", "Kindred"},
		},
		{
			name: "empty in list matches nothing",
			rel:  f.db.From("Book").Where(queryir.AnyOf("id")),
			want: []any{},
		},
		{
			name: "not in and raw",
			rel: f.db.From("Book").
				Where(queryir.NoneOf("id", 1), queryir.SQL("books.pages < ?", 300)).
				Order(queryir.Asc("title")),
			want: []any{"Kindred", "Lathe"},
		},
		{
			name: "reorder replaces order",
			rel:  f.db.From("Book").Order(queryir.Asc("title")).Reorder(queryir.Desc("id")),
			want: []any{"Kindred", "Lathe", "Dispossessed", "Earthsea"},
		},
		{
			name: "limit and offset",
			rel:  f.db.From("Book").Order(queryir.Asc("id")).Limit(2).Offset(1),
			want: []any{"Dispossessed", "Lathe"},
		},
		{
			name: "except removes order and limit",
			rel:  f.db.From("Book").Order(queryir.Desc("id")).Limit(1).Except(queryir.KindLimit, queryir.KindOrder).Order(queryir.Asc("id")),
			want: []any{"Earthsea", "Dispossessed", "Lathe", "Kindred"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := tt.rel.ToA(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, titles(records))
		})
	}
}

func TestRelation_Joins(t *testing.T) {
	f := seededFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		rel  *Relation
		want []any
	}{
		{
			name: "has_many",
			rel:  f.db.From("Author").JoinsAssociation("books").Where(queryir.Eq("books.published", false)),
			want: []any{int64(1)},
		},
		{
			name: "belongs_to",
			rel:  f.db.From("Book").JoinsAssociation("author").Where(queryir.Eq("authors.name", "Octavia")),
			want: []any{int64(4)},
		},
		{
			name: "has_and_belongs_to_many",
			rel:  f.db.From("Book").JoinsAssociation("tags").Where(queryir.Eq("tags.name", "scifi")).Order(queryir.Asc("id")),
			want: []any{int64(2), int64(4)},
		},
		{
			name: "scoped association",
			rel:  f.db.From("Author").JoinsAssociation("recent_books").Distinct(true).Order(queryir.Asc("id")),
			want: []any{int64(1), int64(2)},
		},
		{
			name: "polymorphic inverse filters on type",
			rel:  f.db.From("Book").JoinsAssociation("comments").Distinct(true).Order(queryir.Asc("id")),
			want: []any{int64(1)},
		},
		{
			name: "nested path",
			rel:  f.db.From("Author").JoinsAssociation("books.reviews").Where(queryir.Eq("reviews.stars", 5)).Distinct(true).Order(queryir.Asc("id")),
			want: []any{int64(1), int64(2)},
		},
		{
			name: "clause join",
			rel: f.db.From("Author").
				Joins(queryir.Clause("JOIN profiles ON profiles.author_id = authors.id")).
				Where(queryir.SQL("profiles.bio = ?", "Parable")),
			want: []any{int64(2)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.rel.Err())
			records, err := tt.rel.ToA(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(records))
		})
	}
}

func TestRelation_ColumnsMustBelongToJoinedTables(t *testing.T) {
	f := seededFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		rel  *Relation
		ref  string
	}{
		{"where", f.db.From("Book").Where(queryir.Eq("authors.name", "Octavia")), "authors.name"},
		{"order", f.db.From("Book").Order(queryir.Asc("authors.name")), "authors.name"},
		{"select", f.db.From("Book").Select("authors.name"), "authors.name"},
		{"nested join table", f.db.From("Author").JoinsAssociation("books").Where(queryir.Eq("reviews.stars", 5)), "reviews.stars"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.rel.ToA(ctx)
			require.Error(t, err)
			assert.True(t, qerr.IsConfiguration(err), "expected CONFIGURATION, got %v", err)

			var qe *qerr.Error
			require.True(t, errors.As(err, &qe))
			assert.Equal(t, tt.ref, qe.Ref)
		})
	}
	assert.Equal(t, 0, f.eng.Count())

	records, err := f.db.From("Book").JoinsAssociation("author").Where(queryir.Eq("authors.name", "Octavia")).ToA(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{"Kindred"}, titles(records))

	records, err = f.db.From("Book").Joins(queryir.Clause("JOIN authors ON authors.id = books.author_id")).
		Where(queryir.Eq("authors.name", "Octavia")).ToA(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{"Kindred"}, titles(records))
}

func TestRelation_RepeatedJoinsAreKeptOnce(t *testing.T) {
	f := seededFixture(t)

	rel := f.db.From("Author").JoinsAssociation("books", "books.reviews", "books")
	q, err := rel.ToQuery()
	require.NoError(t, err)
	assert.Len(t, q.Joins, 2)
}

func TestRelation_DefaultScope(t *testing.T) {
	types := testutil.LibraryTypes()
	for _, typ := range types {
		if typ.Name == "Book" {
			typ.DefaultScope = &queryir.Fragments{
				Where: []queryir.Predicate{queryir.Eq("books.published", true)},
				Order: []queryir.OrderTerm{queryir.Desc("books.id")},
			}
		}
	}
	reg, err := schema.NewRegistry(types...)
	require.NoError(t, err)
	f := fixtureFor(testutil.OpenStore(t, reg), reg)
	testutil.Seed(t, f.st, "books",
		map[string]any{"id": 1, "title": "a", "published": true},
		map[string]any{"id": 2, "title": "b", "published": false},
		map[string]any{"id": 3, "title": "c", "published": true},
	)
	ctx := context.Background()

	records, err := f.db.From("Book").ToA(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(3), int64(1)}, ids(records))

	records, err = f.db.From("Book").Unscoped().Order(queryir.Asc("id")).ToA(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, ids(records))

	records, err = f.db.From("Book").Except(queryir.KindWhere).ToA(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(3), int64(2), int64(1)}, ids(records))
}

func TestRelation_SelectedColumns(t *testing.T) {
	f := seededFixture(t)

	records, err := f.db.From("Book").Select("id", "title").Where(queryir.Eq("id", 2)).ToA(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)

	_, ok := records[0].Get("pages")
	assert.False(t, ok)
	assert.Equal(t, "Dispossessed", records[0].Value("title"))
}

package record

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/qerr"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/schema"
)

var bookType = &schema.EntityType{
	Name:        "Book",
	Table:       "books",
	PrimaryKeys: []string{"id"},
	Columns: []schema.Column{
		{Name: "id", Type: schema.TypeInteger},
		{Name: "title", Type: schema.TypeString},
		{Name: "published", Type: schema.TypeBoolean},
	},
}

func TestMapper_Map(t *testing.T) {
	row := queryir.Row{
		Columns: []string{"id", "title", "published", "owner_key"},
		Values:  []any{int64(3), []byte("Dune"), int64(1), int64(9)},
	}

	rec, err := Mapper{}.Map(bookType, row)
	require.NoError(t, err)

	assert.Equal(t, int64(3), rec.ID())
	assert.Equal(t, "Dune", rec.Value("title"))
	assert.Equal(t, true, rec.Value("published"))
	_, ok := rec.Get("owner_key")
	assert.False(t, ok, "columns unknown to the type are not mapped")
	assert.Same(t, bookType, rec.Type())
}

func TestMapper_CastError(t *testing.T) {
	row := queryir.Row{Columns: []string{"id"}, Values: []any{"not-a-number"}}

	_, err := Mapper{}.Map(bookType, row)
	require.Error(t, err)
	assert.True(t, qerr.IsTypeCast(err))
}

func TestRecord_Associations(t *testing.T) {
	book := New(bookType, map[string]any{"id": int64(1)})
	assert.False(t, book.AssociationLoaded("reviews"))

	book.SetTargets("reviews", nil)
	reviews, ok := book.Association("reviews")
	require.True(t, ok)
	assert.NotNil(t, reviews.Targets())
	assert.Equal(t, 0, reviews.Len())

	author := New(bookType, map[string]any{"id": int64(7)})
	book.SetTarget("author", author)
	a, ok := book.Association("author")
	require.True(t, ok)
	assert.Same(t, author, a.Target())

	book.SetTarget("editor", nil)
	e, _ := book.Association("editor")
	assert.Nil(t, e.Target())
	assert.True(t, book.AssociationLoaded("editor"))
}

func TestRecord_AttributesAreCopied(t *testing.T) {
	attrs := map[string]any{"id": int64(1)}
	rec := New(bookType, attrs)
	attrs["id"] = int64(2)

	assert.Equal(t, int64(1), rec.ID())

	out := rec.Attributes()
	out["id"] = int64(3)
	assert.Equal(t, int64(1), rec.ID())
}

func TestRecord_ID_WithoutPrimaryKey(t *testing.T) {
	rec := New(&schema.EntityType{Name: "Log", Table: "logs"}, map[string]any{"id": 1})
	assert.Nil(t, rec.ID())
}

func TestRecord_MarshalJSON(t *testing.T) {
	book := New(bookType, map[string]any{"id": int64(1), "title": "Dune"})
	book.SetTargets("reviews", []*Record{New(bookType, map[string]any{"id": int64(2)})})
	book.SetTarget("author", nil)

	data, err := json.Marshal(book)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"title":"Dune","reviews":[{"id":2}],"author":null}`, string(data))
}

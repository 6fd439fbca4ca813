package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/qerr"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/schema"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.NewRegistry(
		&schema.EntityType{
			Name:        "Book",
			Table:       "books",
			PrimaryKeys: []string{"id"},
			Columns: []schema.Column{
				{Name: "id", Type: schema.TypeInteger},
				{Name: "title", Type: schema.TypeString},
				{Name: "price", Type: schema.TypeDecimal},
			},
			Associations: []*schema.Reflection{
				{Name: "tags", Macro: schema.HasAndBelongsToMany, Target: "Tag"},
			},
		},
		&schema.EntityType{
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
	)
	require.NoError(t, err)
	return reg
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
	assert.Equal(t, 999, s.MaxInList())
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	// NORMAL = 1
	assert.NoError(t, s.verifyPragma("synchronous", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
}

func TestOpen_MaxInListOverride(t *testing.T) {
	s, err := Open(Config{Driver: "sqlite3", DSN: ":memory:", MaxInList: 2})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, 2, s.MaxInList())
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle", DSN: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported driver")
}

func TestDialectFor(t *testing.T) {
	d, err := DialectFor("postgresql")
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.Driver)
	assert.Equal(t, "NUMERIC", d.ColumnType(schema.TypeDecimal))

	d, err = DialectFor("")
	require.NoError(t, err)
	assert.Equal(t, SQLite.Name, d.Name)
}

func TestMigrate_CreatesTablesAndJoinTable(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	reg := testRegistry(t)

	require.NoError(t, s.Migrate(ctx, reg))
	// Idempotent
	require.NoError(t, s.Migrate(ctx, reg))

	var tables []string
	require.NoError(t, s.DB().SelectContext(ctx, &tables,
		"SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name"))
	assert.Equal(t, []string{"books", "books_tags", "tags"}, tables)

	require.NoError(t, s.Insert(ctx, "books_tags", map[string]any{"book_id": 1, "tag_id": 2}))
}

func TestRows_ReturnsRawRows(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx, testRegistry(t)))

	price, _, err := apd.NewFromString("19.99")
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, "books", map[string]any{"id": 1, "title": "Dune", "price": price}))
	require.NoError(t, s.Insert(ctx, "books", map[string]any{"id": 2, "title": "Emma", "price": "5.00"}))

	rows, err := s.Rows(ctx, queryir.Select{
		Table: "books",
		Where: []queryir.Predicate{queryir.Eq("books.price", price)},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	id, ok := rows[0].Get("id")
	require.True(t, ok)
	assert.EqualValues(t, 1, id)
	title, _ := rows[0].Get("title")
	assert.Equal(t, "Dune", title)
}

func TestRows_EmptyResultIsNotNil(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx, testRegistry(t)))

	rows, err := s.Rows(ctx, queryir.Select{Table: "books"})
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestScalar(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx, testRegistry(t)))
	require.NoError(t, s.Insert(ctx, "books", map[string]any{"id": 1, "title": "Dune"}))
	require.NoError(t, s.Insert(ctx, "books", map[string]any{"id": 2, "title": "Emma"}))

	v, err := s.Scalar(ctx, queryir.Aggregate{Func: queryir.FuncCount, Source: queryir.Select{Table: "books"}})
	require.NoError(t, err)
	assert.EqualValues(t, 2, v)

	v, err = s.Scalar(ctx, queryir.Select{Table: "books", Where: []queryir.Predicate{queryir.Eq("books.id", 99)}})
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestRows_ExecutionError(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Rows(context.Background(), queryir.Select{Table: "missing"})
	require.Error(t, err)
	assert.True(t, qerr.IsExecution(err))

	var qe *qerr.Error
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, "SELECT missing.* FROM missing", qe.Query)
}

func TestRows_CompileError(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Rows(context.Background(), queryir.Select{Table: "books", Joins: []queryir.Join{queryir.Association("author")}})
	require.Error(t, err)
	assert.True(t, qerr.IsExecution(err))
}

func TestRows_Cancelled(t *testing.T) {
	s := createTestStore(t)
	require.NoError(t, s.Migrate(context.Background(), testRegistry(t)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Rows(ctx, queryir.Select{Table: "books"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBindArgs(t *testing.T) {
	args := bindArgs([]any{apd.New(1999, -2), "x", 3})
	assert.Equal(t, []any{"19.99", "x", 3}, args)
}

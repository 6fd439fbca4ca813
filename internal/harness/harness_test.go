package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/relspec"
)

func schemaPath(t *testing.T) string {
	t.Helper()
	path, err := filepath.Abs("testdata/schema/library.yaml")
	require.NoError(t, err)
	return path
}

func TestRun_AuthorBooksGolden(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/author_books.yaml")
	require.NoError(t, err)

	result, err := RunWithGolden(t, scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
}

func TestRun_LibraryScenario(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/library.yaml")
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
	assert.Len(t, result.Trace, len(scenario.Steps))
}

func TestRun_ReportsFailedExpectations(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: wrong
description: "Every expectation is off by one"
schema: ` + schemaPath(t) + `
fixtures:
  - table: authors
    rows:
      - {id: 1, name: a}
steps:
  - query: {from: Author}
    op: count
    expect: {value: 2, queries: 0}
  - query: {from: Author, includes: [books]}
    op: load
    expect:
      ids: [2]
      associations: {books: [1]}
  - query: {from: Author}
    op: load
    expect: {error: CONFIGURATION}
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)

	all := strings.Join(result.Errors, "\n")
	for _, field := range []string{"(value)", "(queries)", "(ids)", "(associations.books)", "(error)"} {
		assert.Contains(t, all, field)
	}
	assert.Contains(t, all, "Assertion failed: count Author")
}

func TestRun_UnexpectedError(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: broken
description: "Unknown column"
schema: ` + schemaPath(t) + `
steps:
  - query:
      from: Book
      where:
        - {column: isbn, value: "123"}
    op: load
    expect: {len: 0}
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Trace, 1)
	assert.Contains(t, result.Trace[0].Error, "unknown column")
	assert.Empty(t, result.Trace[0].Queries)
}

func TestRun_SetupErrors(t *testing.T) {
	tests := []struct {
		name   string
		schema string
		table  string
		want   string
	}{
		{"missing schema", filepath.Join(t.TempDir(), "none.yaml"), "authors", "failed to load schema"},
		{"unknown fixture table", schemaPath(t), "magazines", "fixture magazines[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scenario := &Scenario{
				Name:        tt.name,
				Description: tt.name,
				Schema:      tt.schema,
				Fixtures:    []Fixture{{Table: tt.table, Rows: []map[string]any{{"id": 1}}}},
				Steps:       []Step{{Name: "load", Op: OpLoad, Query: relspec.Spec{From: "Author"}}},
			}
			_, err := Run(scenario)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_ResolvesSchema(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/author_books.yaml")
	require.NoError(t, err)

	want, err := filepath.Abs("testdata/schema/library.yaml")
	require.NoError(t, err)
	got, err := filepath.Abs(scenario.Schema)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	assert.Equal(t, "preload books", scenario.Steps[0].Name)
	assert.Len(t, scenario.Fixtures, 2)
}

func TestLoadScenario_Errors(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	assert.ErrorContains(t, err, "failed to read scenario file")

	dir := t.TempDir()
	path := filepath.Join(dir, "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: x
description: y
schema: missing.yaml
steps:
  - {query: {from: Author}, op: load}
`), 0o644))
	_, err = LoadScenario(path)
	assert.ErrorContains(t, err, "schema file not found")
}

func TestParseScenario_Validation(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown field", "name: x\ndescription: y\nschema: s\nstep: []", "field step not found"},
		{"missing name", "description: y\nschema: s\nsteps: [{query: {from: A}, op: load}]", "name is required"},
		{"missing description", "name: x\nschema: s\nsteps: [{query: {from: A}, op: load}]", "description is required"},
		{"missing schema", "name: x\ndescription: y\nsteps: [{query: {from: A}, op: load}]", "schema is required"},
		{"no steps", "name: x\ndescription: y\nschema: s", "steps list is required"},
		{"missing from", "name: x\ndescription: y\nschema: s\nsteps: [{op: load}]", "query.from is required"},
		{"missing op", "name: x\ndescription: y\nschema: s\nsteps: [{query: {from: A}}]", "op is required"},
		{"unknown op", "name: x\ndescription: y\nschema: s\nsteps: [{query: {from: A}, op: delete}]", `unknown op "delete"`},
		{"pluck without column", "name: x\ndescription: y\nschema: s\nsteps: [{query: {from: A}, op: pluck}]", "column is required"},
		{"fixture without table", "name: x\ndescription: y\nschema: s\nfixtures: [{rows: []}]\nsteps: [{query: {from: A}, op: load}]", "table is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseScenario_DefaultStepName(t *testing.T) {
	scenario, err := ParseScenario([]byte("name: x\ndescription: y\nschema: s\nsteps: [{query: {from: Book}, op: sum, column: price}]"))
	require.NoError(t, err)
	assert.Equal(t, "sum Book", scenario.Steps[0].Name)
}

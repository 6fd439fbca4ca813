package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/schema"
	"github.com/roach88/relq/internal/store"
)

const librarySchema = "../harness/testdata/schema/library.yaml"

// libraryDB creates a seeded SQLite database and returns the global flags
// pointing at it.
func libraryDB(t *testing.T) []string {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "library.db")
	reg, err := schema.Load(librarySchema)
	require.NoError(t, err)

	st, err := store.OpenSQLite(dbPath)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx, reg))
	rows := map[string][]map[string]any{
		"authors": {
			{"id": 1, "name": "Octavia"},
			{"id": 2, "name": "Ursula"},
		},
		"books": {
			{"id": 1, "author_id": 1, "title": "Kindred", "price": "10.50", "pages": 264, "published": true},
			{"id": 2, "author_id": 1, "title": "Dawn", "price": "9.75", "pages": 248, "published": true},
			{"id": 3, "author_id": 2, "title": "Earthsea", "price": "20.25", "pages": 183, "published": false},
		},
	}
	for _, table := range []string{"authors", "books"} {
		for _, row := range rows[table] {
			require.NoError(t, st.Insert(ctx, table, row))
		}
	}

	return []string{"--schema", librarySchema, "--db", dbPath}
}

// run executes the CLI and returns the exit code with captured output.
func run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := Run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func TestMigrateCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "fresh.db")
	args := []string{"migrate", "--schema", librarySchema, "--db", dbPath}

	code, out, stderr := run(args...)
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, out, "✓ authors")
	assert.Contains(t, out, "✓ books")
	assert.Contains(t, out, "Migrated 5 tables")

	// Migrating twice leaves existing tables alone.
	code, out, stderr = run(append(args, "--format", "json")...)
	require.Equal(t, ExitSuccess, code, stderr)
	var result MigrateResult
	decodeData(t, out, &result)
	assert.Equal(t, []string{"authors", "books", "reviews", "tags", "comments"}, result.Tables)
}

func TestQueryCommand(t *testing.T) {
	db := libraryDB(t)

	t.Run("text", func(t *testing.T) {
		code, out, stderr := run(append([]string{"query", "Book", "--where", "published=true", "--order", "id"}, db...)...)
		require.Equal(t, ExitSuccess, code, stderr)
		assert.Contains(t, out, `"title":"Kindred"`)
		assert.Contains(t, out, `"title":"Dawn"`)
		assert.NotContains(t, out, "Earthsea")
		assert.Contains(t, out, "(2 records)")
	})

	t.Run("json with includes", func(t *testing.T) {
		code, out, stderr := run(append([]string{"query", "Author", "--order", "id", "--includes", "books", "--format", "json"}, db...)...)
		require.Equal(t, ExitSuccess, code, stderr)

		var records []map[string]any
		decodeData(t, out, &records)
		require.Len(t, records, 2)
		assert.Equal(t, "Octavia", records[0]["name"])
		assert.Len(t, records[0]["books"], 2)
		assert.Len(t, records[1]["books"], 1)
	})

	t.Run("spec file", func(t *testing.T) {
		specPath := filepath.Join(t.TempDir(), "cheap.yaml")
		require.NoError(t, os.WriteFile(specPath, []byte("from: Book\nwhere:\n  - {column: pages, op: lt, value: 250}\n"), 0644))

		code, out, stderr := run(append([]string{"query", "--file", specPath, "--order", "id"}, db...)...)
		require.Equal(t, ExitSuccess, code, stderr)
		assert.Contains(t, out, "Dawn")
		assert.Contains(t, out, "Earthsea")
		assert.Contains(t, out, "(2 records)")
	})
}

func TestQueryCommand_Errors(t *testing.T) {
	db := libraryDB(t)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"no type", []string{"query"}, "a type name or --file is required"},
		{"unknown type", []string{"query", "Magazine"}, "Magazine"},
		{"unknown column", []string{"query", "Book", "--where", "isbn=1"}, "isbn"},
		{"bad condition", []string{"query", "Book", "--where", "pages"}, "invalid --where"},
		{"missing spec file", []string{"query", "--file", "missing.yaml"}, "failed to read relation spec"},
		{"unknown include", []string{"query", "Book", "--includes", "publisher"}, "publisher"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := run(append(tt.args, db...)...)
			assert.Equal(t, ExitCommandError, code)
			assert.Contains(t, stderr, tt.wantErr)
		})
	}
}

func TestExplainCommand(t *testing.T) {
	// No database is opened, so the DSN may point nowhere.
	base := []string{"--schema", librarySchema, "--db", filepath.Join(t.TempDir(), "missing", "x.db")}

	code, out, stderr := run(append([]string{"explain", "Book", "--where", "pages>200"}, base...)...)
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, out, "FROM books")
	assert.Contains(t, out, "books.pages > ?")
	assert.Contains(t, out, "args: [200]")

	code, out, stderr = run(append([]string{"explain", "Book", "--where", "pages>200", "--driver", "postgres", "--format", "json"}, base...)...)
	require.Equal(t, ExitSuccess, code, stderr)
	var result ExplainResult
	decodeData(t, out, &result)
	assert.Contains(t, result.SQL, "$1")
	assert.Equal(t, []any{float64(200)}, result.Args)
	assert.NoDirExists(t, filepath.Dir(base[3]))
}

func TestCalcCommand(t *testing.T) {
	db := libraryDB(t)

	t.Run("count", func(t *testing.T) {
		code, out, stderr := run(append([]string{"calc", "count", "Book"}, db...)...)
		require.Equal(t, ExitSuccess, code, stderr)
		assert.Equal(t, "3\n", out)
	})

	t.Run("maximum with where", func(t *testing.T) {
		code, out, stderr := run(append([]string{"calc", "maximum", "Book", "--column", "pages", "--where", "published=true"}, db...)...)
		require.Equal(t, ExitSuccess, code, stderr)
		assert.Equal(t, "264\n", out)
	})

	t.Run("empty maximum is null", func(t *testing.T) {
		code, out, stderr := run(append([]string{"calc", "maximum", "Book", "--column", "pages", "--where", "pages>1000"}, db...)...)
		require.Equal(t, ExitSuccess, code, stderr)
		assert.Equal(t, "NULL\n", out)
	})

	t.Run("grouped by association", func(t *testing.T) {
		code, out, stderr := run(append([]string{"calc", "count", "Book", "--group-by", "author"}, db...)...)
		require.Equal(t, ExitSuccess, code, stderr)
		assert.Contains(t, out, "1\t2\tAuthor#1\n")
		assert.Contains(t, out, "2\t1\tAuthor#2\n")
	})

	t.Run("grouped json", func(t *testing.T) {
		code, out, stderr := run(append([]string{"calc", "count", "Book", "--group", "published", "--format", "json"}, db...)...)
		require.Equal(t, ExitSuccess, code, stderr)
		var result CalcResult
		decodeData(t, out, &result)
		assert.Equal(t, "count", result.Op)
		assert.Len(t, result.Groups, 2)
	})
}

func TestCalcCommand_Errors(t *testing.T) {
	db := libraryDB(t)

	code, _, stderr := run(append([]string{"calc", "median", "Book"}, db...)...)
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "invalid calculation")

	code, _, stderr = run(append([]string{"calc", "sum", "Book", "--column", "isbn"}, db...)...)
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "isbn")
}

func TestBatchesCommand(t *testing.T) {
	db := libraryDB(t)

	code, out, stderr := run(append([]string{"batches", "Book", "--batch-size", "2"}, db...)...)
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, out, "batch 1: 2 records (1..2)")
	assert.Contains(t, out, "batch 2: 1 records (3..3)")
	assert.Contains(t, out, "(3 records in 2 batches)")

	code, out, stderr = run(append([]string{"batches", "Book", "--start", "2", "--format", "json"}, db...)...)
	require.Equal(t, ExitSuccess, code, stderr)
	var result BatchesResult
	decodeData(t, out, &result)
	assert.Equal(t, 2, result.Total)
	require.Len(t, result.Batches, 1)
	assert.Equal(t, float64(2), result.Batches[0].FirstID)

	code, _, stderr = run(append([]string{"batches", "Book", "--batch-size", "0"}, db...)...)
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "batch size must be positive")
}

func TestRun_CommandLineErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"invalid format", []string{"migrate", "--format", "xml"}, "invalid format"},
		{"unknown flag", []string{"query", "Book", "--bogus"}, "unknown flag"},
		{"unknown command", []string{"frobnicate"}, "unknown command"},
		{"missing config", []string{"migrate", "--config", "missing.yaml"}, "failed to load config"},
		{"bad driver", []string{"migrate", "--driver", "oracle"}, "unsupported driver"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := run(tt.args...)
			assert.Equal(t, ExitCommandError, code)
			assert.Contains(t, stderr, tt.wantErr)
		})
	}
}

func TestRun_JSONErrors(t *testing.T) {
	code, out, stderr := run("query", "--format", "json", "--schema", librarySchema, "--db", ":memory:")
	assert.Equal(t, ExitCommandError, code)
	assert.Empty(t, out)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(stderr), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_COMMAND", resp.Error.Code)
}

func TestRun_ConfigFile(t *testing.T) {
	db := libraryDB(t)
	dir := t.TempDir()
	absSchema, err := filepath.Abs(librarySchema)
	require.NoError(t, err)

	cfgPath := filepath.Join(dir, "relq.yaml")
	cfg := "database:\n  driver: sqlite3\n  dsn: " + db[3] + "\nschema: " + absSchema + "\nbatch_size: 1\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0644))

	code, out, stderr := run("batches", "Book", "--config", cfgPath)
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, out, "(3 records in 3 batches)")
}

func TestTestCommand_HarnessScenarios(t *testing.T) {
	code, out, stderr := run("test", "../harness/testdata/scenarios")
	require.Equal(t, ExitSuccess, code, stderr+out)
	assert.Contains(t, out, "✓ author_books")
	assert.Contains(t, out, "✓ All scenarios passed")

	code, out, _ = run("test", "../harness/testdata/scenarios", "--filter", "author_*", "--format", "json")
	require.Equal(t, ExitSuccess, code)
	var result TestResult
	decodeData(t, out, &result)
	assert.Equal(t, 1, result.Total)
	assert.Equal(t, 1, result.Passed)
}

func TestTestCommand_Golden(t *testing.T) {
	dir := t.TempDir()
	absSchema, err := filepath.Abs(librarySchema)
	require.NoError(t, err)

	scenario := `name: counts
description: "Counting books"
schema: ` + absSchema + `
fixtures:
  - table: books
    rows:
      - {id: 1, title: a}
      - {id: 2, title: b}
steps:
  - query: {from: Book}
    op: count
    expect: {value: 2, queries: 1}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "counts.yaml"), []byte(scenario), 0644))
	goldenPath := filepath.Join(dir, "golden", "counts.golden")

	code, out, stderr := run("test", dir, "--update")
	require.Equal(t, ExitSuccess, code, stderr+out)
	assert.Contains(t, out, "✓ counts (golden updated)")
	golden, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"scenario_name": "counts"`)
	assert.Contains(t, string(golden), "SELECT COUNT(*) FROM books")

	code, out, stderr = run("test", dir)
	require.Equal(t, ExitSuccess, code, stderr+out)

	require.NoError(t, os.WriteFile(goldenPath, []byte("{}\n"), 0644))
	code, out, _ = run("test", dir)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, out, "✗ counts")
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommand_Failures(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: broken\n"), 0644))

	code, out, _ := run("test", dir)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
	assert.Contains(t, out, "0 passed, 1 failed, 1 total")

	code, _, stderr := run("test", filepath.Join(dir, "missing"))
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "scenarios directory not found")

	code, out, _ = run("test", t.TempDir())
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "No scenarios found.")
}

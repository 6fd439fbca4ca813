// Package harness runs relation scenarios: YAML files that pair a schema and
// fixture rows with relation steps and their expected results.
//
// # Scenario Format
//
//	name: author_books
//	description: "Preloading books issues one query for all authors"
//	schema: schema/library.yaml
//	fixtures:
//	  - table: authors
//	    rows:
//	      - {id: 1, name: Ursula}
//	steps:
//	  - name: preload books
//	    query: {from: Author, includes: [books], order: [id]}
//	    op: load
//	    expect:
//	      ids: [1]
//	      queries: 2
//	      associations: {books: [3]}
//	  - op: sum
//	    query: {from: Book}
//	    column: price
//	    expect: {value: "30.50"}
//
// Queries use the relspec format. Ops are load, pluck, batches and the
// calculations count, sum, average, minimum and maximum.
//
// # Expectations
//
//   - value / null: calculation result, decimals compared numerically
//   - ids, len: loaded or batched records
//   - values: plucked values
//   - batches: sizes of the yielded batches
//   - associations: targets attached per loaded record
//   - groups: rows of a grouped calculation
//   - queries: number of queries the step issued
//   - error: expected error code or message substring
//
// # Isolation
//
// Each scenario runs in a fresh in-memory SQLite database. Steps share it,
// and every step starts its query count at zero. The SQL each step issued is
// kept in Result.Trace for golden comparison.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/author_books.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, e := range result.Errors {
//	        fmt.Println(e)
//	    }
//	}
package harness

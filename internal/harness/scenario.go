package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/relq/internal/relspec"
)

// Scenario is a relation test: a schema, fixture rows, and steps that build
// relations and assert on what they return and how many queries they issue.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is the schema file (YAML or CUE), relative to the scenario.
	Schema string `yaml:"schema"`

	// Fixtures are inserted in order before the first step.
	Fixtures []Fixture `yaml:"fixtures,omitempty"`

	// Steps run in order against the same database.
	Steps []Step `yaml:"steps"`
}

// Fixture holds rows for one table.
type Fixture struct {
	Table string           `yaml:"table"`
	Rows  []map[string]any `yaml:"rows"`
}

// Step builds one relation and runs one operation on it.
type Step struct {
	// Name labels the step in errors and traces. Defaults to "<op> <from>".
	Name string `yaml:"name,omitempty"`

	Query relspec.Spec `yaml:"query"`

	// Op is one of load, count, sum, average, minimum, maximum, pluck,
	// batches.
	Op string `yaml:"op"`

	// Column is the calculated or plucked column.
	Column string `yaml:"column,omitempty"`

	// Distinct aggregates distinct values only.
	Distinct bool `yaml:"distinct,omitempty"`

	// BatchSize, StartAt and FinishAt configure the batches op.
	BatchSize int `yaml:"batch_size,omitempty"`
	StartAt   any `yaml:"start,omitempty"`
	FinishAt  any `yaml:"finish,omitempty"`

	Expect Expect `yaml:"expect"`
}

// Expect lists the checks for one step. Unset fields are not checked.
type Expect struct {
	// Value is the calculation result. Decimals compare numerically.
	Value any `yaml:"value,omitempty"`

	// Null expects a nil calculation result.
	Null bool `yaml:"null,omitempty"`

	// IDs are the primary keys of loaded or batched records, in order.
	IDs []any `yaml:"ids,omitempty"`

	// Values are plucked values, in order.
	Values []any `yaml:"values,omitempty"`

	// Len is the number of loaded records or plucked values.
	Len *int `yaml:"len,omitempty"`

	// Queries is the number of queries the step issued.
	Queries *int `yaml:"queries,omitempty"`

	// Batches are the batch sizes yielded, in order.
	Batches []int `yaml:"batches,omitempty"`

	// Associations maps an association name to the number of targets
	// attached to each loaded record, in record order.
	Associations map[string][]int `yaml:"associations,omitempty"`

	// Groups are the rows of a grouped calculation, in order.
	Groups []GroupExpect `yaml:"groups,omitempty"`

	// Error is the expected error code (CONFIGURATION, EXECUTION,
	// TYPE_CAST) or a substring of the error message.
	Error string `yaml:"error,omitempty"`
}

// GroupExpect is one expected group.
type GroupExpect struct {
	Key   []any `yaml:"key"`
	Value any   `yaml:"value"`

	// Owner is the primary key of the record a group-by-association key
	// resolves to. Null expects a dangling key.
	Owner any `yaml:"owner,omitempty"`
}

// Step operations.
const (
	OpLoad    = "load"
	OpPluck   = "pluck"
	OpBatches = "batches"
)

var calculationOps = map[string]bool{
	"count": true, "sum": true, "average": true, "minimum": true, "maximum": true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// The schema path is resolved relative to the scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Schema != "" && !filepath.IsAbs(scenario.Schema) {
		scenario.Schema = filepath.Join(filepath.Dir(path), scenario.Schema)
	}
	if _, err := os.Stat(scenario.Schema); err != nil {
		return nil, fmt.Errorf("invalid scenario: schema file not found: %s", scenario.Schema)
	}

	return scenario, nil
}

// ParseScenario parses scenario YAML without touching the filesystem.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "step:" vs "steps:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Schema == "" {
		return fmt.Errorf("schema is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, f := range s.Fixtures {
		if f.Table == "" {
			return fmt.Errorf("fixtures[%d]: table is required", i)
		}
	}

	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateStep validates a single step based on its op.
func validateStep(index int, st *Step) error {
	if st.Query.From == "" {
		return fmt.Errorf("steps[%d]: query.from is required", index)
	}

	switch {
	case st.Op == OpLoad:
	case st.Op == OpPluck:
		if st.Column == "" {
			return fmt.Errorf("steps[%d]: column is required for pluck", index)
		}
	case st.Op == OpBatches:
		if st.BatchSize < 0 {
			return fmt.Errorf("steps[%d]: batch_size must be non-negative", index)
		}
	case calculationOps[st.Op]:
	case st.Op == "":
		return fmt.Errorf("steps[%d]: op is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, st.Op)
	}

	if st.Expect.Queries != nil && *st.Expect.Queries < 0 {
		return fmt.Errorf("steps[%d]: expect.queries must be non-negative", index)
	}

	if st.Name == "" {
		st.Name = st.Op + " " + st.Query.From
	}
	return nil
}

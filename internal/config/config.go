// Package config loads relq configuration files.
//
// A configuration file is YAML:
//
//	database:
//	  driver: sqlite3
//	  dsn: library.db
//	  max_in_list: 500
//	schema: schema.yaml
//	batch_size: 1000
//	log_level: info
//
// Relative paths for the SQLite DSN and the schema are resolved against the
// directory holding the configuration file.
package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/relq/internal/store"
)

// DefaultBatchSize matches relation.DefaultBatchSize.
const DefaultBatchSize = 1000

// Database selects the store.
type Database struct {
	Driver    string `yaml:"driver" json:"driver"`
	DSN       string `yaml:"dsn" json:"dsn"`
	MaxInList int    `yaml:"max_in_list" json:"max_in_list"`
}

// Config is the relq configuration.
type Config struct {
	Database  Database `yaml:"database" json:"database"`
	Schema    string   `yaml:"schema" json:"schema"`
	BatchSize int      `yaml:"batch_size" json:"batch_size"`
	LogLevel  string   `yaml:"log_level" json:"log_level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Database:  Database{Driver: store.SQLite.Name, DSN: "relq.db"},
		Schema:    "schema.yaml",
		BatchSize: DefaultBatchSize,
		LogLevel:  "info",
	}
}

// Load reads the configuration file at path. Fields absent from the file
// keep their defaults. Unknown fields are rejected.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	cfg.resolvePaths(filepath.Dir(path))

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML configuration over the defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func (c *Config) resolvePaths(dir string) {
	if c.Schema != "" && !filepath.IsAbs(c.Schema) {
		c.Schema = filepath.Join(dir, c.Schema)
	}
	d, err := store.DialectFor(c.Database.Driver)
	if err != nil || d.Name != store.SQLite.Name {
		return
	}
	if isFilePath(c.Database.DSN) && !filepath.IsAbs(c.Database.DSN) {
		c.Database.DSN = filepath.Join(dir, c.Database.DSN)
	}
}

// isFilePath reports whether a SQLite DSN names a plain file.
func isFilePath(dsn string) bool {
	return dsn != "" && dsn != ":memory:" && !strings.HasPrefix(dsn, "file:")
}

// Validate checks the configuration for values the store cannot use.
func (c Config) Validate() error {
	if _, err := store.DialectFor(c.Database.Driver); err != nil {
		return err
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Database.MaxInList < 0 {
		return fmt.Errorf("database.max_in_list must not be negative, got %d", c.Database.MaxInList)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel (debug, info, warn, error).
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return level, nil
}

// StoreConfig returns the store settings with logger attached.
func (c Config) StoreConfig(logger *slog.Logger) store.Config {
	return store.Config{
		Driver:    c.Database.Driver,
		DSN:       c.Database.DSN,
		MaxInList: c.Database.MaxInList,
		Logger:    logger,
	}
}

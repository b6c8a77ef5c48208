// Package config builds the immutable run configuration of the migsql command
// from a YAML file, MIGSQL_* environment variables and command line flags,
// in that order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	PostgreSQL = "postgresql"
	SQLite     = "sqlite"
	MySQL      = "mysql"

	DefaultFile       = "migsql.yaml"
	DefaultMigrations = "migrations"
	DefaultTable      = "migrations"
	DefaultSQLiteFile = "data.db"
)

var (
	ErrUnsupportedDatabase = errors.New("database type not supported")
	ErrMissingValue        = errors.New("required configuration value is missing")
	ErrInvalidValue        = errors.New("configuration value is invalid")
	ErrConfigExists        = errors.New("configuration file already exists")
)

type Config struct {
	// Database is one of postgresql, sqlite or mysql.
	Database   string `yaml:"database"`
	Migrations string `yaml:"migrations"`
	Template   string `yaml:"template,omitempty"`
	// Filepath is the SQLite database file.
	Filepath string `yaml:"filepath,omitempty"`
	// Connection is the PostgreSQL or MySQL connection string.
	Connection        string `yaml:"connection,omitempty"`
	Table             string `yaml:"table,omitempty"`
	KeepFailedReverts bool   `yaml:"keepFailedReverts,omitempty"`
	Log               Log    `yaml:"log,omitempty"`
}

type Log struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// Overrides holds values given on the command line. Nil fields are not set.
type Overrides struct {
	Database   *string
	Migrations *string
	Template   *string
	Filepath   *string
	Connection *string
	Table      *string
	LogLevel   *string
	LogFormat  *string
}

func Default() Config {
	return Config{
		Migrations: DefaultMigrations,
		Table:      DefaultTable,
		Log:        Log{Level: "info", Format: "text"},
	}
}

// Load reads the configuration file at path and applies environment overrides.
// A missing file is an error only when explicit is true.
func Load(path string, explicit bool) (Config, error) {
	return LoadWithEnv(path, explicit, os.LookupEnv)
}

// LoadWithEnv is Load with a custom environment lookup.
func LoadWithEnv(path string, explicit bool, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		decoder := yaml.NewDecoder(bytes.NewReader(content))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		// no file, defaults and environment only
	default:
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// With returns a copy of c with the non-nil overrides applied.
func (c Config) With(o Overrides) Config {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}

	set(&c.Database, o.Database)
	set(&c.Migrations, o.Migrations)
	set(&c.Template, o.Template)
	set(&c.Filepath, o.Filepath)
	set(&c.Connection, o.Connection)
	set(&c.Table, o.Table)
	set(&c.Log.Level, o.LogLevel)
	set(&c.Log.Format, o.LogFormat)

	return c
}

// Validate checks that c is enough to connect to a database.
func (c Config) Validate() error {
	switch c.Database {
	case SQLite:
		if c.Filepath == "" {
			return fmt.Errorf("%w: filepath is required for sqlite", ErrMissingValue)
		}
	case PostgreSQL, MySQL:
		if c.Connection == "" {
			return fmt.Errorf("%w: connection is required for %s", ErrMissingValue, c.Database)
		}
	case "":
		return fmt.Errorf("%w: database type", ErrMissingValue)
	default:
		return fmt.Errorf("%w: \"%s\", available options: %s, %s, %s",
			ErrUnsupportedDatabase, c.Database, SQLite, PostgreSQL, MySQL)
	}

	if c.Migrations == "" {
		return fmt.Errorf("%w: migrations directory", ErrMissingValue)
	}

	return nil
}

// Write saves c to path. An existing file is never overwritten.
func Write(path string, c Config) error {
	content, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644) // nolint:gomnd
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	if _, err := file.Write(content); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ---

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	fields := map[string]*string{
		"MIGSQL_DATABASE":   &c.Database,
		"MIGSQL_MIGRATIONS": &c.Migrations,
		"MIGSQL_TEMPLATE":   &c.Template,
		"MIGSQL_FILEPATH":   &c.Filepath,
		"MIGSQL_CONNECTION": &c.Connection,
		"MIGSQL_TABLE":      &c.Table,
		"MIGSQL_LOG_LEVEL":  &c.Log.Level,
		"MIGSQL_LOG_FORMAT": &c.Log.Format,
	}

	for key, dst := range fields {
		if value, ok := lookupTrimmed(lookup, key); ok {
			*dst = value
		}
	}

	if value, ok := lookupTrimmed(lookup, "MIGSQL_KEEP_FAILED_REVERTS"); ok {
		keep, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: MIGSQL_KEEP_FAILED_REVERTS=%s", ErrInvalidValue, value)
		}
		c.KeepFailedReverts = keep
	}

	return nil
}

func lookupTrimmed(lookup func(string) (string, bool), key string) (string, bool) {
	value, ok := lookup(key)
	if !ok {
		return "", false
	}

	value = strings.TrimSpace(value)

	return value, value != ""
}

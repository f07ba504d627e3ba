package metadata

import (
	"fmt"
	"os"
	"path/filepath"
)

// DriverType defines the supported metadata database backends.
type DriverType string

const (
	// DriverSQLite uses SQLite (single-node, default).
	DriverSQLite DriverType = "sqlite"

	// DriverPostgres uses PostgreSQL (HA-capable).
	DriverPostgres DriverType = "postgres"
)

// Config contains metadata database configuration.
type Config struct {
	// Driver selects the database backend.
	Driver DriverType `mapstructure:"driver" yaml:"driver" validate:"required,oneof=sqlite postgres"`

	// Path is the SQLite database file path. Ignored for postgres.
	Path string `mapstructure:"path" yaml:"path,omitempty"`

	// DSN is the PostgreSQL connection string. Ignored for sqlite.
	DSN string `mapstructure:"dsn" yaml:"dsn,omitempty" validate:"required_if=Driver postgres"`

	// MaxOpenConns bounds the postgres connection pool.
	MaxOpenConns int `mapstructure:"max_open_conns" yaml:"max_open_conns,omitempty"`

	// MaxIdleConns bounds idle postgres connections.
	MaxIdleConns int `mapstructure:"max_idle_conns" yaml:"max_idle_conns,omitempty"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Driver == "" {
		c.Driver = DriverSQLite
	}

	if c.Driver == DriverSQLite && c.Path == "" {
		c.Path = filepath.Join(".", "data", "shuttle.db")
	}

	if c.Driver == DriverPostgres {
		if c.MaxOpenConns == 0 {
			c.MaxOpenConns = 25
		}
		if c.MaxIdleConns == 0 {
			c.MaxIdleConns = 5
		}
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverSQLite:
		if c.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case DriverPostgres:
		if c.DSN == "" {
			return fmt.Errorf("postgres dsn is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Driver)
	}
	return nil
}

// ensureSQLiteDir creates the parent directory of the SQLite file.
func (c *Config) ensureSQLiteDir() error {
	return os.MkdirAll(filepath.Dir(c.Path), 0755)
}

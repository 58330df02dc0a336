// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Rule catalog operations
	SaveRuleDefinition(ctx context.Context, rule *RuleDefinition) error
	GetRuleDefinition(ctx context.Context, name string) (*RuleDefinition, error)
	ListRuleDefinitions(ctx context.Context) ([]*RuleDefinition, error)

	// Synthesis history
	SaveSynthesis(ctx context.Context, s *Synthesis) error
	GetSynthesis(ctx context.Context, id string) (*Synthesis, error)
	ListSyntheses(ctx context.Context, filter SynthesisFilter) ([]*Synthesis, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// SynthesisFilter narrows ListSyntheses. Zero values match everything.
type SynthesisFilter struct {
	City  string
	Since time.Time
	Limit int
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDB       string `mapstructure:"postgres_db"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

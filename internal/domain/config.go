package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `mapstructure:"server"`

	// Tier determines feature availability
	Tier Tier `mapstructure:"tier"`

	// External collaborators
	Auth    AuthConfig    `mapstructure:"auth"`
	Storage StorageConfig `mapstructure:"storage"`

	// Component configurations
	Repository RepositoryConfig `mapstructure:"repository"`
	Cache      CacheConfig      `mapstructure:"cache"`
	EventBus   EventBusConfig   `mapstructure:"event_bus"`
	Evaluator  EvaluatorConfig  `mapstructure:"evaluator"`

	// Rules overrides the stored catalog when non-empty.
	// The CLI reads them through kpi.LoadDefinitions so "enabled" defaults to true.
	Rules []*RuleDefinition `mapstructure:"-"`

	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string   `mapstructure:"host"`
	Port         int      `mapstructure:"port"`
	ReadTimeout  int      `mapstructure:"read_timeout"`  // seconds
	WriteTimeout int      `mapstructure:"write_timeout"` // seconds
	AllowOrigins []string `mapstructure:"allow_origins"`
	MaxUploadMB  int64    `mapstructure:"max_upload_mb"`
}

// AuthConfig points at the external token validation service.
type AuthConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"` // 0 disables verdict caching
}

// StorageConfig points at the external file storage service.
type StorageConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// EvaluatorConfig tunes KPI evaluation.
type EvaluatorConfig struct {
	// Workers bounds parallel batch evaluation; 1 evaluates sequentially.
	Workers int `mapstructure:"workers"`

	// ExtraFields are metric names rules may reference on top of the canonical set.
	ExtraFields []string `mapstructure:"extra_fields"`

	// AsyncWorker starts the bus-driven batch worker in the serve process.
	AsyncWorker bool `mapstructure:"async_worker"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + in-memory cache + channels
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + Redis + NATS
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			ReadTimeout:  30,
			WriteTimeout: 30,
			AllowOrigins: []string{"http://localhost:3000"},
			MaxUploadMB:  64,
		},
		Tier: TierCommunity,
		Auth: AuthConfig{
			BaseURL:  "http://localhost:8005/api/v1/auth",
			Timeout:  10 * time.Second,
			CacheTTL: time.Minute,
		},
		Storage: StorageConfig{
			BaseURL: "http://localhost:8005/api/v1/file",
			Timeout: 60 * time.Second,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Evaluator: EvaluatorConfig{
			Workers:     4,
			AsyncWorker: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       30 * time.Second,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Evaluator.Workers = 8
	return cfg
}

package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Engine settings
	Scoring    ScoringConfig    `json:"scoring"`
	Predictive PredictiveConfig `json:"predictive"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// ScoringConfig holds batch scoring settings.
type ScoringConfig struct {
	// Workers bounds per-batch parallelism.
	Workers int `json:"workers"`

	// RulesetPath is an optional YAML/JSON ruleset loaded at startup.
	RulesetPath string `json:"rulesetPath"`

	// ModelPath is an optional model artifact JSON loaded at startup.
	ModelPath string `json:"modelPath"`

	// LockTTL bounds how long a tenant's scoring run lock may be held.
	LockTTL time.Duration `json:"lockTtl"`
}

// PredictiveConfig holds the fallback inputs for lifetime value estimation.
type PredictiveConfig struct {
	DefaultDealValue float64 `json:"defaultDealValue"`
	DefaultRetention float64 `json:"defaultRetention"`
	DiscountRate     float64 `json:"discountRate"`
	GrossMargin      float64 `json:"grossMargin"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS/Kafka + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 60,
		},
		Tier: TierCommunity,
		Scoring: ScoringConfig{
			Workers: 8,
			LockTTL: 10 * time.Minute,
		},
		Predictive: PredictiveConfig{
			DefaultDealValue: 1000,
			DefaultRetention: 0.6,
			DiscountRate:     0.1,
			GrossMargin:      0.7,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			EntryTTL:     time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
// Set KESTREL_BUS=kafka to use Kafka instead of NATS.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Scoring.Workers = 32
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
		LocalTTL:       time.Minute,
		EntryTTL:       time.Hour,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		KafkaBrokers:      []string{"localhost:9092"},
		KafkaGroupID:      "kestrel",
	}
	cfg.Tracing.Enabled = true
	return cfg
}

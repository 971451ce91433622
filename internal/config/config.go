// Package config provides configuration structures and validation for the ledger node.
// It covers the HTTP API, the remote ledger connections, the local offline store, the sync
// queue, rate limiting, messaging and the background schedulers.
package config

import (
	"errors"
	"strings"
	"time"
)

// Config holds the complete application configuration with settings for all components.
// Each field represents a major subsystem's configuration and is validated during startup.
type Config struct {
	Application  ApplicationConfig
	Logging      LoggingConfig
	Server       ServerConfig
	Kafka        KafkaConfig
	Postgres     PostgresConfig
	MongoDB      MongoDBConfig
	Redis        RedisConfig
	LocalStore   LocalStoreConfig
	Remote       RemoteConfig
	SyncQueue    SyncQueueConfig
	Connectivity ConnectivityConfig
	Ledger       LedgerConfig
	RateLimit    RateLimitConfig
	OTP          OTPConfig
	SMS          SMSConfig
	Scheduler    SchedulerConfig
	WorkerPool   WorkerPoolConfig
}

// ApplicationConfig contains general application configuration
type ApplicationConfig struct {
	Env  string
	Name string
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port            int           // Port to listen on
	ShutdownTimeout time.Duration // Grace period for server shutdown
	ReadTimeout     time.Duration // Maximum duration for reading entire request
	WriteTimeout    time.Duration // Maximum duration for writing response
	IdleTimeout     time.Duration // Maximum duration to wait for next request
}

// KafkaConfig contains Kafka configuration
type KafkaConfig struct {
	Enabled           bool // Publish ledger events; disabled nodes use a no-op publisher
	Brokers           string
	EventsTopic       string
	NumPartitions     int // Number of partitions for topics
	ReplicationFactor int // Replication factor for topics
	ConsumerGroup     string
	MinBytes          int
	MaxBytes          int
	MaxWait           time.Duration
	StartOffset       int64
	DLQTopic          string // Topic for dead-lettered sync actions and undecodable events
}

// PostgresConfig contains the remote ledger connection settings
type PostgresConfig struct {
	URL             string        // Database connection string
	MaxConns        int32         // Maximum number of open connections
	MinConns        int32         // Minimum number of idle connections
	ConnMaxLifetime time.Duration // Maximum lifetime of a connection
	ConnMaxIdleTime time.Duration // Maximum idle time of a connection
	ConnectTimeout  time.Duration // Dial timeout for a single connection
	MigrationsPath  string        // Path to migration files
}

// MongoDBConfig contains MongoDB configuration for the OTP attempt log
type MongoDBConfig struct {
	URI             string
	Database        string
	Timeout         time.Duration
	MaxPoolSize     uint64
	MinPoolSize     uint64
	MaxConnIdleTime time.Duration
}

// RedisConfig contains Redis configuration for shared rate-limit windows
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	EnableTLS bool
}

// LocalStoreConfig contains the on-device SQLite settings
type LocalStoreConfig struct {
	Path        string
	BusyTimeout time.Duration
}

// RemoteConfig bounds every call to the remote ledger
type RemoteConfig struct {
	Timeout time.Duration // After this the store falls back to the local cache
}

// SyncQueueConfig contains replay settings for queued actions
type SyncQueueConfig struct {
	DrainInterval    time.Duration
	BatchSize        int
	MaxRetryAttempts int // Counted failures before an action is dead-lettered
}

// ConnectivityConfig contains the remote reachability probe settings
type ConnectivityConfig struct {
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
}

// LedgerConfig contains loan product defaults
type LedgerConfig struct {
	DefaultTenureMonths int
	DefaultAnnualRate   float64
	AnchorDay           int // Day of month installments fall due
}

// RateLimitConfig contains OTP issuance limits
type RateLimitConfig struct {
	Backend     string // "local" or "redis"
	MaxAttempts int
	Window      time.Duration
}

// OTPConfig contains login code settings
type OTPConfig struct {
	TTL        time.Duration
	CodeLength int
}

// SMSConfig contains Twilio credentials; empty credentials select the console gateway
type SMSConfig struct {
	AccountSID         string
	AuthToken          string
	FromNumber         string
	DefaultCountryCode string
}

// Configured reports whether Twilio credentials are present
func (c SMSConfig) Configured() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.FromNumber != ""
}

// SchedulerConfig contains cron specs for periodic ledger jobs
type SchedulerConfig struct {
	SweepSpec    string
	ReminderSpec string
}

// WorkerPoolConfig contains worker pool configuration
type WorkerPoolConfig struct {
	Size int // Maximum number of workers in the pool
}

// validate performs comprehensive validation of all configuration values,
// ensuring they meet minimum requirements and logical constraints
func (c *Config) validate() error {
	var validationErrors []string

	// Validate Server config
	if c.Server.Port <= 0 {
		validationErrors = append(validationErrors, "SERVER_PORT must be greater than 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_SHUTDOWN_TIMEOUT must be greater than 0")
	}
	if c.Server.ReadTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_READ_TIMEOUT must be greater than 0")
	}
	if c.Server.WriteTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_WRITE_TIMEOUT must be greater than 0")
	}
	if c.Server.IdleTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_IDLE_TIMEOUT must be greater than 0")
	}

	// Validate Kafka config
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			validationErrors = append(validationErrors, "KAFKA_BROKERS is required")
		}
		if c.Kafka.EventsTopic == "" {
			validationErrors = append(validationErrors, "KAFKA_EVENTS_TOPIC is required")
		}
		if c.Kafka.ConsumerGroup == "" {
			validationErrors = append(validationErrors, "KAFKA_CONSUMER_GROUP is required")
		}
		if c.Kafka.MinBytes <= 0 {
			validationErrors = append(validationErrors, "KAFKA_CONSUMER_MIN_BYTES must be greater than 0")
		}
		if c.Kafka.MaxBytes <= 0 {
			validationErrors = append(validationErrors, "KAFKA_CONSUMER_MAX_BYTES must be greater than 0")
		}
		if c.Kafka.MaxWait <= 0 {
			validationErrors = append(validationErrors, "KAFKA_CONSUMER_MAX_WAIT must be greater than 0")
		}
		if c.Kafka.DLQTopic == "" {
			validationErrors = append(validationErrors, "KAFKA_DLQ_TOPIC is required")
		}
	}

	// Validate PostgreSQL config
	if c.Postgres.URL == "" {
		validationErrors = append(validationErrors, "POSTGRES_URL is required")
	}
	if c.Postgres.MaxConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONNS must be greater than 0")
	}
	if c.Postgres.MinConns < 0 {
		validationErrors = append(validationErrors, "POSTGRES_MIN_CONNS cannot be negative")
	}
	if c.Postgres.ConnMaxLifetime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_LIFETIME must be greater than 0")
	}
	if c.Postgres.ConnMaxIdleTime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_IDLE_TIME must be greater than 0")
	}

	// Validate MongoDB config
	if c.MongoDB.URI == "" {
		validationErrors = append(validationErrors, "MONGO_URI is required")
	}
	if c.MongoDB.Database == "" {
		validationErrors = append(validationErrors, "MONGO_DATABASE is required")
	}
	if c.MongoDB.Timeout <= 0 {
		validationErrors = append(validationErrors, "MONGO_TIMEOUT must be greater than 0")
	}
	if c.MongoDB.MaxPoolSize <= 0 {
		validationErrors = append(validationErrors, "MONGO_MAX_POOL_SIZE must be greater than 0")
	}

	// Validate local store and remote call bounds
	if c.LocalStore.Path == "" {
		validationErrors = append(validationErrors, "LOCAL_DB_PATH is required")
	}
	if c.Remote.Timeout <= 0 {
		validationErrors = append(validationErrors, "REMOTE_TIMEOUT must be greater than 0")
	}

	// Validate sync queue config
	if c.SyncQueue.DrainInterval <= 0 {
		validationErrors = append(validationErrors, "SYNC_DRAIN_INTERVAL must be greater than 0")
	}
	if c.SyncQueue.BatchSize <= 0 {
		validationErrors = append(validationErrors, "SYNC_BATCH_SIZE must be greater than 0")
	}
	if c.SyncQueue.MaxRetryAttempts <= 0 {
		validationErrors = append(validationErrors, "SYNC_MAX_RETRY_ATTEMPTS must be greater than 0")
	}
	if c.Connectivity.ProbeInterval <= 0 {
		validationErrors = append(validationErrors, "CONNECTIVITY_PROBE_INTERVAL must be greater than 0")
	}

	// Validate ledger defaults
	if c.Ledger.DefaultTenureMonths <= 0 {
		validationErrors = append(validationErrors, "LEDGER_DEFAULT_TENURE_MONTHS must be greater than 0")
	}
	if c.Ledger.DefaultAnnualRate <= 0 {
		validationErrors = append(validationErrors, "LEDGER_DEFAULT_ANNUAL_RATE must be greater than 0")
	}
	if c.Ledger.AnchorDay < 1 || c.Ledger.AnchorDay > 28 {
		validationErrors = append(validationErrors, "LEDGER_ANCHOR_DAY must be between 1 and 28")
	}

	// Validate rate limit config
	if c.RateLimit.Backend != "local" && c.RateLimit.Backend != "redis" {
		validationErrors = append(validationErrors, "RATE_LIMIT_BACKEND must be 'local' or 'redis'")
	}
	if c.RateLimit.Backend == "redis" && c.Redis.Addr == "" {
		validationErrors = append(validationErrors, "REDIS_ADDR is required for the redis rate limit backend")
	}
	if c.RateLimit.MaxAttempts <= 0 {
		validationErrors = append(validationErrors, "RATE_LIMIT_MAX_ATTEMPTS must be greater than 0")
	}
	if c.RateLimit.Window <= 0 {
		validationErrors = append(validationErrors, "RATE_LIMIT_WINDOW must be greater than 0")
	}

	// Validate OTP config
	if c.OTP.TTL <= 0 {
		validationErrors = append(validationErrors, "OTP_TTL must be greater than 0")
	}
	if c.OTP.CodeLength < 4 || c.OTP.CodeLength > 10 {
		validationErrors = append(validationErrors, "OTP_CODE_LENGTH must be between 4 and 10")
	}

	// Validate WorkerPool config
	if c.WorkerPool.Size <= 0 {
		validationErrors = append(validationErrors, "WORKER_POOL_SIZE must be greater than 0")
	}

	if len(validationErrors) > 0 {
		return errors.New(strings.Join(validationErrors, ", "))
	}

	return nil
}

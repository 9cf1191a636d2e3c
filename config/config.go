package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the control plane.
type Config struct {
	Services ServicesConfig
	Peers    PeersConfig
	Workflow WorkflowConfig
	Pricing  PricingFileConfig
	Store    StoreConfig
	Redis    RedisConfig
	Postgres PostgresConfig

	// ServiceMode is "local" (the orchestrator calls the co-located
	// services in process) or "remote" (it calls the peer URLs over HTTP).
	ServiceMode string
	LogLevel    string
}

// ServicesConfig holds the listen address of every RPC service. The
// defaults match the reference deployment; all of them can be overridden.
type ServicesConfig struct {
	MatchingAddr     string `mapstructure:"MATCHING_ADDR"`
	TripRequestAddr  string `mapstructure:"TRIP_REQUEST_ADDR"`
	TripAddr         string `mapstructure:"TRIP_ADDR"`
	DriverStatusAddr string `mapstructure:"DRIVER_STATUS_ADDR"`
	PricingAddr      string `mapstructure:"PRICING_ADDR"`
	OrchestratorAddr string `mapstructure:"ORCHESTRATOR_ADDR"`
}

// PeersConfig holds the base URLs of the sibling services, used when
// SERVICE_MODE=remote. The defaults point at the default listen ports on
// localhost.
type PeersConfig struct {
	MatchingURL     string `mapstructure:"MATCHING_URL"`
	TripRequestURL  string `mapstructure:"TRIP_REQUEST_URL"`
	TripURL         string `mapstructure:"TRIP_URL"`
	DriverStatusURL string `mapstructure:"DRIVER_STATUS_URL"`
	PricingURL      string `mapstructure:"PRICING_URL"`
}

// WorkflowConfig holds the orchestrator's failure policy and idempotency
// settings.
type WorkflowConfig struct {
	Market         string        `mapstructure:"MARKET"`
	RPCTimeout     time.Duration `mapstructure:"RPC_TIMEOUT"`
	RPCRetries     int           `mapstructure:"RPC_RETRIES"`
	RPCBackoff     time.Duration `mapstructure:"RPC_RETRY_BACKOFF"`
	IdempotencyTTL time.Duration `mapstructure:"IDEMPOTENCY_TTL"`
	MaxCandidates  int           `mapstructure:"MAX_CANDIDATES"`
}

// PricingFileConfig locates the hot-reloadable pricing configuration file.
type PricingFileConfig struct {
	Path           string        `mapstructure:"PRICING_CONFIG_PATH"`
	ReloadInterval time.Duration `mapstructure:"PRICING_RELOAD_INTERVAL"`
}

// StoreConfig selects the entity store backend.
type StoreConfig struct {
	// Backend is "memory" or "postgres".
	Backend string `mapstructure:"STORE_BACKEND"`
}

// RedisConfig holds Redis connection settings for the idempotency store.
type RedisConfig struct {
	Host     string `mapstructure:"REDIS_HOST"`
	Port     int    `mapstructure:"REDIS_PORT"`
	Password string `mapstructure:"REDIS_PASSWORD"`
	DB       int    `mapstructure:"REDIS_DB"`
	PoolSize int    `mapstructure:"REDIS_POOL_SIZE"`
}

// PostgresConfig holds PostgreSQL connection settings, used only when
// STORE_BACKEND=postgres.
type PostgresConfig struct {
	Host     string `mapstructure:"POSTGRES_HOST"`
	Port     int    `mapstructure:"POSTGRES_PORT"`
	User     string `mapstructure:"POSTGRES_USER"`
	Password string `mapstructure:"POSTGRES_PASSWORD"`
	DBName   string `mapstructure:"POSTGRES_DB"`
	SSLMode  string `mapstructure:"POSTGRES_SSLMODE"`
	MaxConns int32  `mapstructure:"POSTGRES_MAX_CONNS"`
	MinConns int32  `mapstructure:"POSTGRES_MIN_CONNS"`
}

// DSN returns the PostgreSQL connection string.
func (p *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode,
	)
}

// Addr returns the Redis address in host:port format.
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Load reads configuration from environment variables and .env file.
func Load() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// ── Defaults ────────────────────────────────────────
	viper.SetDefault("MATCHING_ADDR", "0.0.0.0:50051")
	viper.SetDefault("TRIP_REQUEST_ADDR", "0.0.0.0:50052")
	viper.SetDefault("TRIP_ADDR", "0.0.0.0:50053")
	viper.SetDefault("DRIVER_STATUS_ADDR", "0.0.0.0:50054")
	viper.SetDefault("PRICING_ADDR", "0.0.0.0:50056")
	viper.SetDefault("ORCHESTRATOR_ADDR", "0.0.0.0:8080")

	viper.SetDefault("SERVICE_MODE", "local")
	viper.SetDefault("MATCHING_URL", "http://localhost:50051")
	viper.SetDefault("TRIP_REQUEST_URL", "http://localhost:50052")
	viper.SetDefault("TRIP_URL", "http://localhost:50053")
	viper.SetDefault("DRIVER_STATUS_URL", "http://localhost:50054")
	viper.SetDefault("PRICING_URL", "http://localhost:50056")

	viper.SetDefault("MARKET", "khujand")
	viper.SetDefault("RPC_TIMEOUT", "2s")
	viper.SetDefault("RPC_RETRIES", 3)
	viper.SetDefault("RPC_RETRY_BACKOFF", "500ms")
	viper.SetDefault("IDEMPOTENCY_TTL", "1h")
	viper.SetDefault("MAX_CANDIDATES", 5)

	viper.SetDefault("PRICING_CONFIG_PATH", "pricing.yaml")
	viper.SetDefault("PRICING_RELOAD_INTERVAL", "30s")

	viper.SetDefault("STORE_BACKEND", "memory")
	viper.SetDefault("LOG_LEVEL", "info")

	viper.SetDefault("REDIS_HOST", "localhost")
	viper.SetDefault("REDIS_PORT", 6379)
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("REDIS_POOL_SIZE", 100)

	viper.SetDefault("POSTGRES_HOST", "localhost")
	viper.SetDefault("POSTGRES_PORT", 5432)
	viper.SetDefault("POSTGRES_USER", "dgdo")
	viper.SetDefault("POSTGRES_PASSWORD", "dgdo_secret")
	viper.SetDefault("POSTGRES_DB", "dgdo_db")
	viper.SetDefault("POSTGRES_SSLMODE", "disable")
	viper.SetDefault("POSTGRES_MAX_CONNS", 50)
	viper.SetDefault("POSTGRES_MIN_CONNS", 10)

	// Try to read .env file. If it doesn't exist (e.g., inside Docker),
	// env vars injected by the runtime are used instead.
	_ = viper.ReadInConfig()

	cfg := &Config{}

	cfg.Services = ServicesConfig{
		MatchingAddr:     viper.GetString("MATCHING_ADDR"),
		TripRequestAddr:  viper.GetString("TRIP_REQUEST_ADDR"),
		TripAddr:         viper.GetString("TRIP_ADDR"),
		DriverStatusAddr: viper.GetString("DRIVER_STATUS_ADDR"),
		PricingAddr:      viper.GetString("PRICING_ADDR"),
		OrchestratorAddr: viper.GetString("ORCHESTRATOR_ADDR"),
	}

	cfg.Peers = PeersConfig{
		MatchingURL:     viper.GetString("MATCHING_URL"),
		TripRequestURL:  viper.GetString("TRIP_REQUEST_URL"),
		TripURL:         viper.GetString("TRIP_URL"),
		DriverStatusURL: viper.GetString("DRIVER_STATUS_URL"),
		PricingURL:      viper.GetString("PRICING_URL"),
	}

	cfg.Workflow = WorkflowConfig{
		Market:         viper.GetString("MARKET"),
		RPCTimeout:     viper.GetDuration("RPC_TIMEOUT"),
		RPCRetries:     viper.GetInt("RPC_RETRIES"),
		RPCBackoff:     viper.GetDuration("RPC_RETRY_BACKOFF"),
		IdempotencyTTL: viper.GetDuration("IDEMPOTENCY_TTL"),
		MaxCandidates:  viper.GetInt("MAX_CANDIDATES"),
	}

	cfg.Pricing = PricingFileConfig{
		Path:           viper.GetString("PRICING_CONFIG_PATH"),
		ReloadInterval: viper.GetDuration("PRICING_RELOAD_INTERVAL"),
	}

	cfg.Store = StoreConfig{
		Backend: viper.GetString("STORE_BACKEND"),
	}

	cfg.Redis = RedisConfig{
		Host:     viper.GetString("REDIS_HOST"),
		Port:     viper.GetInt("REDIS_PORT"),
		Password: viper.GetString("REDIS_PASSWORD"),
		DB:       viper.GetInt("REDIS_DB"),
		PoolSize: viper.GetInt("REDIS_POOL_SIZE"),
	}

	cfg.Postgres = PostgresConfig{
		Host:     viper.GetString("POSTGRES_HOST"),
		Port:     viper.GetInt("POSTGRES_PORT"),
		User:     viper.GetString("POSTGRES_USER"),
		Password: viper.GetString("POSTGRES_PASSWORD"),
		DBName:   viper.GetString("POSTGRES_DB"),
		SSLMode:  viper.GetString("POSTGRES_SSLMODE"),
		MaxConns: viper.GetInt32("POSTGRES_MAX_CONNS"),
		MinConns: viper.GetInt32("POSTGRES_MIN_CONNS"),
	}

	cfg.ServiceMode = viper.GetString("SERVICE_MODE")
	cfg.LogLevel = viper.GetString("LOG_LEVEL")

	return cfg, nil
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"receiv3/pkg/domain"
)

// Backend selects a storage implementation.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendPostgres Backend = "postgres"
	BackendRedis    Backend = "redis"
)

// Server captures process configuration read from the environment.
type Server struct {
	Addr          string `env:"RECEIV3_ADDR" envDefault:":8080"`
	LogLevel      string `env:"RECEIV3_LOG_LEVEL" envDefault:"info"`
	LogFormat     string `env:"RECEIV3_LOG_FORMAT" envDefault:"json"`
	JWTSigningKey string `env:"RECEIV3_JWT_SIGNING_KEY" envDefault:"dev-secret-key-change-in-production"`
	JWTIssuer     string `env:"RECEIV3_JWT_ISSUER" envDefault:"receiv3"`
	JWTAudience   string `env:"RECEIV3_JWT_AUDIENCE" envDefault:"receiv3-api"`

	Deployer       string `env:"RECEIV3_DEPLOYER" envDefault:"0x00000000000000000000000000000000000000d0"`
	EngineAddress  string `env:"RECEIV3_ENGINE_ADDRESS" envDefault:"0x00000000000000000000000000000000000000e0"`
	PlatformWallet string `env:"RECEIV3_PLATFORM_WALLET" envDefault:"0x00000000000000000000000000000000000000f0"`
	PlatformFeeBps uint32 `env:"RECEIV3_PLATFORM_FEE_BPS" envDefault:"250"`

	// Requests per minute per caller on writes, and faucet calls per hour.
	// Zero disables the limit.
	RateLimitWrites int `env:"RECEIV3_RATE_LIMIT_WRITES" envDefault:"120"`
	RateLimitFaucet int `env:"RECEIV3_RATE_LIMIT_FAUCET" envDefault:"5"`

	Store    Backend `env:"RECEIV3_STORE" envDefault:"memory"`
	Ledger   Backend `env:"RECEIV3_LEDGER" envDefault:"memory"`
	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
}

type PostgresConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" envDefault:"30m"`
}

type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
	KeyPrefix    string        `env:"REDIS_KEY_PREFIX" envDefault:"receiv3"`
}

type KafkaConfig struct {
	Brokers        []string      `env:"KAFKA_BROKERS" envSeparator:","`
	AuditTopic     string        `env:"KAFKA_AUDIT_TOPIC" envDefault:"receiv3.audit"`
	OutboxInterval time.Duration `env:"RECEIV3_OUTBOX_INTERVAL" envDefault:"1s"`
}

// FromEnv parses and validates the environment.
func FromEnv() (Server, error) {
	var cfg Server
	if err := env.Parse(&cfg); err != nil {
		return Server{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate rejects combinations the server cannot start with.
func (c Server) Validate() error {
	for name, raw := range map[string]string{
		"RECEIV3_DEPLOYER":        c.Deployer,
		"RECEIV3_ENGINE_ADDRESS":  c.EngineAddress,
		"RECEIV3_PLATFORM_WALLET": c.PlatformWallet,
	} {
		addr, err := domain.ParseAddress(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if addr.IsZero() {
			return fmt.Errorf("%s must not be the zero address", name)
		}
	}
	if c.PlatformFeeBps > 1000 {
		return fmt.Errorf("RECEIV3_PLATFORM_FEE_BPS must be at most 1000, got %d", c.PlatformFeeBps)
	}
	switch c.Store {
	case BackendMemory:
	case BackendPostgres:
		if c.Postgres.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when RECEIV3_STORE=postgres")
		}
	default:
		return fmt.Errorf("RECEIV3_STORE must be memory or postgres, got %q", c.Store)
	}
	switch c.Ledger {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("REDIS_URL is required when RECEIV3_LEDGER=redis")
		}
	default:
		return fmt.Errorf("RECEIV3_LEDGER must be memory or redis, got %q", c.Ledger)
	}
	if len(c.Kafka.Brokers) > 0 && c.Store != BackendPostgres {
		return fmt.Errorf("KAFKA_BROKERS requires RECEIV3_STORE=postgres for the outbox")
	}
	if c.RateLimitWrites < 0 || c.RateLimitFaucet < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}
	if strings.TrimSpace(c.JWTSigningKey) == "" {
		return fmt.Errorf("RECEIV3_JWT_SIGNING_KEY is required")
	}
	return nil
}

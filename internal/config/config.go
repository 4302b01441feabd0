// Package config loads service configuration from an optional YAML file, a
// .env file, and environment variable overrides, in that order of increasing
// precedence.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	PubSub    PubSubConfig    `yaml:"pubsub"`
	JWT       JWTConfig       `yaml:"jwt"`
	Challenge ChallengeConfig `yaml:"challenge"`
	Pool      PoolConfig      `yaml:"pool"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type ServerConfig struct {
	Port                 string `yaml:"port"`
	Env                  string `yaml:"env"`
	ShutdownGraceSeconds int    `yaml:"shutdown_grace_seconds"`
}

// RedisConfig selects the challenge-store backend. An empty Addr means the
// in-memory store (dev mode).
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PostgresConfig selects the user-directory backend. An empty DSN means the
// in-memory directory (dev mode).
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// PubSubConfig selects the audit bus backend. An empty ProjectID means the
// in-memory bus (dev mode).
type PubSubConfig struct {
	ProjectID string `yaml:"project_id"`
	Topic     string `yaml:"topic"`
}

type JWTConfig struct {
	Secret     string `yaml:"secret"`
	Issuer     string `yaml:"issuer"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

type ChallengeConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
}

type PoolConfig struct {
	Workers       int `yaml:"workers"`
	QueueCapacity int `yaml:"queue_capacity"`
}

type RateLimitConfig struct {
	RegisterPerMinute  int `yaml:"register_per_minute"`
	ChallengePerMinute int `yaml:"challenge_per_minute"`
}

// Defaults returns the dev-mode configuration: in-memory backends and the
// standard protocol constants.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                 "8080",
			Env:                  "dev",
			ShutdownGraceSeconds: 30,
		},
		PubSub:    PubSubConfig{Topic: "auth-events"},
		JWT:       JWTConfig{Issuer: "zkauth", TTLSeconds: 86400},
		Challenge: ChallengeConfig{TTLSeconds: 300},
		Pool:      PoolConfig{QueueCapacity: 100_000},
		RateLimit: RateLimitConfig{
			RegisterPerMinute:  20,
			ChallengePerMinute: 60,
		},
	}
}

// Load reads the YAML file at path (skipped when empty or missing), loads
// .env, and applies environment overrides.
func Load(path string) (*Config, error) {
	// Missing .env is the normal case outside local dev.
	_ = godotenv.Load()

	cfg := Defaults()
	if path != "" {
		f, err := os.Open(path)
		if err == nil {
			defer f.Close()
			if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("open config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	overrideString(&c.Server.Port, "PORT")
	overrideString(&c.Server.Env, "ZKAUTH_ENV")
	overrideString(&c.Redis.Addr, "REDIS_ADDR")
	overrideString(&c.Redis.Password, "REDIS_PASSWORD")
	overrideInt(&c.Redis.DB, "REDIS_DB")
	overrideString(&c.Postgres.DSN, "DATABASE_URL")
	overrideString(&c.PubSub.ProjectID, "PUBSUB_PROJECT_ID")
	overrideString(&c.PubSub.Topic, "PUBSUB_TOPIC")
	overrideString(&c.JWT.Secret, "JWT_SECRET")
	overrideString(&c.JWT.Issuer, "JWT_ISSUER")
	overrideInt(&c.JWT.TTLSeconds, "JWT_TTL_SECONDS")
	overrideInt(&c.Challenge.TTLSeconds, "CHALLENGE_TTL_SECONDS")
	overrideInt(&c.Pool.Workers, "CPU_POOL_WORKERS")
	overrideInt(&c.Pool.QueueCapacity, "CPU_POOL_QUEUE")
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func overrideInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// Validate rejects configurations the service cannot run with. The JWT
// secret is checked in main after dev-mode generation, not here.
func (c *Config) Validate() error {
	if c.Challenge.TTLSeconds <= 0 {
		return fmt.Errorf("challenge.ttl_seconds must be positive, got %d", c.Challenge.TTLSeconds)
	}
	if c.JWT.TTLSeconds <= 0 {
		return fmt.Errorf("jwt.ttl_seconds must be positive, got %d", c.JWT.TTLSeconds)
	}
	if c.Server.Port == "" {
		return fmt.Errorf("server.port must not be empty")
	}
	if c.PubSub.ProjectID != "" && c.PubSub.Topic == "" {
		return fmt.Errorf("pubsub.topic must be set when pubsub.project_id is")
	}
	return nil
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

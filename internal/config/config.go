// Package config defines the top-level configuration for the pulse market
// node and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/akindolabs/pulsemarket/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by PULSE_* environment variables.
type Config struct {
	Node     NodeConfig     `toml:"node"`
	Market   MarketConfig   `toml:"market"`
	Custody  CustodyConfig  `toml:"custody"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Store    string         `toml:"store"`
	LogLevel string         `toml:"log_level"`
}

// NodeConfig identifies this node and the market's home node within the
// ledger network.
type NodeConfig struct {
	ID            string `toml:"id"`
	HomeNode      string `toml:"home_node"`
	ClusterSecret string `toml:"cluster_secret"`
}

// MarketConfig holds the market's immutable instantiation parameters.
type MarketConfig struct {
	ID          string `toml:"id"`
	Owner       string `toml:"owner"`
	Escrow      string `toml:"escrow"`
	Deadline    string `toml:"deadline"` // RFC3339
	Question    string `toml:"question"`
	Description string `toml:"description"`
}

// CustodyConfig holds custody gateway endpoint and credentials.
type CustodyConfig struct {
	BaseURL   string `toml:"base_url"`
	ApiKey    string `toml:"api_key"`
	ApiSecret string `toml:"api_secret"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the relay transport.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// Defaults returns the built-in configuration defaults.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "pulsemarket",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Store:    "postgres",
		LogLevel: "info",
	}
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

var validStores = map[string]bool{
	"postgres": true, "memory": true,
}

// Validate checks the configuration for internal consistency. It returns an
// error enumerating every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validStores[strings.ToLower(c.Store)] {
		errs = append(errs, fmt.Sprintf("unknown store %q (valid: postgres, memory)", c.Store))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Node
	if c.Node.ID == "" {
		errs = append(errs, "node: id must not be empty")
	}
	if c.Node.HomeNode == "" {
		errs = append(errs, "node: home_node must not be empty")
	}
	if c.Node.ClusterSecret == "" {
		errs = append(errs, "node: cluster_secret must not be empty")
	}

	// Market
	if _, err := uuid.Parse(c.Market.ID); err != nil {
		errs = append(errs, fmt.Sprintf("market: id is not a valid UUID: %v", err))
	}
	if _, err := domain.ParseAccountID(c.Market.Owner); err != nil {
		errs = append(errs, "market: owner is not a valid account address")
	}
	if _, err := domain.ParseAccountID(c.Market.Escrow); err != nil {
		errs = append(errs, "market: escrow is not a valid account address")
	}
	if _, err := time.Parse(time.RFC3339, c.Market.Deadline); err != nil {
		errs = append(errs, fmt.Sprintf("market: deadline is not RFC3339: %v", err))
	}
	if strings.TrimSpace(c.Market.Question) == "" {
		errs = append(errs, "market: question must not be empty")
	}

	// Custody
	if c.Custody.BaseURL == "" {
		errs = append(errs, "custody: base_url must not be empty")
	}
	if c.Custody.ApiKey == "" || c.Custody.ApiSecret == "" {
		errs = append(errs, "custody: api_key and api_secret must both be set")
	}

	// Postgres (only when it is the selected backend)
	if strings.ToLower(c.Store) == "postgres" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// MarketParams converts the market section into domain parameters. It
// assumes Validate has already passed.
func (c *Config) MarketParams() (domain.MarketParams, error) {
	id, err := uuid.Parse(c.Market.ID)
	if err != nil {
		return domain.MarketParams{}, fmt.Errorf("config: market id: %w", err)
	}
	owner, err := domain.ParseAccountID(c.Market.Owner)
	if err != nil {
		return domain.MarketParams{}, fmt.Errorf("config: market owner: %w", err)
	}
	escrow, err := domain.ParseAccountID(c.Market.Escrow)
	if err != nil {
		return domain.MarketParams{}, fmt.Errorf("config: market escrow: %w", err)
	}
	deadline, err := time.Parse(time.RFC3339, c.Market.Deadline)
	if err != nil {
		return domain.MarketParams{}, fmt.Errorf("config: market deadline: %w", err)
	}
	return domain.MarketParams{
		ID:          id,
		Owner:       owner,
		Escrow:      escrow,
		Deadline:    deadline,
		Question:    c.Market.Question,
		Description: c.Market.Description,
	}, nil
}

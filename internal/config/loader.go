package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PULSE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PULSE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Node ──
	setStr(&cfg.Node.ID, "PULSE_NODE_ID")
	setStr(&cfg.Node.HomeNode, "PULSE_NODE_HOME_NODE")
	setStr(&cfg.Node.ClusterSecret, "PULSE_NODE_CLUSTER_SECRET")

	// ── Market ──
	setStr(&cfg.Market.ID, "PULSE_MARKET_ID")
	setStr(&cfg.Market.Owner, "PULSE_MARKET_OWNER")
	setStr(&cfg.Market.Escrow, "PULSE_MARKET_ESCROW")
	setStr(&cfg.Market.Deadline, "PULSE_MARKET_DEADLINE")
	setStr(&cfg.Market.Question, "PULSE_MARKET_QUESTION")
	setStr(&cfg.Market.Description, "PULSE_MARKET_DESCRIPTION")

	// ── Custody ──
	setStr(&cfg.Custody.BaseURL, "PULSE_CUSTODY_BASE_URL")
	setStr(&cfg.Custody.ApiKey, "PULSE_CUSTODY_API_KEY")
	setStr(&cfg.Custody.ApiSecret, "PULSE_CUSTODY_API_SECRET")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PULSE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PULSE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PULSE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PULSE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PULSE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PULSE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PULSE_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PULSE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PULSE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PULSE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PULSE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PULSE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PULSE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PULSE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PULSE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PULSE_REDIS_TLS_ENABLED")

	// ── Top-level ──
	setStr(&cfg.Store, "PULSE_STORE")
	setStr(&cfg.LogLevel, "PULSE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}

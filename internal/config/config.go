package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// DevJWTSecret is the signing secret used when JWT_SECRET is unset. It is
// refused in production.
const DevJWTSecret = "dev-only-change-me"

type Config struct {
	Env  string `env:"ENV" envDefault:"development"`
	Port string `env:"PORT" envDefault:"8080"`

	// Storage
	StoreDriver string `env:"STORE_DRIVER" envDefault:"sqlite"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"coinflip.db"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL" envDefault:"localhost:6379"`
	RedisPass   string `env:"REDIS_PASSWORD"`
	RedisDB     int    `env:"REDIS_DB" envDefault:"0"`

	// Session
	JWTSecret string        `env:"JWT_SECRET" envDefault:"dev-only-change-me"`
	JWTTTL    time.Duration `env:"JWT_TTL" envDefault:"24h"`

	// Wager rules
	TaxPartyID      string          `env:"TAX_PARTY_ID" envDefault:"house"`
	AcceptTolerance decimal.Decimal `env:"ACCEPT_TOLERANCE" envDefault:"0.05"`
	TaxTargetRate   decimal.Decimal `env:"TAX_TARGET_RATE" envDefault:"0.10"`
	TaxMaxRate      decimal.Decimal `env:"TAX_MAX_RATE" envDefault:"0.15"`

	TxTimeout          time.Duration `env:"TX_TIMEOUT" envDefault:"5s"`
	StaleWagerAge      time.Duration `env:"STALE_WAGER_AGE" envDefault:"24h"`
	StaleSweepInterval time.Duration `env:"STALE_SWEEP_INTERVAL" envDefault:"5m"`

	// Discord announcements are disabled when either value is empty.
	DiscordToken     string `env:"DISCORD_TOKEN"`
	DiscordChannelID string `env:"DISCORD_CHANNEL_ID"`

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
}

// Load reads .env when present and parses the process environment.
func Load() (*Config, error) {
	// Missing .env is fine; the environment may be populated another way.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	case DriverRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	one := decimal.NewFromInt(1)
	if c.AcceptTolerance.IsNegative() || c.AcceptTolerance.GreaterThanOrEqual(one) {
		return fmt.Errorf("ACCEPT_TOLERANCE must be in [0, 1), got %s", c.AcceptTolerance)
	}
	if !c.TaxTargetRate.IsPositive() || c.TaxTargetRate.GreaterThan(c.TaxMaxRate) {
		return fmt.Errorf("TAX_TARGET_RATE must be in (0, TAX_MAX_RATE], got %s", c.TaxTargetRate)
	}
	if c.TaxMaxRate.GreaterThanOrEqual(one) {
		return fmt.Errorf("TAX_MAX_RATE must be below 1, got %s", c.TaxMaxRate)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must not be empty")
	}
	if c.Env == "production" && c.JWTSecret == DevJWTSecret {
		return fmt.Errorf("JWT_SECRET must be set to a non-default value in production")
	}
	if c.TaxPartyID == "" {
		return fmt.Errorf("TAX_PARTY_ID is required")
	}
	if c.TxTimeout <= 0 {
		return fmt.Errorf("TX_TIMEOUT must be positive")
	}
	if c.StaleWagerAge <= 0 || c.StaleSweepInterval <= 0 {
		return fmt.Errorf("STALE_WAGER_AGE and STALE_SWEEP_INTERVAL must be positive")
	}
	return nil
}

func (c *Config) DiscordEnabled() bool {
	return c.DiscordToken != "" && c.DiscordChannelID != ""
}

package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                      string        `mapstructure:"PORT"`
	Env                       string        `mapstructure:"ENV"`
	DatabaseURL               string        `mapstructure:"DATABASE_URL"`
	DBMaxConns                int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns                int32         `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir             string        `mapstructure:"MIGRATIONS_DIR"`
	RedisURL                  string        `mapstructure:"REDIS_URL"`
	CatalogCacheTTL           time.Duration `mapstructure:"CATALOG_CACHE_TTL"`
	RequestTimeout            time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	AuthSigningKey            string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer                string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience              string        `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins               []string      `mapstructure:"CORS_ORIGINS"`
	DefaultGapDays            int           `mapstructure:"DEFAULT_GAP_DAYS"`
	DefaultEntryFrequencyDays int           `mapstructure:"DEFAULT_ENTRY_FREQUENCY_DAYS"`
	AuditRetention            int           `mapstructure:"AUDIT_RETENTION"`
	OpenAIAPIKey              string        `mapstructure:"OPENAI_API_KEY"`
	OpenAIModel               string        `mapstructure:"OPENAI_MODEL"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("CATALOG_CACHE_TTL", "5m")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("DEFAULT_GAP_DAYS", 11)
	v.SetDefault("DEFAULT_ENTRY_FREQUENCY_DAYS", 30)
	v.SetDefault("AUDIT_RETENTION", 1000)
	v.SetDefault("OPENAI_MODEL", "gpt-4o-mini")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"MIGRATIONS_DIR", "REDIS_URL", "CATALOG_CACHE_TTL", "REQUEST_TIMEOUT",
		"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE", "CORS_ORIGINS",
		"DEFAULT_GAP_DAYS", "DEFAULT_ENTRY_FREQUENCY_DAYS", "AUDIT_RETENTION",
		"OPENAI_API_KEY", "OPENAI_MODEL",
	} {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: running in DEVELOPMENT mode (ENV=development); requests without a token get admin access.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development a
// signing key is required so bearer tokens are actually verified.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY must be set when ENV is %q", c.Env)
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 characters, got %d", len(c.AuthSigningKey))
	}
	if c.DefaultGapDays < 0 {
		return fmt.Errorf("DEFAULT_GAP_DAYS must not be negative, got %d", c.DefaultGapDays)
	}
	if c.DefaultEntryFrequencyDays <= 0 {
		return fmt.Errorf("DEFAULT_ENTRY_FREQUENCY_DAYS must be positive, got %d", c.DefaultEntryFrequencyDays)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}

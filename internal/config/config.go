package config

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"ENV"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	AuthSigningKey    string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer        string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience      string        `mapstructure:"AUTH_AUDIENCE"`
	ElevatedRole      string        `mapstructure:"ELEVATED_ROLE"`
	AuditFallbackPath string        `mapstructure:"AUDIT_FALLBACK_PATH"`
	AuditTimeout      time.Duration `mapstructure:"AUDIT_TIMEOUT"`
	StorageTimeout    time.Duration `mapstructure:"STORAGE_TIMEOUT"`
	RulesFile         string        `mapstructure:"RULES_FILE"`
	ReadRowLimit      int           `mapstructure:"READ_ROW_LIMIT"`
	BodyLimit         string        `mapstructure:"BODY_LIMIT"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE", "ELEVATED_ROLE",
	"AUDIT_FALLBACK_PATH", "AUDIT_TIMEOUT", "STORAGE_TIMEOUT",
	"RULES_FILE", "READ_ROW_LIMIT", "BODY_LIMIT",
}

// Load reads the environment and an optional .env file. DATABASE_URL is
// required; everything else has a default.
func Load() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() && cfg.AuthSigningKey == "" {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: Requests without a bearer token run as \"dev-user\".")
		log.Println("WARNING: Set ENV=production and AUTH_SIGNING_KEY for production.")
		log.Println("WARNING: ============================================================")
	}
	return cfg, nil
}

// LoadOffline is Load without the database requirement, for commands that
// never connect.
func LoadOffline() (*Config, error) {
	return load()
}

func load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("ELEVATED_ROLE", "admin")
	v.SetDefault("AUDIT_FALLBACK_PATH", "./voicedb-audit.log")
	v.SetDefault("AUDIT_TIMEOUT", "5s")
	v.SetDefault("STORAGE_TIMEOUT", "10s")
	v.SetDefault("READ_ROW_LIMIT", 50)
	v.SetDefault("BODY_LIMIT", "64K")

	// Bind explicitly so Unmarshal sees variables that have no default.
	for _, k := range keys {
		v.BindEnv(k)
	}

	// The .env file is optional.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
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

// Validate refuses configurations that would run the API without real
// caller authentication or with unusable limits.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes, got %d", len(c.AuthSigningKey))
	}
	if c.AuditTimeout <= 0 {
		return fmt.Errorf("AUDIT_TIMEOUT must be positive, got %s", c.AuditTimeout)
	}
	if c.StorageTimeout <= 0 {
		return fmt.Errorf("STORAGE_TIMEOUT must be positive, got %s", c.StorageTimeout)
	}
	if c.ReadRowLimit <= 0 {
		return fmt.Errorf("READ_ROW_LIMIT must be positive, got %d", c.ReadRowLimit)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.ElevatedRole == "" {
		return fmt.Errorf("ELEVATED_ROLE must not be empty")
	}
	return nil
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// KnownOntologies lists the canonical ontology names in registration order.
var KnownOntologies = []string{"SNOMED", "ICD10", "RxNorm", "LOINC"}

type Config struct {
	Port                   string        `mapstructure:"PORT"`
	Env                    string        `mapstructure:"ENV"`
	LogLevel               string        `mapstructure:"LOG_LEVEL"`
	DataPath               string        `mapstructure:"DATA_PATH"`
	EnabledOntologies      []string      `mapstructure:"ENABLED_ONTOLOGIES"`
	SearchMaxResults       int           `mapstructure:"SEARCH_MAX_RESULTS"`
	SearchDefaultLimit     int           `mapstructure:"SEARCH_DEFAULT_LIMIT"`
	SnomedRetainInactive   bool          `mapstructure:"SNOMED_RETAIN_INACTIVE"`
	LoincRetainInactive    bool          `mapstructure:"LOINC_RETAIN_INACTIVE"`
	RxNormRetainSuppressed bool          `mapstructure:"RXNORM_RETAIN_SUPPRESSED"`
	CacheType              string        `mapstructure:"CACHE_TYPE"`
	CacheTTL               time.Duration `mapstructure:"CACHE_TTL"`
	RedisURL               string        `mapstructure:"REDIS_URL"`
	DatabaseURL            string        `mapstructure:"DATABASE_URL"`
	DBMaxConns             int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns             int32         `mapstructure:"DB_MIN_CONNS"`
	AuthSigningKey         string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer             string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience           string        `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins            []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS           float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst         int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout         time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit              string        `mapstructure:"BODY_LIMIT"`
	TLSEnabled             bool          `mapstructure:"TLS_ENABLED"`
	TLSCertFile            string        `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile             string        `mapstructure:"TLS_KEY_FILE"`
	MetricsEnabled         bool          `mapstructure:"METRICS_ENABLED"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATA_PATH", "ENABLED_ONTOLOGIES",
	"SEARCH_MAX_RESULTS", "SEARCH_DEFAULT_LIMIT",
	"SNOMED_RETAIN_INACTIVE", "LOINC_RETAIN_INACTIVE", "RXNORM_RETAIN_SUPPRESSED",
	"CACHE_TYPE", "CACHE_TTL", "REDIS_URL",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT", "BODY_LIMIT",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE", "METRICS_ENABLED",
}

// Load reads configuration from the environment and an optional .env file
// in the working directory. Environment variables win.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATA_PATH", "./data")
	v.SetDefault("ENABLED_ONTOLOGIES", strings.Join(KnownOntologies, ","))
	v.SetDefault("SEARCH_MAX_RESULTS", 100)
	v.SetDefault("SEARCH_DEFAULT_LIMIT", 10)
	v.SetDefault("CACHE_TYPE", "memory")
	v.SetDefault("CACHE_TTL", "1h")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("AUTH_ISSUER", "medterm")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("METRICS_ENABLED", true)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins)
	cfg.EnabledOntologies = splitList(cfg.EnabledOntologies)

	return cfg, nil
}

// splitList flattens comma separated entries and drops blanks.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Ontologies returns the enabled ontologies under their canonical names,
// in registration order and without duplicates.
func (c *Config) Ontologies() ([]string, error) {
	enabled := make(map[string]bool, len(c.EnabledOntologies))
	for _, name := range c.EnabledOntologies {
		canonical := ""
		for _, known := range KnownOntologies {
			if strings.EqualFold(name, known) {
				canonical = known
				break
			}
		}
		if canonical == "" {
			return nil, fmt.Errorf("ENABLED_ONTOLOGIES: unknown ontology %q", name)
		}
		enabled[canonical] = true
	}

	var out []string
	for _, known := range KnownOntologies {
		if enabled[known] {
			out = append(out, known)
		}
	}
	return out, nil
}

// Validate checks that the configuration is safe to run. Outside
// development a signing key of at least 32 bytes is required so bearer
// authentication is enforced.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY must be set when ENV=%q; refusing to start without authentication", c.Env)
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes, got %d", len(c.AuthSigningKey))
	}

	ontologies, err := c.Ontologies()
	if err != nil {
		return err
	}
	if len(ontologies) == 0 {
		return fmt.Errorf("ENABLED_ONTOLOGIES must name at least one ontology")
	}

	if c.SearchMaxResults <= 0 {
		return fmt.Errorf("SEARCH_MAX_RESULTS must be positive, got %d", c.SearchMaxResults)
	}
	if c.SearchDefaultLimit <= 0 || c.SearchDefaultLimit > c.SearchMaxResults {
		return fmt.Errorf("SEARCH_DEFAULT_LIMIT must be between 1 and SEARCH_MAX_RESULTS (%d), got %d", c.SearchMaxResults, c.SearchDefaultLimit)
	}

	switch strings.ToLower(c.CacheType) {
	case "none", "memory":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when CACHE_TYPE is \"redis\"")
		}
	default:
		return fmt.Errorf("CACHE_TYPE must be \"none\", \"memory\", or \"redis\", got %q", c.CacheType)
	}

	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}

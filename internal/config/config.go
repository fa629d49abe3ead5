package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Port                      string   `mapstructure:"PORT"`
	Env                       string   `mapstructure:"ENV"`
	LogLevel                  string   `mapstructure:"LOG_LEVEL"`
	StoreDriver               string   `mapstructure:"STORE_DRIVER"`
	DatabaseURL               string   `mapstructure:"DATABASE_URL"`
	DBMaxConns                int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns                int32    `mapstructure:"DB_MIN_CONNS"`
	SQLitePath                string   `mapstructure:"SQLITE_PATH"`
	LookupSeedFile            string   `mapstructure:"LOOKUP_SEED_FILE"`
	LLMAPIURL                 string   `mapstructure:"LLM_API_URL"`
	LLMAPIKey                 string   `mapstructure:"LLM_API_KEY"`
	LLMModel                  string   `mapstructure:"LLM_MODEL"`
	LLMTimeoutSeconds         int      `mapstructure:"LLM_TIMEOUT_SECONDS"`
	CORSOrigins               []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS              float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst            int      `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimitBytes            int64    `mapstructure:"BODY_LIMIT_BYTES"`
	RequestTimeoutSeconds     int      `mapstructure:"REQUEST_TIMEOUT_SECONDS"`
	MatchSemanticThreshold    float64  `mapstructure:"MATCH_SEMANTIC_THRESHOLD"`
	MatchKeywordThreshold     float64  `mapstructure:"MATCH_KEYWORD_THRESHOLD"`
	MatchCodeOverlapThreshold float64  `mapstructure:"MATCH_CODE_OVERLAP_THRESHOLD"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "STORE_DRIVER", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"SQLITE_PATH", "LOOKUP_SEED_FILE", "LLM_API_URL", "LLM_API_KEY", "LLM_MODEL",
	"LLM_TIMEOUT_SECONDS", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"BODY_LIMIT_BYTES", "REQUEST_TIMEOUT_SECONDS", "MATCH_SEMANTIC_THRESHOLD",
	"MATCH_KEYWORD_THRESHOLD", "MATCH_CODE_OVERLAP_THRESHOLD",
}

// Load reads configuration from the environment and an optional .env file in
// the working directory. Environment variables win over the file.
func Load() (*Config, error) {
	return load(".env")
}

func load(envFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_DRIVER", DriverSQLite)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("SQLITE_PATH", "data/sop.db")
	v.SetDefault("LLM_API_URL", "https://api.openai.com/v1")
	v.SetDefault("LLM_MODEL", "gpt-4o-mini")
	v.SetDefault("LLM_TIMEOUT_SECONDS", 60)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("BODY_LIMIT_BYTES", 1<<20)
	v.SetDefault("REQUEST_TIMEOUT_SECONDS", 30)
	v.SetDefault("MATCH_SEMANTIC_THRESHOLD", 0.85)
	v.SetDefault("MATCH_KEYWORD_THRESHOLD", 0.6)
	v.SetDefault("MATCH_CODE_OVERLAP_THRESHOLD", 0.5)

	for _, k := range keys {
		v.BindEnv(k)
	}

	// The .env file is optional.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CORSOrigins = splitOrigins(v.GetString("CORS_ORIGINS"))
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	return cfg, nil
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSeconds) * time.Second
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Validate checks that the configuration can start a server.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORE_DRIVER is %q", DriverSQLite)
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", DriverPostgres)
		}
		if c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.StoreDriver)
	}

	thresholds := []struct {
		name  string
		value float64
	}{
		{"MATCH_SEMANTIC_THRESHOLD", c.MatchSemanticThreshold},
		{"MATCH_KEYWORD_THRESHOLD", c.MatchKeywordThreshold},
		{"MATCH_CODE_OVERLAP_THRESHOLD", c.MatchCodeOverlapThreshold},
	}
	for _, t := range thresholds {
		if t.value <= 0 || t.value > 1 {
			return fmt.Errorf("%s must be in (0, 1], got %v", t.name, t.value)
		}
	}
	if c.MatchKeywordThreshold > c.MatchSemanticThreshold {
		return fmt.Errorf("MATCH_KEYWORD_THRESHOLD (%v) must not exceed MATCH_SEMANTIC_THRESHOLD (%v)", c.MatchKeywordThreshold, c.MatchSemanticThreshold)
	}

	if c.LLMTimeoutSeconds <= 0 {
		return fmt.Errorf("LLM_TIMEOUT_SECONDS must be positive, got %d", c.LLMTimeoutSeconds)
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative")
	}
	return nil
}

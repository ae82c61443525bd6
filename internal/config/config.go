package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	// NPHIES exchange
	NphiesBaseURL        string `mapstructure:"NPHIES_BASE_URL"`
	NphiesTimeoutSeconds int    `mapstructure:"NPHIES_TIMEOUT_SECONDS"`
	NphiesMaxRetries     int    `mapstructure:"NPHIES_MAX_RETRIES"`
	NphiesMockMode       bool   `mapstructure:"NPHIES_MOCK_MODE"`

	// Terminology catalog
	TerminologyDir    string `mapstructure:"TERMINOLOGY_DIR"`
	StrictTerminology bool   `mapstructure:"STRICT_TERMINOLOGY_VALIDATION"`

	// Stage services
	NormalizationURL    string `mapstructure:"NORMALIZATION_URL"`
	PricingURL          string `mapstructure:"PRICING_URL"`
	SigningURL          string `mapstructure:"SIGNING_URL"`
	StageTimeoutSeconds int    `mapstructure:"STAGE_TIMEOUT_SECONDS"`

	// Orchestrator
	WorkflowWorkers int `mapstructure:"WORKFLOW_WORKERS"`
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
	v.SetDefault("NPHIES_BASE_URL", "https://nphies.sa/exchange")
	v.SetDefault("NPHIES_TIMEOUT_SECONDS", 30)
	v.SetDefault("NPHIES_MAX_RETRIES", 3)
	v.SetDefault("NPHIES_MOCK_MODE", false)
	v.SetDefault("TERMINOLOGY_DIR", "terminology_data")
	v.SetDefault("STRICT_TERMINOLOGY_VALIDATION", false)
	v.SetDefault("STAGE_TIMEOUT_SECONDS", 30)
	v.SetDefault("WORKFLOW_WORKERS", 16)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("NPHIES_BASE_URL")
	v.BindEnv("NPHIES_TIMEOUT_SECONDS")
	v.BindEnv("NPHIES_MAX_RETRIES")
	v.BindEnv("NPHIES_MOCK_MODE")
	v.BindEnv("TERMINOLOGY_DIR")
	v.BindEnv("STRICT_TERMINOLOGY_VALIDATION")
	v.BindEnv("NORMALIZATION_URL")
	v.BindEnv("PRICING_URL")
	v.BindEnv("SIGNING_URL")
	v.BindEnv("STAGE_TIMEOUT_SECONDS")
	v.BindEnv("WORKFLOW_WORKERS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.NphiesMockMode {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: NPHIES_MOCK_MODE is enabled. Submissions are fabricated and")
		log.Println("WARNING: never reach the exchange. Do NOT use this in production.")
		log.Println("WARNING: ============================================================")
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

// NphiesTimeout returns the per-request exchange timeout as a duration.
func (c *Config) NphiesTimeout() time.Duration {
	return time.Duration(c.NphiesTimeoutSeconds) * time.Second
}

// StageTimeout returns the per-call stage service timeout as a duration.
func (c *Config) StageTimeout() time.Duration {
	return time.Duration(c.StageTimeoutSeconds) * time.Second
}

// Validate checks that the configuration is safe to run. Mock mode is
// forbidden in production, and a production server must carry real stage
// service endpoints so claims are normalized and signed before submission.
func (c *Config) Validate() error {
	if c.NphiesMaxRetries < 0 {
		return fmt.Errorf("NPHIES_MAX_RETRIES must be >= 0, got %d", c.NphiesMaxRetries)
	}
	if c.WorkflowWorkers < 1 {
		return fmt.Errorf("WORKFLOW_WORKERS must be >= 1, got %d", c.WorkflowWorkers)
	}
	if c.IsProduction() {
		if c.NphiesMockMode {
			return fmt.Errorf("NPHIES_MOCK_MODE must not be enabled in production")
		}
		if !strings.HasPrefix(c.NphiesBaseURL, "https://") {
			return fmt.Errorf("NPHIES_BASE_URL must use https in production, got %q", c.NphiesBaseURL)
		}
		for name, url := range map[string]string{
			"NORMALIZATION_URL": c.NormalizationURL,
			"PRICING_URL":       c.PricingURL,
			"SIGNING_URL":       c.SigningURL,
		} {
			if url == "" {
				return fmt.Errorf("%s is required in production", name)
			}
		}
	}
	return nil
}

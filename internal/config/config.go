package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const defaultJWTSecret = "klear-secret-key"

// Config holds the server settings. Every key can be set in the config file
// or overridden by the environment variable of the same name.
type Config struct {
	Port             string
	Env              string
	Debug            bool
	DBDriver         string
	DBDSN            string
	JWTSecret        string
	APIKey           string
	APISecret        string
	ProviderBaseURL  string
	ProviderAPIKey   string
	ProviderTimeout  time.Duration
	IngestTimeout    time.Duration
	NATSURL          string
	RateLimitEnabled bool
}

// IsProduction reports whether the server runs with ENV=production
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ReconcileEnabled reports whether provider credentials are configured
func (c *Config) ReconcileEnabled() bool {
	return c.ProviderBaseURL != "" && c.ProviderAPIKey != ""
}

// Load reads configFile, if present, and the environment. An empty
// configFile reads the environment only.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("DEBUG", false)
	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DB_DSN", "ramp.db")
	v.SetDefault("JWT_SECRET", defaultJWTSecret)
	v.SetDefault("API_KEY", "test-api-key")
	v.SetDefault("API_SECRET", "test-api-secret")
	v.SetDefault("PROVIDER_BASE_URL", "")
	v.SetDefault("PROVIDER_API_KEY", "")
	v.SetDefault("PROVIDER_TIMEOUT", 3*time.Second)
	v.SetDefault("INGEST_TIMEOUT", 10*time.Second)
	v.SetDefault("NATS_URL", "")
	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Warn().Str("file", configFile).Msg("config file not found, using environment")
		}
	}

	cfg := &Config{
		Port:             v.GetString("PORT"),
		Env:              v.GetString("ENV"),
		Debug:            v.GetBool("DEBUG"),
		DBDriver:         strings.ToLower(v.GetString("DB_DRIVER")),
		DBDSN:            v.GetString("DB_DSN"),
		JWTSecret:        v.GetString("JWT_SECRET"),
		APIKey:           v.GetString("API_KEY"),
		APISecret:        v.GetString("API_SECRET"),
		ProviderBaseURL:  v.GetString("PROVIDER_BASE_URL"),
		ProviderAPIKey:   v.GetString("PROVIDER_API_KEY"),
		ProviderTimeout:  v.GetDuration("PROVIDER_TIMEOUT"),
		IngestTimeout:    v.GetDuration("INGEST_TIMEOUT"),
		NATSURL:          v.GetString("NATS_URL"),
		RateLimitEnabled: v.GetBool("RATE_LIMIT_ENABLED"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.DBDSN == "" {
		return errors.New("DB_DSN is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.IsProduction() && c.JWTSecret == defaultJWTSecret {
		return errors.New("JWT_SECRET must be set in production")
	}
	if c.ProviderTimeout <= 0 || c.IngestTimeout <= 0 {
		return errors.New("PROVIDER_TIMEOUT and INGEST_TIMEOUT must be positive")
	}
	return nil
}

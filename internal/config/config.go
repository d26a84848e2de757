/**
 * @description
 * Configuration for the user-service. Settings come from environment variables,
 * optionally seeded by a .env file in the working directory.
 *
 * @dependencies
 * - github.com/spf13/viper: For configuration management.
 */
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config stores all configuration for the application.
type Config struct {
	ServerPort   string `mapstructure:"SERVER_PORT"`
	StoreBackend string `mapstructure:"STORE_BACKEND"`
	DatabaseURL  string `mapstructure:"DATABASE_URL"`

	RabbitMQURL         string        `mapstructure:"RABBITMQ_URL"`
	EventsExchange      string        `mapstructure:"EVENTS_EXCHANGE"`
	EventPublishTimeout time.Duration `mapstructure:"EVENT_PUBLISH_TIMEOUT"`
	OutboxPollInterval  time.Duration `mapstructure:"OUTBOX_POLL_INTERVAL"`
	OutboxPurgeSchedule string        `mapstructure:"OUTBOX_PURGE_SCHEDULE"`
	OutboxRetention     time.Duration `mapstructure:"OUTBOX_RETENTION"`

	ExternalCallTimeout time.Duration `mapstructure:"EXTERNAL_CALL_TIMEOUT"`
	IdPBaseURL          string        `mapstructure:"IDP_BASE_URL"`
	IdPClientID         string        `mapstructure:"IDP_CLIENT_ID"`
	IdPClientSecret     string        `mapstructure:"IDP_CLIENT_SECRET"`
	IdPTokenURL         string        `mapstructure:"IDP_TOKEN_URL"`

	AuthJWKSURL             string `mapstructure:"AUTH_JWKS_URL"`
	AuthIssuer              string `mapstructure:"AUTH_ISSUER"`
	AuthAudience            string `mapstructure:"AUTH_AUDIENCE"`
	AuthAllowHeaderFallback bool   `mapstructure:"AUTH_ALLOW_HEADER_FALLBACK"`

	SecurityMinQuestions   int  `mapstructure:"SECURITY_MIN_QUESTIONS"`
	SecurityAnswerHashCost int  `mapstructure:"SECURITY_ANSWER_HASH_COST"`
	EmitUnchanged          bool `mapstructure:"REGISTRATION_EMIT_UNCHANGED"`

	LogLevel           string `mapstructure:"LOG_LEVEL"`
	LogFormat          string `mapstructure:"LOG_FORMAT"`
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`
}

var envKeys = []string{
	"SERVER_PORT", "STORE_BACKEND", "DATABASE_URL",
	"RABBITMQ_URL", "EVENTS_EXCHANGE", "EVENT_PUBLISH_TIMEOUT", "OUTBOX_POLL_INTERVAL",
	"OUTBOX_PURGE_SCHEDULE", "OUTBOX_RETENTION",
	"EXTERNAL_CALL_TIMEOUT", "IDP_BASE_URL", "IDP_CLIENT_ID", "IDP_CLIENT_SECRET", "IDP_TOKEN_URL",
	"AUTH_JWKS_URL", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_ALLOW_HEADER_FALLBACK",
	"SECURITY_MIN_QUESTIONS", "SECURITY_ANSWER_HASH_COST", "REGISTRATION_EMIT_UNCHANGED",
	"LOG_LEVEL", "LOG_FORMAT", "CORS_ALLOWED_ORIGINS",
}

// LoadConfig reads configuration from the .env file in path and the environment.
// Environment variables win over the file.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName(".env")
	v.SetConfigType("env")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("STORE_BACKEND", StorePostgres)
	v.SetDefault("EVENTS_EXCHANGE", "user-lifecycle")
	v.SetDefault("EVENT_PUBLISH_TIMEOUT", "3s")
	v.SetDefault("OUTBOX_POLL_INTERVAL", "1200ms")
	v.SetDefault("OUTBOX_PURGE_SCHEDULE", "@hourly")
	v.SetDefault("OUTBOX_RETENTION", "72h")
	v.SetDefault("EXTERNAL_CALL_TIMEOUT", "5s")
	v.SetDefault("SECURITY_MIN_QUESTIONS", 1)
	v.SetDefault("SECURITY_ANSWER_HASH_COST", 10)
	v.SetDefault("REGISTRATION_EMIT_UNCHANGED", false)
	v.SetDefault("AUTH_ALLOW_HEADER_FALLBACK", false)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")

	// Bind envs explicitly so containers pick them up reliably
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// PORT is set by most container platforms.
	_ = v.BindEnv("PORT")
	if port := v.GetString("PORT"); port != "" {
		cfg.ServerPort = port
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case StorePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=%s", StorePostgres)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if strings.TrimSpace(c.IdPBaseURL) == "" {
		return fmt.Errorf("IDP_BASE_URL is required")
	}
	return nil
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

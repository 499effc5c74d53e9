/**
 * @description
 * This file handles loading and managing all configuration for the
 * ledger-service. Every setting comes from environment variables, with
 * development-friendly defaults for everything except the secrets.
 *
 * @dependencies
 * - github.com/spf13/viper: Environment variable binding and defaults.
 */

package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the service.
type Config struct {
	ServerPort  string `mapstructure:"SERVER_PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// AESKeyB64 is the base64-encoded 32-byte key for field encryption.
	AESKeyB64 string `mapstructure:"AES_KEY_B64"`

	JWTSecret     string `mapstructure:"JWT_SECRET"`
	JWTTTLMinutes int    `mapstructure:"JWT_TTL_MIN"`

	// RabbitMQURL and RedisURL are optional; the service runs without the
	// event producer and the login throttle when they are empty.
	RabbitMQURL string `mapstructure:"RABBITMQ_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`

	LoginRateLimit      int `mapstructure:"LOGIN_RATE_LIMIT"`
	LoginRateWindowSecs int `mapstructure:"LOGIN_RATE_WINDOW_SECS"`

	// InitialBalance is granted to every newly registered account.
	InitialBalance string `mapstructure:"INITIAL_BALANCE"`
}

// JWTTTL returns the access token lifetime as a duration.
func (c *Config) JWTTTL() time.Duration {
	return time.Duration(c.JWTTTLMinutes) * time.Minute
}

// LoginRateWindow returns the login throttle window as a duration.
func (c *Config) LoginRateWindow() time.Duration {
	return time.Duration(c.LoginRateWindowSecs) * time.Second
}

// Load reads configuration from the environment and validates the settings
// the service cannot run without.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("JWT_TTL_MIN", 30)
	v.SetDefault("LOGIN_RATE_LIMIT", 5)
	v.SetDefault("LOGIN_RATE_WINDOW_SECS", 30)
	v.SetDefault("INITIAL_BALANCE", "1000.00")

	keys := []string{
		"SERVER_PORT", "DATABASE_URL", "AES_KEY_B64", "JWT_SECRET",
		"JWT_TTL_MIN", "RABBITMQ_URL", "REDIS_URL",
		"LOGIN_RATE_LIMIT", "LOGIN_RATE_WINDOW_SECS", "INITIAL_BALANCE",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.AESKeyB64 == "" {
		return nil, fmt.Errorf("AES_KEY_B64 is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.JWTTTLMinutes <= 0 {
		return nil, fmt.Errorf("JWT_TTL_MIN must be positive")
	}

	return &cfg, nil
}

// Package config contains configuration loading for the settlement service.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the settlement service parameters. Environment variables
// take precedence over command-line flags.
type Config struct {
	RunAddress         string        `env:"RUN_ADDRESS"`
	DatabaseURI        string        `env:"DATABASE_URI"`
	JWTSecret          string        `env:"JWT_SECRET"`
	ReleaseInterval    time.Duration `env:"RELEASE_PENDING_INTERVAL"`
	FirebaseCredsB64   string        `env:"FIREBASE_CREDENTIALS_BASE64"`
	FirebaseCredsFile  string        `env:"FIREBASE_CREDENTIALS_FILE"`
}

// Parse reads configuration from a .env file if present, environment
// variables and command-line flags.
func Parse() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envReleaseInterval := cfg.ReleaseInterval

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.DurationVar(&cfg.ReleaseInterval, "i", 0, "pending funds release interval (0 disables the sweep)")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envReleaseInterval != 0 {
		cfg.ReleaseInterval = envReleaseInterval
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "settlement-secret"
	}

	return cfg, nil
}

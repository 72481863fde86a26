// Package config loads the service configuration from the environment, with
// optional .env support for local development.
package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/taxi-maintenance/internal/persistence"
)

// Config carries everything main needs to wire the service. The backend
// variant is decided here, once: a MongoDB URI selects the cloud store, its
// absence selects the local blob. Transient cloud failures later never flip
// the mode back.
type Config struct {
	Port          string
	MongoURI      string
	MongoDatabase string
	LocalPath     string
	JWTSecret     string
	TokenExpiry   time.Duration
	LogLevel      log.Level
}

// Remote reports whether the cloud backend is configured.
func (c *Config) Remote() bool { return c.MongoURI != "" }

// Load reads the configuration. A missing .env file is not an error.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("could not read .env file")
	}

	cfg := &Config{
		Port:          getenv("PORT", "8080"),
		MongoURI:      os.Getenv("MONGO_URI"),
		MongoDatabase: getenv("MONGO_DATABASE", "taxi_maintenance"),
		LocalPath:     getenv("LOCAL_STORE_PATH", persistence.DefaultLocalPath()),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		TokenExpiry:   24 * time.Hour,
		LogLevel:      log.InfoLevel,
	}

	if exp := os.Getenv("JWT_EXPIRATION"); exp != "" {
		if parsed, err := time.ParseDuration(exp); err == nil {
			cfg.TokenExpiry = parsed
		}
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		if parsed, err := log.ParseLevel(lvl); err == nil {
			cfg.LogLevel = parsed
		}
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

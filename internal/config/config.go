package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var validate = validator.New()

// Config holds all configuration for the reference auth API
type Config struct {
	// Database Configuration
	Database DatabaseConfig

	// Auth Configuration
	Auth AuthConfig

	// HTTP Configuration
	HTTP HTTPConfig

	// Logging Configuration
	Logging LoggingConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL string `validate:"required"`
}

// AuthConfig holds token signing configuration
type AuthConfig struct {
	JWTSecret string        `validate:"required,min=16"`
	TokenTTL  time.Duration `validate:"gt=0"`
}

// HTTPConfig holds listener configuration
type HTTPConfig struct {
	Port        string `validate:"required,numeric"`
	CORSOrigins []string
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format" validate:"omitempty,oneof=json console"` // json, console
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env files (fails silently if files don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// Database URL - default to a local file, allow override for dev
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = "portal.sqlite"
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	tokenTTL := 7 * 24 * time.Hour
	if raw := os.Getenv("JWT_TTL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid JWT_TTL %q: %w", raw, err)
		}
		tokenTTL = d
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	var origins []string
	for _, origin := range strings.Split(os.Getenv("CORS_ORIGINS"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			URL: dbURL,
		},
		Auth: AuthConfig{
			JWTSecret: jwtSecret,
			TokenTTL:  tokenTTL,
		},
		HTTP: HTTPConfig{
			Port:        port,
			CORSOrigins: origins,
		},
		Logging: loggingFromEnv("info", "json"),
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loggingFromEnv reads LOG_LEVEL and LOG_FORMAT over the given defaults
func loggingFromEnv(defaultLevel, defaultFormat string) LoggingConfig {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = defaultLevel
	}

	logFormat := os.Getenv("LOG_FORMAT")
	if logFormat == "" {
		logFormat = defaultFormat
	}

	return LoggingConfig{
		Level:  logLevel,
		Format: logFormat,
	}
}

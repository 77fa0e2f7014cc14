package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds gateway process configuration, sourced entirely from
// environment variables.
type Config struct {
	Listen        string
	ConductorURL  string
	AppPortMin    int
	AppPortMax    int
	DevMode       bool
	DatabaseURL   string

	JWTSecret         string
	JWTExpirySeconds  int
	APIKeyAuthenticated string
	APIKeyAdmin         string

	WorkerCount       int
	RequestTimeoutMS  int
}

// Load reads configuration from the environment, falling back to a default
// wherever one is given. In production mode (DEV_MODE unset or false) a
// missing JWT_SECRET is a validation error — the caller should treat that
// as exit code 1.
func Load() (*Config, error) {
	cfg := &Config{
		Listen:       getEnv("LISTEN", ":8080"),
		ConductorURL: getEnv("CONDUCTOR_URL", "ws://localhost:8888"),
		DevMode:      getEnv("DEV_MODE", "false") == "true",
		DatabaseURL:  getEnv("DATABASE_URL", "postgres://gateway@localhost:5432/gateway?sslmode=disable"),

		JWTSecret:           os.Getenv("JWT_SECRET"),
		APIKeyAuthenticated: os.Getenv("API_KEY_AUTHENTICATED"),
		APIKeyAdmin:         os.Getenv("API_KEY_ADMIN"),
	}

	var err error
	if cfg.AppPortMin, err = getEnvInt("APP_PORT_MIN", 30000); err != nil {
		return nil, err
	}
	if cfg.AppPortMax, err = getEnvInt("APP_PORT_MAX", 40000); err != nil {
		return nil, err
	}
	if cfg.JWTExpirySeconds, err = getEnvInt("JWT_EXPIRY_SECONDS", 3600); err != nil {
		return nil, err
	}
	if cfg.WorkerCount, err = getEnvInt("WORKER_COUNT", 4); err != nil {
		return nil, err
	}
	if cfg.RequestTimeoutMS, err = getEnvInt("REQUEST_TIMEOUT_MS", 30000); err != nil {
		return nil, err
	}

	if cfg.AppPortMax <= cfg.AppPortMin {
		return nil, fmt.Errorf("APP_PORT_MAX (%d) must be greater than APP_PORT_MIN (%d)", cfg.AppPortMax, cfg.AppPortMin)
	}

	if !cfg.DevMode && cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required outside DEV_MODE")
	}
	if cfg.DevMode && cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-mode-insecure-secret"
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, v, err)
	}
	return n, nil
}

package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mkbray/jemima/internal/engine"
)

// Config is the full runtime configuration. Env vars fill the infrastructure
// settings; an optional YAML file tunes the engine.
type Config struct {
	Port     string
	BaseURL  string
	LogLevel string

	// StoreBackend selects "memory" or "postgres".
	StoreBackend string

	DB   DatabaseConfig
	NATS NATSConfig

	Engine engine.Config
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DSN returns the Postgres connection URL.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// NATSConfig holds the snapshot bridge settings.
type NATSConfig struct {
	URL     string
	Enabled bool
}

// engineFile is the YAML shape of the tunables file.
type engineFile struct {
	Engine struct {
		TieEpsilonMs   int `yaml:"tie_epsilon_ms"`
		MarkingWindowS int `yaml:"marking_window_sec"`
		CountdownLeadS int `yaml:"countdown_lead_sec"`
		RetryAttempts  int `yaml:"retry_attempts"`
		RetryBackoffMs int `yaml:"retry_backoff_ms"`
	} `yaml:"engine"`
}

func loadConfig() (Config, error) {
	cfg := Config{
		Port:         getEnv("PORT", "8080"),
		BaseURL:      getEnv("BASE_URL", "http://localhost:8080"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		StoreBackend: getEnv("STORE_BACKEND", "memory"),
		DB: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Database: getEnv("DB_NAME", "jemima"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		NATS: NATSConfig{
			URL:     getEnv("NATS_URL", "nats://localhost:4222"),
			Enabled: getEnv("NATS_ENABLED", "") == "true",
		},
		Engine: engine.DefaultConfig(),
	}

	if path := os.Getenv("JEMIMA_CONFIG"); path != "" {
		if err := applyEngineFile(&cfg, path); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func applyEngineFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	var f engineFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	e := f.Engine
	if e.TieEpsilonMs > 0 {
		cfg.Engine.TieEpsilon = time.Duration(e.TieEpsilonMs) * time.Millisecond
	}
	if e.MarkingWindowS > 0 {
		cfg.Engine.MarkingWindow = time.Duration(e.MarkingWindowS) * time.Second
	}
	if e.CountdownLeadS > 0 {
		cfg.Engine.CountdownLead = time.Duration(e.CountdownLeadS) * time.Second
	}
	if e.RetryAttempts > 0 {
		cfg.Engine.RetryAttempts = e.RetryAttempts
	}
	if e.RetryBackoffMs > 0 {
		cfg.Engine.RetryBackoff = time.Duration(e.RetryBackoffMs) * time.Millisecond
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

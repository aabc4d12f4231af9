// Package config loads server configuration from environment variables,
// .env files, and an optional YAML thresholds file for the anomaly
// detectors.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/warp/recon-engine/anomaly"
)

// Config represents the application configuration.
type Config struct {
	Port        int
	DBPath      string
	Concurrency int

	// SchedulerEnabled turns the background reconciliation scheduler on.
	SchedulerEnabled bool

	Anomaly anomaly.Config
}

// Load reads configuration from environment variables, loading .env from
// the current directory when present. Flags parsed in main take
// precedence over what Load returns.
func Load(envPath ...string) (*Config, error) {
	if len(envPath) > 0 && envPath[0] != "" {
		if err := godotenv.Load(envPath[0]); err != nil {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}

	port, err := parseIntEnv("RECON_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid RECON_PORT: %w", err)
	}
	concurrency, err := parseIntEnv("RECON_CONCURRENCY", 4)
	if err != nil {
		return nil, fmt.Errorf("invalid RECON_CONCURRENCY: %w", err)
	}

	cfg := &Config{
		Port:             port,
		DBPath:           envOr("RECON_DB", "recon.db"),
		Concurrency:      concurrency,
		SchedulerEnabled: os.Getenv("RECON_SCHEDULER") != "off",
		Anomaly:          anomaly.DefaultConfig(),
	}

	// Optional YAML detector thresholds.
	if path := os.Getenv("RECON_THRESHOLDS"); path != "" {
		if err := cfg.loadThresholds(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadThresholds overlays detector thresholds from a YAML file. Missing
// keys keep their defaults.
func (c *Config) loadThresholds(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read thresholds file: %w", err)
	}
	if err := yaml.Unmarshal(data, &c.Anomaly); err != nil {
		return fmt.Errorf("failed to parse thresholds file: %w", err)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseIntEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

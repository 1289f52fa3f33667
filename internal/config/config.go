// Package config assembles engine settings from defaults, an optional YAML
// file, and environment variable overrides, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the sync engine.
type Config struct {
	WSEndpoint string `yaml:"wsEndpoint"`
	APIBaseURL string `yaml:"apiBaseURL"`

	PingInterval   time.Duration `yaml:"pingInterval"`
	ReadTimeout    time.Duration `yaml:"readTimeout"`
	DialTimeout    time.Duration `yaml:"dialTimeout"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`

	ReconnectBaseDelay   time.Duration `yaml:"reconnectBaseDelay"`
	MaxReconnectAttempts int           `yaml:"maxReconnectAttempts"`
}

func Default() Config {
	return Config{
		WSEndpoint:           "ws://localhost:8080/ws",
		APIBaseURL:           "http://localhost:8080",
		PingInterval:         15 * time.Second,
		ReadTimeout:          30 * time.Second,
		DialTimeout:          10 * time.Second,
		RequestTimeout:       30 * time.Second,
		ReconnectBaseDelay:   time.Second,
		MaxReconnectAttempts: 5,
	}
}

// Load reads path (when non-empty) over the defaults, then applies QUIZ_*
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// FromEnv is Load without a file.
func FromEnv() Config {
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyEnv() {
	c.WSEndpoint = getEnv("QUIZ_WS_ENDPOINT", c.WSEndpoint)
	c.APIBaseURL = getEnv("QUIZ_API_URL", c.APIBaseURL)
	c.PingInterval = getEnvDuration("QUIZ_PING_INTERVAL", c.PingInterval)
	c.ReadTimeout = getEnvDuration("QUIZ_READ_TIMEOUT", c.ReadTimeout)
	c.DialTimeout = getEnvDuration("QUIZ_DIAL_TIMEOUT", c.DialTimeout)
	c.RequestTimeout = getEnvDuration("QUIZ_REQUEST_TIMEOUT", c.RequestTimeout)
	c.ReconnectBaseDelay = getEnvDuration("QUIZ_RECONNECT_BASE_DELAY", c.ReconnectBaseDelay)
	c.MaxReconnectAttempts = getEnvInt("QUIZ_MAX_RECONNECT_ATTEMPTS", c.MaxReconnectAttempts)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

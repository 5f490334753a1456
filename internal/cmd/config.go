package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the ledger service settings. DB_* settings come from the
// environment via dbconfig; everything else lives here.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Sweeper struct {
		Interval string `yaml:"interval"`
	} `yaml:"sweeper"`
	Bidding struct {
		RateLimitWindow string `yaml:"rate_limit_window"`
	} `yaml:"bidding"`
	Broadcast struct {
		RelayURL    string `yaml:"relay_url"`
		NATSURL     string `yaml:"nats_url"`
		NATSSubject string `yaml:"nats_subject"`
	} `yaml:"broadcast"`
	RateLimit struct {
		RedisAddr string `yaml:"redis_addr"`
	} `yaml:"ratelimit"`
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

// duration parses a config duration string, falling back when unset or bad.
func duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

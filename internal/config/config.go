// Package config reads sessiond configuration from the environment once at
// startup.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds everything both binaries need. Empty DatabaseURL or RedisURL
// selects the in-memory backend for that store (single-process development
// only; workers in separate processes require Redis and Postgres).
type Config struct {
	HTTPAddr string
	APIKey   string

	DatabaseURL string
	RedisURL    string

	AgentMode       string
	AgentEndpoint   string
	Model           string
	AnthropicAPIKey string

	ComputerUseImage string
	PublicHost       string

	LockTTL           time.Duration
	DequeueTimeout    time.Duration
	ContentionBackoff time.Duration
	KeepAliveInterval time.Duration
	BacklogLimit      int
}

// FromEnv builds a Config from environment variables with typed defaults
func FromEnv() Config {
	return Config{
		HTTPAddr: envOrDefault("HTTP_ADDR", ":8080"),
		APIKey:   strings.TrimSpace(os.Getenv("API_KEY")),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),

		AgentMode:       envOrDefault("AGENT_MODE", "mock"),
		AgentEndpoint:   os.Getenv("AGENT_ENDPOINT"),
		Model:           envOrDefault("ANTHROPIC_MODEL", "claude-3-5-sonnet-latest"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),

		ComputerUseImage: envOrDefault("COMPUTER_USE_IMAGE", "ghcr.io/anthropics/anthropic-quickstarts:computer-use-demo-latest"),
		PublicHost:       envOrDefault("PUBLIC_HOST", "localhost"),

		LockTTL:           envDurationOrDefault("LOCK_TTL", DefaultLockTTL),
		DequeueTimeout:    envDurationOrDefault("DEQUEUE_TIMEOUT", DefaultDequeueTimeout),
		ContentionBackoff: envDurationOrDefault("CONTENTION_BACKOFF", DefaultContentionBackoff),
		KeepAliveInterval: envDurationOrDefault("KEEPALIVE_INTERVAL", DefaultKeepAliveInterval),
		BacklogLimit:      envIntOrDefault("EVENT_BACKLOG_LIMIT", DefaultBacklogLimit),
	}
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDurationOrDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return parsed
}

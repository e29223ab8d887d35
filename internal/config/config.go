// Package config centralizes the gateway's configuration, loaded once
// from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
)

// Config holds every runtime setting of the gateway.
type Config struct {
	// Port the HTTP server listens on.
	Port string

	// BackendURLs are the configured inference services, comma-separated
	// in MODEL_SERVICE_URLS.
	BackendURLs []string
	// DefaultBackendURL serves models without an explicit backend.
	DefaultBackendURL string

	// HeartbeatIntervalSeconds is the pause between availability sweeps.
	HeartbeatIntervalSeconds int

	// Redis connection for the cache store and telemetry publish.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// APISecret signs gateway access tokens.
	APISecret string
	// DisableAuth skips token validation entirely.
	DisableAuth bool

	// DefaultSystemPrompt is injected into conversations without a
	// system message.
	DefaultSystemPrompt string
}

var (
	// config is the singleton instance of the configuration.
	config *Config
	// configOnce ensures the configuration is initialized only once.
	configOnce sync.Once
)

// Get returns the singleton configuration, initializing it from the
// environment on first call.
func Get() *Config {
	configOnce.Do(func() {
		config = load()
	})
	return config
}

func load() *Config {
	defaultURL := envOr("DEFAULT_SERVICE_URL", "http://localhost:8000")

	var backends []string
	for _, u := range strings.Split(os.Getenv("MODEL_SERVICE_URLS"), ",") {
		if u = strings.TrimSpace(u); u != "" {
			backends = append(backends, u)
		}
	}
	if len(backends) == 0 {
		backends = []string{defaultURL}
	}

	disableAuth := os.Getenv("DISABLE_AUTH")

	return &Config{
		Port:                     envOr("PORT", "8080"),
		BackendURLs:              backends,
		DefaultBackendURL:        defaultURL,
		HeartbeatIntervalSeconds: envIntOr("HEARTBEAT_INTERVAL_SECONDS", 15),
		RedisAddr:                envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword:            os.Getenv("REDIS_PASSWORD"),
		RedisDB:                  envIntOr("REDIS_DB", 0),
		APISecret:                os.Getenv("LLM_API_SECRET"),
		DisableAuth:              disableAuth == "true" || disableAuth == "1",
		DefaultSystemPrompt:      os.Getenv("DEFAULT_SYSTEM_PROMPT"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
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

// Package config provides client configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends accepted by STORAGE_BACKEND.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Config holds all client configuration.
type Config struct {
	APIBaseURL     string
	FrontendURL    string
	DataDir        string
	StorageBackend string
	HTTPTimeout    time.Duration
	LogoutTimeout  time.Duration
	BridgeAddr     string
	BridgeToken    string
	DevMode        bool
	LogLevel       string
	LogFile        string
	LogFormat      string
}

// Load reads configuration from environment variables. A .env file in the
// working directory, then one in the data directory, is applied first;
// variables already set in the environment take precedence.
func Load() (*Config, error) {
	loadDotEnv(".env")

	dataDir := getEnv("DATA_DIR", defaultDataDir())
	loadDotEnv(filepath.Join(dataDir, ".env"))

	cfg := &Config{
		APIBaseURL:     strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:8000"), "/"),
		FrontendURL:    strings.TrimRight(getEnv("FRONTEND_URL", "http://localhost:3000"), "/"),
		DataDir:        dataDir,
		StorageBackend: strings.ToLower(getEnv("STORAGE_BACKEND", BackendFile)),
		HTTPTimeout:    getEnvDuration("HTTP_TIMEOUT", 30*time.Second),
		LogoutTimeout:  getEnvDuration("LOGOUT_TIMEOUT", 5*time.Second),
		BridgeAddr:     getEnv("BRIDGE_ADDR", "127.0.0.1:7420"),
		BridgeToken:    getEnv("BRIDGE_TOKEN", ""),
		DevMode:        getEnvBool("DEV_MODE", false),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFile:        getEnv("LOG_FILE", ""),
		LogFormat:      getEnv("LOG_FORMAT", "text"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return errors.New("API_BASE_URL cannot be empty")
	}
	if u, err := url.Parse(c.APIBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("API_BASE_URL must be an absolute URL, got %q", c.APIBaseURL)
	}
	if c.DataDir == "" {
		return errors.New("DATA_DIR cannot be empty")
	}
	switch c.StorageBackend {
	case BackendFile, BackendSQLite, BackendMemory:
	default:
		return fmt.Errorf("STORAGE_BACKEND must be one of file, sqlite, memory, got %q", c.StorageBackend)
	}
	if c.HTTPTimeout <= 0 {
		return errors.New("HTTP_TIMEOUT must be > 0")
	}
	if c.LogoutTimeout <= 0 {
		return errors.New("LOGOUT_TIMEOUT must be > 0")
	}
	return nil
}

func loadDotEnv(path string) {
	err := godotenv.Load(path)
	if err == nil {
		slog.Debug("loaded env file", "path", path)
		return
	}
	if !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load env file", "path", path, "error", err)
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pitchy"
	}
	return filepath.Join(home, ".pitchy")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// getEnvDuration accepts Go duration strings ("15s") or plain seconds ("15").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port               string
	FrontendURL        string
	DBPath             string
	GRPCHealthAddr     string // empty disables the gRPC health server
	LogLevel           slog.Level
	HistoryMaxMessages int
	OpenAI             OpenAIConfig
	Oracle             OracleConfig
}

// OpenAIConfig holds upstream completion API settings.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	AssistantID string
	Model       string
}

// OracleConfig controls thread resolution and completion polling.
type OracleConfig struct {
	PollInterval       time.Duration
	GenerationTimeout  time.Duration
	CreateTimeout      time.Duration
	VerifyThreads      bool
	ThreadRegistryPath string // empty keeps thread mappings in memory
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := fromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadStorage reads configuration for commands that only touch the local
// database, so no upstream credentials are required.
func LoadStorage() (*Config, error) {
	cfg := fromEnv()
	if err := cfg.validateStorage(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func fromEnv() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		FrontendURL:        getEnv("FRONTEND_URL", ""),
		DBPath:             getEnv("DB_PATH", "./data/oracle.db"),
		GRPCHealthAddr:     getEnv("GRPC_HEALTH_ADDR", ""),
		LogLevel:           getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		HistoryMaxMessages: getEnvInt("HISTORY_MAX_MESSAGES", 200),
		OpenAI: OpenAIConfig{
			APIKey:      getEnv("OPENAI_API_KEY", ""),
			BaseURL:     getEnv("OPENAI_BASE_URL", ""),
			AssistantID: getEnv("OPENAI_ASSISTANT_ID", ""),
			Model:       getEnv("OPENAI_MODEL", "gpt-4-turbo-preview"),
		},
		Oracle: OracleConfig{
			PollInterval:       getEnvDuration("ORACLE_POLL_INTERVAL", time.Second),
			GenerationTimeout:  getEnvDuration("ORACLE_GENERATION_TIMEOUT", 2*time.Minute),
			CreateTimeout:      getEnvDuration("ORACLE_CREATE_TIMEOUT", 30*time.Second),
			VerifyThreads:      getEnvBool("ORACLE_VERIFY_THREADS", false),
			ThreadRegistryPath: getEnv("ORACLE_THREAD_REGISTRY_PATH", ""),
		},
	}
}

func (c *Config) validateStorage() error {
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	return nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if err := c.validateStorage(); err != nil {
		return err
	}
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY cannot be empty")
	}
	if c.OpenAI.Model == "" {
		return fmt.Errorf("OPENAI_MODEL cannot be empty")
	}
	if c.HistoryMaxMessages <= 0 {
		return fmt.Errorf("HISTORY_MAX_MESSAGES must be > 0")
	}
	if c.Oracle.PollInterval <= 0 {
		return fmt.Errorf("ORACLE_POLL_INTERVAL must be > 0")
	}
	if c.Oracle.GenerationTimeout < c.Oracle.PollInterval {
		return fmt.Errorf("ORACLE_GENERATION_TIMEOUT must be >= ORACLE_POLL_INTERVAL")
	}
	if c.Oracle.CreateTimeout <= 0 {
		return fmt.Errorf("ORACLE_CREATE_TIMEOUT must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the configured frontend.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	origins := []string{c.FrontendURL}
	if c.IsDevelopment() {
		origins = append(origins, "http://localhost:3000", "http://127.0.0.1:3000")
	}
	return origins
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
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

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return level
}

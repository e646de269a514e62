package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Store    StoreConfig
	IMAP     IMAPConfig
	Source   SourceConfig
	LLM      LLMConfig
	Render   RenderConfig
	Pipeline PipelineConfig
	LogLevel string
}

// DatabaseConfig holds database-related configuration. When DSN is empty the
// embedded SQLite engine at SQLitePath is used instead of PostgreSQL.
type DatabaseConfig struct {
	DSN             string
	SQLitePath      string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// StoreConfig holds file store configuration
type StoreConfig struct {
	Root string
}

// IMAPConfig holds mail source configuration
type IMAPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Folder   string
	Timeout  time.Duration
}

// SourceConfig holds source selection and connection retry configuration
type SourceConfig struct {
	MaildirPath string
	MaxAttempts int
	RetryDelay  time.Duration
}

// LLMConfig holds extraction model configuration
type LLMConfig struct {
	Model      string
	APIKey     string
	MaxTokens  int
	Timeout    time.Duration
	MaxRetries int
}

// RenderConfig holds PDF rendering configuration
type RenderConfig struct {
	Timeout time.Duration
}

// PipelineConfig holds ingestion run configuration
type PipelineConfig struct {
	ReviewThreshold float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:             getEnv("DATABASE_URL", ""),
			SQLitePath:      getEnv("RECEIPTS_DB_PATH", ":memory:"),
			MaxConns:        getEnvAsInt32("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt32("DB_MIN_CONNS", 2),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:     getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
		},
		Store: StoreConfig{
			Root: getEnv("RECEIPT_STORE_PATH", "./data/receipts"),
		},
		IMAP: IMAPConfig{
			Host:     getEnv("IMAP_HOST", ""),
			Port:     getEnvAsInt("IMAP_PORT", 993),
			Username: getEnv("IMAP_USERNAME", ""),
			Password: getEnv("IMAP_PASSWORD", ""),
			Folder:   getEnv("IMAP_FOLDER", "INBOX"),
			Timeout:  getEnvAsDuration("IMAP_TIMEOUT", 30*time.Second),
		},
		Source: SourceConfig{
			MaildirPath: getEnv("MAILDIR_PATH", ""),
			MaxAttempts: getEnvAsInt("SOURCE_MAX_ATTEMPTS", 3),
			RetryDelay:  getEnvAsDuration("SOURCE_RETRY_DELAY", 2*time.Second),
		},
		LLM: LLMConfig{
			Model:      getEnv("LLM_MODEL", "claude-haiku-4-5-20251001"),
			APIKey:     getEnv("ANTHROPIC_API_KEY", ""),
			MaxTokens:  getEnvAsInt("LLM_MAX_TOKENS", 1024),
			Timeout:    getEnvAsDuration("LLM_TIMEOUT", 45*time.Second),
			MaxRetries: getEnvAsInt("LLM_MAX_RETRIES", 3),
		},
		Render: RenderConfig{
			Timeout: getEnvAsDuration("RENDER_TIMEOUT", 30*time.Second),
		},
		Pipeline: PipelineConfig{
			ReviewThreshold: getEnvAsFloat64("REVIEW_THRESHOLD", 0.6),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate checks configuration every command depends on
func (c *Config) Validate() error {
	if c.Store.Root == "" {
		return NewAppError("CONFIG_ERROR", "RECEIPT_STORE_PATH is required", ErrInvalidInput)
	}
	if c.Database.DSN == "" && c.Database.SQLitePath == "" {
		return NewAppError("CONFIG_ERROR", "DATABASE_URL or RECEIPTS_DB_PATH is required", ErrInvalidInput)
	}
	return nil
}

// ValidateIngest checks the additional configuration an ingestion run depends on
func (c *Config) ValidateIngest() error {
	if c.IMAP.Host == "" && c.Source.MaildirPath == "" {
		return NewAppError("CONFIG_ERROR", "IMAP_HOST or MAILDIR_PATH is required", ErrInvalidInput)
	}
	if c.IMAP.Host != "" {
		if c.IMAP.Username == "" || c.IMAP.Password == "" {
			return NewAppError("CONFIG_ERROR", "IMAP_USERNAME and IMAP_PASSWORD are required", ErrInvalidInput)
		}
	}
	if c.LLM.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "ANTHROPIC_API_KEY is required", ErrInvalidInput)
	}
	if c.Pipeline.ReviewThreshold < 0 || c.Pipeline.ReviewThreshold > 1 {
		return NewAppError("CONFIG_ERROR", "REVIEW_THRESHOLD must be between 0 and 1", ErrInvalidInput)
	}
	return nil
}

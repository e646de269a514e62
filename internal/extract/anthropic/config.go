package anthropic

import (
	"log/slog"
	"os"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Config for the Anthropic client.
type Config struct {
	APIKey     string        // if empty, falls back to env ANTHROPIC_API_KEY
	Model      string        // e.g. "claude-haiku-4-5-20251001"
	MaxTokens  int           // reply token cap
	Timeout    time.Duration // per-attempt request timeout
	MaxRetries int           // attempts for transient API failures
}

type Client struct {
	cfg    Config
	api    sdk.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-haiku-4-5-20251001"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg: cfg,
		// retry.Do drives attempts, not the SDK
		api:    sdk.NewClient(option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)),
		logger: logger,
	}
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	ListenAddr  string `envconfig:"LISTEN_ADDR" default:":8080"`

	// LLM provider (optional — engine falls back to the deterministic
	// compositor for every turn when no key is configured)
	AnthropicAPIKey string        `envconfig:"ANTHROPIC_API_KEY"`
	Model           string        `envconfig:"MODEL"`
	MaxTokens       int           `envconfig:"MAX_TOKENS" default:"4096"`
	LLMTimeout      time.Duration `envconfig:"LLM_TIMEOUT" default:"120s"`

	// Storage
	DBPath          string `envconfig:"DB_PATH" default:"showcase.db"`
	CheckpointCache int    `envconfig:"CHECKPOINT_CACHE" default:"32"`

	// HTTP API
	AuthMode       string `envconfig:"AUTH_MODE" default:"api-key"` // "api-key", "jwt", "none"
	APIKey         string `envconfig:"API_KEY"`
	JWTSecret      string `envconfig:"JWT_SECRET"`
	CORSOrigins    string `envconfig:"CORS_ORIGINS"`
	RateLimitRPS   int    `envconfig:"RATE_LIMIT_RPS" default:"50"`
	RateLimitBurst int    `envconfig:"RATE_LIMIT_BURST" default:"100"`

	// Orchestration
	RoutingRulesPath string        `envconfig:"ROUTING_RULES_PATH"`
	TurnTimeout      time.Duration `envconfig:"TURN_TIMEOUT" default:"2m"`
	MaxToolIter      int           `envconfig:"MAX_TOOL_ITER" default:"8"`

	// Resilience
	BreakerThreshold int           `envconfig:"BREAKER_THRESHOLD" default:"5"`
	BreakerCooldown  time.Duration `envconfig:"BREAKER_COOLDOWN" default:"30s"`
	RetryMaxAttempts int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryBaseDelay   time.Duration `envconfig:"RETRY_BASE_DELAY" default:"500ms"`
	RetryMaxDelay    time.Duration `envconfig:"RETRY_MAX_DELAY" default:"10s"`
}

// LLMEnabled returns true if an Anthropic API key is configured.
func (c *Config) LLMEnabled() bool {
	return c.AnthropicAPIKey != ""
}

// AuthEnabled returns true unless auth mode is explicitly "none".
func (c *Config) AuthEnabled() bool {
	return c.AuthMode != "none"
}

// CORSOriginList returns the parsed list of allowed CORS origins.
func (c *Config) CORSOriginList() []string {
	if c.CORSOrigins == "" {
		return nil
	}
	parts := strings.Split(c.CORSOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, o := range parts {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// Validate checks cross-field constraints that envconfig cannot express.
func (c *Config) Validate() error {
	switch c.AuthMode {
	case "api-key":
		if c.APIKey == "" {
			return fmt.Errorf("AUTH_MODE=api-key requires API_KEY")
		}
	case "jwt":
		if c.JWTSecret == "" {
			return fmt.Errorf("AUTH_MODE=jwt requires JWT_SECRET")
		}
	case "none":
	default:
		return fmt.Errorf("unknown AUTH_MODE %q", c.AuthMode)
	}
	if c.BreakerThreshold < 1 {
		return fmt.Errorf("BREAKER_THRESHOLD must be >= 1, got %d", c.BreakerThreshold)
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be >= 1, got %d", c.RetryMaxAttempts)
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	return LoadWithPrefix("")
}

// LoadWithPrefix reads configuration with an env var prefix (for tests).
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

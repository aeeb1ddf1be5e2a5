package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/giantsdigitaldev/cristos/internal/retry"
)

// API auth modes.
const (
	AuthNone   = "none"
	AuthAPIKey = "api-key"
	AuthJWT    = "jwt"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	ListenAddr  string `envconfig:"HTTP_LISTEN_ADDR" default:":8080"`
	DBPath      string `envconfig:"DB_PATH" default:"cristos.db"`
	PromptsPath string `envconfig:"PROMPTS_PATH"` // optional YAML override of the embedded prompt pack

	// Language model (optional: without a key every turn degrades to the apology)
	AnthropicAPIKey  string        `envconfig:"ANTHROPIC_API_KEY"`
	AnthropicBaseURL string        `envconfig:"ANTHROPIC_BASE_URL"`
	LLMModel         string        `envconfig:"LLM_MODEL" default:"claude-sonnet-4-5"`
	LLMMaxTokens     int           `envconfig:"LLM_MAX_TOKENS" default:"1024"`
	LLMTemperature   float64       `envconfig:"LLM_TEMPERATURE" default:"0.7"`
	LLMTimeout       time.Duration `envconfig:"LLM_TIMEOUT" default:"60s"`
	LLMMaxAttempts   int           `envconfig:"LLM_MAX_ATTEMPTS" default:"5"`

	// Transcription
	GeminiAPIKey          string        `envconfig:"GEMINI_API_KEY"`
	TranscribeModel       string        `envconfig:"TRANSCRIBE_MODEL" default:"gemini-2.5-flash"`
	TranscribeTimeout     time.Duration `envconfig:"TRANSCRIBE_TIMEOUT" default:"90s"`
	TranscribeMaxAttempts int           `envconfig:"TRANSCRIBE_MAX_ATTEMPTS" default:"3"`
	MaxAudioBytes         int           `envconfig:"MAX_AUDIO_BYTES" default:"26214400"`

	// Conversation memory
	MemoryThreshold  int           `envconfig:"MEMORY_THRESHOLD" default:"10"`
	MemoryKeepRecent int           `envconfig:"MEMORY_KEEP_RECENT" default:"5"`
	MemoryMaxChars   int           `envconfig:"MEMORY_MAX_CHARS" default:"2000"`
	MemoryCacheSize  int           `envconfig:"MEMORY_CACHE_SIZE" default:"0"` // 0 disables the summary cache
	MemoryCacheTTL   time.Duration `envconfig:"MEMORY_CACHE_TTL" default:"10m"`

	// Cover images
	ImageWebhookURL string        `envconfig:"IMAGE_WEBHOOK_URL"`
	ImageWorkers    int           `envconfig:"IMAGE_WORKERS" default:"2"`
	ImageQueueSize  int           `envconfig:"IMAGE_QUEUE_SIZE" default:"100"`
	ImageTimeout    time.Duration `envconfig:"IMAGE_TIMEOUT" default:"2m"`

	// HTTP API
	APIAuthMode    string `envconfig:"API_AUTH_MODE" default:"none"`
	APIKey         string `envconfig:"API_KEY"`
	JWTSecret      string `envconfig:"JWT_SECRET"`
	RateLimitRPS   int    `envconfig:"RATE_LIMIT_RPS" default:"20"`
	RateLimitBurst int    `envconfig:"RATE_LIMIT_BURST" default:"40"`
	CORSOrigins    string `envconfig:"CORS_ORIGINS"` // comma-separated; empty allows none

	// Retention
	RetentionInterval time.Duration `envconfig:"RETENTION_INTERVAL" default:"1h"`
	VoiceRetention    time.Duration `envconfig:"VOICE_RETENTION" default:"168h"`
	ImageJobRetention time.Duration `envconfig:"IMAGE_JOB_RETENTION" default:"168h"`
}

// IsDevelopment reports whether console logging and relaxed checks apply.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// LLMEnabled returns true if a language model key is configured.
func (c *Config) LLMEnabled() bool {
	return c.AnthropicAPIKey != ""
}

// TranscriptionEnabled returns true if a transcription key is configured.
func (c *Config) TranscriptionEnabled() bool {
	return c.GeminiAPIKey != ""
}

// ImageWebhookEnabled returns true if cover images are generated remotely.
func (c *Config) ImageWebhookEnabled() bool {
	return c.ImageWebhookURL != ""
}

// CORSOriginList returns the parsed list of allowed origins.
// Returns nil if not configured.
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

// ModelPolicy is retry.ModelPolicy with the configured attempts and timeout.
func (c *Config) ModelPolicy() retry.Policy {
	p := retry.ModelPolicy()
	if c.LLMMaxAttempts > 0 {
		p.MaxAttempts = c.LLMMaxAttempts
	}
	if c.LLMTimeout > 0 {
		p.AttemptTimeout = c.LLMTimeout
	}
	return p
}

// TranscriptionPolicy is retry.TranscriptionPolicy with the configured
// attempts and timeout.
func (c *Config) TranscriptionPolicy() retry.Policy {
	p := retry.TranscriptionPolicy()
	if c.TranscribeMaxAttempts > 0 {
		p.MaxAttempts = c.TranscribeMaxAttempts
	}
	if c.TranscribeTimeout > 0 {
		p.AttemptTimeout = c.TranscribeTimeout
	}
	return p
}

// Validate checks settings that envconfig cannot express.
func (c *Config) Validate() error {
	switch strings.ToLower(c.APIAuthMode) {
	case AuthNone:
	case AuthAPIKey:
		if c.APIKey == "" {
			return fmt.Errorf("API_AUTH_MODE=%s requires API_KEY", c.APIAuthMode)
		}
	case AuthJWT:
		if c.JWTSecret == "" {
			return fmt.Errorf("API_AUTH_MODE=%s requires JWT_SECRET", c.APIAuthMode)
		}
	default:
		return fmt.Errorf("unknown API_AUTH_MODE %q", c.APIAuthMode)
	}
	if c.MemoryKeepRecent > c.MemoryThreshold {
		return fmt.Errorf("MEMORY_KEEP_RECENT (%d) exceeds MEMORY_THRESHOLD (%d)", c.MemoryKeepRecent, c.MemoryThreshold)
	}
	if c.ImageWorkers < 1 || c.ImageQueueSize < 1 {
		return fmt.Errorf("IMAGE_WORKERS and IMAGE_QUEUE_SIZE must be positive")
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	return &cfg, nil
}

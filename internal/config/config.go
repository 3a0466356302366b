package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the reader voice service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Media host that relative audio URLs and audio filenames are resolved against,
	// e.g. http://media.example.com:8002. Segment audio resolves to {base}{audioUrl}
	// or {base}/audio/{filename}.
	MediaBaseURL string `envconfig:"MEDIA_BASE_URL" required:"true"`

	// Backend API serving /speech/generate and /document. Defaults to MediaBaseURL.
	APIBaseURL string `envconfig:"API_BASE_URL" default:""`

	// Speech synthesis configuration
	SynthesisPath     string  `envconfig:"SYNTHESIS_PATH" default:"/speech/generate"`
	SynthesisTimeout  int     `envconfig:"SYNTHESIS_TIMEOUT" default:"30"` // seconds, per attempt
	SynthesisLanguage string  `envconfig:"SYNTHESIS_LANGUAGE" default:"en"`
	SynthesisVoice    string  `envconfig:"SYNTHESIS_VOICE" default:"default"`
	SynthesisSpeed    float64 `envconfig:"SYNTHESIS_SPEED" default:"1.0"`

	// Speech cache configuration
	SpeechCacheMaxEntries int `envconfig:"SPEECH_CACHE_MAX_ENTRIES" default:"100"` // 0 = unbounded
	PrefetchAhead         int `envconfig:"PREFETCH_AHEAD" default:"0"`             // Segments to synthesize ahead of the active one
	PrefetchConcurrency   int `envconfig:"PREFETCH_CONCURRENCY" default:"2"`

	// Document listing
	DocumentPageSize int `envconfig:"DOCUMENT_PAGE_SIZE" default:"10"`

	// Playback configuration
	MediaOpenTimeout int `envconfig:"MEDIA_OPEN_TIMEOUT" default:"15"` // seconds for the browser to start a stream

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum attempts per synthesis call
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"1000"`       // Initial backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// normalize validates the loaded values and fills derived defaults
func (c *Config) normalize() error {
	base, err := normalizeBaseURL("MEDIA_BASE_URL", c.MediaBaseURL)
	if err != nil {
		return err
	}
	c.MediaBaseURL = base

	if c.APIBaseURL == "" {
		c.APIBaseURL = c.MediaBaseURL
	} else {
		api, err := normalizeBaseURL("API_BASE_URL", c.APIBaseURL)
		if err != nil {
			return err
		}
		c.APIBaseURL = api
	}

	if !strings.HasPrefix(c.SynthesisPath, "/") {
		c.SynthesisPath = "/" + c.SynthesisPath
	}
	if c.SpeechCacheMaxEntries < 0 {
		return fmt.Errorf("SPEECH_CACHE_MAX_ENTRIES must not be negative, got %d", c.SpeechCacheMaxEntries)
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.RetryMaxAttempts)
	}
	if c.DocumentPageSize < 1 {
		return fmt.Errorf("DOCUMENT_PAGE_SIZE must be at least 1, got %d", c.DocumentPageSize)
	}
	if c.PrefetchConcurrency < 1 {
		c.PrefetchConcurrency = 1
	}

	return nil
}

func normalizeBaseURL(name, raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid %s: %w", name, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%s must be an absolute http(s) URL, got %q", name, raw)
	}
	return strings.TrimRight(raw, "/"), nil
}

// SynthesisURL returns the absolute URL of the speech generation endpoint
func (c *Config) SynthesisURL() string {
	return c.APIBaseURL + c.SynthesisPath
}

// SynthesisTimeoutDuration returns the per-attempt synthesis timeout
func (c *Config) SynthesisTimeoutDuration() time.Duration {
	return time.Duration(c.SynthesisTimeout) * time.Second
}

// MediaOpenTimeoutDuration returns how long a media stream may stay loading
func (c *Config) MediaOpenTimeoutDuration() time.Duration {
	return time.Duration(c.MediaOpenTimeout) * time.Second
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

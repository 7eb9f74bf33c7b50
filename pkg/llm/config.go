package llm

import (
	"log/slog"
	"time"
)

// Config holds completion client configuration.
type Config struct {
	// Connection
	BaseURL string // OpenAI-compatible API base URL
	APIKey  string // API key (optional for local backends)

	// Model is the chat model identifier.
	Model string

	// Request defaults. Answers are kept short and deterministic for
	// spoken delivery.
	MaxTokens   int
	Temperature float64

	// Timeout bounds one completion request.
	Timeout time.Duration

	// Observability
	Logger *slog.Logger
}

// Option is a functional option for configuring the client.
type Option func(*Config)

// WithBaseURL sets the API base URL.
// Examples: "http://127.0.0.1:8003/v1", "https://api.openai.com/v1"
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithMaxTokens sets the completion token cap.
func WithMaxTokens(n int) Option {
	return func(c *Config) { c.MaxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Config) { c.Temperature = t }
}

// WithTimeout bounds one completion request.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns sensible defaults for a local vLLM backend.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:     "http://127.0.0.1:8003/v1",
		Model:       "Qwen/Qwen2.5-14B-Instruct-AWQ",
		MaxTokens:   60,
		Temperature: 0.1,
		Timeout:     15 * time.Second,
		Logger:      slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Model == "" {
		return ErrNoModel
	}
	return nil
}

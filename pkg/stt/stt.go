// Package stt provides a client for the remote speech-to-text service.
//
// The service accepts a multipart WAV upload and returns a transcript with
// a detected language. Transcription is retried a bounded number of times
// with a short fixed backoff; exhaustion yields a failure with no partial
// text.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/holoboxlabs/voicebridge/internal/httpc"
	"github.com/holoboxlabs/voicebridge/pkg/transcode"
)

// Sentinel errors.
var (
	// ErrNoTranscript is returned when every attempt produced either a
	// transport failure or an empty transcript.
	ErrNoTranscript = errors.New("stt: no transcript after all attempts")
)

// Config holds transcription client configuration.
type Config struct {
	// URL is the transcription endpoint.
	URL string

	// MaxAttempts is the total number of attempts (not retries).
	MaxAttempts int

	// Backoff is the fixed delay between attempts.
	Backoff time.Duration

	// AttemptTimeout bounds a single attempt.
	AttemptTimeout time.Duration

	// Observability
	Logger *slog.Logger
}

// Option is a functional option for configuring the client.
type Option func(*Config)

// WithURL sets the transcription endpoint.
func WithURL(url string) Option {
	return func(c *Config) { c.URL = url }
}

// WithMaxAttempts sets the total attempt budget.
func WithMaxAttempts(n int) Option {
	return func(c *Config) { c.MaxAttempts = n }
}

// WithBackoff sets the fixed delay between attempts.
func WithBackoff(d time.Duration) Option {
	return func(c *Config) { c.Backoff = d }
}

// WithAttemptTimeout bounds a single attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Config) { c.AttemptTimeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		URL:            "http://127.0.0.1:8002/transcribe",
		MaxAttempts:    3,
		Backoff:        300 * time.Millisecond,
		AttemptTimeout: 10 * time.Second,
		Logger:         slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Result is a completed transcription.
type Result struct {
	// Text is the transcript.
	Text string

	// Language is the detected language code. When the service detects a
	// language it takes precedence over any caller hint.
	Language string

	// Attempts is how many attempts were made, including the successful one.
	Attempts int
}

// Client talks to the remote transcription service.
type Client struct {
	config *Config
	client *http.Client
	logger *slog.Logger
}

// New creates a new transcription client.
func New(opts ...Option) *Client {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	return &Client{
		config: cfg,
		client: httpc.NewClient(cfg.AttemptTimeout),
		logger: cfg.Logger.With("component", "stt"),
	}
}

// transcribeResponse is the remote service response shape.
type transcribeResponse struct {
	Transcript       string `json:"transcript"`
	DetectedLanguage string `json:"detected_language"`
}

// Transcribe sends the waveform to the remote service, retrying on
// transport failures and empty transcripts. The language hint is forwarded
// only when it names a non-default language; English is the service's
// auto-detection default.
func (c *Client) Transcribe(ctx context.Context, wf *transcode.Waveform, hint string) (*Result, error) {
	var lastErr error

	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.Backoff):
			}
		}

		start := time.Now()
		result, err := c.attempt(ctx, wf, hint)
		if err != nil {
			lastErr = err
			c.logger.Warn("transcription attempt failed",
				"attempt", attempt,
				"error", err,
			)
			continue
		}

		c.logger.Info("transcribed",
			"attempt", attempt,
			"chars", len(result.Transcript),
			"language", result.DetectedLanguage,
			"latency_ms", time.Since(start).Milliseconds(),
		)

		language := result.DetectedLanguage
		if language == "" {
			language = hint
		}

		return &Result{
			Text:     result.Transcript,
			Language: language,
			Attempts: attempt,
		}, nil
	}

	if lastErr == nil {
		lastErr = ErrNoTranscript
	}
	return nil, fmt.Errorf("%w: %w", ErrNoTranscript, lastErr)
}

// attempt performs one upload. An empty transcript counts as a failure so
// the caller's retry loop can try again.
func (c *Client) attempt(ctx context.Context, wf *transcode.Waveform, hint string) (*transcribeResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("audio", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("build multipart: %w", err)
	}
	if _, err := fw.Write(wf.PCM); err != nil {
		return nil, fmt.Errorf("write multipart: %w", err)
	}

	if hint = strings.ToLower(strings.TrimSpace(hint)); hint != "" && hint != "en" {
		if err := mw.WriteField("lang", hint); err != nil {
			return nil, fmt.Errorf("write lang field: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", c.config.URL, &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var result transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if strings.TrimSpace(result.Transcript) == "" {
		return nil, errors.New("empty transcript")
	}
	result.Transcript = strings.TrimSpace(result.Transcript)

	return &result, nil
}

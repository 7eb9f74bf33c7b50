// Package vad provides a client for the remote voice-activity-detection
// service. The gate fails closed: any probe failure reads as "no speech".
package vad

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/holoboxlabs/voicebridge/internal/httpc"
	"github.com/holoboxlabs/voicebridge/pkg/transcode"
)

// Config holds gate configuration.
type Config struct {
	// URL is the VAD endpoint.
	URL string

	// Timeout bounds one probe.
	Timeout time.Duration

	// Observability
	Logger *slog.Logger
}

// Option is a functional option for configuring the gate.
type Option func(*Config)

// WithURL sets the VAD endpoint.
func WithURL(url string) Option {
	return func(c *Config) { c.URL = url }
}

// WithTimeout bounds a single probe.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		URL:     "http://127.0.0.1:8002/vad",
		Timeout: 5 * time.Second,
		Logger:  slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Gate decides whether a waveform contains speech.
type Gate struct {
	config *Config
	client *http.Client
	logger *slog.Logger

	// Stats
	probes   atomic.Uint64
	failures atomic.Uint64
}

// New creates a new speech-activity gate.
func New(opts ...Option) *Gate {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	return &Gate{
		config: cfg,
		client: httpc.NewClient(cfg.Timeout),
		logger: cfg.Logger.With("component", "vad"),
	}
}

// vadResponse is the remote service response shape.
type vadResponse struct {
	SpeechTimestamps []json.RawMessage `json:"speech_timestamps"`
}

// HasSpeech returns true if the waveform contains detected speech.
// A single probe is made; on any failure the result is false and the
// failure is logged and counted. Silence and failure are indistinguishable
// to callers on purpose.
func (g *Gate) HasSpeech(ctx context.Context, wf *transcode.Waveform) bool {
	g.probes.Add(1)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("audio", "audio.wav")
	if err != nil {
		return g.fail("build multipart", err)
	}
	if _, err := fw.Write(wf.PCM); err != nil {
		return g.fail("write multipart", err)
	}
	if err := mw.Close(); err != nil {
		return g.fail("close multipart", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", g.config.URL, &body)
	if err != nil {
		return g.fail("create request", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return g.fail("probe", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		g.failures.Add(1)
		g.logger.Warn("vad probe rejected, treating as no speech",
			"status", resp.StatusCode,
		)
		return false
	}

	var result vadResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return g.fail("decode response", err)
	}

	hasSpeech := len(result.SpeechTimestamps) > 0
	g.logger.Debug("vad probe",
		"speech", hasSpeech,
		"segments", len(result.SpeechTimestamps),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return hasSpeech
}

// fail logs a probe failure and resolves the gate to "no speech".
func (g *Gate) fail(op string, err error) bool {
	g.failures.Add(1)
	g.logger.Warn("vad probe failed, treating as no speech",
		"op", op,
		"error", err,
	)
	return false
}

// Stats reports probe counters for observability.
func (g *Gate) Stats() (probes, failures uint64) {
	return g.probes.Load(), g.failures.Load()
}

// Package transcode normalizes compressed audio blobs into canonical
// mono 16kHz PCM waveforms using ffmpeg.
package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// Sentinel errors.
var (
	// ErrEmptyInput is returned when no audio bytes were provided.
	ErrEmptyInput = errors.New("transcode: empty input")
)

// Waveform is normalized PCM audio ready for speech processing.
type Waveform struct {
	// PCM contains the WAV-encoded mono PCM16 audio.
	PCM []byte

	// SampleRate in Hz.
	SampleRate int

	// Channels is 1 for mono.
	Channels int
}

// Config holds transcoder configuration.
type Config struct {
	// FFmpegBin is the ffmpeg binary to invoke.
	FFmpegBin string

	// SampleRate is the target sample rate in Hz.
	SampleRate int

	// Timeout bounds one conversion.
	Timeout time.Duration

	// Observability
	Logger *slog.Logger
}

// Option is a functional option for configuring the transcoder.
type Option func(*Config)

// WithFFmpegBin overrides the ffmpeg binary path.
func WithFFmpegBin(bin string) Option {
	return func(c *Config) { c.FFmpegBin = bin }
}

// WithSampleRate sets the target sample rate.
func WithSampleRate(rate int) Option {
	return func(c *Config) { c.SampleRate = rate }
}

// WithTimeout bounds a single conversion.
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
		FFmpegBin:  "ffmpeg",
		SampleRate: 16000,
		Timeout:    10 * time.Second,
		Logger:     slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Normalizer converts compressed audio containers (webm, ogg, mp4) into
// mono 16kHz WAV via ffmpeg.
type Normalizer struct {
	config *Config
	logger *slog.Logger
}

// New creates a new Normalizer.
func New(opts ...Option) *Normalizer {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	return &Normalizer{
		config: cfg,
		logger: cfg.Logger.With("component", "transcode"),
	}
}

// Normalize converts raw compressed audio into a normalized Waveform.
// Temporary files are removed on every exit path.
func (n *Normalizer) Normalize(ctx context.Context, raw []byte) (*Waveform, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyInput
	}

	in, err := os.CreateTemp("", "voicebridge-in-*.webm")
	if err != nil {
		return nil, fmt.Errorf("transcode: create temp input: %w", err)
	}
	inPath := in.Name()
	defer os.Remove(inPath)

	if _, err := in.Write(raw); err != nil {
		in.Close()
		return nil, fmt.Errorf("transcode: write temp input: %w", err)
	}
	if err := in.Close(); err != nil {
		return nil, fmt.Errorf("transcode: close temp input: %w", err)
	}

	out, err := os.CreateTemp("", "voicebridge-out-*.wav")
	if err != nil {
		return nil, fmt.Errorf("transcode: create temp output: %w", err)
	}
	outPath := out.Name()
	out.Close()
	defer os.Remove(outPath)

	ctx, cancel := context.WithTimeout(ctx, n.config.Timeout)
	defer cancel()

	start := time.Now()

	// -y: the temp output file already exists
	cmd := exec.CommandContext(ctx, n.config.FFmpegBin,
		"-i", inPath,
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", n.config.SampleRate),
		"-f", "wav",
		"-y", outPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		n.logger.Warn("ffmpeg conversion failed",
			"error", err,
			"stderr", truncate(stderr.String(), 512),
		)
		return nil, fmt.Errorf("transcode: ffmpeg: %w", err)
	}

	pcm, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("transcode: read output: %w", err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("transcode: ffmpeg produced no output")
	}

	n.logger.Debug("normalized audio",
		"in_bytes", len(raw),
		"out_bytes", len(pcm),
		"latency_ms", time.Since(start).Milliseconds(),
	)

	return &Waveform{
		PCM:        pcm,
		SampleRate: n.config.SampleRate,
		Channels:   1,
	}, nil
}

// truncate limits a string to n bytes for logging.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package transcode

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.FFmpegBin != "ffmpeg" {
		t.Errorf("FFmpegBin = %v, want ffmpeg", cfg.FFmpegBin)
	}
	if cfg.SampleRate != 16000 {
		t.Errorf("SampleRate = %v, want 16000", cfg.SampleRate)
	}
	if cfg.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", cfg.Timeout)
	}
}

func TestFunctionalOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Apply(
		WithFFmpegBin("/opt/ffmpeg/bin/ffmpeg"),
		WithSampleRate(8000),
		WithTimeout(2*time.Second),
	)

	if cfg.FFmpegBin != "/opt/ffmpeg/bin/ffmpeg" {
		t.Errorf("FFmpegBin = %v", cfg.FFmpegBin)
	}
	if cfg.SampleRate != 8000 {
		t.Errorf("SampleRate = %v, want 8000", cfg.SampleRate)
	}
	if cfg.Timeout != 2*time.Second {
		t.Errorf("Timeout = %v, want 2s", cfg.Timeout)
	}
}

func TestNormalizeEmptyInput(t *testing.T) {
	n := New()

	_, err := n.Normalize(context.Background(), nil)
	if !errors.Is(err, ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput, got %v", err)
	}
}

func TestNormalizeMissingBinary(t *testing.T) {
	n := New(WithFFmpegBin("/nonexistent/ffmpeg"))

	_, err := n.Normalize(context.Background(), []byte("not real audio"))
	if err == nil {
		t.Fatal("expected error for missing ffmpeg binary")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("0123456789abcdef", 10); got != "0123456789..." {
		t.Errorf("truncate = %q", got)
	}
}

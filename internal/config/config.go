// Package config provides environment-based configuration for voicebridge.
package config

import (
	"os"
	"strconv"
	"time"
)

// Defaults for the service and its collaborators.
const (
	DefaultPort          = "8001"
	DefaultVADURL        = "http://127.0.0.1:8002/vad"
	DefaultSTTURL        = "http://127.0.0.1:8002/transcribe"
	DefaultLLMURL        = "http://127.0.0.1:8003/v1"
	DefaultLLMModel      = "Qwen/Qwen2.5-14B-Instruct-AWQ"
	DefaultSupportedLang = "en"
	DefaultWindowTurns   = 4
	DefaultTTSTransport  = "http"
	DefaultFFmpegBin     = "ffmpeg"
)

// Config holds the process-level configuration, read from the environment.
type Config struct {
	// Server
	Port     string
	LogLevel string

	// Collaborator endpoints
	VADURL   string
	STTURL   string
	LLMURL   string
	LLMModel string

	// Synthesis
	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string
	TTSTransport      string // "http" or "ws"

	// Pipeline behavior
	SupportedLang string
	WindowTurns   int
	SettleDelay   time.Duration
	FFmpegBin     string
}

// Load reads configuration from the environment, applying defaults.
func Load() *Config {
	return &Config{
		Port:              getenv("PORT", DefaultPort),
		LogLevel:          getenv("LOG_LEVEL", "info"),
		VADURL:            getenv("VAD_URL", DefaultVADURL),
		STTURL:            getenv("STT_URL", DefaultSTTURL),
		LLMURL:            getenv("LLM_URL", DefaultLLMURL),
		LLMModel:          getenv("LLM_MODEL", DefaultLLMModel),
		ElevenLabsAPIKey:  os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsVoiceID: os.Getenv("ELEVENLABS_VOICE_ID"),
		TTSTransport:      getenv("TTS_TRANSPORT", DefaultTTSTransport),
		SupportedLang:     getenv("SUPPORTED_LANG", DefaultSupportedLang),
		WindowTurns:       getenvInt("WINDOW_TURNS", DefaultWindowTurns),
		SettleDelay:       getenvDuration("SETTLE_DELAY", 1850*time.Millisecond),
		FFmpegBin:         getenv("FFMPEG_BIN", DefaultFFmpegBin),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			return d
		}
	}
	return fallback
}

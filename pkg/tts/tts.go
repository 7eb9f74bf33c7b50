// Package tts converts reply text to speech audio.
//
// Two ElevenLabs transports are provided: a chunked HTTP stream (the
// default) and a WebSocket stream-input connection. Both implement the
// Provider interface so callers can switch transports without code changes.
//
// Example usage:
//
//	provider, _ := tts.NewElevenLabs(
//	    tts.WithAPIKey(os.Getenv("ELEVENLABS_API_KEY")),
//	    tts.WithVoice("your-voice-id"),
//	)
//	defer provider.Close()
//
//	stream, _ := provider.Stream(ctx, "Hello world")
//	for chunk, _ := stream.Read(); chunk != nil; chunk, _ = stream.Read() {
//	    // relay chunk
//	}
package tts

import (
	"context"
	"time"
)

// Provider defines the TTS provider interface.
type Provider interface {
	// Synthesize converts text to audio, returning the complete audio buffer.
	Synthesize(ctx context.Context, text string) (*AudioResult, error)

	// Stream converts text to audio with streaming output for lowest latency.
	// Audio chunks are returned as they become available.
	Stream(ctx context.Context, text string) (AudioStream, error)

	// Health checks provider connectivity and API key validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// AudioStream represents a streaming audio response.
// Callers should read until Read returns nil, then call Close.
type AudioStream interface {
	// Read returns the next audio chunk.
	// Returns nil when the stream is complete (not an error).
	Read() ([]byte, error)

	// Close stops the stream and releases resources.
	Close() error

	// Format returns the audio format metadata.
	Format() AudioFormat
}

// AudioResult represents a complete audio synthesis result.
type AudioResult struct {
	// Audio contains the raw audio data in the specified format.
	Audio []byte

	// Format describes the audio encoding.
	Format AudioFormat

	// Duration is the estimated audio playback duration.
	Duration time.Duration

	// CharCount is the number of characters synthesized.
	CharCount int

	// LatencyMs is the time to first byte in milliseconds.
	LatencyMs int64
}

// AudioFormat describes the audio encoding parameters.
type AudioFormat struct {
	// Encoding specifies the container/codec requested from the provider.
	Encoding Encoding

	// SampleRate in Hz.
	SampleRate int

	// Channels is 1 for mono, 2 for stereo.
	Channels int
}

// Encoding represents audio output types.
type Encoding string

const (
	// EncodingWAV is a WAV container, what browser clients play directly.
	EncodingWAV Encoding = "wav"

	// EncodingMP3 is MP3 128kbps.
	EncodingMP3 Encoding = "mp3_44100_128"

	// EncodingPCM16 is raw 16kHz mono PCM16.
	EncodingPCM16 Encoding = "pcm_16000"
)

// MIME returns the Accept header value for the encoding.
func (e Encoding) MIME() string {
	switch e {
	case EncodingWAV:
		return "audio/wav"
	case EncodingMP3:
		return "audio/mpeg"
	case EncodingPCM16:
		return "audio/pcm"
	default:
		return "audio/wav"
	}
}

// VoiceSettings controls voice characteristics.
type VoiceSettings struct {
	// Speed is the playback speed multiplier (1.0 is natural pace).
	Speed float64

	// Stability controls voice consistency (0.0-1.0).
	// Lower values = more expressive/variable, higher = more consistent.
	Stability float64

	// SimilarityBoost controls how closely the voice matches the original
	// voice sample (0.0-1.0).
	SimilarityBoost float64
}

// DefaultVoiceSettings returns the settings tuned for showroom announcements:
// slightly fast, maximally consistent delivery.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{
		Speed:           1.2,
		Stability:       1.0,
		SimilarityBoost: 1.0,
	}
}

// estimateDuration estimates WAV/PCM16 playback duration from byte count.
func estimateDuration(byteCount, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := byteCount / 2
	seconds := float64(samples) / float64(sampleRate)
	return time.Duration(seconds * float64(time.Second))
}

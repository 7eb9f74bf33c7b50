package tts

import (
	"context"
	"sync"
	"time"
)

// Mock implements Provider for testing.
// All methods can be customized via function fields.
type Mock struct {
	// SynthesizeFunc is called when Synthesize is invoked.
	// If nil, returns silent audio proportional to the text length.
	SynthesizeFunc func(ctx context.Context, text string) (*AudioResult, error)

	// StreamFunc is called when Stream is invoked.
	// If nil, the Synthesize result is served as a single-chunk stream.
	StreamFunc func(ctx context.Context, text string) (AudioStream, error)

	// HealthFunc is called when Health is invoked.
	// If nil, returns nil (healthy).
	HealthFunc func(ctx context.Context) error

	// CloseFunc is called when Close is invoked.
	// If nil, returns nil.
	CloseFunc func() error

	// Tracking
	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a method invocation for verification.
type MockCall struct {
	Method string
	Text   string
	Time   time.Time
}

// NewMock creates a new mock provider with sensible defaults.
func NewMock() *Mock {
	return &Mock{
		SynthesizeFunc: func(ctx context.Context, text string) (*AudioResult, error) {
			// Silent WAV-sized audio, ~20ms per character
			silence := make([]byte, len(text)*960)
			return &AudioResult{
				Audio:     silence,
				Format:    AudioFormat{Encoding: EncodingWAV, SampleRate: 44100, Channels: 1},
				CharCount: len(text),
				LatencyMs: 10,
				Duration:  time.Duration(len(text)) * 20 * time.Millisecond,
			}, nil
		},
		HealthFunc: func(ctx context.Context) error {
			return nil
		},
	}
}

// Synthesize calls SynthesizeFunc and records the call.
func (m *Mock) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	m.recordCall("Synthesize", text)
	if m.SynthesizeFunc != nil {
		return m.SynthesizeFunc(ctx, text)
	}
	return nil, WrapError("mock", ErrProviderUnavailable)
}

// Stream calls StreamFunc and records the call.
func (m *Mock) Stream(ctx context.Context, text string) (AudioStream, error) {
	m.recordCall("Stream", text)
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, text)
	}
	if m.SynthesizeFunc != nil {
		result, err := m.SynthesizeFunc(ctx, text)
		if err != nil {
			return nil, err
		}
		return &BufferStream{Data: result.Audio, AudioFormat: result.Format}, nil
	}
	return nil, WrapError("mock", ErrProviderUnavailable)
}

// Health calls HealthFunc and records the call.
func (m *Mock) Health(ctx context.Context) error {
	m.recordCall("Health", "")
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

// Close calls CloseFunc and records the call.
func (m *Mock) Close() error {
	m.recordCall("Close", "")
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// recordCall adds a call to the tracking list.
func (m *Mock) recordCall(method, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{
		Method: method,
		Text:   text,
		Time:   time.Now(),
	})
}

// Calls returns all recorded method calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// Reset clears all recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// WithError returns a mock that always returns the given error.
func WithError(err error) *Mock {
	return &Mock{
		SynthesizeFunc: func(ctx context.Context, text string) (*AudioResult, error) {
			return nil, err
		},
		StreamFunc: func(ctx context.Context, text string) (AudioStream, error) {
			return nil, err
		},
		HealthFunc: func(ctx context.Context) error {
			return err
		},
	}
}

// BufferStream serves a fixed buffer as an AudioStream in ChunkSize pieces.
// Useful for tests and for replaying synthesized audio.
type BufferStream struct {
	Data        []byte
	AudioFormat AudioFormat

	// ChunkSize is the maximum bytes per Read. Defaults to 4096.
	ChunkSize int

	offset int
}

// Read returns the next chunk, or nil when exhausted.
func (s *BufferStream) Read() ([]byte, error) {
	if s.offset >= len(s.Data) {
		return nil, nil
	}
	size := s.ChunkSize
	if size <= 0 {
		size = 4096
	}
	end := s.offset + size
	if end > len(s.Data) {
		end = len(s.Data)
	}
	chunk := s.Data[s.offset:end]
	s.offset = end
	return chunk, nil
}

// Close is a no-op.
func (s *BufferStream) Close() error {
	return nil
}

// Format returns the audio format.
func (s *BufferStream) Format() AudioFormat {
	return s.AudioFormat
}

// Verify implementations at compile time.
var (
	_ Provider    = (*Mock)(nil)
	_ AudioStream = (*BufferStream)(nil)
)

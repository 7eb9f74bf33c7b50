package tts

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	elevenLabsWSBaseURL  = "wss://api.elevenlabs.io/v1/text-to-speech"
	providerElevenLabsWS = "elevenlabs_ws"
	wsHandshakeTimeout   = 10 * time.Second
)

// ElevenLabsWS implements Provider over the stream-input WebSocket API.
// Each Stream call opens one connection, sends the full text, and reads
// audio frames until the final frame.
type ElevenLabsWS struct {
	config  *Config
	logger  *slog.Logger
	baseURL string
	http    *http.Client
}

// NewElevenLabsWS creates a new WebSocket-based ElevenLabs TTS provider.
func NewElevenLabsWS(opts ...Option) (*ElevenLabsWS, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = elevenLabsWSBaseURL
	}

	return &ElevenLabsWS{
		config:  cfg,
		logger:  cfg.Logger.With("component", "tts.elevenlabs_ws"),
		baseURL: baseURL,
		http:    &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Stream opens a stream-input connection, sends the text and relays audio
// frames as they arrive.
func (e *ElevenLabsWS) Stream(ctx context.Context, text string) (AudioStream, error) {
	url := fmt.Sprintf("%s/%s/stream-input?model_id=%s&output_format=%s",
		e.baseURL, e.config.VoiceID, e.config.ModelID, e.apiOutputFormat())

	headers := http.Header{}
	headers.Set("xi-api-key", e.config.APIKey)

	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, url, headers)
	if err != nil {
		if resp != nil {
			return nil, WrapError(providerElevenLabsWS,
				fmt.Errorf("dial (status %d): %w", resp.StatusCode, err))
		}
		return nil, WrapError(providerElevenLabsWS, fmt.Errorf("dial: %w", err))
	}

	conn.SetReadDeadline(time.Now().Add(e.config.StreamTimeout))

	// BOS initializes the voice, then the full text, then EOS flushes.
	bos := map[string]interface{}{
		"text": " ",
		"voice_settings": map[string]interface{}{
			"speed":            e.config.VoiceSettings.Speed,
			"stability":        e.config.VoiceSettings.Stability,
			"similarity_boost": e.config.VoiceSettings.SimilarityBoost,
		},
		"generation_config": map[string]interface{}{
			"chunk_length_schedule": []int{120, 160, 250, 290},
		},
	}
	for _, msg := range []map[string]interface{}{
		bos,
		{"text": text + " ", "try_trigger_generation": true},
		{"text": ""},
	} {
		if err := conn.WriteJSON(msg); err != nil {
			conn.Close()
			return nil, WrapError(providerElevenLabsWS, fmt.Errorf("send: %w", err))
		}
	}

	stream := &wsStream{
		conn:   conn,
		chunks: make(chan []byte, 16),
		done:   make(chan struct{}),
		format: e.outputFormat(),
	}
	go stream.readLoop(e.logger)

	return stream, nil
}

// Synthesize streams the text and concatenates the audio frames.
func (e *ElevenLabsWS) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	start := time.Now()

	stream, err := e.Stream(ctx, text)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var audio []byte
	for {
		chunk, err := stream.Read()
		if err != nil {
			return nil, err
		}
		if chunk == nil {
			break
		}
		audio = append(audio, chunk...)
	}

	return &AudioResult{
		Audio:     audio,
		Format:    stream.Format(),
		CharCount: len(text),
		LatencyMs: time.Since(start).Milliseconds(),
		Duration:  estimateDuration(len(audio), stream.Format().SampleRate),
	}, nil
}

// Health checks API connectivity and API key validity over plain HTTP.
func (e *ElevenLabsWS) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", elevenLabsBaseURL+"/user", nil)
	if err != nil {
		return WrapError(providerElevenLabsWS, err)
	}
	req.Header.Set("xi-api-key", e.config.APIKey)

	resp, err := e.http.Do(req)
	if err != nil {
		return WrapError(providerElevenLabsWS, fmt.Errorf("health check: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Provider: providerElevenLabsWS}
	}
	return nil
}

// Close releases resources held by the provider.
func (e *ElevenLabsWS) Close() error {
	e.http.CloseIdleConnections()
	return nil
}

// apiOutputFormat maps the configured encoding to a stream-input
// output_format value. The WebSocket API only speaks raw PCM and ulaw, so
// WAV falls back to PCM at the same rate.
func (e *ElevenLabsWS) apiOutputFormat() string {
	switch e.config.OutputFormat {
	case EncodingPCM16:
		return "pcm_16000"
	default:
		return "pcm_44100"
	}
}

// outputFormat returns the audio format configuration.
func (e *ElevenLabsWS) outputFormat() AudioFormat {
	format := AudioFormat{Encoding: e.config.OutputFormat, SampleRate: 44100, Channels: 1}
	if e.config.OutputFormat == EncodingPCM16 {
		format.SampleRate = 16000
	}
	return format
}

// wsStream adapts stream-input audio frames to AudioStream.
type wsStream struct {
	conn   *websocket.Conn
	chunks chan []byte
	done   chan struct{}
	format AudioFormat

	mu     sync.Mutex
	err    error
	closed bool
}

// readLoop reads frames until the final frame, the deadline, or an error.
func (s *wsStream) readLoop(logger *slog.Logger) {
	defer close(s.chunks)
	defer s.conn.Close()

	for {
		var frame struct {
			Audio   string `json:"audio"`
			IsFinal bool   `json:"isFinal"`
		}
		if err := s.conn.ReadJSON(&frame); err != nil {
			if !s.isClosed() && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.setErr(WrapError(providerElevenLabsWS, fmt.Errorf("read: %w", err)))
			}
			return
		}

		if frame.Audio != "" {
			audio, err := base64.StdEncoding.DecodeString(frame.Audio)
			if err != nil {
				logger.Warn("dropping undecodable audio frame", "error", err)
				continue
			}
			select {
			case s.chunks <- audio:
			case <-s.done:
				return
			}
		}

		if frame.IsFinal {
			return
		}
	}
}

// Read returns the next audio chunk, or nil when the stream is complete.
func (s *wsStream) Read() ([]byte, error) {
	chunk, ok := <-s.chunks
	if !ok {
		return nil, s.getErr()
	}
	return chunk, nil
}

// Close stops the stream and releases resources.
func (s *wsStream) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	s.mu.Unlock()
	return s.conn.Close()
}

// Format returns the audio format.
func (s *wsStream) Format() AudioFormat {
	return s.format
}

func (s *wsStream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *wsStream) getErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *wsStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Verify ElevenLabsWS implements Provider at compile time.
var _ Provider = (*ElevenLabsWS)(nil)

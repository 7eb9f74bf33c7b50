// Package pipeline drives one recorded utterance through the full voice
// loop: normalize, speech gate, transcription, completion, synthesis,
// delivery.
//
// A Pipeline is stateless between utterances except for the conversation
// store. Callers serialize utterances per session through the session
// admission gate; distinct sessions may run concurrently.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/holoboxlabs/voicebridge/pkg/convo"
	"github.com/holoboxlabs/voicebridge/pkg/llm"
	"github.com/holoboxlabs/voicebridge/pkg/protocol"
	"github.com/holoboxlabs/voicebridge/pkg/session"
	"github.com/holoboxlabs/voicebridge/pkg/stt"
	"github.com/holoboxlabs/voicebridge/pkg/transcode"
	"github.com/holoboxlabs/voicebridge/pkg/tts"
)

// Normalizer converts raw uploaded audio to the canonical waveform.
type Normalizer interface {
	Normalize(ctx context.Context, raw []byte) (*transcode.Waveform, error)
}

// SpeechGate decides whether a waveform contains speech.
type SpeechGate interface {
	HasSpeech(ctx context.Context, wf *transcode.Waveform) bool
}

// Transcriber turns a waveform into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wf *transcode.Waveform, hint string) (*stt.Result, error)
}

// Completer generates the assistant reply.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message) (*llm.Result, error)
}

// Sink delivers protocol messages to a session. Implementations report
// session.ErrGone when the client has disconnected.
type Sink interface {
	Send(sessionID string, msg *protocol.Message) error
}

// Event is a stage notification for observers such as the monitor hub.
type Event struct {
	SessionID string    `json:"session_id"`
	JobID     string    `json:"job_id"`
	Stage     string    `json:"stage"`
	Detail    string    `json:"detail,omitempty"`
	Time      time.Time `json:"time"`
}

// Notifier receives stage events. Implementations must not block.
type Notifier interface {
	Notify(event Event)
}

// Config holds pipeline configuration.
type Config struct {
	// SupportedLang is the only language synthesized aloud. Replies in
	// other detected languages are delivered as text only.
	SupportedLang string

	// SystemPrompt overrides the default completion framing when set.
	SystemPrompt string

	// SettleDelay holds the session busy after audio delivery so the
	// client finishes playback before the next utterance is admitted.
	SettleDelay time.Duration

	// Per-stage deadlines.
	NormalizeTimeout  time.Duration
	GateTimeout       time.Duration
	TranscribeTimeout time.Duration
	CompleteTimeout   time.Duration
	SynthesizeTimeout time.Duration

	// Observability
	Logger *slog.Logger
}

// Option is a functional option for configuring the pipeline.
type Option func(*Config)

// WithSupportedLang sets the language synthesized aloud.
func WithSupportedLang(lang string) Option {
	return func(c *Config) { c.SupportedLang = lang }
}

// WithSystemPrompt overrides the completion system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(c *Config) { c.SystemPrompt = prompt }
}

// WithSettleDelay sets the post-playback settle delay.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Config) { c.SettleDelay = d }
}

// WithStageTimeouts sets the per-stage deadlines.
func WithStageTimeouts(normalize, gate, transcribe, complete, synthesize time.Duration) Option {
	return func(c *Config) {
		c.NormalizeTimeout = normalize
		c.GateTimeout = gate
		c.TranscribeTimeout = transcribe
		c.CompleteTimeout = complete
		c.SynthesizeTimeout = synthesize
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SupportedLang:     "en",
		SettleDelay:       1850 * time.Millisecond,
		NormalizeTimeout:  10 * time.Second,
		GateTimeout:       5 * time.Second,
		TranscribeTimeout: 35 * time.Second,
		CompleteTimeout:   15 * time.Second,
		SynthesizeTimeout: 60 * time.Second,
		Logger:            slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Deps are the stage implementations the pipeline drives.
type Deps struct {
	Normalizer  Normalizer
	Gate        SpeechGate
	Transcriber Transcriber
	Completer   Completer
	Synthesizer tts.Provider
	Convo       *convo.Store
	Sink        Sink

	// Notifier is optional.
	Notifier Notifier
}

// Request is one utterance to process.
type Request struct {
	SessionID string
	JobID     string // assigned when empty
	Audio     []byte // raw recorded audio as uploaded
	Lang      string // client language hint, may be empty
}

// Pipeline orchestrates the stages for one utterance at a time per session.
type Pipeline struct {
	deps   Deps
	config *Config
	logger *slog.Logger
}

// New creates a pipeline.
func New(deps Deps, opts ...Option) *Pipeline {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	return &Pipeline{
		deps:   deps,
		config: cfg,
		logger: cfg.Logger.With("component", "pipeline"),
	}
}

// Run processes one utterance end to end. Every run delivers exactly one
// terminal result message unless the session disconnects first, in which
// case the remaining work is dropped and ErrSessionGone is returned.
func (p *Pipeline) Run(ctx context.Context, req Request) error {
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}

	logger := p.logger.With("session", req.SessionID, "job", req.JobID)
	start := time.Now()

	p.notify(req, StageNormalize, "started")

	wf, err := p.normalize(ctx, req.Audio)
	if err != nil {
		logger.Warn("normalize failed", "error", err)
		return p.deliverError(req, StageNormalize, "could not decode audio")
	}

	if !p.gate(ctx, wf) {
		logger.Info("no speech detected", "bytes", len(req.Audio))
		p.notify(req, StageSpeechGate, "no speech")
		return p.deliverError(req, StageSpeechGate, "no speech detected")
	}

	transcription, err := p.transcribe(ctx, wf, req.Lang)
	if err != nil {
		logger.Warn("transcription failed", "error", err)
		return p.deliverError(req, StageTranscribe, "could not transcribe audio")
	}
	p.notify(req, StageTranscribe, transcription.Text)

	// The window is loaded before the completion so a concurrent session
	// cannot leak turns into this request.
	query := llm.ReformatDecimals(transcription.Text)
	window := p.deps.Convo.Window(req.SessionID)
	messages := llm.BuildMessages(p.config.SystemPrompt, window, query)

	answer, err := p.complete(ctx, messages)
	if err != nil {
		logger.Warn("completion failed", "error", err)
		return p.deliverError(req, StageComplete, "could not generate an answer")
	}

	// History only records successful exchanges.
	p.deps.Convo.Append(req.SessionID, transcription.Text, answer.Text)
	p.notify(req, StageComplete, answer.Text)

	if !p.shouldSynthesize(transcription.Language, answer.Text) {
		logger.Info("synthesis skipped",
			"language", transcription.Language,
			"chars", len(answer.Text),
		)
		p.notify(req, StageSynthesize, "skipped")
		return p.deliverResult(req, transcription.Text, answer.Text, nil)
	}

	audio, err := p.synthesize(ctx, req, answer.Text)
	if err != nil {
		if errors.Is(err, session.ErrGone) {
			logger.Info("session gone during synthesis")
			return ErrSessionGone
		}
		logger.Warn("synthesis failed", "error", err)
		return p.deliverError(req, StageSynthesize, "could not synthesize audio")
	}
	p.notify(req, StageSynthesize, "done")

	if err := p.deliverResult(req, transcription.Text, answer.Text, audio); err != nil {
		return err
	}

	logger.Info("utterance processed",
		"transcript_chars", len(transcription.Text),
		"answer_chars", len(answer.Text),
		"audio_bytes", len(audio),
		"latency_ms", time.Since(start).Milliseconds(),
	)

	// Hold the session busy while the client plays the reply.
	p.settle(ctx)
	return nil
}

// normalize runs the transcode stage under its deadline.
func (p *Pipeline) normalize(ctx context.Context, raw []byte) (*transcode.Waveform, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.NormalizeTimeout)
	defer cancel()
	wf, err := p.deps.Normalizer.Normalize(ctx, raw)
	return wf, failStage(StageNormalize, err)
}

// gate runs the speech-activity check under its deadline.
func (p *Pipeline) gate(ctx context.Context, wf *transcode.Waveform) bool {
	ctx, cancel := context.WithTimeout(ctx, p.config.GateTimeout)
	defer cancel()
	return p.deps.Gate.HasSpeech(ctx, wf)
}

// transcribe runs the transcription stage under its deadline.
func (p *Pipeline) transcribe(ctx context.Context, wf *transcode.Waveform, hint string) (*stt.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.TranscribeTimeout)
	defer cancel()
	result, err := p.deps.Transcriber.Transcribe(ctx, wf, hint)
	return result, failStage(StageTranscribe, err)
}

// complete runs the completion stage under its deadline.
func (p *Pipeline) complete(ctx context.Context, messages []llm.Message) (*llm.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.CompleteTimeout)
	defer cancel()
	result, err := p.deps.Completer.Complete(ctx, messages)
	return result, failStage(StageComplete, err)
}

// shouldSynthesize decides whether the reply gets spoken audio. Replies in
// a language other than the supported one, and empty replies, are text
// only.
func (p *Pipeline) shouldSynthesize(language, answer string) bool {
	if answer == "" {
		return false
	}
	return language == "" || language == p.config.SupportedLang
}

// synthesize streams reply audio to the client chunk by chunk and returns
// the consolidated audio for the terminal result.
func (p *Pipeline) synthesize(ctx context.Context, req Request, text string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.SynthesizeTimeout)
	defer cancel()

	stream, err := p.deps.Synthesizer.Stream(ctx, text)
	if err != nil {
		return nil, failStage(StageSynthesize, err)
	}
	defer stream.Close()

	var audio []byte
	seq := 0
	for {
		chunk, err := stream.Read()
		if err != nil {
			return nil, failStage(StageSynthesize, err)
		}
		if chunk == nil {
			break
		}

		seq++
		msg, err := protocol.NewAudioChunkMessage(req.JobID, seq, chunk)
		if err != nil {
			return nil, failStage(StageSynthesize, err)
		}
		if err := p.deps.Sink.Send(req.SessionID, msg); err != nil {
			return nil, err
		}
		audio = append(audio, chunk...)
	}

	end, err := protocol.NewAudioEndMessage(req.JobID, seq)
	if err != nil {
		return nil, failStage(StageSynthesize, err)
	}
	if err := p.deps.Sink.Send(req.SessionID, end); err != nil {
		return nil, err
	}

	return audio, nil
}

// deliverResult sends the terminal success result.
func (p *Pipeline) deliverResult(req Request, transcript, answer string, audio []byte) error {
	msg, err := protocol.NewResultMessage(transcript, answer, audio)
	if err != nil {
		return failStage(StageDeliver, err)
	}
	if err := p.deps.Sink.Send(req.SessionID, msg); err != nil {
		if errors.Is(err, session.ErrGone) {
			return ErrSessionGone
		}
		return failStage(StageDeliver, err)
	}
	p.notify(req, StageDeliver, "result")
	return nil
}

// deliverError sends the terminal error result.
func (p *Pipeline) deliverError(req Request, stage, message string) error {
	msg, err := protocol.NewErrorResultMessage(stage, message)
	if err != nil {
		return failStage(StageDeliver, err)
	}
	if err := p.deps.Sink.Send(req.SessionID, msg); err != nil {
		if errors.Is(err, session.ErrGone) {
			return ErrSessionGone
		}
		return failStage(StageDeliver, err)
	}
	p.notify(req, StageDeliver, "error:"+stage)
	if stage == StageSpeechGate {
		return ErrNoSpeech
	}
	return nil
}

// settle sleeps the playback settle delay, respecting cancellation.
func (p *Pipeline) settle(ctx context.Context) {
	if p.config.SettleDelay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(p.config.SettleDelay):
	}
}

// notify emits a stage event when a notifier is configured.
func (p *Pipeline) notify(req Request, stage, detail string) {
	if p.deps.Notifier == nil {
		return
	}
	p.deps.Notifier.Notify(Event{
		SessionID: req.SessionID,
		JobID:     req.JobID,
		Stage:     stage,
		Detail:    detail,
		Time:      time.Now(),
	})
}

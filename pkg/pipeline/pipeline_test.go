package pipeline

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/holoboxlabs/voicebridge/pkg/convo"
	"github.com/holoboxlabs/voicebridge/pkg/llm"
	"github.com/holoboxlabs/voicebridge/pkg/protocol"
	"github.com/holoboxlabs/voicebridge/pkg/session"
	"github.com/holoboxlabs/voicebridge/pkg/stt"
	"github.com/holoboxlabs/voicebridge/pkg/transcode"
	"github.com/holoboxlabs/voicebridge/pkg/tts"
)

type fakeNormalizer struct {
	err   error
	calls int
}

func (f *fakeNormalizer) Normalize(ctx context.Context, raw []byte) (*transcode.Waveform, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &transcode.Waveform{PCM: []byte("pcm"), SampleRate: 16000, Channels: 1}, nil
}

type fakeGate struct {
	speech bool
	calls  int
}

func (f *fakeGate) HasSpeech(ctx context.Context, wf *transcode.Waveform) bool {
	f.calls++
	return f.speech
}

type fakeTranscriber struct {
	text  string
	lang  string
	err   error
	calls int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, wf *transcode.Waveform, hint string) (*stt.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &stt.Result{Text: f.text, Language: f.lang, Attempts: 1}, nil
}

type fakeCompleter struct {
	answer   string
	err      error
	calls    int
	messages []llm.Message
}

func (f *fakeCompleter) Complete(ctx context.Context, messages []llm.Message) (*llm.Result, error) {
	f.calls++
	f.messages = messages
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Result{Text: f.answer}, nil
}

type fakeSink struct {
	mu       sync.Mutex
	messages []*protocol.Message

	// failAfter makes Send return session.ErrGone once this many sends
	// have succeeded. Negative means never fail.
	failAfter int
}

func newFakeSink() *fakeSink {
	return &fakeSink{failAfter: -1}
}

func (f *fakeSink) Send(sessionID string, msg *protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAfter >= 0 && len(f.messages) >= f.failAfter {
		return session.ErrGone
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeSink) byType(t protocol.MessageType) []*protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*protocol.Message
	for _, m := range f.messages {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

type deliveredResult struct {
	data *protocol.ResultData
}

func (f *fakeSink) terminalResult(t *testing.T) *deliveredResult {
	t.Helper()
	results := f.byType(protocol.TypeResult)
	if len(results) != 1 {
		t.Fatalf("terminal results = %d, want exactly 1", len(results))
	}
	data, err := results[0].GetResultData()
	if err != nil {
		t.Fatalf("GetResultData: %v", err)
	}
	return &deliveredResult{data: data}
}

type testEnv struct {
	normalizer  *fakeNormalizer
	gate        *fakeGate
	transcriber *fakeTranscriber
	completer   *fakeCompleter
	synth       *tts.Mock
	store       *convo.Store
	sink        *fakeSink
	pipeline    *Pipeline
}

func newTestEnv(opts ...Option) *testEnv {
	env := &testEnv{
		normalizer:  &fakeNormalizer{},
		gate:        &fakeGate{speech: true},
		transcriber: &fakeTranscriber{text: "what is the rent", lang: "en"},
		completer:   &fakeCompleter{answer: "The rent is 900 euros."},
		synth:       tts.NewMock(),
		store:       convo.New(4),
		sink:        newFakeSink(),
	}
	env.synth.StreamFunc = func(ctx context.Context, text string) (tts.AudioStream, error) {
		return &tts.BufferStream{Data: bytes.Repeat([]byte{0xA0}, 10), ChunkSize: 4}, nil
	}

	opts = append([]Option{WithSettleDelay(0)}, opts...)
	env.pipeline = New(Deps{
		Normalizer:  env.normalizer,
		Gate:        env.gate,
		Transcriber: env.transcriber,
		Completer:   env.completer,
		Synthesizer: env.synth,
		Convo:       env.store,
		Sink:        env.sink,
	}, opts...)
	return env
}

func (env *testEnv) run(t *testing.T) error {
	t.Helper()
	return env.pipeline.Run(context.Background(), Request{
		SessionID: "s1",
		Audio:     []byte("webm-audio"),
		Lang:      "en",
	})
}

func TestRunSuccess(t *testing.T) {
	env := newTestEnv()
	if err := env.run(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Chunks relayed in order with increasing seq
	chunks := env.sink.byType(protocol.TypeAudioChunk)
	if len(chunks) != 3 {
		t.Fatalf("chunk messages = %d, want 3", len(chunks))
	}
	var streamed []byte
	for i, m := range chunks {
		data, err := m.GetAudioChunkData()
		if err != nil {
			t.Fatalf("GetAudioChunkData: %v", err)
		}
		if data.Seq != i+1 {
			t.Errorf("chunk %d seq = %d, want %d", i, data.Seq, i+1)
		}
		chunk, _ := data.DecodeChunk()
		streamed = append(streamed, chunk...)
	}

	// End marker carries the last seq and follows every chunk
	ends := env.sink.byType(protocol.TypeAudioEnd)
	if len(ends) != 1 {
		t.Fatalf("end markers = %d, want 1", len(ends))
	}
	endData, _ := ends[0].GetAudioEndData()
	if endData.Seq != 3 {
		t.Errorf("end seq = %d, want 3", endData.Seq)
	}

	result := env.sink.terminalResult(t)
	if result.data.Error != nil {
		t.Fatalf("unexpected error result: %+v", result.data.Error)
	}
	if result.data.Transcript != "what is the rent" {
		t.Errorf("Transcript = %q", result.data.Transcript)
	}
	if result.data.Answer != "The rent is 900 euros." {
		t.Errorf("Answer = %q", result.data.Answer)
	}
	consolidated, _ := result.data.DecodeAudio()
	if !bytes.Equal(consolidated, streamed) {
		t.Errorf("consolidated audio (%d bytes) != streamed chunks (%d bytes)",
			len(consolidated), len(streamed))
	}

	// Terminal result must be the last message
	env.sink.mu.Lock()
	last := env.sink.messages[len(env.sink.messages)-1]
	env.sink.mu.Unlock()
	if last.Type != protocol.TypeResult {
		t.Errorf("last message type = %s, want result", last.Type)
	}

	// Exchange recorded
	window := env.store.Window("s1")
	if len(window) != 2 {
		t.Fatalf("window size = %d, want 2", len(window))
	}
	if window[1].Text != "The rent is 900 euros." {
		t.Errorf("window[1] = %q", window[1].Text)
	}
}

func TestRunNoSpeech(t *testing.T) {
	env := newTestEnv()
	env.gate.speech = false

	err := env.run(t)
	if !errors.Is(err, ErrNoSpeech) {
		t.Errorf("err = %v, want ErrNoSpeech", err)
	}

	result := env.sink.terminalResult(t)
	if result.data.Error == nil || result.data.Error.Stage != StageSpeechGate {
		t.Errorf("result error = %+v, want speech_gate stage", result.data.Error)
	}

	// Nothing downstream runs
	if env.transcriber.calls != 0 {
		t.Errorf("transcriber calls = %d, want 0", env.transcriber.calls)
	}
	if env.completer.calls != 0 {
		t.Errorf("completer calls = %d, want 0", env.completer.calls)
	}
	if env.synth.CallCount("Stream") != 0 {
		t.Errorf("synth calls = %d, want 0", env.synth.CallCount("Stream"))
	}
	if len(env.store.Window("s1")) != 0 {
		t.Error("no-speech utterance must not enter history")
	}
}

func TestRunNormalizeFailure(t *testing.T) {
	env := newTestEnv()
	env.normalizer.err = errors.New("ffmpeg exploded")

	if err := env.run(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	result := env.sink.terminalResult(t)
	if result.data.Error == nil || result.data.Error.Stage != StageNormalize {
		t.Errorf("result error = %+v, want normalize stage", result.data.Error)
	}
	if env.gate.calls != 0 {
		t.Errorf("gate calls = %d, want 0", env.gate.calls)
	}
}

func TestRunTranscriptionFailure(t *testing.T) {
	env := newTestEnv()
	env.transcriber.err = stt.ErrNoTranscript

	if err := env.run(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	result := env.sink.terminalResult(t)
	if result.data.Error == nil || result.data.Error.Stage != StageTranscribe {
		t.Errorf("result error = %+v, want transcription stage", result.data.Error)
	}
	if env.completer.calls != 0 {
		t.Errorf("completer calls = %d, want 0", env.completer.calls)
	}
	if len(env.store.Window("s1")) != 0 {
		t.Error("failed utterance must not enter history")
	}
}

func TestRunCompletionFailure(t *testing.T) {
	env := newTestEnv()
	env.completer.err = errors.New("backend down")

	if err := env.run(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	result := env.sink.terminalResult(t)
	if result.data.Error == nil || result.data.Error.Stage != StageComplete {
		t.Errorf("result error = %+v, want completion stage", result.data.Error)
	}
	if len(env.store.Window("s1")) != 0 {
		t.Error("failed completion must not enter history")
	}
	if env.synth.CallCount("Stream") != 0 {
		t.Error("synthesis must not run after completion failure")
	}
}

func TestRunSynthesisSkippedForOtherLanguage(t *testing.T) {
	env := newTestEnv()
	env.transcriber.lang = "hi"

	if err := env.run(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	result := env.sink.terminalResult(t)
	if result.data.Error != nil {
		t.Fatalf("unexpected error result: %+v", result.data.Error)
	}
	if result.data.Audio != "" {
		t.Error("expected text-only result for unsupported language")
	}
	if env.synth.CallCount("Stream") != 0 {
		t.Error("synthesis must be skipped for unsupported language")
	}
	if len(env.sink.byType(protocol.TypeAudioChunk)) != 0 {
		t.Error("no audio chunks expected when synthesis is skipped")
	}

	// The exchange still enters history
	if len(env.store.Window("s1")) != 2 {
		t.Error("skipped synthesis must still record the exchange")
	}
}

func TestRunSynthesisFailure(t *testing.T) {
	env := newTestEnv()
	env.synth.StreamFunc = func(ctx context.Context, text string) (tts.AudioStream, error) {
		return nil, errors.New("voice service down")
	}

	if err := env.run(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	result := env.sink.terminalResult(t)
	if result.data.Error == nil || result.data.Error.Stage != StageSynthesize {
		t.Errorf("result error = %+v, want synthesis stage", result.data.Error)
	}

	// The completion already succeeded, so the exchange is recorded
	if len(env.store.Window("s1")) != 2 {
		t.Error("synthesis failure must not erase the recorded exchange")
	}
}

func TestRunSessionGone(t *testing.T) {
	env := newTestEnv()
	env.sink.failAfter = 0

	err := env.run(t)
	if !errors.Is(err, ErrSessionGone) {
		t.Errorf("err = %v, want ErrSessionGone", err)
	}
	if len(env.sink.byType(protocol.TypeResult)) != 0 {
		t.Error("no terminal result should reach a gone session")
	}
}

func TestRunSessionGoneMidStream(t *testing.T) {
	env := newTestEnv()
	env.sink.failAfter = 1 // first chunk lands, then the client is gone

	err := env.run(t)
	if !errors.Is(err, ErrSessionGone) {
		t.Errorf("err = %v, want ErrSessionGone", err)
	}
	if len(env.sink.byType(protocol.TypeResult)) != 0 {
		t.Error("no terminal result should follow a mid-stream disconnect")
	}
}

func TestRunConditionsOnWindow(t *testing.T) {
	env := newTestEnv()
	env.store.Append("s1", "earlier question", "earlier answer")
	env.transcriber.text = "is it 2.5 lakh"

	if err := env.run(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	messages := env.completer.messages
	if len(messages) != 4 {
		t.Fatalf("completer got %d messages, want 4 (system + window pair + query)", len(messages))
	}
	if messages[0].Role != llm.RoleSystem {
		t.Errorf("messages[0].Role = %s", messages[0].Role)
	}
	if messages[1].Content != "earlier question" || messages[2].Content != "earlier answer" {
		t.Errorf("window not forwarded: %q, %q", messages[1].Content, messages[2].Content)
	}
	if messages[3].Content != "is it 2(5) lakh" {
		t.Errorf("query = %q, want decimal rewrite applied", messages[3].Content)
	}

	// History keeps the raw transcript, not the rewritten query
	window := env.store.Window("s1")
	if window[2].Text != "is it 2.5 lakh" {
		t.Errorf("recorded user turn = %q, want raw transcript", window[2].Text)
	}
}

func TestRunSettleDelay(t *testing.T) {
	env := newTestEnv(WithSettleDelay(30 * time.Millisecond))

	start := time.Now()
	if err := env.run(t); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("Run returned after %v, want >= 30ms settle", elapsed)
	}
}

func TestRunAssignsJobID(t *testing.T) {
	env := newTestEnv()
	if err := env.run(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	chunks := env.sink.byType(protocol.TypeAudioChunk)
	data, _ := chunks[0].GetAudioChunkData()
	if data.JobID == "" {
		t.Error("expected generated job id on chunk messages")
	}
	endData, _ := env.sink.byType(protocol.TypeAudioEnd)[0].GetAudioEndData()
	if endData.JobID != data.JobID {
		t.Errorf("end job id %q != chunk job id %q", endData.JobID, data.JobID)
	}
}

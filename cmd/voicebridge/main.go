// voicebridge is the voice interaction gateway: it accepts recorded
// utterances over WebSocket, runs them through transcription and
// completion, and streams synthesized replies back.
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/holoboxlabs/voicebridge/internal/config"
	"github.com/holoboxlabs/voicebridge/internal/log"
	"github.com/holoboxlabs/voicebridge/pkg/convo"
	"github.com/holoboxlabs/voicebridge/pkg/hub"
	"github.com/holoboxlabs/voicebridge/pkg/llm"
	"github.com/holoboxlabs/voicebridge/pkg/pipeline"
	"github.com/holoboxlabs/voicebridge/pkg/session"
	"github.com/holoboxlabs/voicebridge/pkg/stt"
	"github.com/holoboxlabs/voicebridge/pkg/transcode"
	"github.com/holoboxlabs/voicebridge/pkg/tts"
	"github.com/holoboxlabs/voicebridge/pkg/vad"
	"github.com/holoboxlabs/voicebridge/pkg/web"
)

func main() {
	godotenv.Load()

	cfg := config.Load()
	log.Init(cfg.LogLevel)
	logger := log.L()

	normalizer := transcode.New(
		transcode.WithFFmpegBin(cfg.FFmpegBin),
		transcode.WithLogger(logger),
	)

	gate := vad.New(
		vad.WithURL(cfg.VADURL),
		vad.WithLogger(logger),
	)

	transcriber := stt.New(
		stt.WithURL(cfg.STTURL),
		stt.WithLogger(logger),
	)

	completer, err := llm.New(
		llm.WithBaseURL(cfg.LLMURL),
		llm.WithModel(cfg.LLMModel),
		llm.WithLogger(logger),
	)
	if err != nil {
		log.Error("llm client", "error", err)
		os.Exit(1)
	}
	defer completer.Close()

	synthesizer, err := newSynthesizer(cfg, logger)
	if err != nil {
		log.Error("tts provider", "error", err)
		os.Exit(1)
	}
	defer synthesizer.Close()

	store := convo.New(cfg.WindowTurns)
	registry := session.NewRegistry(store.Forget)
	monitorHub := hub.New("monitor", logger)

	p := pipeline.New(pipeline.Deps{
		Normalizer:  normalizer,
		Gate:        gate,
		Transcriber: transcriber,
		Completer:   completer,
		Synthesizer: synthesizer,
		Convo:       store,
		Sink:        registry,
		Notifier:    monitorHub,
	},
		pipeline.WithSupportedLang(cfg.SupportedLang),
		pipeline.WithSettleDelay(cfg.SettleDelay),
		pipeline.WithLogger(logger),
	)

	server := web.NewServer(cfg.Port, registry, p, monitorHub, logger)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Info("shutting down")
		server.Shutdown()
	}()

	log.Info("starting voicebridge",
		"port", cfg.Port,
		"tts_transport", cfg.TTSTransport,
		"window_turns", cfg.WindowTurns,
	)
	if err := server.Start(); err != nil {
		log.Error("server", "error", err)
		os.Exit(1)
	}
}

// newSynthesizer picks the TTS transport from configuration.
func newSynthesizer(cfg *config.Config, logger *slog.Logger) (tts.Provider, error) {
	opts := []tts.Option{
		tts.WithAPIKey(cfg.ElevenLabsAPIKey),
		tts.WithVoice(cfg.ElevenLabsVoiceID),
		tts.WithLogger(logger),
	}
	if cfg.TTSTransport == "ws" {
		return tts.NewElevenLabsWS(opts...)
	}
	return tts.NewElevenLabs(opts...)
}

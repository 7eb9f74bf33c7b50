// Package web exposes the voice pipeline over HTTP and WebSocket.
//
// Clients hold one persistent WebSocket at /ws and submit recorded
// utterances over it. Monitors observe pipeline activity read-only at
// /ws/monitor.
package web

import (
	"context"
	"log/slog"
	"time"

	cws "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	mws "github.com/gofiber/websocket/v2"

	"github.com/holoboxlabs/voicebridge/pkg/hub"
	"github.com/holoboxlabs/voicebridge/pkg/pipeline"
	"github.com/holoboxlabs/voicebridge/pkg/protocol"
	"github.com/holoboxlabs/voicebridge/pkg/session"
)

// Server ties the session registry, the pipeline and the monitor hub to
// their network endpoints.
type Server struct {
	app    *fiber.App
	port   string
	logger *slog.Logger

	registry   *session.Registry
	pipeline   *pipeline.Pipeline
	monitorHub *hub.Hub

	// ctx is the parent of every pipeline run; Shutdown cancels it.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates the web server.
func NewServer(port string, registry *session.Registry, p *pipeline.Pipeline, monitorHub *hub.Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		port:       port,
		logger:     logger.With("component", "web"),
		registry:   registry,
		pipeline:   p,
		monitorHub: monitorHub,
		ctx:        ctx,
		cancel:     cancel,
	}

	app := fiber.New(fiber.Config{
		AppName:               "voicebridge",
		DisableStartupMessage: true,
		ReadBufferSize:        16 * 1024,
	})

	app.Use(cors.New())

	app.Get("/", s.handleRoot)

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)

	// Client connections
	app.Use("/ws", func(c *fiber.Ctx) error {
		if cws.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", cws.New(s.handleClient))

	// Monitor connections
	app.Get("/ws/monitor", mws.New(s.handleMonitor))

	s.app = app
	return s
}

// Start runs the hub loop and listens. It blocks until Shutdown.
func (s *Server) Start() error {
	go s.monitorHub.Run()
	s.logger.Info("listening", "port", s.port)
	return s.app.Listen(":" + s.port)
}

// Shutdown stops accepting connections, cancels running pipelines and
// ends the monitor hub loop.
func (s *Server) Shutdown() error {
	s.cancel()
	s.monitorHub.Stop()
	return s.app.Shutdown()
}

// handleRoot reports service identity.
func (s *Server) handleRoot(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": "voicebridge",
		"status":  "ok",
	})
}

// handleStatus reports live sessions and monitor counts.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"sessions": s.registry.Infos(),
		"count":    s.registry.Count(),
		"monitors": s.monitorHub.ClientCount(),
	})
}

// handleClient owns one client connection for its lifetime.
func (s *Server) handleClient(c *cws.Conn) {
	sess := s.registry.Register(c)
	logger := s.logger.With("session", sess.ID)
	logger.Info("client connected", "total", s.registry.Count())

	defer func() {
		s.registry.Unregister(sess.ID)
		logger.Info("client disconnected", "total", s.registry.Count())
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		sess.Touch()

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			logger.Warn("unparseable message", "error", err)
			continue
		}

		switch msg.Type {
		case protocol.TypeSubmitAudio:
			s.handleSubmitAudio(sess, msg, logger)

		case protocol.TypePing:
			if ping, err := msg.GetPingData(); err == nil {
				pong, err := protocol.NewPongMessage(ping.ID, msg.Timestamp, time.Now().UnixMilli())
				if err == nil {
					sess.Send(pong)
				}
			}

		default:
			logger.Warn("unexpected message type", "type", msg.Type)
		}
	}
}

// handleSubmitAudio admits one utterance and runs the pipeline for it.
// The read loop keeps running so pings and disconnects are still seen.
func (s *Server) handleSubmitAudio(sess *session.Session, msg *protocol.Message, logger *slog.Logger) {
	data, err := msg.GetSubmitAudioData()
	if err != nil {
		logger.Warn("bad submit_audio payload", "error", err)
		return
	}

	audio, err := data.DecodeAudio()
	if err != nil || len(audio) == 0 {
		logger.Warn("undecodable audio payload", "error", err)
		return
	}

	sess.SetIdentity(data.Name, data.Lang)

	if !sess.TryBegin() {
		logger.Info("utterance rejected, session busy")
		if busy, err := protocol.NewBusyMessage("still processing the previous utterance"); err == nil {
			sess.Send(busy)
		}
		return
	}

	go func() {
		defer sess.End()
		err := s.pipeline.Run(s.ctx, pipeline.Request{
			SessionID: sess.ID,
			Audio:     audio,
			Lang:      resolveLang(sess, data.Lang),
		})
		if err != nil {
			logger.Info("pipeline finished with error", "error", err)
		}
	}()
}

// resolveLang prefers the utterance's own language hint; an utterance
// without one falls back to the preference stored on the session.
func resolveLang(sess *session.Session, hint string) string {
	if hint != "" {
		return hint
	}
	return sess.PreferredLang()
}

// handleMonitor owns one monitor connection for its lifetime.
func (s *Server) handleMonitor(c *mws.Conn) {
	client := hub.NewClient(s.monitorHub, c)
	client.Run()
}

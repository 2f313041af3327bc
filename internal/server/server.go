// Package server exposes the HTTP and websocket surface of voicebridge and
// runs one relay session per inbound media-stream connection.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaykit/voicebridge/internal/config"
	"github.com/relaykit/voicebridge/pkg/bridge"
	"github.com/relaykit/voicebridge/pkg/elevenlabs"
	"github.com/relaykit/voicebridge/pkg/twilio"
)

// Server carries the injected configuration and constructed clients.
// Sessions share nothing but this immutable state.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	agent *elevenlabs.Client
	rest  *twilio.RESTClient

	httpServer        *http.Server
	upgrader          websocket.Upgrader
	firstAudioTimeout time.Duration

	wg        sync.WaitGroup
	closeOnce sync.Once
	closeCh   chan struct{}
}

// Option overrides a constructed collaborator, mainly for tests.
type Option func(*Server)

// WithAgentClient replaces the ElevenLabs client.
func WithAgentClient(c *elevenlabs.Client) Option {
	return func(s *Server) { s.agent = c }
}

// WithRESTClient replaces the Twilio REST client.
func WithRESTClient(c *twilio.RESTClient) Option {
	return func(s *Server) { s.rest = c }
}

// WithFirstAudioTimeout bounds the speech-result wait for the agent's first
// audio reply.
func WithFirstAudioTimeout(d time.Duration) Option {
	return func(s *Server) { s.firstAudioTimeout = d }
}

// New constructs a server from configuration. The Twilio REST client is
// optional and only built when account credentials are configured; the
// media-stream relay works without it.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		agent: elevenlabs.NewClient(cfg.ElevenLabs.APIKey, cfg.ElevenLabs.AgentID,
			elevenlabs.WithDefaultPrompt(cfg.ElevenLabs.DefaultPrompt),
			elevenlabs.WithDefaultFirstMessage(cfg.ElevenLabs.DefaultFirstMessage)),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		closeCh:           make(chan struct{}),
		firstAudioTimeout: bridge.DefaultFirstAudioTimeout,
	}

	if cfg.Twilio.AccountSID != "" && cfg.Twilio.AuthToken != "" {
		s.rest = twilio.NewRESTClient(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken)
	}

	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("/media-stream", s.handleMediaStream)
	mux.HandleFunc("POST /outbound-call", s.handleOutboundCall)
	mux.HandleFunc("/outbound-call-twiml", s.handleOutboundCallTwiML)
	mux.HandleFunc("POST /speech-result", s.handleSpeechResult)

	s.httpServer = &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}

	return s
}

// Start begins serving on the configured address and blocks until the
// listener fails or Shutdown is called.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("listening", "addr", ln.Addr().String())

	err = s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and waits for in-flight sessions to
// wind down, bounded by the context.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closeCh) })

	err := s.httpServer.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// Handler exposes the route table, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// agentDialer adapts the ElevenLabs client to the bridge's dialer contract.
func (s *Server) agentDialer(logger *slog.Logger) bridge.AgentDialer {
	return bridge.AgentDialerFunc(func(ctx context.Context, overrides elevenlabs.ConversationOverrides) (bridge.AgentConn, error) {
		conv, err := s.agent.Connect(ctx, overrides, logger)
		if err != nil {
			return nil, err
		}
		return conv, nil
	})
}

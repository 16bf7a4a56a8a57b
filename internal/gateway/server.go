// Package gateway exposes the call assistant over HTTP: telephony webhooks,
// the voice picker endpoints, the synthesized audio asset, metrics and
// health.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gl-pgege/gl-fraud-mobile/internal/conversation"
	"github.com/gl-pgege/gl-fraud-mobile/internal/observability"
	"github.com/gl-pgege/gl-fraud-mobile/internal/routing"
	"github.com/gl-pgege/gl-fraud-mobile/internal/tts"
	"github.com/gl-pgege/gl-fraud-mobile/internal/voice"
)

// Route paths.
const (
	PathTwiml          = "/twiml"
	PathTranscribe     = "/transcribe"
	PathGatherResponse = "/gather-response"
	PathPostDial       = "/post-dial"
	PathCallStatus     = "/call-status"
	PathVoiceData      = "/voice-data"
	PathSetVoice       = "/set-voice"
	PathMetrics        = "/metrics"
	PathHealthz        = "/healthz"
)

// maxFormBytes bounds webhook and voice request bodies.
const maxFormBytes = 64 << 10

// VoiceCatalog lists selectable synthesis voices.
type VoiceCatalog interface {
	ListVoices(ctx context.Context) ([]tts.Voice, error)
}

// Originator places outbound calls.
type Originator interface {
	OriginateCall(ctx context.Context, input voice.OriginateInput) (string, error)
}

// Config configures the HTTP server.
type Config struct {
	// Addr is the listen address, e.g. "0.0.0.0:3030".
	Addr string

	// PublicURL is the externally reachable base URL used to rebuild the
	// signed webhook URL.
	PublicURL string

	// AssetDir is served at the root path so the synthesized asset is
	// reachable at PublicURL/<asset name>.
	AssetDir string

	// SignatureToken enables X-Twilio-Signature checks on webhook routes
	// when non-empty.
	SignatureToken string

	Decider    *routing.Decider
	Router     *conversation.Router
	Voices     *conversation.VoiceSelection
	Catalog    VoiceCatalog
	Originator Originator

	Metrics *observability.Metrics

	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	Logger *slog.Logger
}

// Server is the call assistant's HTTP server.
type Server struct {
	cfg     Config
	handler http.Handler
	logger  *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// NewServer validates cfg and builds the route table.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Decider == nil {
		return nil, errors.New("gateway: routing decider is required")
	}
	if cfg.Router == nil {
		return nil, errors.New("gateway: event router is required")
	}
	if cfg.Voices == nil {
		return nil, errors.New("gateway: voice selection is required")
	}
	if cfg.Decider.Topology() == routing.TopologyConference && cfg.Originator == nil {
		return nil, errors.New("gateway: conference topology requires an originator")
	}
	if cfg.SignatureToken != "" && cfg.PublicURL == "" {
		return nil, errors.New("gateway: signature validation requires a public URL")
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		logger: logger.With("component", "http"),
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST "+PathTwiml, s.webhook(PathTwiml, s.handleTwiml))
	mux.Handle("POST "+PathTranscribe, s.webhook(PathTranscribe, s.handleTranscribe))
	mux.Handle("POST "+PathGatherResponse, s.webhook(PathGatherResponse, s.handleGatherResponse))
	mux.Handle("POST "+PathPostDial, s.webhook(PathPostDial, s.handlePostDial))
	mux.Handle("POST "+PathCallStatus, s.webhook(PathCallStatus, s.handleCallStatus))

	mux.HandleFunc("GET "+PathVoiceData, s.handleVoiceData)
	mux.HandleFunc("POST "+PathSetVoice, s.handleSetVoice)

	mux.Handle("GET "+PathMetrics, promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET "+PathHealthz, s.handleHealthz)

	if s.cfg.AssetDir != "" {
		mux.Handle("GET /", noCache(http.FileServer(http.Dir(s.cfg.AssetDir))))
	}

	return withRequestID(mux)
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return errors.New("gateway: server already started")
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.httpServer = server
	s.listener = listener

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("starting http server", "addr", listener.Addr().String(), "public_url", s.cfg.PublicURL)
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting requests and waits for in-flight webhooks and
// background turns to finish, or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.httpServer
	s.httpServer = nil
	s.listener = nil
	s.mu.Unlock()

	var err error
	if server != nil {
		if shutdownErr := server.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("http shutdown: %w", shutdownErr)
		}
	}

	done := make(chan struct{})
	go func() {
		s.cfg.Router.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Join(err, fmt.Errorf("waiting for turns: %w", ctx.Err()))
	}
	return err
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
}

// publicURL rebuilds the URL the provider signed for r.
func (s *Server) publicURL(r *http.Request) string {
	return strings.TrimRight(s.cfg.PublicURL, "/") + r.URL.RequestURI()
}

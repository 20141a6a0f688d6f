// Package httpapi exposes the chat service over HTTP and websockets.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/chatcore/internal/auth"
	"github.com/haasonsaas/chatcore/internal/chat"
	"github.com/haasonsaas/chatcore/internal/observability"
	"github.com/haasonsaas/chatcore/internal/ratelimit"
	"github.com/haasonsaas/chatcore/pkg/models"
)

// ChatService is the subset of chat.Service the API uses.
type ChatService interface {
	CreateSession(ctx context.Context, owner string) (string, error)
	PostMessage(ctx context.Context, sessionID, owner, text string, attachments []models.Attachment) (*chat.Reply, error)
	StreamMessage(ctx context.Context, sessionID, owner, text string, attachments []models.Attachment, onToken func(string)) (*chat.Reply, error)
	DeleteSession(ctx context.Context, sessionID, owner string) (bool, error)
	ListSessions(ctx context.Context, owner string) ([]models.SessionSummary, error)
	Authorize(ctx context.Context, sessionID, owner string) error
}

// Config configures the HTTP server.
type Config struct {
	Host   string `yaml:"host" json:"host,omitempty"`
	Port   int    `yaml:"port" json:"port,omitempty"`
	Prefix string `yaml:"prefix" json:"prefix,omitempty"`

	// AllowedOrigins restricts websocket origins. Empty allows any.
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins,omitempty"`

	// MaxBodyBytes bounds request bodies. Uploads travel base64 encoded.
	MaxBodyBytes int64 `yaml:"max_body_bytes" json:"max_body_bytes,omitempty"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout,omitempty"`
}

// DefaultConfig returns the default server settings.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8000,
		Prefix:          "/api/chatbot",
		MaxBodyBytes:    32 << 20,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records request metrics and serves gatherer at /metrics.
func WithMetrics(m *observability.Metrics, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = gatherer
	}
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(s *Server) { s.tracer = t }
}

// WithRateLimiter limits message requests per owner.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// Server serves the chat API.
type Server struct {
	cfg      Config
	chat     ChatService
	auth     *auth.Service
	limiter  *ratelimit.Limiter
	upgrader websocket.Upgrader

	logger   *slog.Logger
	metrics  *observability.Metrics
	gatherer prometheus.Gatherer
	tracer   *observability.Tracer

	handler http.Handler
}

// New builds a Server.
func New(cfg Config, chatService ChatService, authService *auth.Service, opts ...Option) *Server {
	def := DefaultConfig()
	if cfg.Prefix == "" {
		cfg.Prefix = def.Prefix
	}
	cfg.Prefix = "/" + strings.Trim(cfg.Prefix, "/")
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	s := &Server{
		cfg:    cfg,
		chat:   chatService,
		auth:   authService,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "http")
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  8192,
		WriteBufferSize: 8192,
		CheckOrigin:     s.checkOrigin,
	}
	s.handler = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	api := http.NewServeMux()
	p := s.cfg.Prefix
	api.HandleFunc("POST "+p+"/sessions", s.handleCreateSession)
	api.HandleFunc("GET "+p+"/sessions", s.handleListSessions)
	api.Handle("POST "+p+"/sessions/{id}/message", s.limited(http.HandlerFunc(s.handleMessage)))
	api.HandleFunc("DELETE "+p+"/sessions/{id}", s.handleDeleteSession)
	api.HandleFunc("GET "+p+"/sessions/{id}/stream", s.handleStream)

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", handleHealthz)
	if s.gatherer != nil {
		root.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	root.Handle(p+"/", auth.Middleware(s.auth, s.logger)(api))

	return s.observe(root)
}

func (s *Server) limited(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return ratelimit.Middleware(s.limiter, func(r *http.Request) string {
		if user, ok := auth.UserFromContext(r.Context()); ok {
			return user.ID
		}
		return ""
	}, func(*http.Request) { s.metrics.RecordRateLimited() })(next)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := s.cfg.Addr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is done.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting http server", "addr", listener.Addr().String(), "prefix", s.cfg.Prefix)
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http server shutdown error", "error", err)
		return err
	}
	return nil
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
}

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/teemow/eventrelay/internal/instrumentation"
	"github.com/teemow/eventrelay/internal/logging"
	"github.com/teemow/eventrelay/internal/oauth"
)

// HTTP server timeouts. WebSocket connections are hijacked and not subject
// to them.
const (
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultWriteTimeout      = 30 * time.Second
	DefaultIdleTimeout       = 120 * time.Second
)

// Config configures the public HTTP server.
type Config struct {
	Addr    string
	BaseURL string

	TLSCertFile string
	TLSKeyFile  string

	// RateLimit and RateBurst bound /login, /authorize and /ws per client IP.
	// A non-positive RateLimit disables rate limiting.
	RateLimit  int
	RateBurst  int
	TrustProxy bool
}

// Handlers are the relay endpoints served by Server.
type Handlers struct {
	Login   *oauth.LoginHandler
	Webhook http.Handler
	Socket  http.Handler
}

// Server is the public HTTP server of the relay.
type Server struct {
	config     Config
	sc         *ServerContext
	health     *HealthChecker
	limiter    *RateLimiter
	handler    http.Handler
	logger     *slog.Logger
	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// New builds the route table:
//
//	GET  /login             redirect to Twitch
//	GET  /authorize         OAuth callback, creates a session
//	POST /webhook           EventSub deliveries
//	GET  /ws                client WebSocket
//	GET  /healthz, /readyz, /healthz/detailed
func New(cfg Config, sc *ServerContext, handlers Handlers, metrics *instrumentation.Metrics, logger *slog.Logger) (*Server, error) {
	if handlers.Login == nil || handlers.Webhook == nil || handlers.Socket == nil {
		return nil, errors.New("login, webhook and socket handlers are required")
	}
	if err := validateBaseURL(cfg.BaseURL); err != nil {
		return nil, err
	}
	if cfg.Addr == "" {
		cfg.Addr = ":3000"
	}

	s := &Server{
		config: cfg,
		sc:     sc,
		health: NewHealthChecker(sc),
		logger: logging.WithComponent(logger, "server"),
	}
	if cfg.RateLimit > 0 {
		s.limiter = NewRateLimiter(cfg.RateLimit, cfg.RateBurst, cfg.TrustProxy, DefaultRateLimitCleanup, logger)
	}

	mux := http.NewServeMux()
	route := func(path string, h http.Handler, limited bool) {
		if limited {
			h = s.limiter.Middleware(h)
		}
		mux.Handle(path, metricsMiddleware(metrics, path, h))
	}

	route("/login", http.HandlerFunc(handlers.Login.ServeLogin), true)
	route("/authorize", http.HandlerFunc(handlers.Login.ServeAuthorize), true)
	route("/webhook", handlers.Webhook, false)
	route("/ws", handlers.Socket, true)
	s.health.RegisterHealthEndpoints(mux)

	s.handler = otelhttp.NewHandler(securityHeaders(cfg.BaseURL, mux), "eventrelay",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)

	return s, nil
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// HealthChecker returns the server's health checker.
func (s *Server) HealthChecker() *HealthChecker {
	return s.health
}

// Start listens and serves until Shutdown.
func (s *Server) Start() error {
	return s.StartWithReadySignal(nil)
}

// StartWithReadySignal binds the listener, closes ready (if not nil) and
// serves until Shutdown. It serves TLS when a certificate is configured.
func (s *Server) StartWithReadySignal(ready chan<- struct{}) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	if s.sc != nil {
		srv.BaseContext = func(net.Listener) context.Context { return s.sc.Context() }
	}

	s.mu.Lock()
	s.httpServer = srv
	s.listener = ln
	s.mu.Unlock()

	tls := s.config.TLSCertFile != "" && s.config.TLSKeyFile != ""
	s.logger.Info("starting HTTP server", "addr", ln.Addr().String(), "tls", tls)
	if ready != nil {
		close(ready)
	}

	if tls {
		err = srv.ServeTLS(ln, s.config.TLSCertFile, s.config.TLSKeyFile)
	} else {
		err = srv.Serve(ln)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return http.ErrServerClosed
}

// ListenAddr returns the bound address once started, or the configured one.
func (s *Server) ListenAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Addr
}

// Shutdown marks the server as not ready, drains in-flight requests and then
// cancels the server context. Hijacked WebSocket connections are not waited
// for; cancelling the context ends their read loops.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.SetReady(false)
	if s.limiter != nil {
		s.limiter.Stop()
	}

	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	var err error
	if srv != nil {
		s.logger.Info("shutting down HTTP server")
		err = srv.Shutdown(ctx)
	}
	if s.sc != nil {
		_ = s.sc.Shutdown()
	}
	return err
}

// validateBaseURL checks the public base URL. Twitch only delivers webhooks
// to https callbacks, so plain http is accepted for loopback development
// only.
func validateBaseURL(baseURL string) error {
	if baseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	switch u.Scheme {
	case "https":
		return nil
	case "http":
		host := u.Hostname()
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			return fmt.Errorf("twitch requires an https webhook callback (got: %s); use https or localhost for development", baseURL)
		}
		return nil
	default:
		return fmt.Errorf("invalid URL scheme: %s. Must be http (localhost only) or https", u.Scheme)
	}
}

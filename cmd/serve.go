package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/spf13/cobra"

	"github.com/teemow/eventrelay/internal/config"
	"github.com/teemow/eventrelay/internal/instrumentation"
	"github.com/teemow/eventrelay/internal/logging"
	"github.com/teemow/eventrelay/internal/oauth"
	"github.com/teemow/eventrelay/internal/relay"
	"github.com/teemow/eventrelay/internal/server"
	"github.com/teemow/eventrelay/internal/session"
	"github.com/teemow/eventrelay/internal/socket"
	"github.com/teemow/eventrelay/internal/store"
)

// serveFlags holds the serve command line. A flag only overrides the
// configuration when it was set explicitly.
type serveFlags struct {
	debugMode      bool
	addr           string
	baseURL        string
	frontendURL    string
	eventTypes     []string
	sessionTimeout time.Duration
	trustProxy     bool
	rateLimit      int
	tlsCertFile    string
	tlsKeyFile     string
	storeType      string
	redisAddr      string
	logLevel       string
	logFormat      string
	logFile        string
	metricsEnabled bool
	metricsAddr    string
	cleanupOnStart bool
}

func newServeCmd() *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the EventSub relay",
		Long: `Start the relay server.

Endpoints:
  GET  /login       redirect the broadcaster to Twitch
  GET  /authorize   OAuth callback, creates a session
  POST /webhook     EventSub deliveries from Twitch
  GET  /ws          client WebSocket

Configuration:
  Twitch application (required):
    --config file with twitch.client_id and twitch.client_secret
    OR TWITCH_CLIENT_ID and TWITCH_CLIENT_SECRET env vars

  Base URL (required):
    --base-url https://relay.example.com OR API_BASE env var
    Twitch only delivers webhooks to https callbacks; http is accepted for
    localhost development.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			applyServeFlags(cmd, cfg, &flags)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runServe(cfg, flags.cleanupOnStart)
		},
	}

	flags.register(cmd)
	return cmd
}

// register binds the serve flags to cmd.
func (f *serveFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()

	fs.BoolVar(&f.debugMode, "debug", false, "Enable debug logging (same as --log-level debug)")
	fs.StringVar(&f.addr, "addr", config.DefaultAddr, "HTTP listen address. Can also use LISTEN_ADDR env var.")
	fs.StringVar(&f.baseURL, "base-url", "", "Public base URL of the relay, used for the OAuth redirect and the webhook callback. Can also use API_BASE env var. Example: https://relay.example.com")
	fs.StringVar(&f.frontendURL, "frontend-url", "", "URL the browser is sent to after login, with the session in the fragment. Can also use FRONTEND_BASE env var. Without it /authorize answers with JSON.")
	fs.StringSliceVar(&f.eventTypes, "event-types", nil, "EventSub subscription types created for every session (comma-separated). Can also use TWITCH_EVENT_TYPES env var.")
	fs.DurationVar(&f.sessionTimeout, "session-timeout", config.DefaultSessionTimeout, "How long a session without a WebSocket survives. Can also use SESSION_TIMEOUT env var.")

	// HTTP security
	fs.BoolVar(&f.trustProxy, "trust-proxy", false, "Trust X-Forwarded-For and X-Real-IP for client addresses. Only enable behind a reverse proxy. Can also use TRUST_PROXY env var.")
	fs.IntVar(&f.rateLimit, "rate-limit", config.DefaultRateLimit, "Login and WebSocket handshakes per second allowed per client IP (negative disables). Can also use RATE_LIMIT env var.")
	fs.StringVar(&f.tlsCertFile, "tls-cert-file", "", "Path to TLS certificate file (PEM format). If provided with --tls-key-file, enables HTTPS. Can also use TLS_CERT_FILE env var.")
	fs.StringVar(&f.tlsKeyFile, "tls-key-file", "", "Path to TLS private key file (PEM format). If provided with --tls-cert-file, enables HTTPS. Can also use TLS_KEY_FILE env var.")

	// Storage for login state and webhook replay protection
	fs.StringVar(&f.storeType, "store-type", config.StoreMemory, "Store for login state and webhook message IDs: memory or redis. Can also use STORE_TYPE env var.")
	fs.StringVar(&f.redisAddr, "redis-addr", "", "Redis server address (e.g., redis.namespace.svc:6379). Can also use REDIS_ADDR env var.")

	// Logging
	fs.StringVar(&f.logLevel, "log-level", "info", "Log level: debug, info, warn or error. Can also use LOG_LEVEL env var.")
	fs.StringVar(&f.logFormat, "log-format", "text", "Log format: text or json. Can also use LOG_FORMAT env var.")
	fs.StringVar(&f.logFile, "log-file", "", "Also write logs to this file, rotated. Can also use LOG_FILE env var.")

	// Metrics server flags
	fs.BoolVar(&f.metricsEnabled, "metrics-enabled", false, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED env var.")
	fs.StringVar(&f.metricsAddr, "metrics-addr", config.DefaultMetricsAddr, "Metrics server address. Can also use METRICS_ADDR env var.")

	fs.BoolVar(&f.cleanupOnStart, "cleanup-on-start", false, "Delete every EventSub subscription of the application before serving")
}

// applyServeFlags copies explicitly set flags into cfg. Flags that were not
// set leave the file and environment values alone.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config, f *serveFlags) {
	changed := cmd.Flags().Changed

	if changed("addr") {
		cfg.Server.Addr = f.addr
	}
	if changed("base-url") {
		cfg.Server.BaseURL = f.baseURL
	}
	if changed("frontend-url") {
		cfg.Server.FrontendURL = f.frontendURL
	}
	if changed("event-types") {
		cfg.Twitch.EventTypes = f.eventTypes
	}
	if changed("session-timeout") {
		cfg.Session.Timeout = f.sessionTimeout
	}
	if changed("trust-proxy") {
		cfg.Server.TrustProxy = f.trustProxy
	}
	if changed("rate-limit") {
		cfg.Server.RateLimit = f.rateLimit
	}
	if changed("tls-cert-file") {
		cfg.Server.TLSCertFile = f.tlsCertFile
	}
	if changed("tls-key-file") {
		cfg.Server.TLSKeyFile = f.tlsKeyFile
	}
	if changed("store-type") {
		cfg.Store.Type = f.storeType
	}
	if changed("redis-addr") {
		cfg.Store.Redis.Addr = f.redisAddr
	}
	if changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
	if changed("log-file") {
		cfg.Log.File = f.logFile
	}
	if changed("metrics-enabled") {
		cfg.Metrics.Enabled = f.metricsEnabled
	}
	if changed("metrics-addr") {
		cfg.Metrics.Addr = f.metricsAddr
	}

	// --debug wins over every other level setting
	if f.debugMode {
		cfg.Log.Level = "debug"
	}
	cfg.ApplyDefaults()
}

func runServe(cfg *config.Config, cleanupOnStart bool) error {
	// Setup graceful shutdown
	shutdownCtx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger, logCloser, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	// Initialize instrumentation provider
	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version

	provider, err := instrumentation.NewProvider(shutdownCtx, instrConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			logger.Error("error during instrumentation shutdown", logging.Err(err))
		}
	}()
	metrics := provider.Metrics()
	audit := provider.Audit()

	// Start metrics server if enabled
	var metricsServer *server.MetricsServer
	if cfg.Metrics.Enabled && provider.Enabled() {
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    cfg.Metrics.Addr,
			Enabled:                 true,
			InstrumentationProvider: provider,
			Logger:                  logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}

		// Use ready channel to confirm metrics server started successfully
		metricsReady := make(chan struct{})
		metricsErr := make(chan error, 1)
		go func() {
			if err := metricsServer.StartWithReadySignal(metricsReady); err != nil && !errors.Is(err, http.ErrServerClosed) {
				metricsErr <- err
			}
		}()

		select {
		case <-metricsReady:
			logger.Info("metrics server listening", "addr", metricsServer.ListenAddr())
		case err := <-metricsErr:
			return fmt.Errorf("metrics server failed to start: %w", err)
		case <-time.After(5 * time.Second):
			return fmt.Errorf("metrics server startup timed out")
		}
	}

	st, err := newStore(shutdownCtx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	factory, source, err := newTwitchFactory(shutdownCtx, cfg, metrics, logger)
	if err != nil {
		return err
	}

	if cleanupOnStart {
		if _, err := cleanupSubscriptions(shutdownCtx, factory.App(), "", false, logger); err != nil {
			logger.Warn("startup cleanup incomplete", logging.Err(err))
		}
	}

	registry := session.NewRegistry(session.TwitchProviders{Factory: factory}, session.Options{
		SessionTimeout: cfg.Session.Timeout,
		GCInterval:     cfg.Session.GCInterval,
		CallbackURL:    cfg.CallbackURL(),
		EventTypes:     cfg.Twitch.EventTypes,
		Metrics:        metrics,
		Audit:          audit,
		Logger:         logger,
	})
	registry.Start(shutdownCtx)

	// Sessions outlive the signal context so in-flight work can drain.
	serverContext := server.NewServerContext(context.Background(), registry, st)

	sessions := oauth.SessionCreatorFunc(func(ctx context.Context, cred *oauth.Credential) (string, string, error) {
		s, err := registry.CreateSession(ctx, cred)
		if err != nil {
			return "", "", err
		}
		return s.ID, s.Secret, nil
	})

	srv, err := server.New(server.Config{
		Addr:        cfg.Server.Addr,
		BaseURL:     cfg.Server.BaseURL,
		TLSCertFile: cfg.Server.TLSCertFile,
		TLSKeyFile:  cfg.Server.TLSKeyFile,
		RateLimit:   cfg.Server.RateLimit,
		RateBurst:   cfg.Server.RateBurst,
		TrustProxy:  cfg.Server.TrustProxy,
	}, serverContext, server.Handlers{
		Login: oauth.NewLoginHandler(source, oauth.NewStateStore(st, oauth.DefaultStateTTL), sessions, cfg.Server.FrontendURL, logger),
		Webhook: relay.NewHandler(registry, relay.Options{
			Replay:  relay.NewReplayGuard(st, cfg.Session.ReplayWindow),
			Metrics: metrics,
			Logger:  logger,
		}),
		Socket: socket.NewHandler(registry, socket.Options{
			AuthTimeout:    cfg.Session.Timeout,
			OriginPatterns: originPatterns(cfg.Server.FrontendURL),
			Logger:         logger,
		}),
	}, metrics, logger)
	if err != nil {
		registry.Stop()
		return fmt.Errorf("failed to create server: %w", err)
	}

	printBanner()
	logger.Info("starting eventrelay",
		"version", version,
		"base_url", cfg.Server.BaseURL,
		"store", cfg.Store.Type,
		"event_types", cfg.Twitch.EventTypes)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Start()
	}()

	var serveErr error
	select {
	case <-shutdownCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverDone:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("HTTP server error: %w", err)
		}
	}

	// Stop accepting requests, then tear down every session's subscriptions.
	ctx, cancelShutdown := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("error during HTTP server shutdown", logging.Err(err))
	}
	registry.Shutdown(ctx)
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			logger.Error("error during metrics server shutdown", logging.Err(err))
		}
	}

	logger.Info("eventrelay stopped")
	return serveErr
}

// newStore opens the configured key/value backend.
func newStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Type {
	case config.StoreRedis:
		st, err := store.NewRedisStore(ctx, store.RedisOptions{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
			PoolSize: cfg.Store.Redis.PoolSize,
			Prefix:   cfg.Store.Redis.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		return st, nil
	case config.StoreMemory, "":
		return store.NewMemoryStore(time.Minute), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownStoreType, cfg.Store.Type)
	}
}

// originPatterns allows the frontend's host to open cross-origin WebSockets.
// Same-origin connections are always accepted.
func originPatterns(frontendURL string) []string {
	if frontendURL == "" {
		return nil
	}
	u, err := url.Parse(frontendURL)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}

func printBanner() {
	banner := figure.NewFigure("eventrelay", "cybermedium", true)
	banner.Print()
	fmt.Println()
}

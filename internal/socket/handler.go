package socket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/teemow/eventrelay/internal/logging"
	"github.com/teemow/eventrelay/internal/session"
)

// Defaults for Options.
const (
	DefaultWriteTimeout = 10 * time.Second
	DefaultPingInterval = 30 * time.Second
)

// maxMessageBytes bounds every client message. Clients only ever send the
// authentication message.
const maxMessageBytes = 4096

// Binder attaches connections to sessions. *session.Registry implements it.
type Binder interface {
	BindConnection(ctx context.Context, id, secret string, conn session.Conn) error
	UnbindConnection(id string, conn session.Conn)
}

// Options configures a Handler.
type Options struct {
	// AuthTimeout is how long a client may take to authenticate.
	AuthTimeout time.Duration

	// WriteTimeout bounds each message written to the client.
	WriteTimeout time.Duration

	// PingInterval is the keepalive period once bound. Negative disables pings.
	PingInterval time.Duration

	// OriginPatterns lists the cross-origin hosts allowed to connect.
	OriginPatterns []string

	Logger *slog.Logger
}

// Handler serves GET /ws.
//
// The first client message must be {"sessionId": "...", "sessionSecret": "..."}.
// The handler answers with a status message: CONNECTED on success, or one of
// BAD_REQUEST, UNAUTHORIZED, ERROR and TIMED_OUT followed by a close with
// status 1008.
type Handler struct {
	binder         Binder
	authTimeout    time.Duration
	writeTimeout   time.Duration
	pingInterval   time.Duration
	originPatterns []string
	logger         *slog.Logger
}

// NewHandler creates a Handler binding connections through binder.
func NewHandler(binder Binder, opts Options) *Handler {
	if opts.AuthTimeout <= 0 {
		opts.AuthTimeout = session.DefaultSessionTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.PingInterval == 0 {
		opts.PingInterval = DefaultPingInterval
	}

	return &Handler{
		binder:         binder,
		authTimeout:    opts.AuthTimeout,
		writeTimeout:   opts.WriteTimeout,
		pingInterval:   opts.PingInterval,
		originPatterns: opts.OriginPatterns,
		logger:         logging.WithComponent(opts.Logger, "socket"),
	}
}

type authMessage struct {
	SessionID     string `json:"sessionId"`
	SessionSecret string `json:"sessionSecret"`
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Debug("websocket upgrade failed", logging.RemoteAddr(r.RemoteAddr), logging.Err(err))
		return
	}
	c.SetReadLimit(maxMessageBytes)

	conn := newWSConn(c, h.writeTimeout)
	logger := h.logger.With(logging.RemoteAddr(r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sessionID, bound := h.authenticate(ctx, conn, logger)
	if sessionID != "" {
		defer h.binder.UnbindConnection(sessionID, conn)
	}
	if !bound {
		return
	}

	logger = logger.With(logging.Session(sessionID))
	logger.Info("socket connected")

	if h.pingInterval > 0 {
		go h.keepalive(ctx, conn)
	}

	// Client messages after authentication carry no meaning. Reading keeps
	// control frames flowing and notices the close.
	for {
		if _, _, err := c.Read(ctx); err != nil {
			logger.Info("socket disconnected", "close_status", int(websocket.CloseStatus(err)))
			return
		}
	}
}

// authenticate reads the authentication message and binds conn. It returns
// the session id once the secret has been accepted, and whether conn is now
// bound. Every failure has already been reported to the client.
func (h *Handler) authenticate(ctx context.Context, conn *wsConn, logger *slog.Logger) (string, bool) {
	var once sync.Once
	timer := time.AfterFunc(h.authTimeout, func() {
		once.Do(func() {
			logger.Warn("unauthenticated socket timed out")
			conn.reject(ctx, session.StatusTimedOut, "authentication timeout")
		})
	})

	typ, data, err := conn.c.Read(ctx)

	claimed := false
	once.Do(func() {
		claimed = true
		timer.Stop()
	})
	if !claimed {
		return "", false
	}
	if err != nil {
		logger.Debug("socket closed before authenticating", logging.Err(err))
		return "", false
	}

	var msg authMessage
	if typ != websocket.MessageText || json.Unmarshal(data, &msg) != nil || msg.SessionID == "" {
		logger.Warn("malformed authentication message")
		conn.reject(ctx, session.StatusBadRequest, "malformed authentication message")
		return "", false
	}

	err = h.binder.BindConnection(ctx, msg.SessionID, msg.SessionSecret, conn)
	switch {
	case err == nil:
		return msg.SessionID, true

	case errors.Is(err, session.ErrConnectionLost):
		logger.Debug("socket closed while binding", logging.Session(msg.SessionID), logging.Err(err))
		return msg.SessionID, false

	case errors.Is(err, session.ErrUnauthorized):
		logger.Warn("unknown session or wrong secret", logging.Session(msg.SessionID))
		conn.reject(ctx, session.StatusUnauthorized, "unauthorized")
		return "", false

	default:
		logger.Error("failed to set up session", logging.Session(msg.SessionID), logging.Err(err))
		conn.reject(ctx, session.StatusError, "setup failed")
		return msg.SessionID, false
	}
}

func (h *Handler) keepalive(ctx context.Context, conn *wsConn) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			err := conn.c.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

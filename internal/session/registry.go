package session

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teemow/eventrelay/internal/config"
	"github.com/teemow/eventrelay/internal/instrumentation"
	"github.com/teemow/eventrelay/internal/logging"
	"github.com/teemow/eventrelay/internal/oauth"
	"github.com/teemow/eventrelay/internal/twitch"
)

// Defaults for Options.
const (
	DefaultSessionTimeout = 10 * time.Minute
	DefaultGCInterval     = time.Minute
)

// Close reasons passed to Conn.Close and recorded in audit events.
const (
	reasonSuperseded = "superseded"
	reasonIdle       = "idle"
	reasonShutdown   = "shutdown"
	reasonExplicit   = "explicit"
)

// Options configures a Registry.
type Options struct {
	// SessionTimeout is how long a session without a connection survives.
	SessionTimeout time.Duration

	// GCInterval is the period of the idle session sweep started by Start.
	GCInterval time.Duration

	// CallbackURL is the webhook URL given to Twitch for new subscriptions.
	CallbackURL string

	// EventTypes are created for each session on first bind.
	EventTypes []string

	Metrics *instrumentation.Metrics
	Audit   *instrumentation.AuditLogger
	Logger  *slog.Logger
}

// Registry owns every live session, the subscription to session index and
// the connection bound to each session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	webhooks map[string]string // subscription id -> session id

	providers      ProviderFactory
	sessionTimeout time.Duration
	gcInterval     time.Duration
	callbackURL    string
	eventTypes     []string

	ticker    *time.Ticker
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once

	now     func() time.Time
	metrics *instrumentation.Metrics
	audit   *instrumentation.AuditLogger
	logger  *slog.Logger
}

// NewRegistry creates an empty Registry. Call Start to run garbage collection.
func NewRegistry(providers ProviderFactory, opts Options) *Registry {
	if opts.SessionTimeout <= 0 {
		opts.SessionTimeout = DefaultSessionTimeout
	}
	if opts.GCInterval <= 0 {
		opts.GCInterval = DefaultGCInterval
	}
	if len(opts.EventTypes) == 0 {
		opts.EventTypes = config.DefaultEventTypes
	}

	return &Registry{
		sessions:       make(map[string]*Session),
		webhooks:       make(map[string]string),
		providers:      providers,
		sessionTimeout: opts.SessionTimeout,
		gcInterval:     opts.GCInterval,
		callbackURL:    opts.CallbackURL,
		eventTypes:     append([]string(nil), opts.EventTypes...),
		done:           make(chan struct{}),
		now:            time.Now,
		metrics:        opts.Metrics,
		audit:          opts.Audit,
		logger:         logging.WithComponent(opts.Logger, "session"),
	}
}

// CreateSession registers a new session owning cred. No network calls are made.
func (r *Registry) CreateSession(ctx context.Context, cred *oauth.Credential) (*Session, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}
	secret, err := randomHex(16)
	if err != nil {
		return nil, err
	}
	webhookSecret, err := randomHex(8)
	if err != nil {
		return nil, err
	}

	now := r.now()
	s := &Session{
		ID:             id.String(),
		Secret:         secret,
		WebhookSecret:  webhookSecret,
		CreatedAt:      now,
		credential:     cred,
		lastActivityAt: now,
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	r.metrics.IncrementActiveSessions(ctx)
	r.audit.LogSessionEvent(instrumentation.NewSessionEvent(instrumentation.EventSessionCreated, s.ID).WithSpanContext(ctx))
	r.logger.Info("session created", logging.Session(s.ID))

	return s, nil
}

// GetSession returns the session with id, or nil.
func (r *Registry) GetSession(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// LookupSessionForWebhook returns the session owning subscription subID, or nil.
func (r *Registry) LookupSessionForWebhook(subID string) *Session {
	if subID == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessionID, ok := r.webhooks[subID]
	if !ok {
		return nil
	}
	return r.sessions[sessionID]
}

// BindConnection authenticates conn against session id and makes it the
// session's only connection. A previously bound connection is told
// SWITCHING_SOCKET and closed. The first successful bind creates the
// session's EventSub subscriptions; if that fails, ErrSetupFailed is returned
// and nothing is bound. conn is sent CONNECTED before it is bound.
func (r *Registry) BindConnection(ctx context.Context, id, secret string, conn Conn) error {
	s := r.GetSession(id)
	if s == nil || subtle.ConstantTimeCompare([]byte(s.Secret), []byte(secret)) != 1 {
		return ErrUnauthorized
	}

	ctx, span := instrumentation.StartRelaySpan(ctx, "session.bind",
		instrumentation.NewSpanAttributeBuilder().WithSession(id).Build()...)
	defer span.End()

	s.setupMu.Lock()
	defer s.setupMu.Unlock()

	// The session may have been cleaned up while this bind waited.
	if s.removed {
		return ErrUnauthorized
	}

	if old := s.swapConn(nil); old != nil {
		r.evict(ctx, s, old)
	}

	if !s.hasSubscriptions() {
		if err := r.setupSubscriptions(ctx, s); err != nil {
			instrumentation.SetSpanError(span, err)
			r.audit.LogSessionEvent(instrumentation.NewSessionEvent(instrumentation.EventConnectionRejected, s.ID).
				WithSpanContext(ctx).
				Fail(err))
			return fmt.Errorf("%w: %w", ErrSetupFailed, err)
		}
	}

	// The client hears CONNECTED before webhook forwarding can see conn.
	if err := conn.SendStatus(ctx, StatusConnected); err != nil {
		instrumentation.SetSpanError(span, err)
		return fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}

	s.swapConn(conn)
	r.metrics.IncrementActiveConnections(ctx)
	instrumentation.SetSpanSuccess(span)

	r.audit.LogSessionEvent(instrumentation.NewSessionEvent(instrumentation.EventConnectionBound, s.ID).
		WithUser(s.UserID(), s.Login()).
		WithSubscriptions(len(s.SubscriptionIDs())).
		WithSpanContext(ctx))
	r.logger.Info("connection bound", logging.Session(s.ID))

	return nil
}

// evict tells old it has been replaced and closes it. Errors are ignored
// because the old client may already be gone.
func (r *Registry) evict(ctx context.Context, s *Session, old Conn) {
	if err := old.SendStatus(ctx, StatusSwitchingSocket); err != nil {
		r.logger.Debug("failed to notify superseded connection", logging.Session(s.ID), logging.Err(err))
	}
	if err := old.Close(reasonSuperseded); err != nil {
		r.logger.Debug("failed to close superseded connection", logging.Session(s.ID), logging.Err(err))
	}
	r.metrics.DecrementActiveConnections(ctx)
	instrumentation.AddSpanEvent(ctx, "connection.superseded")

	r.audit.LogSessionEvent(instrumentation.NewSessionEvent(instrumentation.EventConnectionSuperseded, s.ID).
		WithReason(reasonSuperseded).
		WithSpanContext(ctx))
}

// UnbindConnection clears the session's connection if it is still conn and
// records the activity time. Unknown sessions are ignored.
func (r *Registry) UnbindConnection(id string, conn Conn) {
	s := r.GetSession(id)
	if s == nil {
		return
	}

	// Only stateMu is taken. Unbind never installs a connection and clears
	// s.conn only while it is still conn, so it cannot undo a newer bind.
	// BindConnection closes the evicted connection while holding setupMu,
	// and that connection's handler unbinds on exit; it must not queue
	// behind a slow setup.
	s.stateMu.Lock()
	cleared := false
	if conn != nil && s.conn == conn {
		s.conn = nil
		cleared = true
	}
	s.lastActivityAt = r.now()
	s.stateMu.Unlock()

	if cleared {
		r.metrics.DecrementActiveConnections(context.Background())
		r.logger.Debug("connection unbound", logging.Session(id))
	}
}

// CleanupSession deletes the session's subscriptions at Twitch, removes it
// from the registry and closes its connection. It is idempotent.
func (r *Registry) CleanupSession(ctx context.Context, id string) {
	r.cleanup(ctx, id, reasonExplicit)
}

func (r *Registry) cleanup(ctx context.Context, id, reason string) {
	s := r.GetSession(id)
	if s == nil {
		return
	}

	s.setupMu.Lock()
	defer s.setupMu.Unlock()
	r.cleanupLocked(ctx, s, reason)
}

// cleanupLocked requires s.setupMu.
func (r *Registry) cleanupLocked(ctx context.Context, s *Session, reason string) {
	if s.removed {
		return
	}
	s.removed = true

	ctx, span := instrumentation.StartRelaySpan(ctx, "session.cleanup",
		instrumentation.NewSpanAttributeBuilder().WithSession(s.ID).Build()...)
	defer span.End()

	ids := s.takeSubscriptions()
	failed := 0
	if len(ids) > 0 {
		app := r.providers.App()
		for _, subID := range ids {
			if err := app.DeleteSubscription(ctx, subID); err != nil {
				failed++
				r.logger.Warn("failed to delete subscription",
					logging.Session(s.ID),
					logging.Subscription(subID),
					logging.Err(err))
			}
		}
	}

	r.mu.Lock()
	for _, subID := range ids {
		delete(r.webhooks, subID)
	}
	delete(r.sessions, s.ID)
	r.mu.Unlock()

	if conn := s.swapConn(nil); conn != nil {
		if err := conn.Close(reason); err != nil {
			r.logger.Debug("failed to close connection", logging.Session(s.ID), logging.Err(err))
		}
		r.metrics.DecrementActiveConnections(ctx)
	}
	r.metrics.DecrementActiveSessions(ctx)

	event := instrumentation.NewSessionEvent(instrumentation.EventSessionCleanedUp, s.ID).
		WithUser(s.UserID(), s.Login()).
		WithSubscriptions(len(ids)).
		WithReason(reason).
		WithSpanContext(ctx)
	if failed > 0 {
		event.Fail(fmt.Errorf("%d of %d subscription deletions failed", failed, len(ids)))
	}
	r.audit.LogSessionEvent(event)
	status := logging.StatusSuccess
	if failed > 0 {
		status = logging.StatusError
	}
	r.logger.Info("session cleaned up",
		logging.Session(s.ID),
		logging.Status(status),
		"reason", reason,
		"subscriptions", len(ids),
		"failed", failed)
}

// RemoveSubscription deletes one subscription of session id at Twitch and
// drops it from the session and the index. A subscription Twitch no longer
// knows is treated as deleted.
func (r *Registry) RemoveSubscription(ctx context.Context, id, subID string) error {
	s := r.GetSession(id)
	if s == nil {
		return ErrNotFound
	}

	s.setupMu.Lock()
	defer s.setupMu.Unlock()

	if s.removed || !s.hasSubscription(subID) {
		return nil
	}

	err := r.providers.App().DeleteSubscription(ctx, subID)
	var upErr *twitch.UpstreamError
	if errors.As(err, &upErr) && upErr.StatusCode == http.StatusNotFound {
		err = nil
	}

	s.dropSubscription(subID)
	r.mu.Lock()
	delete(r.webhooks, subID)
	r.mu.Unlock()
	instrumentation.AddSpanEvent(ctx, "subscription.removed",
		instrumentation.NewSpanAttributeBuilder().WithSubscription(subID, "").Build()...)

	event := instrumentation.NewSessionEvent(instrumentation.EventSubscriptionRevoked, s.ID).
		WithUser(s.UserID(), s.Login()).
		WithSubscription(subID).
		WithSpanContext(ctx)
	if err != nil {
		event.Fail(err)
	}
	r.audit.LogSessionEvent(event)

	if err != nil {
		return fmt.Errorf("failed to delete subscription %s: %w", subID, err)
	}
	return nil
}

// Shutdown stops garbage collection and cleans up every session.
func (r *Registry) Shutdown(ctx context.Context) {
	r.Stop()

	for _, id := range r.sessionIDs() {
		if ctx.Err() != nil {
			r.logger.Warn("shutdown interrupted", logging.Err(ctx.Err()), "remaining", r.Len())
			return
		}
		r.cleanup(ctx, id, reasonShutdown)
	}
}

func (r *Registry) sessionIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) indexSubscription(s *Session, subID string) {
	s.appendSubscription(subID)
	r.mu.Lock()
	r.webhooks[subID] = s.ID
	r.mu.Unlock()
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

package instrumentation

import (
	"context"
	"log/slog"
	"time"

	"github.com/teemow/eventrelay/internal/logging"
)

// Session lifecycle events recorded by the audit logger.
const (
	EventSessionCreated       = "session_created"
	EventConnectionBound      = "connection_bound"
	EventConnectionSuperseded = "connection_superseded"
	EventConnectionRejected   = "connection_rejected"
	EventSessionCleanedUp     = "session_cleaned_up"
	EventSubscriptionRevoked  = "subscription_revoked"
)

// SessionEvent captures one change in a session's lifecycle for audit logging.
//
// # Privacy Considerations
//
// UserID and Login identify a Twitch account. Unless the audit logger is
// configured with IncludePII, only a hashed user identifier is written.
type SessionEvent struct {
	Event     string
	SessionID string

	// Twitch identity, known after first-time setup
	UserID string
	Login  string

	SubscriptionID string
	Subscriptions  int
	Reason         string

	Time    time.Time
	Success bool
	Error   string

	// Tracing context
	TraceID string
	SpanID  string
}

// NewSessionEvent creates a successful SessionEvent stamped with the current time.
func NewSessionEvent(event, sessionID string) *SessionEvent {
	return &SessionEvent{
		Event:     event,
		SessionID: sessionID,
		Time:      time.Now(),
		Success:   true,
	}
}

// WithUser sets the Twitch identity.
func (e *SessionEvent) WithUser(userID, login string) *SessionEvent {
	e.UserID = userID
	e.Login = login
	return e
}

// WithSubscription sets the single subscription the event refers to.
func (e *SessionEvent) WithSubscription(id string) *SessionEvent {
	e.SubscriptionID = id
	return e
}

// WithSubscriptions sets the number of subscriptions involved.
func (e *SessionEvent) WithSubscriptions(n int) *SessionEvent {
	e.Subscriptions = n
	return e
}

// WithReason sets a short machine-readable reason (e.g. "idle", "shutdown").
func (e *SessionEvent) WithReason(reason string) *SessionEvent {
	e.Reason = reason
	return e
}

// WithSpanContext copies the trace and span IDs of the span in ctx, so an
// audit line can be joined with its trace.
func (e *SessionEvent) WithSpanContext(ctx context.Context) *SessionEvent {
	e.TraceID = GetTraceID(ctx)
	e.SpanID = GetSpanID(ctx)
	return e
}

// Fail marks the event as failed with err.
func (e *SessionEvent) Fail(err error) *SessionEvent {
	e.Success = false
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// LogAttrs returns slog attributes with the user identity hashed.
func (e *SessionEvent) LogAttrs() []slog.Attr {
	attrs := e.baseAttrs()
	if e.UserID != "" {
		attrs = append(attrs, slog.String("user_hash", logging.AnonymizeID(e.UserID)))
	}
	return append(attrs, e.tailAttrs()...)
}

// LogAuditAttrs returns slog attributes including the raw Twitch identity.
//
// # Security Warning
//
// Ensure audit logs carrying these attributes are stored with appropriate
// access controls.
func (e *SessionEvent) LogAuditAttrs() []slog.Attr {
	attrs := e.baseAttrs()
	if e.UserID != "" {
		attrs = append(attrs, slog.String(logging.KeyUser, e.UserID))
	}
	if e.Login != "" {
		attrs = append(attrs, slog.String("login", e.Login))
	}
	if e.SpanID != "" {
		attrs = append(attrs, slog.String("span_id", e.SpanID))
	}
	return append(attrs, e.tailAttrs()...)
}

func (e *SessionEvent) baseAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("event", e.Event),
		slog.String(logging.KeySession, e.SessionID),
		slog.Bool("success", e.Success),
	}
}

func (e *SessionEvent) tailAttrs() []slog.Attr {
	var attrs []slog.Attr
	if e.SubscriptionID != "" {
		attrs = append(attrs, slog.String(logging.KeySubscription, e.SubscriptionID))
	}
	if e.Subscriptions > 0 {
		attrs = append(attrs, slog.Int("subscriptions", e.Subscriptions))
	}
	if e.Reason != "" {
		attrs = append(attrs, slog.String("reason", e.Reason))
	}
	if e.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", e.TraceID))
	}
	if e.Error != "" {
		attrs = append(attrs, slog.String(logging.KeyError, e.Error))
	}
	return attrs
}

// AuditLogger provides structured audit logging for session lifecycle events.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
}

// NewAuditLogger creates a new AuditLogger with the given slog.Logger.
// By default, raw user identities are not included.
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger,
		includePII: false,
		enabled:    true,
	}
}

// NewAuditLoggerWithConfig creates a new AuditLogger with the given configuration.
func NewAuditLoggerWithConfig(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger,
		includePII: config.IncludePII,
		enabled:    config.Enabled,
	}
}

// LogSessionEvent writes e at Info level, or Warn if it failed.
// A nil AuditLogger is a no-op.
func (al *AuditLogger) LogSessionEvent(e *SessionEvent) {
	if al == nil || !al.enabled || e == nil {
		return
	}

	var attrs []slog.Attr
	if al.includePII {
		attrs = e.LogAuditAttrs()
	} else {
		attrs = e.LogAttrs()
	}

	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}

	if e.Success {
		al.logger.Info("session_audit", args...)
	} else {
		al.logger.Warn("session_audit", args...)
	}
}

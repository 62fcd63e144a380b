package instrumentation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
)

const (
	testSessionID = "0b6d5c8e-4f2a-4d4b-9a3f-7f1e2d3c4b5a"
	testUserID    = "141981764"
	testLogin     = "twitchdev"
)

func attrMap(attrs []slog.Attr) map[string]any {
	m := make(map[string]any, len(attrs))
	for _, a := range attrs {
		m[a.Key] = a.Value.Any()
	}
	return m
}

func TestSessionEvent_New(t *testing.T) {
	e := NewSessionEvent(EventSessionCreated, testSessionID)

	if e.Event != EventSessionCreated {
		t.Errorf("Event = %q, want %q", e.Event, EventSessionCreated)
	}
	if e.SessionID != testSessionID {
		t.Errorf("SessionID = %q, want %q", e.SessionID, testSessionID)
	}
	if !e.Success {
		t.Error("new events should be successful")
	}
	if e.Time.IsZero() {
		t.Error("Time should not be zero")
	}
}

func TestSessionEvent_Fail(t *testing.T) {
	e := NewSessionEvent(EventConnectionRejected, testSessionID).Fail(errors.New("token revoked"))

	if e.Success {
		t.Error("Success should be false")
	}
	if e.Error != "token revoked" {
		t.Errorf("Error = %q, want %q", e.Error, "token revoked")
	}

	e = NewSessionEvent(EventConnectionRejected, testSessionID).Fail(nil)
	if e.Success {
		t.Error("Success should be false even without an error value")
	}
	if e.Error != "" {
		t.Errorf("Error = %q, want empty", e.Error)
	}
}

func TestSessionEvent_LogAttrs_HashesUser(t *testing.T) {
	e := NewSessionEvent(EventConnectionBound, testSessionID).
		WithUser(testUserID, testLogin).
		WithSubscriptions(4)

	m := attrMap(e.LogAttrs())

	if m["event"] != EventConnectionBound {
		t.Errorf("event = %v", m["event"])
	}
	if m["session_id"] != testSessionID {
		t.Errorf("session_id = %v", m["session_id"])
	}
	if _, ok := m["user_id"]; ok {
		t.Error("raw user_id must not be logged without PII")
	}
	if _, ok := m["login"]; ok {
		t.Error("login must not be logged without PII")
	}
	if m["user_hash"] == "" || m["user_hash"] == nil {
		t.Error("user_hash should be present")
	}
	if m["subscriptions"] != int64(4) {
		t.Errorf("subscriptions = %v, want 4", m["subscriptions"])
	}
}

func TestSessionEvent_LogAuditAttrs_IncludesUser(t *testing.T) {
	e := NewSessionEvent(EventSubscriptionRevoked, testSessionID).
		WithUser(testUserID, testLogin).
		WithSubscription("sub-1").
		WithReason("authorization_revoked")

	m := attrMap(e.LogAuditAttrs())

	if m["user_id"] != testUserID {
		t.Errorf("user_id = %v, want %q", m["user_id"], testUserID)
	}
	if m["login"] != testLogin {
		t.Errorf("login = %v, want %q", m["login"], testLogin)
	}
	if m["subscription_id"] != "sub-1" {
		t.Errorf("subscription_id = %v", m["subscription_id"])
	}
	if m["reason"] != "authorization_revoked" {
		t.Errorf("reason = %v", m["reason"])
	}
}

func TestSessionEvent_MinimalFields(t *testing.T) {
	m := attrMap(NewSessionEvent(EventSessionCreated, testSessionID).LogAttrs())

	for _, key := range []string{"user_hash", "subscription_id", "subscriptions", "reason", "trace_id", "error"} {
		if _, ok := m[key]; ok {
			t.Errorf("unexpected attribute %q on minimal event", key)
		}
	}
}

func TestSessionEvent_WithSpanContext_NoSpan(t *testing.T) {
	e := NewSessionEvent(EventSessionCreated, testSessionID).WithSpanContext(context.Background())
	if e.TraceID != "" || e.SpanID != "" {
		t.Errorf("expected empty trace context, got %q/%q", e.TraceID, e.SpanID)
	}
}

func TestAuditLogger_LogSessionEvent(t *testing.T) {
	tests := []struct {
		name       string
		includePII bool
		event      *SessionEvent
		wantLevel  string
		wantUser   bool
	}{
		{
			name:      "success without PII",
			event:     NewSessionEvent(EventConnectionBound, testSessionID).WithUser(testUserID, testLogin),
			wantLevel: "INFO",
		},
		{
			name:       "success with PII",
			includePII: true,
			event:      NewSessionEvent(EventConnectionBound, testSessionID).WithUser(testUserID, testLogin),
			wantLevel:  "INFO",
			wantUser:   true,
		},
		{
			name:      "failure logs at warn",
			event:     NewSessionEvent(EventConnectionRejected, testSessionID).Fail(errors.New("setup failed")),
			wantLevel: "WARN",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))

			al := NewAuditLoggerWithConfig(logger, AuditLoggingConfig{Enabled: true, IncludePII: tt.includePII})
			al.LogSessionEvent(tt.event)

			var record map[string]any
			if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
				t.Fatalf("failed to decode log line %q: %v", buf.String(), err)
			}
			if record["msg"] != "session_audit" {
				t.Errorf("msg = %v", record["msg"])
			}
			if record["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", record["level"], tt.wantLevel)
			}
			_, hasUser := record["user_id"]
			if hasUser != tt.wantUser {
				t.Errorf("user_id present = %v, want %v", hasUser, tt.wantUser)
			}
		})
	}
}

func TestAuditLogger_Disabled(t *testing.T) {
	var buf bytes.Buffer
	al := NewAuditLoggerWithConfig(slog.New(slog.NewTextHandler(&buf, nil)), AuditLoggingConfig{Enabled: false})

	al.LogSessionEvent(NewSessionEvent(EventSessionCreated, testSessionID))

	if buf.Len() != 0 {
		t.Errorf("expected no output when disabled, got %q", buf.String())
	}
}

func TestAuditLogger_NilSafe(t *testing.T) {
	var al *AuditLogger
	al.LogSessionEvent(NewSessionEvent(EventSessionCreated, testSessionID))

	NewAuditLogger(nil).LogSessionEvent(nil)
}

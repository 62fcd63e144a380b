package session

import (
	"context"
	"sync"
	"time"

	"github.com/teemow/eventrelay/internal/oauth"
)

// Status is a control message sent to a WebSocket client as {"status": ...}.
type Status string

// Statuses sent to clients.
const (
	StatusConnected       Status = "CONNECTED"
	StatusUnauthorized    Status = "UNAUTHORIZED"
	StatusBadRequest      Status = "BAD_REQUEST"
	StatusTimedOut        Status = "TIMED_OUT"
	StatusSwitchingSocket Status = "SWITCHING_SOCKET"
	StatusError           Status = "ERROR"
)

// Conn is a live client connection bound to a session.
type Conn interface {
	SendStatus(ctx context.Context, status Status) error
	SendEvent(ctx context.Context, payload []byte) error
	Close(reason string) error
}

// Session binds one client to its Twitch credential and EventSub subscriptions.
type Session struct {
	ID            string
	Secret        string
	WebhookSecret string
	CreatedAt     time.Time

	credential *oauth.Credential

	// setupMu serialises bind, cleanup, garbage collection and subscription
	// removal for this session.
	setupMu sync.Mutex
	removed bool

	// stateMu guards the fields below.
	stateMu         sync.RWMutex
	conn            Conn
	lastActivityAt  time.Time
	subscriptionIDs []string
	userID          string
	login           string
}

// Credential returns the user credential owned by the session.
func (s *Session) Credential() *oauth.Credential {
	return s.credential
}

// Conn returns the bound connection, or nil.
func (s *Session) Conn() Conn {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.conn
}

// LastActivityAt returns when the session was created or last lost its connection.
func (s *Session) LastActivityAt() time.Time {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.lastActivityAt
}

// SubscriptionIDs returns a copy of the session's subscription ids in creation order.
func (s *Session) SubscriptionIDs() []string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return append([]string(nil), s.subscriptionIDs...)
}

// UserID returns the Twitch user id recorded during setup.
func (s *Session) UserID() string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.userID
}

// Login returns the Twitch login recorded during setup.
func (s *Session) Login() string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.login
}

func (s *Session) setIdentity(userID, login string) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.userID = userID
	s.login = login
}

func (s *Session) hasSubscriptions() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return len(s.subscriptionIDs) > 0
}

func (s *Session) hasSubscription(id string) bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	for _, sub := range s.subscriptionIDs {
		if sub == id {
			return true
		}
	}
	return false
}

func (s *Session) appendSubscription(id string) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.subscriptionIDs = append(s.subscriptionIDs, id)
}

func (s *Session) dropSubscription(id string) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	for i, sub := range s.subscriptionIDs {
		if sub == id {
			s.subscriptionIDs = append(s.subscriptionIDs[:i], s.subscriptionIDs[i+1:]...)
			return
		}
	}
}

// takeSubscriptions clears and returns the subscription ids.
func (s *Session) takeSubscriptions() []string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	ids := s.subscriptionIDs
	s.subscriptionIDs = nil
	return ids
}

// swapConn stores conn and returns the previous connection.
func (s *Session) swapConn(conn Conn) Conn {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	old := s.conn
	s.conn = conn
	return old
}

// idle reports whether the session has no connection and has been inactive
// for longer than timeout.
func (s *Session) idle(now time.Time, timeout time.Duration) bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.conn == nil && now.Sub(s.lastActivityAt) > timeout
}

package socket

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/teemow/eventrelay/internal/session"
)

// statusMessage is the control message sent to clients.
type statusMessage struct {
	Status session.Status `json:"status"`
}

// wsConn adapts a *websocket.Conn to session.Conn.
type wsConn struct {
	c            *websocket.Conn
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

func newWSConn(c *websocket.Conn, writeTimeout time.Duration) *wsConn {
	return &wsConn{c: c, writeTimeout: writeTimeout}
}

// SendStatus writes {"status": status}.
func (w *wsConn) SendStatus(ctx context.Context, status session.Status) error {
	ctx, cancel := w.writeContext(ctx)
	defer cancel()
	return wsjson.Write(ctx, w.c, statusMessage{Status: status})
}

// SendEvent writes payload unchanged as a text message.
func (w *wsConn) SendEvent(ctx context.Context, payload []byte) error {
	ctx, cancel := w.writeContext(ctx)
	defer cancel()
	return w.c.Write(ctx, websocket.MessageText, payload)
}

// Close closes the connection with a normal closure.
func (w *wsConn) Close(reason string) error {
	return w.close(websocket.StatusNormalClosure, reason)
}

// close closes the connection once. Later calls return the first result.
func (w *wsConn) close(code websocket.StatusCode, reason string) error {
	w.closeOnce.Do(func() {
		w.closeErr = w.c.Close(code, reason)
	})
	return w.closeErr
}

// reject sends status and closes with a policy violation.
func (w *wsConn) reject(ctx context.Context, status session.Status, reason string) {
	_ = w.SendStatus(ctx, status)
	_ = w.close(websocket.StatusPolicyViolation, reason)
}

func (w *wsConn) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	// Bounded by writeTimeout only; ctx may be a finished webhook request.
	return context.WithTimeout(context.WithoutCancel(ctx), w.writeTimeout)
}

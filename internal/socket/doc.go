// Package socket implements the client side of the relay: a WebSocket
// endpoint that authenticates against a session and then receives that
// session's EventSub notifications.
package socket

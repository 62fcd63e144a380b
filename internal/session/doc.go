// Package session implements the relay's session registry.
//
// A session is created when a user finishes the Twitch login. It owns the
// user's credential, a secret the client presents when it opens its
// WebSocket, and a webhook secret used to sign EventSub deliveries. The first
// successful bind creates the session's EventSub subscriptions; each
// subscription id is indexed so inbound webhooks can be routed back to the
// session's single live connection.
//
// # Concurrency
//
// The registry map is guarded by an RWMutex. Each session additionally has a
// setup mutex held for the whole of bind, cleanup, garbage collection and
// subscription removal, so subscription setup runs at most once and a
// session is never collected while a bind is in progress. Connection state
// has its own lock so webhook forwarding never waits for setup.
package session

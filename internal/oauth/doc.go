// Package oauth owns the Twitch OAuth credential lifecycle: the login
// redirect flow, authorization-code and client-credentials exchanges, and
// in-place refresh of user credentials.
//
// Credentials are never persisted. A user credential lives inside the relay
// session created at the end of the login flow; the application credential
// is held by the server for subscription management.
package oauth

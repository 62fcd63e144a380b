// Package server provides the public HTTP server of the relay, its health
// checks and the separate Prometheus metrics server.
//
// # Routes
//
// Server mounts the relay endpoints on a single mux:
//   - /login and /authorize: the Twitch authorization code flow
//   - /webhook: EventSub deliveries from Twitch
//   - /ws: client WebSocket connections
//   - /healthz, /readyz and /healthz/detailed: Kubernetes health checks
//
// # Security Features
//
//   - HTTPS required for the public base URL (localhost exempt for development)
//   - Per-IP rate limiting on the login and WebSocket endpoints
//   - Security headers on all HTTP responses
//   - Request metrics and OpenTelemetry spans per route
//
// ServerContext carries the session registry and store shared by the
// handlers and health checks. Shutting it down cancels the context of
// in-flight WebSocket connections.
package server

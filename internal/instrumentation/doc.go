// Package instrumentation provides OpenTelemetry instrumentation for the
// eventrelay server.
//
// This package enables production-grade observability through:
//   - OpenTelemetry metrics for HTTP requests, OAuth exchanges, Twitch API calls and webhook deliveries
//   - Distributed tracing for Twitch API calls and relay operations
//   - Prometheus metrics export via /metrics endpoint on dedicated port
//   - OTLP export support for modern observability platforms
//
// # Metrics
//
// Server/HTTP Metrics:
//   - http_requests_total: Counter of HTTP requests by method, path, and status
//   - http_request_duration_seconds: Histogram of HTTP request durations
//
// Session Metrics:
//   - active_sessions: Sessions held by the registry
//   - active_connections: Sessions with a bound WebSocket
//   - sessions_expired_total: Idle sessions removed by garbage collection
//
// Twitch API Metrics:
//   - twitch_api_operations_total: Counter of Helix operations by operation and status
//   - twitch_api_operation_duration_seconds: Histogram of Helix operation durations
//
// OAuth Metrics:
//   - oauth_auth_total: Token exchanges by grant type and result
//   - oauth_token_refresh_total: Token refresh attempts by result
//
// Webhook Metrics:
//   - webhook_deliveries_total: Inbound deliveries by subscription type and outcome
//   - eventsub_subscriptions_total: Subscription lifecycle actions by type and action
//
// Subscription types are attacker-controlled until a delivery is verified.
// They pass through EventTypeLabel before becoming a label.
//
// # Tracing
//
// Distributed tracing spans are created for:
//   - HTTP request handling (via otelhttp in the server package)
//   - Twitch API calls (twitch.<operation>)
//   - Session setup and webhook handling (relay.<name>)
//
// # Configuration
//
// Instrumentation can be configured via environment variables:
//   - INSTRUMENTATION_ENABLED: Enable/disable instrumentation (default: true)
//   - METRICS_EXPORTER: Metrics exporter type (prometheus, otlp, stdout, default: prometheus)
//   - TRACING_EXPORTER: Tracing exporter type (otlp, stdout, none, default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint for traces/metrics
//   - OTEL_TRACES_SAMPLER_ARG: Sampling rate (0.0 to 1.0, default: 0.1)
//   - OTEL_SERVICE_NAME: Service name (default: eventrelay)
//
// # Example Usage
//
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.DefaultConfig(), logger)
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	audit := provider.Audit()
//	recorder := provider.Metrics()
//	recorder.RecordWebhookDelivery(ctx, "channel.subscribe", instrumentation.DeliveryForwarded)
//	recorder.RecordProviderOperation(ctx, instrumentation.OperationCreateSubscription, "success", time.Since(start))
package instrumentation

package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys - using constants for consistency and DRY
const (
	attrMethod    = "method"
	attrPath      = "path"
	attrStatus    = "status"
	attrOperation = "operation"
	attrResult    = "result"
	attrType      = "type"
	attrOutcome   = "outcome"
	attrAction    = "action"
	attrGrant     = "grant"
)

// Metrics provides methods for recording observability metrics.
type Metrics struct {
	// HTTP metrics
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	// Session registry metrics
	activeSessions    metric.Int64UpDownCounter
	activeConnections metric.Int64UpDownCounter
	sessionsExpired   metric.Int64Counter

	// Twitch API metrics
	providerOperationsTotal   metric.Int64Counter
	providerOperationDuration metric.Float64Histogram

	// OAuth metrics
	oauthAuthTotal         metric.Int64Counter
	oauthTokenRefreshTotal metric.Int64Counter

	// Webhook relay metrics
	webhookDeliveriesTotal metric.Int64Counter
	subscriptionsTotal     metric.Int64Counter

	// Configuration
	// detailedLabels controls whether high-cardinality labels are included
	detailedLabels bool
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The detailedLabels parameter controls whether high-cardinality labels are included.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{
		detailedLabels: detailedLabels,
	}

	var err error

	// HTTP Metrics
	m.httpRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}

	// Session Metrics
	m.activeSessions, err = meter.Int64UpDownCounter(
		"active_sessions",
		metric.WithDescription("Number of sessions held by the registry"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active_sessions gauge: %w", err)
	}

	m.activeConnections, err = meter.Int64UpDownCounter(
		"active_connections",
		metric.WithDescription("Number of sessions with a bound live connection"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active_connections gauge: %w", err)
	}

	m.sessionsExpired, err = meter.Int64Counter(
		"sessions_expired_total",
		metric.WithDescription("Total number of idle sessions removed by garbage collection"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions_expired_total counter: %w", err)
	}

	// Twitch API Metrics
	m.providerOperationsTotal, err = meter.Int64Counter(
		"twitch_api_operations_total",
		metric.WithDescription("Total number of Twitch API operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create twitch_api_operations_total counter: %w", err)
	}

	m.providerOperationDuration, err = meter.Float64Histogram(
		"twitch_api_operation_duration_seconds",
		metric.WithDescription("Twitch API operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create twitch_api_operation_duration_seconds histogram: %w", err)
	}

	// OAuth Metrics
	m.oauthAuthTotal, err = meter.Int64Counter(
		"oauth_auth_total",
		metric.WithDescription("Total number of OAuth token exchanges"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_auth_total counter: %w", err)
	}

	m.oauthTokenRefreshTotal, err = meter.Int64Counter(
		"oauth_token_refresh_total",
		metric.WithDescription("Total number of OAuth token refresh attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_token_refresh_total counter: %w", err)
	}

	// Webhook Metrics
	m.webhookDeliveriesTotal, err = meter.Int64Counter(
		"webhook_deliveries_total",
		metric.WithDescription("Total number of inbound EventSub webhook deliveries"),
		metric.WithUnit("{delivery}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook_deliveries_total counter: %w", err)
	}

	m.subscriptionsTotal, err = meter.Int64Counter(
		"eventsub_subscriptions_total",
		metric.WithDescription("Total number of EventSub subscription lifecycle actions"),
		metric.WithUnit("{subscription}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create eventsub_subscriptions_total counter: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with method, path, status code, and duration.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.httpRequestsTotal == nil || m.httpRequestDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	}

	m.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.httpRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordProviderOperation records a Twitch API operation.
//
// Parameters:
//   - operation: identify_user, list_subscriptions, create_subscription, delete_subscription
//   - status: Result status ("success" or "error")
//   - duration: Time taken for the operation
func (m *Metrics) RecordProviderOperation(ctx context.Context, operation, status string, duration time.Duration) {
	if m == nil || m.providerOperationsTotal == nil || m.providerOperationDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	}

	m.providerOperationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.providerOperationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordOAuthAuth records a token exchange for the given grant type.
// Result should be one of: "success", "failure"
func (m *Metrics) RecordOAuthAuth(ctx context.Context, grant, result string) {
	if m == nil || m.oauthAuthTotal == nil {
		return // Instrumentation not initialized
	}

	m.oauthAuthTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrGrant, grant),
		attribute.String(attrResult, result),
	))
}

// RecordOAuthTokenRefresh records an OAuth token refresh attempt with result.
// Result should be one of: "success", "failure", "expired"
func (m *Metrics) RecordOAuthTokenRefresh(ctx context.Context, result string) {
	if m == nil || m.oauthTokenRefreshTotal == nil {
		return // Instrumentation not initialized
	}

	m.oauthTokenRefreshTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrResult, result),
	))
}

// RecordWebhookDelivery records the outcome of one inbound webhook delivery.
// The subscription type is passed through EventTypeLabel to bound cardinality.
func (m *Metrics) RecordWebhookDelivery(ctx context.Context, subscriptionType, outcome string) {
	if m == nil || m.webhookDeliveriesTotal == nil {
		return // Instrumentation not initialized
	}

	m.webhookDeliveriesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrType, EventTypeLabel(subscriptionType, m.detailedLabels)),
		attribute.String(attrOutcome, outcome),
	))
}

// RecordSubscription records a subscription lifecycle action
// (created, deleted, revoked) for the given event type.
func (m *Metrics) RecordSubscription(ctx context.Context, subscriptionType, action string) {
	if m == nil || m.subscriptionsTotal == nil {
		return // Instrumentation not initialized
	}

	m.subscriptionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrType, EventTypeLabel(subscriptionType, m.detailedLabels)),
		attribute.String(attrAction, action),
	))
}

// IncrementActiveSessions increments the active sessions counter.
func (m *Metrics) IncrementActiveSessions(ctx context.Context) {
	if m == nil || m.activeSessions == nil {
		return // Instrumentation not initialized
	}

	m.activeSessions.Add(ctx, 1)
}

// DecrementActiveSessions decrements the active sessions counter.
func (m *Metrics) DecrementActiveSessions(ctx context.Context) {
	if m == nil || m.activeSessions == nil {
		return // Instrumentation not initialized
	}

	m.activeSessions.Add(ctx, -1)
}

// IncrementActiveConnections increments the bound connections counter.
func (m *Metrics) IncrementActiveConnections(ctx context.Context) {
	if m == nil || m.activeConnections == nil {
		return // Instrumentation not initialized
	}

	m.activeConnections.Add(ctx, 1)
}

// DecrementActiveConnections decrements the bound connections counter.
func (m *Metrics) DecrementActiveConnections(ctx context.Context) {
	if m == nil || m.activeConnections == nil {
		return // Instrumentation not initialized
	}

	m.activeConnections.Add(ctx, -1)
}

// RecordSessionsExpired records sessions removed by a garbage collection sweep.
func (m *Metrics) RecordSessionsExpired(ctx context.Context, n int) {
	if m == nil || m.sessionsExpired == nil || n <= 0 {
		return
	}

	m.sessionsExpired.Add(ctx, int64(n))
}

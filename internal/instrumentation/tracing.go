package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the default tracer name for the eventrelay module.
const TracerName = "github.com/teemow/eventrelay"

// Span attribute keys for operations.
const (
	// SpanAttrOperation is the Twitch API operation attribute.
	SpanAttrOperation = "twitch.operation"

	// SpanAttrSession is the relay session identifier attribute.
	SpanAttrSession = "relay.session_id"

	// SpanAttrSubscription is the EventSub subscription identifier attribute.
	SpanAttrSubscription = "twitch.subscription_id"

	// SpanAttrEventType is the EventSub subscription type attribute.
	SpanAttrEventType = "twitch.event_type"

	// SpanAttrStatus is the operation status attribute.
	SpanAttrStatus = "relay.status"

	// SpanAttrHTTPStatus is the upstream HTTP status code attribute.
	SpanAttrHTTPStatus = "http.response.status_code"
)

// SpanAttributeBuilder helps construct OpenTelemetry span attributes
// with consistent naming.
type SpanAttributeBuilder struct {
	attrs []attribute.KeyValue
}

// NewSpanAttributeBuilder creates a new SpanAttributeBuilder.
func NewSpanAttributeBuilder() *SpanAttributeBuilder {
	return &SpanAttributeBuilder{
		attrs: make([]attribute.KeyValue, 0, 6),
	}
}

// WithOperation adds the operation attribute.
func (b *SpanAttributeBuilder) WithOperation(operation string) *SpanAttributeBuilder {
	b.attrs = append(b.attrs, attribute.String(SpanAttrOperation, operation))
	return b
}

// WithSession adds the session attribute.
func (b *SpanAttributeBuilder) WithSession(sessionID string) *SpanAttributeBuilder {
	if sessionID != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrSession, sessionID))
	}
	return b
}

// WithSubscription adds the subscription ID and type attributes.
func (b *SpanAttributeBuilder) WithSubscription(id, eventType string) *SpanAttributeBuilder {
	if id != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrSubscription, id))
	}
	if eventType != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrEventType, eventType))
	}
	return b
}

// WithStatus adds the status attribute.
func (b *SpanAttributeBuilder) WithStatus(status string) *SpanAttributeBuilder {
	b.attrs = append(b.attrs, attribute.String(SpanAttrStatus, status))
	return b
}

// Build returns the constructed attributes.
func (b *SpanAttributeBuilder) Build() []attribute.KeyValue {
	return b.attrs
}

// StartProviderSpan starts a client span for a Twitch API operation.
func StartProviderSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append(NewSpanAttributeBuilder().WithOperation(operation).Build(), attrs...)

	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, "twitch."+operation,
		trace.WithAttributes(allAttrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// StartRelaySpan starts an internal span for a session registry or relay step
// such as "session.bind" or "webhook.deliver".
func StartRelaySpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// SetSpanError records an error on the span and sets the status to error.
func SetSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess sets the span status to OK.
func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddSpanEvent records a named event on the span carried by ctx. It is a
// no-op when ctx has no recording span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// GetTraceID returns the trace ID from the current span in context.
// Returns empty string if no valid span is present.
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// GetSpanID returns the span ID from the current span in context.
func GetSpanID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.SpanID().String()
}

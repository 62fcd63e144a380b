package instrumentation

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// recordSpans installs a recording tracer provider for the duration of the test.
func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return rec
}

func onlySpan(t *testing.T, rec *tracetest.SpanRecorder) sdktrace.ReadOnlySpan {
	t.Helper()
	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 ended span, got %d", len(spans))
	}
	return spans[0]
}

func spanAttrs(attrs []attribute.KeyValue) map[string]any {
	m := make(map[string]any, len(attrs))
	for _, a := range attrs {
		m[string(a.Key)] = a.Value.AsInterface()
	}
	return m
}

func TestSpanAttributeBuilder(t *testing.T) {
	attrs := NewSpanAttributeBuilder().
		WithOperation(OperationCreateSubscription).
		WithSession("3f0c9a52-5d1e-4d7a-9a8e-1e2f3a4b5c6d").
		WithSubscription("sub-1", "channel.cheer").
		WithStatus(DeliveryForwarded).
		Build()

	if len(attrs) != 5 {
		t.Errorf("expected 5 attributes, got %d", len(attrs))
	}

	m := spanAttrs(attrs)
	want := map[string]any{
		SpanAttrOperation:    OperationCreateSubscription,
		SpanAttrSession:      "3f0c9a52-5d1e-4d7a-9a8e-1e2f3a4b5c6d",
		SpanAttrSubscription: "sub-1",
		SpanAttrEventType:    "channel.cheer",
		SpanAttrStatus:       DeliveryForwarded,
	}
	for k, v := range want {
		if m[k] != v {
			t.Errorf("%s = %v, want %v", k, m[k], v)
		}
	}
}

func TestSpanAttributeBuilder_EmptyValues(t *testing.T) {
	attrs := NewSpanAttributeBuilder().
		WithOperation(OperationListSubscriptions).
		WithSession("").
		WithSubscription("", "").
		Build()

	if len(attrs) != 1 {
		t.Errorf("expected only the operation attribute, got %d", len(attrs))
	}
}

func TestStartProviderSpan(t *testing.T) {
	rec := recordSpans(t)

	_, span := StartProviderSpan(context.Background(), OperationIdentifyUser,
		attribute.Int(SpanAttrHTTPStatus, 200))
	span.End()

	got := onlySpan(t, rec)
	if got.Name() != "twitch.identify_user" {
		t.Errorf("name = %q", got.Name())
	}
	if got.SpanKind() != trace.SpanKindClient {
		t.Errorf("kind = %v, want client", got.SpanKind())
	}
	m := spanAttrs(got.Attributes())
	if m[SpanAttrOperation] != OperationIdentifyUser {
		t.Errorf("operation attribute = %v", m[SpanAttrOperation])
	}
	if m[SpanAttrHTTPStatus] != int64(200) {
		t.Errorf("extra attributes are kept, got %v", m[SpanAttrHTTPStatus])
	}
}

func TestStartRelaySpan(t *testing.T) {
	rec := recordSpans(t)

	_, span := StartRelaySpan(context.Background(), "session.bind",
		NewSpanAttributeBuilder().WithSession("s-1").Build()...)
	span.End()

	got := onlySpan(t, rec)
	if got.Name() != "session.bind" {
		t.Errorf("name = %q", got.Name())
	}
	if got.SpanKind() != trace.SpanKindInternal {
		t.Errorf("kind = %v, want internal", got.SpanKind())
	}
	if spanAttrs(got.Attributes())[SpanAttrSession] != "s-1" {
		t.Error("session attribute missing")
	}
}

func TestSpanStatus(t *testing.T) {
	tests := []struct {
		name string
		end  func(span trace.Span)
		want codes.Code
	}{
		{"error", func(span trace.Span) { SetSpanError(span, errors.New("upstream 503")) }, codes.Error},
		{"nil error leaves status unset", func(span trace.Span) { SetSpanError(span, nil) }, codes.Unset},
		{"success", SetSpanSuccess, codes.Ok},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := recordSpans(t)
			_, span := StartRelaySpan(context.Background(), "webhook.deliver")
			tt.end(span)
			span.End()

			if got := onlySpan(t, rec).Status().Code; got != tt.want {
				t.Errorf("status = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAddSpanEvent(t *testing.T) {
	rec := recordSpans(t)

	ctx, span := StartRelaySpan(context.Background(), "webhook.deliver")
	AddSpanEvent(ctx, "webhook.outcome", NewSpanAttributeBuilder().WithStatus(DeliveryRevoked).Build()...)
	span.End()

	events := onlySpan(t, rec).Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Name != "webhook.outcome" {
		t.Errorf("event name = %q", events[0].Name)
	}
	if spanAttrs(events[0].Attributes)[SpanAttrStatus] != DeliveryRevoked {
		t.Error("event status attribute missing")
	}

	// Without a span in the context this is a no-op.
	AddSpanEvent(context.Background(), "ignored")
}

func TestTraceAndSpanID(t *testing.T) {
	if GetTraceID(context.Background()) != "" || GetSpanID(context.Background()) != "" {
		t.Error("expected empty IDs without a span")
	}

	recordSpans(t)
	ctx, span := StartRelaySpan(context.Background(), "session.cleanup")
	defer span.End()

	sc := span.SpanContext()
	if got := GetTraceID(ctx); got != sc.TraceID().String() {
		t.Errorf("trace id = %q, want %q", got, sc.TraceID())
	}
	if got := GetSpanID(ctx); got != sc.SpanID().String() {
		t.Errorf("span id = %q, want %q", got, sc.SpanID())
	}

	e := NewSessionEvent(EventSessionCleanedUp, testSessionID).WithSpanContext(ctx)
	if e.TraceID != sc.TraceID().String() || e.SpanID != sc.SpanID().String() {
		t.Errorf("audit event carries %q/%q", e.TraceID, e.SpanID)
	}
}

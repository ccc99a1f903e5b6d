package tracing_test

import (
	"context"
	"net/http"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/roomfire/internal/chat"
	"github.com/torosent/roomfire/internal/config"
	"github.com/torosent/roomfire/internal/tracing"
)

func setupTestTracer(t *testing.T) (*tracetest.InMemoryExporter, trace.Tracer) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})
	return exporter, tp.Tracer("test")
}

func TestInitDisabledByDefault(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	p, err := tracing.Init(context.Background(), config.TracingConfig{}, "")
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	if p.ShouldPropagate() {
		t.Error("ShouldPropagate() = true, want false when tracing disabled")
	}
	if p.HandshakeInjector() != nil {
		t.Error("HandshakeInjector() should be nil when propagation is off")
	}

	// Tracer should return a no-op (no panic)
	_, span := p.Tracer().Start(context.Background(), "test")
	span.End()
}

func TestInitWithEndpointEnablesTracing(t *testing.T) {
	p, err := tracing.Init(context.Background(), config.TracingConfig{
		Endpoint:    "localhost:4317",
		Protocol:    "grpc",
		ServiceName: "test-service",
		SampleRate:  1.0,
		Insecure:    true,
	}, "01HZXTESTRUN")
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	if !p.ShouldPropagate() {
		t.Error("ShouldPropagate() = false, want true when tracing enabled")
	}
	if p.HandshakeInjector() == nil {
		t.Error("HandshakeInjector() = nil, want injector")
	}
}

func TestInitHTTPProtocol(t *testing.T) {
	p, err := tracing.Init(context.Background(), config.TracingConfig{
		Endpoint:   "localhost:4318",
		Protocol:   "http",
		Insecure:   true,
		SampleRate: 0.5,
	}, "")
	if err != nil {
		t.Fatalf("Init() with http protocol error = %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
}

func TestInitUnsupportedProtocol(t *testing.T) {
	_, err := tracing.Init(context.Background(), config.TracingConfig{
		Endpoint: "localhost:4317",
		Protocol: "thrift",
		Insecure: true,
	}, "")
	if err == nil {
		t.Fatal("Init() with unsupported protocol should return error")
	}
}

func TestInitInvalidSampleRate(t *testing.T) {
	for _, rate := range []float64{-0.5, 1.5} {
		_, err := tracing.Init(context.Background(), config.TracingConfig{
			Endpoint:   "localhost:4317",
			Protocol:   "grpc",
			Insecure:   true,
			SampleRate: rate,
		}, "")
		if err == nil {
			t.Fatalf("Init() with sample_rate=%g should return error", rate)
		}
	}
}

func TestShouldPropagateOverride(t *testing.T) {
	falseVal := false
	p, err := tracing.Init(context.Background(), config.TracingConfig{
		Endpoint:  "localhost:4317",
		Protocol:  "grpc",
		Insecure:  true,
		Propagate: &falseVal,
	}, "")
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	if p.ShouldPropagate() {
		t.Error("ShouldPropagate() = true, want false when explicitly disabled")
	}
}

func TestNilProviderSafety(t *testing.T) {
	var p *tracing.Provider
	if p.ShouldPropagate() {
		t.Error("nil provider ShouldPropagate() = true, want false")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("nil provider Shutdown() error = %v", err)
	}
	_, span := p.Tracer().Start(context.Background(), "test")
	span.End()
}

func TestTaskAndAttemptSpans(t *testing.T) {
	exporter, tracer := setupTestTracer(t)

	task := chat.Task{RoomID: 9, Message: chat.Message{Kind: chat.KindJoin}}
	ctx, taskSpan := tracing.StartTaskSpan(context.Background(), tracer, "main", task)
	_, attemptSpan := tracing.StartAttemptSpan(ctx, tracer, task.RoomID, 2)
	tracing.EndSpan(attemptSpan, context.DeadlineExceeded)
	tracing.EndSpan(taskSpan, nil, tracing.AttrStatus.Int(200))

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	attempt, parent := spans[0], spans[1]
	if attempt.Name != "chat attempt" || parent.Name != "chat send" {
		t.Fatalf("span names = %q, %q", attempt.Name, parent.Name)
	}
	if attempt.Parent.SpanID() != parent.SpanContext.SpanID() {
		t.Error("attempt span is not a child of the task span")
	}
	if attempt.Status.Code != codes.Error || parent.Status.Code != codes.Ok {
		t.Errorf("statuses = %v/%v, want Error/Ok", attempt.Status.Code, parent.Status.Code)
	}

	attrs := map[string]string{}
	for _, kv := range parent.Attributes {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	want := map[string]string{
		"roomfire.phase":        "main",
		"roomfire.room_id":      "9",
		"roomfire.message_type": "JOIN",
		"roomfire.status":       "200",
	}
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("attribute %s = %q, want %q", k, attrs[k], v)
		}
	}
}

func TestInjectHTTPHeaders(t *testing.T) {
	_, tracer := setupTestTracer(t)

	ctx, span := tracer.Start(context.Background(), "test-inject")
	defer span.End()

	headers := make(http.Header)
	tracing.InjectHTTPHeaders(ctx, headers)

	got := headers.Get("Traceparent")
	// traceparent format: version-traceid-spanid-flags
	if len(got) < 55 {
		t.Errorf("traceparent header too short: %q", got)
	}
}

func TestInjectHTTPHeadersNoSpan(t *testing.T) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
	))
	headers := make(http.Header)
	tracing.InjectHTTPHeaders(context.Background(), headers)

	if got := headers.Get("Traceparent"); got != "" {
		t.Errorf("traceparent header should be empty without span, got %q", got)
	}
}

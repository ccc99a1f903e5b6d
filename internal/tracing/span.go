package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/roomfire/internal/chat"
)

// Attribute keys set on task and attempt spans.
const (
	AttrPhase       = attribute.Key("roomfire.phase")
	AttrRoomID      = attribute.Key("roomfire.room_id")
	AttrMessageType = attribute.Key("roomfire.message_type")
	AttrAttempt     = attribute.Key("roomfire.attempt")
	AttrStatus      = attribute.Key("roomfire.status")
)

// StartTaskSpan starts the span covering one task across all of its attempts.
func StartTaskSpan(ctx context.Context, tracer trace.Tracer, phase string, task chat.Task) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "chat send",
		trace.WithSpanKind(trace.SpanKindProducer),
	)
	span.SetAttributes(
		attribute.String("messaging.system", "websocket"),
		AttrPhase.String(phase),
		AttrRoomID.Int(task.RoomID),
		AttrMessageType.String(string(task.Message.Kind)),
	)
	return ctx, span
}

// StartAttemptSpan starts a child span for a single send-and-wait attempt.
// attempt is 1-based.
func StartAttemptSpan(ctx context.Context, tracer trace.Tracer, roomID, attempt int) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "chat attempt",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		AttrRoomID.Int(roomID),
		AttrAttempt.Int(attempt),
	)
	return ctx, span
}

// EndSpan finishes a span, recording error status if applicable.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// InjectHTTPHeaders injects W3C trace context into HTTP headers.
func InjectHTTPHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}

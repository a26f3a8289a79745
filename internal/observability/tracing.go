package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope for memory subsystem spans.
const TracerName = "memtier"

// Tracer returns the subsystem tracer from the globally registered
// provider. The host application owns provider and exporter setup; without
// one, spans are no-ops.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartSpan starts a span for a memory operation with record context.
// scopeID may be empty for shared-memory operations.
func StartSpan(ctx context.Context, op, conversationID, scopeID string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("memtier.conversation_id", conversationID),
	}
	if scopeID != "" {
		attrs = append(attrs, attribute.String("memtier.scope_id", scopeID))
	}
	return Tracer().Start(ctx, op, trace.WithAttributes(attrs...))
}

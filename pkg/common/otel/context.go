package otel

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// GetTraceID returns the trace id of the span carried in ctx, or the zero
// trace id when no valid span is present. Log lines use it to correlate
// with the emitting trace.
func GetTraceID(ctx context.Context) string {
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		return sc.TraceID().String()
	}
	return trace.TraceID{}.String()
}

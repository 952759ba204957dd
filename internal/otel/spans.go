package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for plantrack spans.
var (
	AttrUser       = attribute.Key("plantrack.user")
	AttrProject    = attribute.Key("plantrack.project.path")
	AttrContextID  = attribute.Key("plantrack.context.id")
	AttrTaskID     = attribute.Key("plantrack.task.id")
	AttrToolName   = attribute.Key("plantrack.tool.name")
	AttrAttemptID  = attribute.Key("plantrack.migrate.attempt_id")
	AttrFromSchema = attribute.Key("plantrack.migrate.from_version")
	AttrToSchema   = attribute.Key("plantrack.migrate.to_version")
	AttrBackupPath = attribute.Key("plantrack.backup.path")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan starts a span for an inbound tool call.
func StartServerSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartClientSpan starts a span for an outbound call (git subprocess).
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

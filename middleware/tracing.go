package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/marchway/mailsync/syncjob"
)

// tracerName is the instrumentation scope name for mailsync tracing.
const tracerName = "github.com/marchway/mailsync"

// Tracing returns middleware that wraps chunk execution in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a
// pass-through with zero overhead.
//
// Span attributes include: mailsync.chunk.id, mailsync.job.id,
// mailsync.tenant_id, mailsync.chunk.number, mailsync.chunk.attempt.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, c *syncjob.Chunk, next Handler) error {
		ctx, span := tracer.Start(ctx, "mailsync.chunk.execute",
			trace.WithAttributes(
				attribute.String("mailsync.chunk.id", c.ID.String()),
				attribute.String("mailsync.job.id", c.JobID.String()),
				attribute.String("mailsync.tenant_id", c.TenantID),
				attribute.Int("mailsync.chunk.number", c.ChunkNumber),
				attribute.Int("mailsync.chunk.attempt", c.Attempts),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}

package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/karstlabs/gantry/execution"
)

// tracerName is the instrumentation scope name for gantry tracing.
const tracerName = "github.com/karstlabs/gantry"

// Tracing returns middleware that wraps body invocation in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a pass-through
// with zero overhead.
//
// Span attributes include: gantry.execution.id, gantry.job.id,
// gantry.job.type, gantry.tenant_id, gantry.retry_count.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, e *execution.Execution, next Handler) error {
		ctx, span := tracer.Start(ctx, "gantry.execution.run",
			trace.WithAttributes(
				attribute.String("gantry.execution.id", e.ID.String()),
				attribute.String("gantry.job.id", e.JobID.String()),
				attribute.String("gantry.job.type", e.JobType),
				attribute.String("gantry.tenant_id", e.TenantID),
				attribute.Int("gantry.retry_count", e.RetryCount),
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

package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of every talkloop span.
const tracerName = "github.com/MrWong99/talkloop"

type turnKey struct{}

// Tracer returns the talkloop tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on [Tracer]. The caller must end it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// WithTurn returns a copy of ctx carrying turnID. Loggers obtained from
// [Logger] with the returned context tag every record with turn_id.
func WithTurn(ctx context.Context, turnID string) context.Context {
	return context.WithValue(ctx, turnKey{}, turnID)
}

// TurnID returns the turn ID stored by [WithTurn], or "".
func TurnID(ctx context.Context) string {
	id, _ := ctx.Value(turnKey{}).(string)
	return id
}

// CorrelationID returns the trace ID of the active span in ctx. Without a
// sampled trace it falls back to the turn ID, and to "" without either.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return TurnID(ctx)
}

// Logger returns the default logger tagged with trace_id and span_id of the
// active span and the turn_id of ctx, whichever are present.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if id := TurnID(ctx); id != "" {
		l = l.With(slog.String("turn_id", id))
	}
	return l
}

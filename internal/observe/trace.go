package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// scope names the engine's spans in every exporter.
const scope = "github.com/MrWong99/cratequiet"

// SessionKey is the span attribute and log key carrying a monitoring
// session id.
const SessionKey = "session_id"

type sessionCtxKey struct{}

// Tracer returns the engine tracer from the global provider. Spans started
// before a provider is installed are no-ops.
func Tracer() trace.Tracer {
	return otel.Tracer(scope)
}

// StartSpan starts a span named after the engine operation, for example
// "monitor.Start" or "HTTP GET /v1/stats". End the span when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// WithSession tags the active span with the session id and returns a context
// whose [Logger] adds session_id to every record.
func WithSession(ctx context.Context, id string) context.Context {
	trace.SpanFromContext(ctx).SetAttributes(attribute.String(SessionKey, id))
	return context.WithValue(ctx, sessionCtxKey{}, id)
}

// SessionID returns the id stored by [WithSession], or "".
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionCtxKey{}).(string)
	return id
}

// CorrelationID is the trace id of the active span. HTTP responses echo it in
// X-Correlation-ID. Empty when ctx carries no span context.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns slog.Default with trace_id, span_id and session_id attached
// when ctx carries them.
func Logger(ctx context.Context) *slog.Logger {
	var attrs []any
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if id := SessionID(ctx); id != "" {
		attrs = append(attrs, slog.String(SessionKey, id))
	}
	if len(attrs) == 0 {
		return slog.Default()
	}
	return slog.Default().With(attrs...)
}

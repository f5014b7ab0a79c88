package observe

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// quietPaths are scraped by orchestrators every few seconds; their access
// log lines are emitted at debug level.
var quietPaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// responseLog remembers what the handler sent.
type responseLog struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (l *responseLog) WriteHeader(code int) {
	if l.status == 0 {
		l.status = code
	}
	l.ResponseWriter.WriteHeader(code)
}

func (l *responseLog) Write(p []byte) (int, error) {
	if l.status == 0 {
		l.status = http.StatusOK
	}
	n, err := l.ResponseWriter.Write(p)
	l.bytes += n
	return n, err
}

func (l *responseLog) code() int {
	if l.status == 0 {
		return http.StatusOK
	}
	return l.status
}

// Middleware wraps the HTTP mux with a server span (continuing any incoming
// W3C trace context), an X-Correlation-ID response header, a request duration
// sample on [Metrics.HTTPRequestDuration] and one access log line.
//
// Metrics are labelled with the matched mux pattern rather than the raw path
// so unknown URLs cannot grow the label set.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, span := StartSpan(
				prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header)),
				"HTTP "+r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			if cid := CorrelationID(ctx); cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			resp := &responseLog{ResponseWriter: w}
			r = r.WithContext(ctx)
			next.ServeHTTP(resp, r)

			code := resp.code()
			elapsed := time.Since(start)
			span.SetAttributes(semconv.HTTPResponseStatusCode(code))
			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
				attribute.String("method", r.Method),
				attribute.String("route", routeOf(r)),
				attribute.String("code", strconv.Itoa(code)),
			))
			accessLog(ctx, r, code, resp.bytes, elapsed)
		})
	}
}

// routeOf is the pattern the mux matched, which it records on the request it
// was handed.
func routeOf(r *http.Request) string {
	if r.Pattern == "" {
		return "unmatched"
	}
	return r.Pattern
}

func accessLog(ctx context.Context, r *http.Request, code, size int, elapsed time.Duration) {
	level := slog.LevelInfo
	if quietPaths[r.URL.Path] && code < http.StatusInternalServerError {
		level = slog.LevelDebug
	}
	slog.LogAttrs(ctx, level, "http request",
		slog.String("trace_id", CorrelationID(ctx)),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", code),
		slog.Int("bytes", size),
		slog.Duration("duration", elapsed),
	)
}

package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kestrel-noc/kestrel/internal/auth"
	"github.com/kestrel-noc/kestrel/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Context keys for trace and token propagation.
type contextKey string

const (
	// TraceIDKey is the context key for trace ID.
	TraceIDKey contextKey = "traceID"

	// RequestIDKey is the context key for request ID.
	RequestIDKey contextKey = "requestID"

	// TokenKey is the context key for the caller's Authorization header.
	TokenKey contextKey = "token"

	// RequestIDHeader is the HTTP header for request ID.
	RequestIDHeader = "X-Request-ID"

	// TraceIDHeader is the HTTP header for trace ID.
	TraceIDHeader = "X-Trace-ID"

	// AuthorizationHeader carries the token forwarded to the auth service.
	AuthorizationHeader = "Authorization"
)

// Error details returned to clients.
const (
	detailMissingToken = "Missing authorization token"
	detailInvalidToken = "Token is invalid or Expired"
	detailAuthDown     = "Authentication service unavailable"
)

var tracer = otel.Tracer("kestrel-api")

// RequireToken rejects requests without an Authorization header with 403 and
// stores the header value in the request context.
func RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(AuthorizationHeader)
		if token == "" {
			writeDetail(w, http.StatusForbidden, detailMissingToken)
			return
		}

		ctx := context.WithValue(r.Context(), TokenKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ValidateToken checks the stored token against the auth service before
// calling next. Handlers that validate input first call Handler.authorize instead.
func ValidateToken(v auth.Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !authorize(w, r, v) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// authorize validates the request token and writes the error response when
// the token is refused. It reports whether the request may proceed.
func authorize(w http.ResponseWriter, r *http.Request, v auth.Validator) bool {
	token := GetToken(r.Context())

	_, err := v.Authorize(r.Context(), token)
	switch {
	case err == nil:
		return true
	case errors.Is(err, auth.ErrMissingToken):
		writeDetail(w, http.StatusForbidden, detailMissingToken)
	case errors.Is(err, auth.ErrUnauthorized):
		writeDetail(w, http.StatusUnauthorized, detailInvalidToken)
	default:
		slog.Error("token validation failed",
			"request_id", GetRequestID(r.Context()),
			"error", err,
		)
		writeDetail(w, http.StatusBadGateway, detailAuthDown)
	}
	return false
}

// TracingMiddleware creates OpenTelemetry spans and propagates trace context.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.path", r.URL.Path),
				attribute.String("request.id", requestID),
			),
		)
		defer span.End()

		traceID := span.SpanContext().TraceID().String()
		if !span.SpanContext().TraceID().IsValid() {
			traceID = requestID
		}

		ctx = context.WithValue(ctx, RequestIDKey, requestID)
		ctx = context.WithValue(ctx, TraceIDKey, traceID)

		w.Header().Set(RequestIDHeader, requestID)
		w.Header().Set(TraceIDHeader, traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware logs HTTP requests and records request metrics by route pattern.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		route := routePattern(r)
		status := strconv.Itoa(rw.statusCode)

		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route, status).Observe(duration.Seconds())

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"route", route,
			"status", rw.statusCode,
			"duration_ms", duration.Milliseconds(),
			"request_id", GetRequestID(r.Context()),
			"trace_id", GetTraceID(r.Context()),
		)
	})
}

// routePattern keeps metric cardinality bounded: /syntheses/{id}, not the ID.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// CORSMiddleware allows browser clients from the configured origins, with
// credentials, any method and any header.
func CORSMiddleware(origins []string) func(http.Handler) http.Handler {
	allowAll := slices.Contains(origins, "*")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAll || slices.Contains(origins, origin)) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, X-Trace-ID")
				w.Header().Add("Vary", "Origin")

				if r.Method == http.MethodOptions {
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH")
					if h := r.Header.Get("Access-Control-Request-Headers"); h != "" {
						w.Header().Set("Access-Control-Allow-Headers", h)
					}
					w.Header().Set("Access-Control-Max-Age", "600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RecoverMiddleware recovers from panics and returns 500.
func RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				metrics.PanicsRecovered.WithLabelValues("api").Inc()
				slog.Error("panic recovered",
					"error", err,
					"path", r.URL.Path,
				)
				writeDetail(w, http.StatusInternalServerError, fmt.Sprintf("Internal Server Error: %v", err))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// GetTraceID extracts trace ID from context.
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(TraceIDKey).(string); ok {
		return v
	}
	return ""
}

// GetRequestID extracts request ID from context.
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		return v
	}
	return ""
}

// GetToken extracts the caller's Authorization header from context.
func GetToken(ctx context.Context) string {
	if v, ok := ctx.Value(TokenKey).(string); ok {
		return v
	}
	return ""
}

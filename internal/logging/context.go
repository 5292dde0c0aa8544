package logging

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if sessionID := SessionIDFromContext(ctx); sessionID != "" {
		fields = append(fields, zap.String("session.id", sessionID))
	}
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}
	if ns := NamespaceFromContext(ctx); ns != "" {
		fields = append(fields, zap.String("namespace", ns))
	}

	return fields
}

type sessionCtxKey struct{}
type requestCtxKey struct{}
type namespaceCtxKey struct{}

const maxIDLen = 128

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateID reports whether id is usable as a session or request ID:
// non-empty, at most 128 bytes, alphanumeric plus hyphen and underscore.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("id cannot be empty")
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("id contains invalid UTF-8")
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("id exceeds max length %d", maxIDLen)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("id contains invalid characters (must be alphanumeric, hyphen, underscore)")
	}
	return nil
}

// SessionIDFromContext extracts session ID from context.
func SessionIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(sessionCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithSessionID adds session ID to context.
// Panics if sessionID fails ValidateID; callers handling user input validate first.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	if err := ValidateID(sessionID); err != nil {
		panic(fmt.Sprintf("logging: sessionID: %v", err))
	}
	return context.WithValue(ctx, sessionCtxKey{}, sessionID)
}

// RequestIDFromContext extracts request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithRequestID adds request ID to context.
// Panics if requestID fails ValidateID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if err := ValidateID(requestID); err != nil {
		panic(fmt.Sprintf("logging: requestID: %v", err))
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// NamespaceFromContext returns the collection the request is scoped to.
func NamespaceFromContext(ctx context.Context) string {
	if ns, ok := ctx.Value(namespaceCtxKey{}).(string); ok {
		return ns
	}
	return ""
}

// WithNamespace records the collection a request is scoped to. Empty
// namespaces are ignored.
func WithNamespace(ctx context.Context, namespace string) context.Context {
	if namespace == "" {
		return ctx
	}
	return context.WithValue(ctx, namespaceCtxKey{}, namespace)
}

type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return Nop()
}

// Package requestctx carries request-scoped values: the zap logger, trace metadata, the
// storefront session scope and the optional shopper identity.
package requestctx

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	traceKey
	sessionKey
	identityKey
)

var noopLogger = zap.NewNop()

// TraceInfo is the Cloud Trace context of the request.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// Identity is the authenticated shopper asserted by an upstream proxy.
type Identity struct {
	UserID string
	Email  string
	Name   string
	Phone  string
}

// IsZero reports whether neither a user id nor an email is set.
func (i Identity) IsZero() bool {
	return strings.TrimSpace(i.UserID) == "" && strings.TrimSpace(i.Email) == ""
}

func with(ctx context.Context, key ctxKey, value any) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, value)
}

func lookup[T any](ctx context.Context, key ctxKey) (T, bool) {
	var zero T
	if ctx == nil {
		return zero, false
	}
	v, ok := ctx.Value(key).(T)
	return v, ok
}

// WithLogger attaches logger. A nil logger attaches the no-op logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = noopLogger
	}
	return with(ctx, loggerKey, logger)
}

// Logger returns the request logger, or a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if logger, ok := lookup[*zap.Logger](ctx, loggerKey); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger is the logger Logger falls back to.
func NoopLogger() *zap.Logger { return noopLogger }

// WithTrace attaches trace metadata.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return with(ctx, traceKey, info)
}

// Trace returns the trace metadata when present.
func Trace(ctx context.Context) (TraceInfo, bool) {
	return lookup[TraceInfo](ctx, traceKey)
}

// TraceID returns the trace id, or "".
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// WithSessionScope attaches the session id that scopes cart and attempt storage.
func WithSessionScope(ctx context.Context, scope string) context.Context {
	return with(ctx, sessionKey, strings.TrimSpace(scope))
}

// SessionScope returns the session id, or "".
func SessionScope(ctx context.Context) string {
	scope, _ := lookup[string](ctx, sessionKey)
	return scope
}

// WithIdentity attaches the shopper identity.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return with(ctx, identityKey, identity)
}

// IdentityFrom returns the shopper identity; zero identities are reported as absent.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	identity, ok := lookup[Identity](ctx, identityKey)
	if !ok || identity.IsZero() {
		return Identity{}, false
	}
	return identity, true
}

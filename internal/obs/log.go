// Package obs carries the ambient logging and metrics stack, generalized
// from the teacher's cmd/dex/logger.go (context-scoped slog handler) and
// server/metrics.go (prometheus counters/histograms).
package obs

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	ctxKeyTenant ctxKey = iota
	ctxKeyRequestID
)

// WithTenant annotates ctx so every log record emitted downstream carries
// the tenant id, mirroring the teacher's RequestKeyRemoteIP pattern but
// generalized to this system's multi-tenant model.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, ctxKeyTenant, tenantID)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, requestID)
}

// tenantHandler injects tenant_id/request_id attributes into every record,
// the same technique as the teacher's requestContextHandler.
type tenantHandler struct {
	handler slog.Handler
}

// NewLogger wraps handler with the tenant/request-id injector and returns a
// ready-to-use *slog.Logger.
func NewLogger(handler slog.Handler) *slog.Logger {
	return slog.New(tenantHandler{handler: handler})
}

func (h tenantHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h tenantHandler) Handle(ctx context.Context, record slog.Record) error {
	if v, ok := ctx.Value(ctxKeyTenant).(string); ok && v != "" {
		record.AddAttrs(slog.String("tenant_id", v))
	}
	if v, ok := ctx.Value(ctxKeyRequestID).(string); ok && v != "" {
		record.AddAttrs(slog.String("request_id", v))
	}
	return h.handler.Handle(ctx, record)
}

func (h tenantHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return tenantHandler{handler: h.handler.WithAttrs(attrs)}
}

func (h tenantHandler) WithGroup(name string) slog.Handler {
	return tenantHandler{handler: h.handler.WithGroup(name)}
}

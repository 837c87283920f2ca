package bizcontext

import (
	"context"
	"strings"
)

type contextKey string

const (
	businessIDKey contextKey = "business_id"
	requestIDKey  contextKey = "request_id"
)

// WithBusinessID stores the acting business identifier on the context.
func WithBusinessID(ctx context.Context, businessID string) context.Context {
	return context.WithValue(ctx, businessIDKey, strings.TrimSpace(businessID))
}

// BusinessIDFromContext returns the business identifier or an empty string.
func BusinessIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(businessIDKey).(string); ok {
		return v
	}
	return ""
}

// WithRequestID stores the request correlation identifier on the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, strings.TrimSpace(requestID))
}

// RequestIDFromContext returns the request identifier or an empty string.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

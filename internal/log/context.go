// SPDX-License-Identifier: MIT

package log

import "context"

type contextKey struct{ name string }

var requestIDKey = contextKey{"request_id"}

// ContextWithRequestID stores the request correlation ID in ctx.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request correlation ID, or "" when absent.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Package utils provides utility functions for the application.
package utils

import "context"

// CtxKey is the type for request-scoped context values
type CtxKey string

// Request-scoped context keys for observability
const (
	RequestIDKey  CtxKey = "request_id"
	UserAgentKey  CtxKey = "user_agent"
	IPAddressKey  CtxKey = "ip_address"
	EndpointKey   CtxKey = "endpoint"
	TimeoutKey    CtxKey = "timeout"
	CancelFuncKey CtxKey = "cancel_func"
)

// RequestID returns the request id stored in the context, if any
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		return v
	}
	return ""
}

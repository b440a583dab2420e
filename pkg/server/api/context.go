package api

import "context"

type ctxKey int

const (
	agentIDKey ctxKey = iota
	requestIDKey
)

func withAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentIDKey, agentID)
}

// agentIDFromContext returns the agent id the auth middleware validated for
// this request, or "" if none (e.g. the unauthenticated /health route).
func agentIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(agentIDKey).(string)
	return v
}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// requestIDFromContext returns the per-request correlation id assigned by
// the tagRequest middleware.
func requestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

package domain

import "context"

type ctxKey int

const sessionKey ctxKey = iota

// WithSessionID returns a context carrying the session ID. Transport
// handlers attach it so downstream code can recover the session without
// threading it through every signature.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey, sessionID)
}

// SessionIDFrom returns the session ID carried by the context, or ""
// when none was attached.
func SessionIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(sessionKey).(string); ok {
		return v
	}
	return ""
}

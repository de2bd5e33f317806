package auth

import "context"

type callerContextKey struct{}
type sessionContextKey struct{}

// ContextWithCaller attaches the API key caller to the context.
func ContextWithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerContextKey{}, &c)
}

// CallerFromContext extracts the API key caller from the context.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	if ctx == nil {
		return Caller{}, false
	}
	v, ok := ctx.Value(callerContextKey{}).(*Caller)
	if !ok || v == nil {
		return Caller{}, false
	}
	return *v, true
}

// ContextWithSession attaches the signed-in user to the context.
func ContextWithSession(ctx context.Context, u SessionUser) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, &u)
}

// SessionFromContext returns the signed-in user if present.
func SessionFromContext(ctx context.Context) (SessionUser, bool) {
	if ctx == nil {
		return SessionUser{}, false
	}
	v, ok := ctx.Value(sessionContextKey{}).(*SessionUser)
	if !ok || v == nil {
		return SessionUser{}, false
	}
	return *v, true
}

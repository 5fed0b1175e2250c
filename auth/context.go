package auth

import "context"

type (
	refreshCallKey   struct{}
	skipRecoveryKey  struct{}
	replayAttemptKey struct{}
)

// WithRefreshCall marks a request as the refresh-token exchange itself. A 401
// on such a request ends the session instead of triggering another refresh.
func WithRefreshCall(ctx context.Context) context.Context {
	return context.WithValue(ctx, refreshCallKey{}, true)
}

// WithoutRecovery marks a request whose 401 must reach the caller untouched,
// e.g. a login with wrong credentials.
func WithoutRecovery(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipRecoveryKey{}, true)
}

func isRefreshCall(ctx context.Context) bool {
	v, _ := ctx.Value(refreshCallKey{}).(bool)
	return v
}

func skipsRecovery(ctx context.Context) bool {
	v, _ := ctx.Value(skipRecoveryKey{}).(bool)
	return v
}

func isReplay(ctx context.Context) bool {
	v, _ := ctx.Value(replayAttemptKey{}).(bool)
	return v
}

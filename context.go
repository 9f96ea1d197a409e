package sessionauth

import "context"

type clientIPContextKey struct{}
type userSessionContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. It is used when the
// request exchange does not carry one.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

// WithUserSession stores us in ctx.
func WithUserSession(ctx context.Context, us *UserSession) context.Context {
	return context.WithValue(ctx, userSessionContextKey{}, us)
}

// UserSessionFrom returns the UserSession stored by [WithUserSession].
func UserSessionFrom(ctx context.Context) (*UserSession, bool) {
	if ctx == nil {
		return nil, false
	}
	us, ok := ctx.Value(userSessionContextKey{}).(*UserSession)
	return us, ok && us != nil
}

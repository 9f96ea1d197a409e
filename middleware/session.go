package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/MrEthical07/sessionauth"
	"github.com/MrEthical07/sessionauth/strategy"
)

type startErrorContextKey struct{}

// Option configures [Session].
type Option func(*options)

type options struct {
	clientIP func(*http.Request) string
}

// WithClientIP overrides how the client address is derived. The default
// is the host part of r.RemoteAddr.
func WithClientIP(fn func(*http.Request) string) Option {
	return func(o *options) {
		o.clientIP = fn
	}
}

// Session starts a UserSession for each request. Store failures answer 503.
// Account errors from Start (inactive, banned, password change) do not
// stop the request; handlers can read them with [StartError].
func Session(auth *sessionauth.Authenticator, opts ...Option) func(http.Handler) http.Handler {
	o := options{clientIP: remoteHost}
	for _, opt := range opts {
		opt(&o)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := o.clientIP(r)
			us := auth.NewUserSession(&strategy.Exchange{Request: r, Writer: w, ClientIP: ip})

			ctx := sessionauth.WithClientIP(r.Context(), ip)
			if err := us.Start(ctx); err != nil {
				if errors.Is(err, sessionauth.ErrStorage) {
					http.Error(w, "service unavailable", http.StatusServiceUnavailable)
					return
				}
				ctx = context.WithValue(ctx, startErrorContextKey{}, err)
			}
			ctx = sessionauth.WithUserSession(ctx, us)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// StartError returns the account error reported when the session started,
// such as *sessionauth.UserPasswordChangeError.
func StartError(ctx context.Context) error {
	err, _ := ctx.Value(startErrorContextKey{}).(error)
	return err
}

// RequireAuthorized lets the request through only when the session user
// matches filter. It must run inside [Session].
func RequireAuthorized(filter sessionauth.Filter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			us, ok := sessionauth.UserSessionFrom(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			allowed, err := us.Authorized(r.Context(), filter)
			if err != nil {
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			}
			if !allowed {
				if !us.LoggedIn() {
					us.Challenge()
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

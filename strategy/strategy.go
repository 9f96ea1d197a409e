package strategy

import (
	"context"
	"errors"
	"net/http"
)

// ErrNoWriter is returned by strategies that need to write to the response
// when the exchange has none.
var ErrNoWriter = errors.New("exchange has no response writer")

// Exchange is the transport of one request as seen by a strategy.
type Exchange struct {
	Request  *http.Request
	Writer   http.ResponseWriter
	ClientIP string
}

// Credentials is manual login input.
type Credentials struct {
	Identity string `json:"identity" validate:"required,max=255"`
	Password string `json:"password" validate:"required,max=1024"`
}

// Strategy is the capability set every authentication transport implements.
type Strategy interface {
	// Name identifies the strategy in logs and audit events.
	Name() string
	// Autologin re-authenticates from transport evidence. Absence of
	// evidence is (0, false, nil), not an error.
	Autologin(ctx context.Context, ex *Exchange) (int64, bool, error)
	// SetAutologin persists autologin evidence for userID when supported.
	SetAutologin(ctx context.Context, ex *Exchange, userID int64) error
	// LoginHook normalizes manual login input. ok is false when the
	// strategy does not take manual logins.
	LoginHook(ctx context.Context, ex *Exchange, creds Credentials) (Credentials, bool)
	// LogoutHook performs transport cleanup such as clearing cookies or
	// sending a challenge.
	LogoutHook(ctx context.Context, ex *Exchange) error
}

// Challenger is implemented by header strategies that answer an
// unauthenticated request with a WWW-Authenticate challenge.
type Challenger interface {
	Challenge(ex *Exchange)
}

// Stateless is implemented by strategies that re-authenticate every
// request from its headers. The coordinator does not rotate a session it
// minted for the same request when such a strategy logs the user in.
type Stateless interface {
	Stateless() bool
}

// IsStateless reports whether s re-authenticates every request.
func IsStateless(s Strategy) bool {
	st, ok := s.(Stateless)
	return ok && st.Stateless()
}

// PasswordChecker verifies an identity/password pair and returns the user id.
type PasswordChecker interface {
	CheckPassword(ctx context.Context, identity, password string) (int64, bool, error)
}

// PasswordCheckerFunc adapts a function to [PasswordChecker].
type PasswordCheckerFunc func(ctx context.Context, identity, password string) (int64, bool, error)

func (f PasswordCheckerFunc) CheckPassword(ctx context.Context, identity, password string) (int64, bool, error) {
	return f(ctx, identity, password)
}

func (ex *Exchange) header(name string) string {
	if ex == nil || ex.Request == nil {
		return ""
	}
	return ex.Request.Header.Get(name)
}

func (ex *Exchange) addChallenge(value string) {
	if ex == nil || ex.Writer == nil {
		return
	}
	ex.Writer.Header().Add("WWW-Authenticate", value)
}

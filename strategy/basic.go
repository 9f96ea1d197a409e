package strategy

import (
	"context"
	"strconv"
)

// Basic authenticates with an HTTP Basic Authorization header.
type Basic struct {
	realm   string
	checker PasswordChecker
}

var (
	_ Strategy   = (*Basic)(nil)
	_ Challenger = (*Basic)(nil)
	_ Stateless  = (*Basic)(nil)
)

// NewBasic creates a Basic strategy for realm.
func NewBasic(realm string, checker PasswordChecker) *Basic {
	if realm == "" {
		realm = "Restricted"
	}
	return &Basic{realm: realm, checker: checker}
}

func (b *Basic) Name() string { return "basic" }

// Autologin checks the header credentials. Wrong credentials are treated as
// absent evidence.
func (b *Basic) Autologin(ctx context.Context, ex *Exchange) (int64, bool, error) {
	if ex == nil || ex.Request == nil {
		return 0, false, nil
	}
	user, pass, ok := ex.Request.BasicAuth()
	if !ok || user == "" {
		return 0, false, nil
	}
	return b.checker.CheckPassword(ctx, user, pass)
}

func (b *Basic) Stateless() bool { return true }

func (b *Basic) SetAutologin(context.Context, *Exchange, int64) error { return nil }

func (b *Basic) LoginHook(_ context.Context, _ *Exchange, creds Credentials) (Credentials, bool) {
	return creds, false
}

func (b *Basic) LogoutHook(_ context.Context, ex *Exchange) error {
	b.Challenge(ex)
	return nil
}

func (b *Basic) Challenge(ex *Exchange) {
	ex.addChallenge("Basic realm=" + strconv.Quote(b.realm) + `, charset="UTF-8"`)
}

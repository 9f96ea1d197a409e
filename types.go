package sessionauth

import (
	"context"
	"time"

	"github.com/MrEthical07/sessionauth/store"
	"github.com/MrEthical07/sessionauth/strategy"
)

// UserAccount is the user view loaded on every request. It never carries
// the password hash.
type UserAccount = store.UserAccount

// LoginCheck is what the credential store returns for password checks.
type LoginCheck = store.LoginCheck

// LoginData is manual login input.
type LoginData = strategy.Credentials

// CredentialStore is everything the coordinator needs from persistent
// storage. *store.SQLStore implements it.
type CredentialStore interface {
	GetLoginCheck(ctx context.Context, identity string) (LoginCheck, bool, error)
	GetUser(ctx context.Context, id int64) (UserAccount, bool, error)
	UpdateLastLogin(ctx context.Context, id int64, ip string, at time.Time) error

	LoginAttempts(ctx context.Context, identity, ip string, byIdentity, byIP bool) (time.Time, int, error)
	IncrementLoginAttempt(ctx context.Context, identity, ip string, at time.Time) error
	ClearLoginAttempts(ctx context.Context, identity, ip string, byIdentity, byIP, eitherOr bool) (bool, error)

	strategy.AutologinStore
}

// ExternalIdentityStore resolves a federated identity to a local user. A
// CredentialStore that also implements it enables
// [UserSession.LoginFederated].
type ExternalIdentityStore interface {
	LookupExternal(ctx context.Context, provider, subject string) (int64, bool, error)
}

// PermissionOracle answers permission and role questions for
// [UserSession.Authorized]. Both methods require every listed item.
type PermissionOracle interface {
	HasPermissions(ctx context.Context, userID int64, perms []string) (bool, error)
	HasRoles(ctx context.Context, userID int64, roles []string) (bool, error)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Filter narrows [UserSession.Authorized]. Every non-empty category must
// match. IDs and Identities match when any listed value matches;
// Permissions and Roles require all listed values.
type Filter struct {
	IDs         []int64
	Identities  []string
	Permissions []string
	Roles       []string
}

func (f Filter) empty() bool {
	return len(f.IDs) == 0 && len(f.Identities) == 0 && len(f.Permissions) == 0 && len(f.Roles) == 0
}

// LoginOptions modifies a manual login.
type LoginOptions struct {
	// Force skips the lockout check.
	Force bool
	// Remember establishes persistent autologin after a successful login.
	Remember bool
}

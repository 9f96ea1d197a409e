package sessionauth

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/MrEthical07/sessionauth/federation"
	"github.com/MrEthical07/sessionauth/session"
	"github.com/MrEthical07/sessionauth/strategy"
)

// Reserved session keys. Only the coordinator writes them.
const (
	KeyUserID    = "user_id"
	KeyAnonymous = "anonymous"
	KeyTimeout   = "timeout"
)

const msgInvalidCredentials = "invalid identity or password"

// IsReservedKey reports whether key is managed by the coordinator.
func IsReservedKey(key string) bool {
	switch key {
	case KeyUserID, KeyAnonymous, KeyTimeout:
		return true
	}
	return false
}

// UserSession coordinates one request: it resolves the session, runs
// autologin and post-login checks, and tracks the authenticated user. It is
// not safe for concurrent use.
type UserSession struct {
	auth *Authenticator
	ex   *strategy.Exchange
	mgr  *session.Manager

	user    *UserAccount
	started bool
	// minted is set when the current session id was created by this request.
	minted bool
	// cookieID is the session id the client currently holds.
	cookieID string
}

/*
====================================
LIFECYCLE
====================================
*/

// Start resolves the request's session. A session that references a user
// reloads that user from the credential store; an anonymous one tries the
// strategy's autologin. An idle session is logged out first. Calling Start
// again is a no-op.
//
// UserInactiveError and UserBannedError mean the user was logged out.
// UserPasswordChangeError leaves the user logged in.
func (us *UserSession) Start(ctx context.Context) error {
	if us.started {
		return nil
	}
	return us.start(ctx, true)
}

func (us *UserSession) start(ctx context.Context, autologin bool) error {
	a := us.auth
	if err := us.openSession(ctx); err != nil {
		return err
	}
	us.started = true

	if exp := a.config.Session.Expiration; exp > 0 {
		if last, ok := int64Value(us.mgr.Get(KeyTimeout)); ok && a.clock.Now().Sub(time.Unix(last, 0)) > exp {
			uid, _ := us.sessionUserID()
			a.metrics.Inc(MetricSessionIdleExpired)
			a.emit(ctx, AuditEvent{EventType: AuditSessionIdleExpired, UserID: uid, IP: us.clientIP(ctx)})
			a.logger.Debug("session idle expired", "user_id", uid)
			if err := us.logout(ctx); err != nil {
				return err
			}
		}
	}

	if id, ok := us.sessionUserID(); ok {
		u, found, err := a.store.GetUser(ctx, id)
		if err != nil {
			return storageErr("get user", err)
		}
		if found {
			us.user = &u
		} else {
			a.logger.Warn("session references unknown user", "user_id", id)
			if err := us.logout(ctx); err != nil {
				return err
			}
		}
	}

	if us.user == nil && autologin {
		if err := us.autologin(ctx); err != nil {
			return err
		}
	}

	if err := us.touch(ctx); err != nil {
		return err
	}
	if us.user != nil {
		return us.postChecks(ctx)
	}
	return nil
}

// ensureStarted lazily starts the session. Account state errors are not
// returned because they have already been applied to the session.
func (us *UserSession) ensureStarted(ctx context.Context, autologin bool) error {
	if us.started {
		return nil
	}
	if err := us.start(ctx, autologin); err != nil && errors.Is(err, ErrStorage) {
		return err
	}
	return nil
}

func (us *UserSession) openSession(ctx context.Context) error {
	a := us.auth
	us.mgr = session.NewManager(a.sessions, a.sessionConfig())

	id := us.requestSessionID()
	us.cookieID = id
	if id != "" {
		_, err := us.mgr.Start(ctx, id)
		switch {
		case err == nil:
			a.metrics.Inc(MetricSessionResumed)
			us.minted = false
			return nil
		case errors.Is(err, session.ErrNotFound):
			a.logger.Debug("unknown or expired session id")
		default:
			return storageErr("start session", err)
		}
	}
	return us.freshSession(ctx)
}

// freshSession replaces the current manager with a new anonymous session.
func (us *UserSession) freshSession(ctx context.Context) error {
	a := us.auth
	us.mgr = session.NewManager(a.sessions, a.sessionConfig())
	id, err := us.mgr.Start(ctx, "")
	if err != nil {
		return storageErr("start session", err)
	}
	a.metrics.Inc(MetricSessionCreated)
	us.minted = true
	if err := us.mgr.SetMany(ctx, us.anonymousState()); err != nil {
		return storageErr("write session", err)
	}
	us.writeSessionCookie(id)
	return nil
}

func (us *UserSession) anonymousState() map[string]any {
	return map[string]any{
		KeyUserID:    false,
		KeyAnonymous: true,
		KeyTimeout:   us.auth.clock.Now().Unix(),
	}
}

// touch refreshes the timeout marker, restoring anonymous defaults when no
// user is resolved.
func (us *UserSession) touch(ctx context.Context) error {
	values := map[string]any{KeyTimeout: us.auth.clock.Now().Unix()}
	if us.user == nil {
		values = us.anonymousState()
	}
	err := us.persist(ctx, func() error { return us.mgr.SetMany(ctx, values) })
	if errors.Is(err, ErrSessionEnded) {
		return nil
	}
	return err
}

// persist runs a write against the current session. A session destroyed by
// a concurrent request is never recreated: the user is dropped, a fresh
// anonymous session replaces it and ErrSessionEnded is returned.
func (us *UserSession) persist(ctx context.Context, write func() error) error {
	err := write()
	if err == nil {
		return nil
	}
	if !errors.Is(err, session.ErrNotFound) {
		return storageErr("write session", err)
	}
	a := us.auth
	var uid int64
	if us.user != nil {
		uid = us.user.ID
	}
	a.logger.Info("session ended by another request", "user_id", uid)
	us.user = nil
	if err := us.freshSession(ctx); err != nil {
		return err
	}
	return ErrSessionEnded
}

func (us *UserSession) autologin(ctx context.Context) error {
	a := us.auth
	id, ok, err := a.strategy.Autologin(ctx, us.ex)
	if err != nil {
		return storageErr("autologin", err)
	}
	if !ok {
		a.metrics.Inc(MetricAutologinMiss)
		return nil
	}
	found, err := us.establish(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		a.metrics.Inc(MetricAutologinMiss)
		a.logger.Warn("autologin for unknown user", "user_id", id)
		return nil
	}
	a.metrics.Inc(MetricAutologinSuccess)
	a.emit(ctx, AuditEvent{EventType: AuditAutologin, UserID: id, Identity: us.user.Identity, IP: us.clientIP(ctx), Success: true})
	a.logger.Debug("autologin", "user_id", id)
	return nil
}

// establish records the login, rotates the session id and writes the
// authenticated session state. It reports false when id is unknown. A
// stateless strategy keeps a session that this request created.
func (us *UserSession) establish(ctx context.Context, id int64) (bool, error) {
	a := us.auth
	u, found, err := a.store.GetUser(ctx, id)
	if err != nil {
		return false, storageErr("get user", err)
	}
	if !found {
		return false, nil
	}

	now := a.clock.Now()
	ip := us.clientIP(ctx)
	if err := a.store.UpdateLastLogin(ctx, id, ip, now); err != nil {
		return false, storageErr("update last login", err)
	}
	if us.minted && strategy.IsStateless(a.strategy) {
		a.logger.Debug("keeping session minted for this request", "strategy", a.strategy.Name())
	} else if err := us.regenerate(ctx); err != nil {
		return false, err
	}
	err = us.persist(ctx, func() error {
		return us.mgr.SetMany(ctx, map[string]any{
			KeyUserID:    id,
			KeyAnonymous: false,
			KeyTimeout:   now.Unix(),
		})
	})
	if err != nil {
		return false, err
	}

	u.LastLogin = now
	u.LastIP = ip
	us.user = &u
	return true, nil
}

func (us *UserSession) regenerate(ctx context.Context) error {
	a := us.auth
	id, err := us.mgr.Regenerate(ctx)
	switch {
	case err == nil:
		a.metrics.Inc(MetricSessionRegenerated)
		us.minted = true
		us.writeSessionCookie(id)
		return nil
	case errors.Is(err, session.ErrRegenerateConflict):
		a.logger.Warn("session regeneration conflict, starting a new session")
		return us.freshSession(ctx)
	default:
		return storageErr("regenerate session", err)
	}
}

// postChecks enforces account state in order: inactive, banned, password
// change.
func (us *UserSession) postChecks(ctx context.Context) error {
	a := us.auth
	u := us.user
	switch {
	case !u.Active:
		if err := us.forceLogout(ctx, u, "inactive"); err != nil {
			return err
		}
		return &UserInactiveError{UserID: u.ID}
	case u.Banned:
		if err := us.forceLogout(ctx, u, "banned"); err != nil {
			return err
		}
		return &UserBannedError{UserID: u.ID}
	case u.PasswordChange:
		a.metrics.Inc(MetricPasswordChangeRequired)
		a.emit(ctx, AuditEvent{EventType: AuditPasswordChangeRequired, UserID: u.ID, Identity: u.Identity, IP: us.clientIP(ctx)})
		return &UserPasswordChangeError{UserID: u.ID}
	}
	return nil
}

func (us *UserSession) forceLogout(ctx context.Context, u *UserAccount, reason string) error {
	a := us.auth
	a.metrics.Inc(MetricForcedLogout)
	a.emit(ctx, AuditEvent{
		EventType: AuditForcedLogout,
		UserID:    u.ID,
		Identity:  u.Identity,
		IP:        us.clientIP(ctx),
		Metadata:  map[string]string{"reason": reason},
	})
	a.logger.Warn("forced logout", "user_id", u.ID, "reason", reason)
	return us.logout(ctx)
}

/*
====================================
LOGIN / LOGOUT
====================================
*/

// Login authenticates data against the credential store. Unknown
// identities, wrong passwords and lockouts all return a
// *LoginValidationError; only a wrong password counts towards lockout.
// opts.Force skips the lockout check.
func (us *UserSession) Login(ctx context.Context, data LoginData, opts LoginOptions) error {
	a := us.auth
	began := time.Now()
	defer func() { a.metrics.Observe(MetricLoginLatency, time.Since(began)) }()

	if err := us.ensureStarted(ctx, false); err != nil {
		return err
	}

	creds, ok := a.strategy.LoginHook(ctx, us.ex, data)
	if !ok {
		return &ValidationError{Message: "strategy " + a.strategy.Name() + " does not accept manual login"}
	}
	if err := a.validateLogin(creds); err != nil {
		return err
	}

	ip := us.clientIP(ctx)
	if !opts.Force {
		remaining, locked, err := a.attempts.LockedOut(ctx, creds.Identity, ip)
		if err != nil {
			return storageErr("check lockout", err)
		}
		if locked {
			a.metrics.Inc(MetricLoginLockedOut)
			a.logger.Warn("login locked out", "identity", creds.Identity, "ip", ip, "retry_after", remaining)
			return us.loginFailure(ctx, creds.Identity, "too many failed login attempts", false, remaining)
		}
	}

	check, found, err := a.store.GetLoginCheck(ctx, creds.Identity)
	if err != nil {
		return storageErr("get login check", err)
	}
	if !found {
		return us.loginFailure(ctx, creds.Identity, msgInvalidCredentials, false, 0)
	}
	match, err := a.verifier.Verify(creds.Password, check.PasswordHash)
	if err != nil {
		a.logger.Error("unreadable password hash", "user_id", check.ID, "error", err)
		match = false
	}
	if !match {
		return us.loginFailure(ctx, creds.Identity, msgInvalidCredentials, true, 0)
	}

	if _, err := a.attempts.Clear(ctx, creds.Identity, ip, false); err != nil {
		return storageErr("clear login attempts", err)
	}
	us.upgradeHash(ctx, check, creds.Password)

	found, err = us.establish(ctx, check.ID)
	if err != nil {
		return err
	}
	if !found {
		return us.loginFailure(ctx, creds.Identity, msgInvalidCredentials, false, 0)
	}

	a.metrics.Inc(MetricLoginSuccess)
	a.emit(ctx, AuditEvent{EventType: AuditLoginSuccess, UserID: check.ID, Identity: creds.Identity, IP: ip, Success: true})
	a.logger.Info("login", "user_id", check.ID, "identity", creds.Identity, "ip", ip)

	if err := us.postChecks(ctx); err != nil {
		return err
	}
	if opts.Remember {
		return us.remember(ctx)
	}
	return nil
}

// LoginFederated logs in the local user linked to an external identity.
// evidence is handed to the stage registered for provider (an OAuth2 code
// or an ID token).
func (us *UserSession) LoginFederated(ctx context.Context, provider, evidence string, opts LoginOptions) error {
	a := us.auth
	stage, ok := a.stages[provider]
	if !ok {
		return &ValidationError{Message: "unknown identity provider " + provider}
	}
	ext, ok := a.store.(ExternalIdentityStore)
	if !ok {
		return ErrNoFederation
	}
	if err := us.ensureStarted(ctx, false); err != nil {
		return err
	}

	ident, err := stage.Verify(ctx, evidence)
	if err != nil {
		if errors.Is(err, federation.ErrProviderUnavailable) {
			return storageErr("verify "+provider, err)
		}
		a.logger.Info("external identity rejected", "provider", provider, "error", err)
		return us.loginFailure(ctx, "", "external identity could not be verified", false, 0)
	}

	id, found, err := ext.LookupExternal(ctx, ident.Provider, ident.Subject)
	if err != nil {
		return storageErr("lookup external identity", err)
	}
	if !found {
		return us.loginFailure(ctx, "", "external identity is not linked to an account", false, 0)
	}
	found, err = us.establish(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return us.loginFailure(ctx, "", "external identity is not linked to an account", false, 0)
	}

	a.metrics.Inc(MetricFederatedLogin)
	a.emit(ctx, AuditEvent{
		EventType: AuditFederatedLogin,
		UserID:    id,
		Identity:  us.user.Identity,
		IP:        us.clientIP(ctx),
		Success:   true,
		Metadata:  map[string]string{"provider": provider},
	})
	a.logger.Info("federated login", "user_id", id, "provider", provider)

	if err := us.postChecks(ctx); err != nil {
		return err
	}
	if opts.Remember {
		return us.remember(ctx)
	}
	return nil
}

// loginFailure is the single exit path of a rejected login: it optionally
// counts the attempt, logs the session out and returns the error.
func (us *UserSession) loginFailure(ctx context.Context, identity, message string, throttle bool, retry time.Duration) error {
	a := us.auth
	ip := us.clientIP(ctx)

	var incErr error
	if throttle && identity != "" && a.attempts.Enabled() {
		incErr = a.attempts.Increment(ctx, identity, ip)
	}
	if err := us.logout(ctx); err != nil {
		return err
	}
	if incErr != nil {
		return storageErr("increment login attempt", incErr)
	}

	event := AuditLoginFailure
	if retry > 0 {
		event = AuditLoginLockedOut
	}
	a.metrics.Inc(MetricLoginFailure)
	a.emit(ctx, AuditEvent{EventType: event, Identity: identity, IP: ip, Error: message})
	a.logger.Info("login failed", "identity", identity, "ip", ip, "reason", message)
	return &LoginValidationError{Identity: identity, Message: message, RetryAfter: retry}
}

func (us *UserSession) remember(ctx context.Context) error {
	a := us.auth
	err := a.strategy.SetAutologin(ctx, us.ex, us.user.ID)
	if err == nil {
		return nil
	}
	if errors.Is(err, strategy.ErrNoWriter) {
		a.logger.Debug("autologin not persisted without a response writer", "user_id", us.user.ID)
		return nil
	}
	return storageErr("set autologin", err)
}

func (us *UserSession) upgradeHash(ctx context.Context, check LoginCheck, pw string) {
	a := us.auth
	if !a.config.Password.UpgradeOnLogin {
		return
	}
	w, ok := a.store.(PasswordHashWriter)
	if !ok {
		return
	}
	need, err := a.verifier.NeedsUpgrade(check.PasswordHash)
	if err != nil || !need {
		return
	}
	fresh, err := a.verifier.Hash(pw)
	if err != nil {
		a.logger.Warn("password rehash failed", "user_id", check.ID, "error", err)
		return
	}
	if err := w.SetPasswordHash(ctx, check.ID, fresh); err != nil {
		a.logger.Warn("password rehash not stored", "user_id", check.ID, "error", err)
		return
	}
	a.logger.Debug("password hash upgraded", "user_id", check.ID)
}

// Logout ends the authenticated session and starts a fresh anonymous one.
func (us *UserSession) Logout(ctx context.Context) error {
	a := us.auth
	if err := us.ensureStarted(ctx, false); err != nil {
		return err
	}
	var uid int64
	if us.user != nil {
		uid = us.user.ID
	}
	if err := us.logout(ctx); err != nil {
		return err
	}
	a.metrics.Inc(MetricLogout)
	a.emit(ctx, AuditEvent{EventType: AuditLogout, UserID: uid, IP: us.clientIP(ctx), Success: true})
	a.logger.Info("logout", "user_id", uid)
	return nil
}

func (us *UserSession) logout(ctx context.Context) error {
	a := us.auth
	if err := a.strategy.LogoutHook(ctx, us.ex); err != nil && !errors.Is(err, strategy.ErrNoWriter) {
		return storageErr("logout hook", err)
	}
	us.user = nil
	if us.mgr != nil && us.mgr.Started() {
		if _, err := us.mgr.Finish(ctx); err != nil {
			return storageErr("finish session", err)
		}
		a.metrics.Inc(MetricSessionFinished)
	}
	return us.freshSession(ctx)
}

/*
====================================
AUTHORIZATION
====================================
*/

// Authorized reports whether a user is logged in and matches every
// non-empty category of f. The session is started if needed.
func (us *UserSession) Authorized(ctx context.Context, f Filter) (bool, error) {
	a := us.auth
	if err := us.ensureStarted(ctx, true); err != nil {
		return false, err
	}
	ok, err := us.matches(ctx, f)
	if err != nil {
		return false, err
	}
	if !ok {
		a.metrics.Inc(MetricAuthorizedDenied)
	}
	return ok, nil
}

func (us *UserSession) matches(ctx context.Context, f Filter) (bool, error) {
	u := us.user
	if u == nil {
		return false, nil
	}
	if f.empty() {
		return true, nil
	}
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, u.ID) {
		return false, nil
	}
	if len(f.Identities) > 0 && !slices.Contains(f.Identities, u.Identity) {
		return false, nil
	}
	if len(f.Permissions) == 0 && len(f.Roles) == 0 {
		return true, nil
	}

	oracle := us.auth.oracle
	if oracle == nil {
		return false, nil
	}
	if len(f.Permissions) > 0 {
		ok, err := oracle.HasPermissions(ctx, u.ID, f.Permissions)
		if err != nil {
			return false, storageErr("check permissions", err)
		}
		if !ok {
			return false, nil
		}
	}
	if len(f.Roles) > 0 {
		ok, err := oracle.HasRoles(ctx, u.ID, f.Roles)
		if err != nil {
			return false, storageErr("check roles", err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Challenge adds the strategy's WWW-Authenticate challenge to the response,
// if the strategy has one.
func (us *UserSession) Challenge() {
	if c, ok := us.auth.strategy.(strategy.Challenger); ok {
		c.Challenge(us.ex)
	}
}

/*
====================================
SESSION DATA
====================================
*/

// User returns the logged in user.
func (us *UserSession) User() (UserAccount, bool) {
	if us.user == nil {
		return UserAccount{}, false
	}
	return *us.user, true
}

// LoggedIn reports whether a user is resolved.
func (us *UserSession) LoggedIn() bool {
	return us.user != nil
}

// SessionID returns the active session id.
func (us *UserSession) SessionID() string {
	if us.mgr == nil {
		return ""
	}
	return us.mgr.ID()
}

// Get returns a session value. Reserved keys are readable.
func (us *UserSession) Get(key string) (any, bool) {
	if !us.started {
		return nil, false
	}
	return us.mgr.Get(key)
}

// All returns a copy of the session data.
func (us *UserSession) All() session.Data {
	if !us.started {
		return session.Data{}
	}
	return us.mgr.All()
}

// Set stores value under key. Reserved keys are rejected with a
// *SessionValidationError. ErrSessionEnded means a concurrent logout or
// regeneration removed the session and the value was dropped.
func (us *UserSession) Set(ctx context.Context, key string, value any) error {
	if IsReservedKey(key) {
		return &SessionValidationError{Key: key}
	}
	if !us.started {
		return ErrNotStarted
	}
	return us.persist(ctx, func() error { return us.mgr.Set(ctx, key, value) })
}

// Unset removes key. Reserved keys are rejected with a
// *SessionValidationError.
func (us *UserSession) Unset(ctx context.Context, key string) error {
	if IsReservedKey(key) {
		return &SessionValidationError{Key: key}
	}
	if !us.started {
		return ErrNotStarted
	}
	return us.persist(ctx, func() error { return us.mgr.Unset(ctx, key) })
}

// Clear removes all caller data, keeping the reserved keys.
func (us *UserSession) Clear(ctx context.Context) error {
	if !us.started {
		return ErrNotStarted
	}
	return us.persist(ctx, func() error { return us.mgr.ClearAll(ctx, KeyUserID, KeyAnonymous, KeyTimeout) })
}

// SetFlash stores a value that is removed on first read.
func (us *UserSession) SetFlash(ctx context.Context, key string, value any) error {
	if !us.started {
		return ErrNotStarted
	}
	return us.persist(ctx, func() error { return us.mgr.SetFlash(ctx, key, value) })
}

// Flash returns and removes a flash value.
func (us *UserSession) Flash(ctx context.Context, key string) (any, bool, error) {
	if !us.started {
		return nil, false, ErrNotStarted
	}
	var (
		v  any
		ok bool
	)
	err := us.persist(ctx, func() (err error) {
		v, ok, err = us.mgr.Flash(ctx, key)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return v, ok, nil
}

/*
====================================
HELPERS
====================================
*/

func (us *UserSession) sessionUserID() (int64, bool) {
	if us.mgr == nil {
		return 0, false
	}
	id, ok := int64Value(us.mgr.Get(KeyUserID))
	if !ok || id <= 0 {
		return 0, false
	}
	return id, true
}

func (us *UserSession) requestSessionID() string {
	if us.ex.Request == nil {
		return ""
	}
	ck, err := us.ex.Request.Cookie(us.auth.config.Session.CookieName)
	if err != nil {
		return ""
	}
	return ck.Value
}

func (us *UserSession) writeSessionCookie(id string) {
	if id == us.cookieID {
		return
	}
	us.cookieID = id
	if us.ex.Writer == nil {
		return
	}
	http.SetCookie(us.ex.Writer, us.auth.sessionCookie(id))
}

func (us *UserSession) clientIP(ctx context.Context) string {
	if us.ex.ClientIP != "" {
		return us.ex.ClientIP
	}
	if ip := clientIPFromContext(ctx); ip != "" {
		return ip
	}
	if us.ex.Request != nil {
		if host, _, err := net.SplitHostPort(us.ex.Request.RemoteAddr); err == nil {
			return host
		}
	}
	return ""
}

// int64Value reads a numeric session value, which is int64 within the
// request that wrote it and json.Number after a round trip.
func int64Value(v any, ok bool) (int64, bool) {
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

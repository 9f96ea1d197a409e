package sessionauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/MrEthical07/sessionauth/federation"
	"github.com/MrEthical07/sessionauth/permission"
	"github.com/MrEthical07/sessionauth/session"
	"github.com/MrEthical07/sessionauth/store"
	"github.com/MrEthical07/sessionauth/strategy"
)

func TestLoginEndToEnd(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	c := env.client()

	us := c.request()
	if err := us.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if us.LoggedIn() {
		t.Fatal("fresh session must be anonymous")
	}
	if anon, _ := us.Get(KeyAnonymous); anon != true {
		t.Fatalf("expected anonymous=true, got %v", anon)
	}
	before := us.SessionID()

	if err := us.Login(ctx, LoginData{Identity: testIdentity, Password: testPassword}, LoginOptions{}); err != nil {
		t.Fatalf("login: %v", err)
	}
	if !us.LoggedIn() {
		t.Fatal("expected logged in after login")
	}
	after := us.SessionID()
	if after == before {
		t.Fatal("login must rotate the session id")
	}
	if _, err := env.sessions.Get(ctx, before); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("old session id should be gone, got %v", err)
	}
	if got := c.cookie("sid"); got != after {
		t.Fatalf("session cookie = %q, want %q", got, after)
	}

	ok, err := us.Authorized(ctx, Filter{})
	if err != nil || !ok {
		t.Fatalf("Authorized() = %v, %v", ok, err)
	}

	// The next request resumes the session from the cookie.
	next := c.request()
	if err := next.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	u, ok := next.User()
	if !ok || u.ID != env.userID || u.Identity != testIdentity {
		t.Fatalf("expected administrator, got %+v (%v)", u, ok)
	}
	if u.LastIP != testIP {
		t.Fatalf("last ip = %q", u.LastIP)
	}
	if env.auth.MetricsSnapshot().Counters[MetricLoginSuccess] != 1 {
		t.Fatal("expected one login success")
	}
}

func TestAuthorizedFilters(t *testing.T) {
	env := newTestEnv(t, nil, func(b *Builder) {
		b.WithPermissions(permission.Definition{
			Permissions: []string{"posts.read", "posts.write"},
			Roles: map[string][]string{
				"admin":  {"posts.read", "posts.write"},
				"reader": {"posts.read"},
			},
		})
	})
	ctx := context.Background()
	if err := env.store.AddRole(ctx, env.userID, "admin"); err != nil {
		t.Fatalf("add role: %v", err)
	}

	c := env.client()
	anon := c.request()
	ok, err := anon.Authorized(ctx, Filter{})
	if err != nil || ok {
		t.Fatalf("anonymous Authorized() = %v, %v", ok, err)
	}

	us, err := c.login(t, testIdentity, testPassword, LoginOptions{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"no filter", Filter{}, true},
		{"id match", Filter{IDs: []int64{999, env.userID}}, true},
		{"id mismatch", Filter{IDs: []int64{999}}, false},
		{"identity match", Filter{Identities: []string{testIdentity}}, true},
		{"identity mismatch", Filter{Identities: []string{"someone"}}, false},
		{"permissions all held", Filter{Permissions: []string{"posts.read", "posts.write"}}, true},
		{"nonexistent permission", Filter{Permissions: []string{"nonexistent_permission"}}, false},
		{"role held", Filter{Roles: []string{"admin"}}, true},
		{"role missing", Filter{Roles: []string{"admin", "reader"}}, false},
		{"cross category and", Filter{IDs: []int64{env.userID}, Roles: []string{"reader"}}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := us.Authorized(ctx, tc.filter)
			if err != nil {
				t.Fatalf("Authorized: %v", err)
			}
			if got != tc.want {
				t.Fatalf("Authorized(%+v) = %v, want %v", tc.filter, got, tc.want)
			}
		})
	}
}

func TestAuthorizedWithoutOracleDeniesPermissions(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.client()
	us, err := c.login(t, testIdentity, testPassword, LoginOptions{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	ok, err := us.Authorized(context.Background(), Filter{Permissions: []string{"nonexistent_permission"}})
	if err != nil || ok {
		t.Fatalf("Authorized() = %v, %v", ok, err)
	}
	ok, err = us.Authorized(context.Background(), Filter{IDs: []int64{}, Roles: []string{}})
	if err != nil || !ok {
		t.Fatalf("empty filter without oracle = %v, %v", ok, err)
	}
}

func TestLoginWrongPasswordIncrementsAttempts(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	c := env.client()

	us, err := c.login(t, testIdentity, "wrong", LoginOptions{})
	var lve *LoginValidationError
	if !errors.As(err, &lve) {
		t.Fatalf("expected LoginValidationError, got %v", err)
	}
	if lve.RetryAfter != 0 {
		t.Fatalf("wrong password is not a lockout, got retry %v", lve.RetryAfter)
	}
	if us.LoggedIn() {
		t.Fatal("failed login must leave the session anonymous")
	}

	_, n, err := env.store.LoginAttempts(ctx, testIdentity, testIP, true, true)
	if err != nil {
		t.Fatalf("attempts: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 recorded attempt, got %d", n)
	}
}

func TestLoginUnknownIdentityIsNotThrottled(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	c := env.client()

	_, err := c.login(t, "nonexistent_user", "whatever", LoginOptions{})
	if !errors.Is(err, ErrLoginValidation) {
		t.Fatalf("expected ErrLoginValidation, got %v", err)
	}
	_, n, err := env.store.LoginAttempts(ctx, "nonexistent_user", "", true, false)
	if err != nil {
		t.Fatalf("attempts: %v", err)
	}
	if n != 0 {
		t.Fatalf("unknown identity must not be recorded, got %d", n)
	}
	locked, _, err := env.auth.LockedOut(ctx, "nonexistent_user", "198.51.100.9")
	if err != nil || locked {
		t.Fatalf("LockedOut = %v, %v", locked, err)
	}
}

func TestLoginLockoutAndForce(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.client()

	for i := 0; i < 10; i++ {
		env.clock.Advance(20 * time.Minute)
		_, err := c.login(t, testIdentity, "wrong", LoginOptions{})
		var lve *LoginValidationError
		if !errors.As(err, &lve) {
			t.Fatalf("attempt %d: expected LoginValidationError, got %v", i+1, err)
		}
		if lve.RetryAfter != 0 {
			t.Fatalf("attempt %d: unexpected lockout %v", i+1, lve.RetryAfter)
		}
	}

	// Correct password inside the lockout window is still rejected.
	us, err := c.login(t, testIdentity, testPassword, LoginOptions{})
	var lve *LoginValidationError
	if !errors.As(err, &lve) {
		t.Fatalf("expected LoginValidationError, got %v", err)
	}
	if lve.RetryAfter <= 0 {
		t.Fatal("expected remaining lockout seconds")
	}
	if !strings.Contains(err.Error(), "retry in") {
		t.Fatalf("message should carry remaining seconds: %q", err.Error())
	}
	if us.LoggedIn() {
		t.Fatal("locked out login must not authenticate")
	}

	us, err = c.login(t, testIdentity, testPassword, LoginOptions{Force: true})
	if err != nil {
		t.Fatalf("forced login: %v", err)
	}
	if !us.LoggedIn() {
		t.Fatal("forced login should authenticate")
	}
	snap := env.auth.MetricsSnapshot()
	if snap.Counters[MetricLoginLockedOut] != 1 {
		t.Fatalf("locked out count = %d", snap.Counters[MetricLoginLockedOut])
	}
}

func TestClearLockoutForgivesAnyAddress(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	c := env.client()

	if _, err := c.login(t, testIdentity, "wrong", LoginOptions{}); err == nil {
		t.Fatal("expected failure")
	}
	locked, _, err := env.auth.LockedOut(ctx, testIdentity, testIP)
	if err != nil || !locked {
		t.Fatalf("expected lockout, got %v %v", locked, err)
	}

	cleared, err := env.auth.ClearLockout(ctx, testIdentity, "198.51.100.1")
	if err != nil || !cleared {
		t.Fatalf("ClearLockout = %v, %v", cleared, err)
	}
	locked, _, err = env.auth.LockedOut(ctx, testIdentity, testIP)
	if err != nil || locked {
		t.Fatalf("lockout should be cleared, got %v %v", locked, err)
	}
}

func TestLoginValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.client()

	_, err := c.login(t, "", testPassword, LoginOptions{})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.Fields["identity"] != "required" {
		t.Fatalf("fields = %v", ve.Fields)
	}
	if !errors.Is(err, ErrValidation) {
		t.Fatal("ValidationError should match ErrValidation")
	}
}

func TestIdleSessionIsDemoted(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Session.Expiration = 5 * time.Second })
	ctx := context.Background()
	c := env.client()

	if _, err := c.login(t, testIdentity, testPassword, LoginOptions{}); err != nil {
		t.Fatalf("login: %v", err)
	}
	sid := c.cookie("sid")

	// Push the refresh marker 10 seconds into the past while the store
	// entry itself stays alive.
	raw, err := env.sessions.Get(ctx, sid)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	data[KeyTimeout] = env.clock.Now().Add(-10 * time.Second).Unix()
	raw, _ = json.Marshal(data)
	if err := env.sessions.Set(ctx, sid, raw, 5*time.Second); err != nil {
		t.Fatalf("set session: %v", err)
	}

	us := c.request()
	if err := us.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if us.LoggedIn() {
		t.Fatal("idle session should be demoted to anonymous")
	}
	if us.SessionID() == sid {
		t.Fatal("idle logout should issue a new session id")
	}
	if env.auth.MetricsSnapshot().Counters[MetricSessionIdleExpired] != 1 {
		t.Fatal("expected one idle expiry")
	}
}

func TestExpiredSessionStartsAnonymous(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Session.Expiration = 5 * time.Second })
	ctx := context.Background()
	c := env.client()

	if _, err := c.login(t, testIdentity, testPassword, LoginOptions{}); err != nil {
		t.Fatalf("login: %v", err)
	}
	env.clock.Advance(10 * time.Second)

	us := c.request()
	if err := us.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if us.LoggedIn() {
		t.Fatal("expired session should start anonymous")
	}
}

func TestReservedSessionKeys(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	c := env.client()

	fresh := c.request()
	if err := fresh.Set(ctx, "cart", "x"); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Set before Start: %v", err)
	}

	us, err := c.login(t, testIdentity, testPassword, LoginOptions{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	for _, key := range []string{KeyUserID, KeyAnonymous, KeyTimeout} {
		err := us.Set(ctx, key, 42)
		var sve *SessionValidationError
		if !errors.As(err, &sve) || sve.Key != key {
			t.Fatalf("Set(%q): expected SessionValidationError, got %v", key, err)
		}
		if err := us.Unset(ctx, key); !errors.Is(err, ErrSessionValidation) {
			t.Fatalf("Unset(%q): expected ErrSessionValidation, got %v", key, err)
		}
	}

	if err := us.Set(ctx, "cart", "3 items"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := us.SetFlash(ctx, "notice", "welcome"); err != nil {
		t.Fatalf("set flash: %v", err)
	}

	next := c.request()
	if err := next.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if v, _ := next.Get("cart"); v != "3 items" {
		t.Fatalf("cart = %v", v)
	}
	if v, ok, err := next.Flash(ctx, "notice"); err != nil || !ok || v != "welcome" {
		t.Fatalf("flash = %v %v %v", v, ok, err)
	}
	if _, ok, _ := next.Flash(ctx, "notice"); ok {
		t.Fatal("flash must be read once")
	}

	if err := next.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok := next.Get("cart"); ok {
		t.Fatal("clear should drop caller data")
	}

	last := c.request()
	if err := last.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !last.LoggedIn() {
		t.Fatal("clear must keep the login")
	}
}

func TestPostLoginAccountChecks(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	inactive := env.addUser(t, "inactive", testPassword)
	if err := env.store.SetActive(ctx, inactive, false); err != nil {
		t.Fatal(err)
	}
	banned := env.addUser(t, "banned", testPassword)
	if err := env.store.SetBanned(ctx, banned, true); err != nil {
		t.Fatal(err)
	}
	change := env.addUser(t, "change", testPassword)
	if err := env.store.SetPasswordChange(ctx, change, true); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		identity string
		want     error
		loggedIn bool
	}{
		{"inactive", ErrUserInactive, false},
		{"banned", ErrUserBanned, false},
		{"change", ErrUserPasswordChange, true},
	}
	for _, tc := range tests {
		t.Run(tc.identity, func(t *testing.T) {
			c := env.client()
			us, err := c.login(t, tc.identity, testPassword, LoginOptions{})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if us.LoggedIn() != tc.loggedIn {
				t.Fatalf("logged in = %v, want %v", us.LoggedIn(), tc.loggedIn)
			}

			next := c.request()
			err = next.Start(ctx)
			if tc.loggedIn && !errors.Is(err, tc.want) {
				t.Fatalf("resumed session should repeat %v, got %v", tc.want, err)
			}
			if next.LoggedIn() != tc.loggedIn {
				t.Fatalf("resumed logged in = %v, want %v", next.LoggedIn(), tc.loggedIn)
			}
		})
	}
}

func TestBanDuringSessionForcesLogout(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	c := env.client()

	if _, err := c.login(t, testIdentity, testPassword, LoginOptions{}); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := env.store.SetBanned(ctx, env.userID, true); err != nil {
		t.Fatal(err)
	}

	us := c.request()
	var ube *UserBannedError
	if err := us.Start(ctx); !errors.As(err, &ube) || ube.UserID != env.userID {
		t.Fatalf("expected UserBannedError, got %v", err)
	}
	if us.LoggedIn() {
		t.Fatal("banned user must be logged out")
	}
	if env.auth.MetricsSnapshot().Counters[MetricForcedLogout] != 1 {
		t.Fatal("expected a forced logout")
	}
}

func TestRememberEnablesAutologin(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	c := env.client()

	if _, err := c.login(t, testIdentity, testPassword, LoginOptions{Remember: true}); err != nil {
		t.Fatalf("login: %v", err)
	}
	token := c.cookie("autologin")
	if token == "" {
		t.Fatal("expected autologin cookie")
	}

	// A new browser session carrying only the autologin cookie.
	other := env.client()
	other.cookies["autologin"] = &http.Cookie{Name: "autologin", Value: token}
	us := other.request()
	if err := us.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !us.LoggedIn() {
		t.Fatal("autologin should authenticate")
	}
	rotated := other.cookie("autologin")
	if rotated == "" || rotated == token {
		t.Fatal("autologin code should rotate")
	}
	if env.auth.MetricsSnapshot().Counters[MetricAutologinSuccess] != 1 {
		t.Fatal("expected one autologin")
	}

	out := other.request()
	if err := out.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if out.LoggedIn() {
		t.Fatal("logout should clear the user")
	}
	if other.cookie("autologin") != "" {
		t.Fatal("logout should expire the autologin cookie")
	}

	replay := env.client()
	replay.cookies["autologin"] = &http.Cookie{Name: "autologin", Value: rotated}
	us = replay.request()
	if err := us.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if us.LoggedIn() {
		t.Fatal("revoked autologin code must not authenticate")
	}
}

func TestLogoutStartsFreshSession(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	c := env.client()

	us, err := c.login(t, testIdentity, testPassword, LoginOptions{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	sid := us.SessionID()
	if err := us.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if us.LoggedIn() || us.SessionID() == sid || us.SessionID() == "" {
		t.Fatal("logout should leave a new anonymous session")
	}
	if c.cookie("sid") != us.SessionID() {
		t.Fatal("cookie should carry the new session id")
	}

	next := c.request()
	if err := next.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if next.LoggedIn() {
		t.Fatal("still logged in after logout")
	}
}

func TestLoginUpgradesWeakHash(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	weak, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	id, err := env.store.CreateUser(ctx, store.NewUser{Username: "legacy", PasswordHash: string(weak), Active: true})
	if err != nil {
		t.Fatal(err)
	}

	c := env.client()
	if _, err := c.login(t, "legacy", "s3cret", LoginOptions{}); err != nil {
		t.Fatalf("login: %v", err)
	}
	check, _, err := env.store.GetLoginCheck(ctx, "legacy")
	if err != nil {
		t.Fatal(err)
	}
	if check.ID != id {
		t.Fatalf("unexpected id %d", check.ID)
	}
	cost, err := bcrypt.Cost([]byte(check.PasswordHash))
	if err != nil || cost != 10 {
		t.Fatalf("expected rehash at cost 10, got %d (%v)", cost, err)
	}
}

type stubStage struct{}

func (stubStage) Provider() string { return "stub" }

func (stubStage) Verify(_ context.Context, evidence string) (federation.Identity, error) {
	switch evidence {
	case "bad":
		return federation.Identity{}, federation.ErrInvalidAssertion
	case "down":
		return federation.Identity{}, federation.ErrProviderUnavailable
	}
	return federation.Identity{Provider: "stub", Subject: evidence}, nil
}

func TestLoginFederated(t *testing.T) {
	env := newTestEnv(t, nil, func(b *Builder) { b.WithFederation(stubStage{}) })
	ctx := context.Background()
	if err := env.store.LinkExternal(ctx, "stub", "sub-1", env.userID); err != nil {
		t.Fatal(err)
	}

	c := env.client()
	us := c.request()
	if err := us.LoginFederated(ctx, "stub", "sub-1", LoginOptions{}); err != nil {
		t.Fatalf("federated login: %v", err)
	}
	if u, ok := us.User(); !ok || u.ID != env.userID {
		t.Fatalf("expected linked user, got %+v", u)
	}

	tests := []struct {
		provider, evidence string
		want               error
	}{
		{"stub", "sub-2", ErrLoginValidation},
		{"stub", "bad", ErrLoginValidation},
		{"stub", "down", ErrStorage},
		{"nope", "sub-1", ErrValidation},
	}
	for _, tc := range tests {
		us := env.client().request()
		err := us.LoginFederated(ctx, tc.provider, tc.evidence, LoginOptions{})
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s/%s: expected %v, got %v", tc.provider, tc.evidence, tc.want, err)
		}
		if us.LoggedIn() {
			t.Fatalf("%s/%s: must not be logged in", tc.provider, tc.evidence)
		}
	}
}

func TestBasicStrategyAutologin(t *testing.T) {
	var env *testEnv
	basic := strategy.NewBasic("api", strategy.PasswordCheckerFunc(
		func(ctx context.Context, identity, pw string) (int64, bool, error) {
			return env.auth.CheckPassword(ctx, identity, pw)
		}))
	env = newTestEnv(t, nil, func(b *Builder) { b.WithStrategy(basic) })
	ctx := context.Background()

	c := env.client()
	c.header = http.Header{"Authorization": {"Basic " + base64.StdEncoding.EncodeToString([]byte(testIdentity+":"+testPassword))}}
	us := c.request()
	if err := us.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !us.LoggedIn() {
		t.Fatal("valid basic credentials should authenticate")
	}
	if err := us.Login(ctx, LoginData{Identity: testIdentity, Password: testPassword}, LoginOptions{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("basic has no manual login, got %v", err)
	}

	bad := env.client()
	bad.header = http.Header{"Authorization": {"Basic " + base64.StdEncoding.EncodeToString([]byte(testIdentity+":nope"))}}
	us = bad.request()
	if err := us.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if us.LoggedIn() {
		t.Fatal("wrong basic password must not authenticate")
	}
	us.Challenge()
	if got := bad.last.Header().Get("WWW-Authenticate"); !strings.HasPrefix(got, `Basic realm="api"`) {
		t.Fatalf("challenge = %q", got)
	}
}

func TestAuditEventsAreDelivered(t *testing.T) {
	sink := NewChannelSink(16)
	env := newTestEnv(t, func(c *Config) { c.Audit.Enabled = true }, func(b *Builder) { b.WithAuditSink(sink) })
	c := env.client()

	if _, err := c.login(t, testIdentity, testPassword, LoginOptions{}); err != nil {
		t.Fatalf("login: %v", err)
	}
	select {
	case ev := <-sink.Events():
		if ev.EventType != AuditLoginSuccess || ev.UserID != env.userID || ev.IP != testIP {
			t.Fatalf("unexpected event %+v", ev)
		}
		if ev.ID == "" || ev.Strategy != "cookie" {
			t.Fatalf("event not stamped: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no audit event delivered")
	}
}

func TestBuildRequiresCredentialStore(t *testing.T) {
	if _, err := New().Build(); err == nil {
		t.Fatal("expected error without credential store")
	}
	b := New().WithCredentialStore(&store.SQLStore{})
	if _, err := b.Build(); err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := b.Build(); err == nil {
		t.Fatal("builder must not be reusable")
	}
}

func TestLogoutElsewhereEndsSharedSession(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	c := env.client()
	if _, err := c.login(t, testIdentity, testPassword, LoginOptions{}); err != nil {
		t.Fatalf("login: %v", err)
	}
	sid := c.cookie("sid")

	first := c.request()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("start first: %v", err)
	}
	second := c.request()
	if err := second.Start(ctx); err != nil {
		t.Fatalf("start second: %v", err)
	}
	if !second.LoggedIn() {
		t.Fatal("second request should share the login")
	}

	if err := first.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := second.Set(ctx, "cart", "3 items"); !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("expected ErrSessionEnded, got %v", err)
	}
	if second.LoggedIn() {
		t.Fatal("user must be dropped once the session is gone")
	}
	if id := second.SessionID(); id == "" || id == sid {
		t.Fatalf("expected a fresh session, got %q", id)
	}
	if _, ok := second.Get("cart"); ok {
		t.Fatal("write was applied to the fresh session")
	}
	if _, err := env.sessions.Get(ctx, sid); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("logged out session was recreated: %v", err)
	}

	stale := env.client()
	stale.cookies["sid"] = &http.Cookie{Name: "sid", Value: sid}
	us := stale.request()
	if err := us.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if us.LoggedIn() {
		t.Fatal("old session id still authenticates")
	}
}

func TestHeaderStrategyKeepsMintedSession(t *testing.T) {
	var env *testEnv
	basic := strategy.NewBasic("api", strategy.PasswordCheckerFunc(
		func(ctx context.Context, identity, pw string) (int64, bool, error) {
			return env.auth.CheckPassword(ctx, identity, pw)
		}))
	env = newTestEnv(t, nil, func(b *Builder) { b.WithStrategy(basic) })
	ctx := context.Background()
	auth := http.Header{"Authorization": {"Basic " + base64.StdEncoding.EncodeToString([]byte(testIdentity+":"+testPassword))}}

	for i := 0; i < 3; i++ {
		c := env.client()
		c.header = auth
		us := c.request()
		if err := us.Start(ctx); err != nil {
			t.Fatalf("start: %v", err)
		}
		if !us.LoggedIn() {
			t.Fatal("basic credentials should authenticate")
		}
		if c.cookie("sid") != us.SessionID() {
			t.Fatal("session id changed after the cookie was issued")
		}
	}
	if n := env.auth.MetricsSnapshot().Counters[MetricSessionRegenerated]; n != 0 {
		t.Fatalf("expected no regeneration, got %d", n)
	}
	if n := env.auth.MetricsSnapshot().Counters[MetricSessionCreated]; n != 3 {
		t.Fatalf("expected one session per request, got %d", n)
	}
	if env.sessions.Len() != 3 {
		t.Fatalf("expected 3 stored sessions, got %d", env.sessions.Len())
	}
}

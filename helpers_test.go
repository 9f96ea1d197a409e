package sessionauth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/sessionauth/session"
	"github.com/MrEthical07/sessionauth/store"
	"github.com/MrEthical07/sessionauth/strategy"
)

const (
	testIdentity = "administrator"
	testPassword = "password"
	testIP       = "203.0.113.7"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	auth     *Authenticator
	store    *store.SQLStore
	sessions *session.MemoryStore
	clock    *fakeClock
	userID   int64
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password.BcryptCost = 10
	cfg.Metrics.Enabled = true
	return cfg
}

// newTestEnv builds an Authenticator over in-memory SQLite and sessions,
// with administrator/password seeded as an active user.
func newTestEnv(t *testing.T, mutate func(*Config), extra ...func(*Builder)) *testEnv {
	t.Helper()

	clock := newFakeClock()
	ctx := context.Background()
	st, err := store.OpenSQLite(ctx, ":memory:", store.Options{Now: clock.Now})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	sessions := session.NewMemoryStore(clock.Now)

	b := New().
		WithConfig(cfg).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithClock(clock).
		WithCredentialStore(st).
		WithSessionStore(sessions)
	for _, fn := range extra {
		fn(b)
	}
	auth, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(auth.Close)

	env := &testEnv{auth: auth, store: st, sessions: sessions, clock: clock}
	env.userID = env.addUser(t, testIdentity, testPassword)
	return env
}

func (e *testEnv) addUser(t *testing.T, username, pw string) int64 {
	t.Helper()
	hash, err := e.auth.HashPassword(pw)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	id, err := e.store.CreateUser(context.Background(), store.NewUser{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return id
}

// testClient carries cookies between requests like a browser.
type testClient struct {
	auth    *Authenticator
	ip      string
	cookies map[string]*http.Cookie
	last    *httptest.ResponseRecorder
	header  http.Header
}

func (e *testEnv) client() *testClient {
	return &testClient{auth: e.auth, ip: testIP, cookies: map[string]*http.Cookie{}}
}

// request opens a UserSession for a new request carrying the client's
// cookies.
func (c *testClient) request() *UserSession {
	c.absorb()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, ck := range c.cookies {
		req.AddCookie(&http.Cookie{Name: ck.Name, Value: ck.Value})
	}
	for k, v := range c.header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	c.last = rec
	return c.auth.NewUserSession(&strategy.Exchange{Request: req, Writer: rec, ClientIP: c.ip})
}

func (c *testClient) absorb() {
	if c.last == nil {
		return
	}
	for _, ck := range c.last.Result().Cookies() {
		if ck.MaxAge < 0 || ck.Value == "" {
			delete(c.cookies, ck.Name)
			continue
		}
		c.cookies[ck.Name] = ck
	}
	c.last = nil
}

func (c *testClient) cookie(name string) string {
	c.absorb()
	if ck, ok := c.cookies[name]; ok {
		return ck.Value
	}
	return ""
}

func (c *testClient) login(t *testing.T, identity, pw string, opts LoginOptions) (*UserSession, error) {
	t.Helper()
	us := c.request()
	err := us.Login(context.Background(), LoginData{Identity: identity, Password: pw}, opts)
	return us, err
}
